// Package store opens the graph store named by a Config.
package store

import (
	"context"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/boltdb"
	"github.com/learningregistry/lrgraph/leveldb"
	"github.com/learningregistry/lrgraph/neo4jdb"
	"github.com/pkg/errors"
)

// Config selects and configures a graph store. It is embedded in the Main of
// every command that touches the graph.
type Config struct {
	Store       string `help:"Graph store. A neo4j://, neo4j+s://, bolt:// or bolt+s:// URL for Neo4j, or a file:// URL or path for an embedded store."`
	User        string `help:"Neo4j user. Overrides any user in the store URL."`
	Password    string `help:"Neo4j password."`
	Database    string `help:"Neo4j database. Blank uses the server default."`
	IndexCache  string `help:"Directory for a local cache of the node index. Blank disables it."`
	MergeEdges  bool   `help:"Don't duplicate a relationship which already exists (Neo4j only)."`
	LookupError string `help:"What to do when an index lookup fails: miss (carry on as not found) or fail."`
}

// DefaultConfig gets a Config pointing at a local Neo4j.
func DefaultConfig() Config {
	return Config{
		Store:       "neo4j://localhost:7687",
		LookupError: "miss",
	}
}

// Store is an open graph store.
type Store interface {
	lrgraph.ReadStore
	io.Closer
}

type options struct {
	log   lrgraph.Logger
	stats lrgraph.Statter
}

// Option is a functional option for Open.
type Option func(o *options)

// OptLogger sets the logger.
func OptLogger(l lrgraph.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// OptStatter sets the stats collector used by the index cache.
func OptStatter(s lrgraph.Statter) Option {
	return func(o *options) {
		o.stats = s
	}
}

// IsNeo4j reports whether loc is a URL the Neo4j driver handles.
func IsNeo4j(loc string) bool {
	for _, scheme := range []string{"neo4j://", "neo4j+s://", "neo4j+ssc://", "bolt://", "bolt+s://", "bolt+ssc://"} {
		if strings.HasPrefix(loc, scheme) {
			return true
		}
	}
	return false
}

// Open opens the store described by c.
func Open(ctx context.Context, c Config, opts ...Option) (Store, error) {
	o := &options{
		log:   lrgraph.NopLogger{},
		stats: lrgraph.NopStatter{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if c.Store == "" {
		return nil, errors.New("no store configured")
	}

	var (
		s   Store
		id  string
		err error
	)
	if IsNeo4j(c.Store) {
		s, id, err = openNeo4j(ctx, c, o)
	} else {
		s, id, err = openBolt(c)
	}
	if err != nil {
		return nil, err
	}
	o.log.Printf("opened store %s", id)

	if c.IndexCache == "" {
		return s, nil
	}
	cache, err := leveldb.Open(c.IndexCache, id, s, leveldb.OptStatter(o.stats))
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "opening index cache")
	}
	o.log.Printf("caching index lookups in %s", c.IndexCache)
	return cache, nil
}

func openNeo4j(ctx context.Context, c Config, o *options) (Store, string, error) {
	u, err := url.Parse(c.Store)
	if err != nil {
		return nil, "", errors.Wrap(err, "parsing store URL")
	}
	user, password := c.User, c.Password
	if u.User != nil {
		if user == "" {
			user = u.User.Username()
		}
		if p, ok := u.User.Password(); ok && password == "" {
			password = p
		}
		u.User = nil
	}
	s, err := neo4jdb.Open(ctx, u.String(),
		neo4jdb.OptAuth(user, password),
		neo4jdb.OptDatabase(c.Database),
		neo4jdb.OptMergeRelationships(c.MergeEdges),
		neo4jdb.OptLogger(o.log),
	)
	if err != nil {
		return nil, "", errors.Wrapf(err, "connecting to %s", Redact(c.Store))
	}
	id := u.String()
	if c.Database != "" {
		id += "#" + c.Database
	}
	return s, id, nil
}

func openBolt(c Config) (Store, string, error) {
	path := c.Store
	if strings.HasPrefix(path, "file://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, "", errors.Wrap(err, "parsing store URL")
		}
		path = u.Path
	} else if strings.Contains(path, "://") {
		return nil, "", errors.Errorf("unsupported store '%s'", Redact(path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "resolving store path")
	}
	s, err := boltdb.Open(abs)
	if err != nil {
		return nil, "", err
	}
	return s, "file://" + abs, nil
}

// Redact hides any password in a store URL so it can be logged.
func Redact(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || u.User == nil {
		return loc
	}
	return u.Redacted()
}
