// Package neo4jdb stores the graph in Neo4j.
package neo4jdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
)

// KeyProperty is the node property holding the index key.
const KeyProperty = "key"

// Store is an lrgraph.ReadStore on a Neo4j database. Nodes get the
// capitalized lrgraph label (Resource, Standard, Submitter), their
// attributes as properties and the index key in KeyProperty, which has a
// range index per label. Node handles are Neo4j element ids. A node carries
// a single index key.
type Store struct {
	Driver   neo4j.DriverWithContext
	Database string

	user, password string
	merge          bool
	timeout        time.Duration
	log            lrgraph.Logger
}

var _ lrgraph.ReadStore = &Store{}

// Option is a functional option for Open.
type Option func(s *Store)

// OptAuth sets basic auth credentials. With no user the driver connects
// without auth.
func OptAuth(user, password string) Option {
	return func(s *Store) {
		s.user, s.password = user, password
	}
}

// OptDatabase selects the database. Blank uses the server default.
func OptDatabase(db string) Option {
	return func(s *Store) {
		s.Database = db
	}
}

// OptMergeRelationships makes CreateRelationship MERGE instead of CREATE, so
// repeated harvests don't duplicate edges.
func OptMergeRelationships(merge bool) Option {
	return func(s *Store) {
		s.merge = merge
	}
}

// OptTimeout sets the connect timeout.
func OptTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// OptLogger sets the logger.
func OptLogger(l lrgraph.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Open connects to the Neo4j server at uri, checks it is reachable and makes
// sure the key indexes exist.
func Open(ctx context.Context, uri string, opts ...Option) (*Store, error) {
	s := &Store{
		timeout: 10 * time.Second,
		log:     lrgraph.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	auth := neo4j.NoAuth()
	if s.user != "" {
		auth = neo4j.BasicAuth(s.user, s.password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = s.timeout
	})
	if err != nil {
		return nil, errors.Wrap(err, "init driver")
	}
	s.Driver = driver

	vctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Wrap(err, "verify connectivity")
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Close closes the driver.
func (s *Store) Close() error {
	return s.Driver.Close(context.Background())
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	session := s.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.Database,
	})
	defer session.Close(ctx)
	for _, l := range lrgraph.Labels {
		res, err := session.Run(ctx, indexStatement(l), nil)
		if err != nil {
			return errors.Wrapf(err, "creating %s key index", l)
		}
		if _, err := res.Consume(ctx); err != nil {
			return errors.Wrapf(err, "creating %s key index", l)
		}
	}
	return nil
}

// QueryIndex implements lrgraph.GraphStore.
func (s *Store) QueryIndex(ctx context.Context, label lrgraph.Label, key string) ([]lrgraph.NodeHandle, error) {
	recs, err := s.read(ctx,
		fmt.Sprintf("MATCH (n:%s {%s: $key}) RETURN elementId(n) AS id", nodeLabel(label), KeyProperty),
		map[string]any{"key": key})
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s index", label)
	}
	return handles(recs)
}

// CreateNode implements lrgraph.GraphStore.
func (s *Store) CreateNode(ctx context.Context, label lrgraph.Label, attrs lrgraph.Attrs) (lrgraph.NodeHandle, error) {
	props := make(map[string]any, len(attrs))
	for k, v := range attrs {
		props[k] = v
	}
	recs, err := s.write(ctx,
		fmt.Sprintf("CREATE (n:%s) SET n = $props RETURN elementId(n) AS id", nodeLabel(label)),
		map[string]any{"props": props})
	if err != nil {
		return "", errors.Wrapf(err, "creating %s node", label)
	}
	nodes, err := handles(recs)
	if err != nil {
		return "", err
	}
	if len(nodes) != 1 {
		return "", errors.Errorf("creating %s node returned %d rows", label, len(nodes))
	}
	return nodes[0], nil
}

// IndexNode implements lrgraph.GraphStore.
func (s *Store) IndexNode(ctx context.Context, label lrgraph.Label, key string, node lrgraph.NodeHandle) error {
	recs, err := s.write(ctx,
		fmt.Sprintf("MATCH (n) WHERE elementId(n) = $id SET n:%s, n.%s = $key RETURN elementId(n) AS id", nodeLabel(label), KeyProperty),
		map[string]any{"id": string(node), "key": key})
	if err != nil {
		return errors.Wrapf(err, "indexing %s", node)
	}
	if len(recs) == 0 {
		return errors.Errorf("indexing unknown node %s", node)
	}
	return nil
}

// CreateRelationship implements lrgraph.GraphStore.
func (s *Store) CreateRelationship(ctx context.Context, from lrgraph.NodeHandle, relType string, to lrgraph.NodeHandle) error {
	recs, err := s.write(ctx, relationshipStatement(relType, s.merge),
		map[string]any{"from": string(from), "to": string(to)})
	if err != nil {
		return errors.Wrapf(err, "relating %s -%s-> %s", from, relType, to)
	}
	if len(recs) == 0 {
		return errors.Errorf("relating %s -%s-> %s: unknown node", from, relType, to)
	}
	return nil
}

// SetAttribute implements lrgraph.GraphStore.
func (s *Store) SetAttribute(ctx context.Context, node lrgraph.NodeHandle, name, value string) error {
	recs, err := s.write(ctx,
		"MATCH (n) WHERE elementId(n) = $id SET n += $props RETURN elementId(n) AS id",
		map[string]any{"id": string(node), "props": map[string]any{name: value}})
	if err != nil {
		return errors.Wrapf(err, "setting '%s' on %s", name, node)
	}
	if len(recs) == 0 {
		return errors.Errorf("setting attribute on unknown node %s", node)
	}
	return nil
}

// Neighbors implements lrgraph.GraphReader.
func (s *Store) Neighbors(ctx context.Context, node lrgraph.NodeHandle, relType string, dir lrgraph.Direction) ([]lrgraph.NodeHandle, error) {
	recs, err := s.read(ctx, neighborStatement(relType, dir), map[string]any{"id": string(node)})
	if err != nil {
		return nil, errors.Wrapf(err, "following %s edges from %s", relType, node)
	}
	return handles(recs)
}

// Attribute implements lrgraph.GraphReader.
func (s *Store) Attribute(ctx context.Context, node lrgraph.NodeHandle, name string) (string, bool, error) {
	recs, err := s.read(ctx,
		"MATCH (n) WHERE elementId(n) = $id RETURN n[$name] AS v",
		map[string]any{"id": string(node), "name": name})
	if err != nil {
		return "", false, errors.Wrapf(err, "reading '%s' of %s", name, node)
	}
	if len(recs) == 0 {
		return "", false, errors.Errorf("unknown node %s", node)
	}
	v, _ := recs[0].Get("v")
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return val, true, nil
	default:
		return fmt.Sprint(val), true, nil
	}
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.Database,
	})
	defer session.Close(ctx)
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.Database,
	})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

func handles(recs []*neo4j.Record) ([]lrgraph.NodeHandle, error) {
	nodes := make([]lrgraph.NodeHandle, 0, len(recs))
	for _, rec := range recs {
		v, ok := rec.Get("id")
		id, isStr := v.(string)
		if !ok || !isStr {
			return nil, errors.Errorf("unexpected id %#v in result", v)
		}
		nodes = append(nodes, lrgraph.NodeHandle(id))
	}
	return nodes, nil
}

// nodeLabel maps an lrgraph label onto a quoted Neo4j label, e.g. resource
// onto `Resource`.
func nodeLabel(l lrgraph.Label) string {
	s := string(l)
	if s != "" {
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	return quote(s)
}

// quote backtick-quotes a label or relationship type so that any text can
// be used as one.
func quote(name string) string {
	return "`" + strings.Replace(name, "`", "``", -1) + "`"
}

func indexStatement(l lrgraph.Label) string {
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
		quote("lrgraph_"+string(l)+"_key"), nodeLabel(l), KeyProperty)
}

func relationshipStatement(relType string, merge bool) string {
	verb := "CREATE"
	if merge {
		verb = "MERGE"
	}
	return fmt.Sprintf("MATCH (a) WHERE elementId(a) = $from MATCH (b) WHERE elementId(b) = $to %s (a)-[:%s]->(b) RETURN elementId(a) AS id",
		verb, quote(relType))
}

func neighborStatement(relType string, dir lrgraph.Direction) string {
	pattern := "(a)-[:%s]->(b)"
	if dir == lrgraph.Incoming {
		pattern = "(a)<-[:%s]-(b)"
	}
	return fmt.Sprintf("MATCH "+pattern+" WHERE elementId(a) = $id RETURN elementId(b) AS id", quote(relType))
}
