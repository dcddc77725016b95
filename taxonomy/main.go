package taxonomy

import (
	"context"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/csv"
	"github.com/learningregistry/lrgraph/file"
	"github.com/learningregistry/lrgraph/logger"
	"github.com/learningregistry/lrgraph/store"
	"github.com/pkg/errors"
)

// Main holds the options for reconciling standard identifiers.
type Main struct {
	store.Config `flag:"!embed"`
	Reference    string   `help:"Path or URL of the CSV table of synonymous standard identifiers."`
	Encoding     string   `help:"Character encoding of the reference table, e.g. windows-1252. Blank reads UTF-8."`
	Subjects     []string `help:"Comma separated name=url taxonomies to link to the reference identifiers."`
	SearchAll    bool     `help:"Link every matching taxonomy node instead of the first one in each subtree."`
	Concurrency  int      `help:"Number of taxonomies to fetch at once."`
	MaxRetries   int      `help:"Number of tries for each download."`
	S3Region     string   `help:"AWS region for s3:// locations."`
	Verbose      bool     `help:"Enable debug logging."`

	Log lrgraph.Logger `flag:"-"`
}

// NewMain gets a Main with the default configuration.
func NewMain() *Main {
	subjects := make([]string, len(DefaultSubjects))
	for i, s := range DefaultSubjects {
		subjects[i] = s.Name + "=" + s.URL
	}
	return &Main{
		Config:      store.DefaultConfig(),
		Reference:   "E0330_ccss_identifiers.csv",
		Subjects:    subjects,
		Concurrency: 2,
		MaxRetries:  3,
	}
}

// Run loads the reference table and then links the taxonomies to it.
func (m *Main) Run(ctx context.Context) (err error) {
	subjects, err := ParseSubjects(m.Subjects)
	if err != nil {
		return errors.Wrap(err, "parsing subjects")
	}
	if m.Log == nil {
		l, err := logger.New(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "getting logger")
		}
		defer l.Sync()
		m.Log = l.With("cmd", "reconcile", "run", logger.RunID())
	}

	gs, err := store.Open(ctx, m.Config, store.OptLogger(m.Log))
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer func() {
		if cerr := gs.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing store")
		}
	}()

	policy, err := lrgraph.ParseLookupErrorPolicy(m.LookupError)
	if err != nil {
		return err
	}
	upserter := lrgraph.NewUpserter(gs,
		lrgraph.OptUpserterLookupErrorPolicy(policy),
		lrgraph.OptUpserterLogger(m.Log),
	)
	fetcher := NewHTTPFetcher(file.OptS3Region(m.S3Region))
	fetcher.MaxRetries = m.MaxRetries
	r := NewReconciler(upserter,
		OptFetcher(fetcher),
		OptSearchAll(m.SearchAll),
		OptConcurrency(m.Concurrency),
		OptLogger(m.Log),
	)

	rows := csv.NewSource(
		csv.WithURLs([]string{m.Reference}, file.OptS3Region(m.S3Region)),
		csv.WithEncoding(m.Encoding),
		csv.WithMaxRetries(m.MaxRetries),
		csv.WithContext(ctx),
	)
	defer rows.Close()
	valid, err := r.LoadReference(ctx, rows)
	if err != nil {
		return errors.Wrap(err, "loading reference table")
	}
	stats, err := r.Link(ctx, subjects, valid)
	if err != nil {
		return errors.Wrap(err, "linking taxonomies")
	}
	m.Log.Printf("linked %d of %d taxonomy matches across %d subjects (%d skipped)", stats.Linked, stats.Pairs, stats.Subjects, stats.Skipped)
	return nil
}
