// Package harvest runs the data service feeds through the ingesters into
// the graph store.
package harvest

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/file"
	lrhttp "github.com/learningregistry/lrgraph/http"
	"github.com/learningregistry/lrgraph/kafka"
	"github.com/learningregistry/lrgraph/logger"
	"github.com/learningregistry/lrgraph/lr"
	"github.com/learningregistry/lrgraph/promstat"
	"github.com/learningregistry/lrgraph/store"
	"github.com/learningregistry/lrgraph/termstat"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Default feed locations on the public Learning Registry node.
const (
	DefaultConformanceURL = "https://node01.public.learningregistry.net/extract/standards-alignment-dct-conformsTo/resource-by-ts"
	DefaultParadataURL    = "https://node01.public.learningregistry.net/extract/standards-alignment-related/resource-by-ts"
)

// Main holds the options for a harvest.
type Main struct {
	store.Config      `flag:"!embed"`
	ConformanceURL    string        `help:"Data service URL, file, directory or s3:// URL of the conformance feed. Blank skips it."`
	ParadataURL       string        `help:"Data service URL, file, directory or s3:// URL of the paradata feed. Blank skips it."`
	FollowResumption  bool          `help:"Follow resumption tokens to read every page of an HTTP feed."`
	MaxRetries        int           `help:"Number of tries for each page download."`
	StopOnError       bool          `help:"End the harvest at the first envelope which can't be ingested."`
	Actions           []string      `help:"Paradata actions to ingest. A document is skipped unless every envelope in it has one of these."`
	RefreshAttributes bool          `help:"Rewrite the attributes of nodes which already exist."`
	MetricsBind       string        `help:"Address to serve Prometheus metrics on, e.g. localhost:9102. Blank disables metrics."`
	KafkaFeed         string        `help:"Extractor for documents consumed from Kafka: conformance or paradata. Blank doesn't consume from Kafka."`
	KafkaHosts        []string      `help:"Comma separated list of Kafka brokers."`
	KafkaTopics       []string      `help:"Kafka topics to consume."`
	KafkaGroup        string        `help:"Kafka consumer group."`
	KafkaMaxMsgs      int           `help:"Number of Kafka messages to consume before finishing. 0 means no limit."`
	KafkaIdle         time.Duration `help:"Finish consuming Kafka after this long without a message. 0 waits forever."`
	ListenFeed        string        `help:"Extractor for documents POSTed to listen-addr: conformance or paradata. Blank doesn't listen."`
	ListenAddr        string        `help:"Address to accept POSTed documents on."`
	ListenIdle        time.Duration `help:"Stop listening after this long without a request. 0 listens until interrupted."`
	S3Region          string        `help:"AWS region for s3:// locations."`
	Progress          bool          `help:"Write running counts to stderr every second."`
	Verbose           bool          `help:"Enable debug logging."`

	Log            lrgraph.Logger                 `flag:"-"`
	Stats          lrgraph.Statter                `flag:"-"`
	NewKafkaSource func() (lrgraph.Source, error) `flag:"-"`

	// MetricsAddr is the address metrics are actually served on.
	MetricsAddr string `flag:"-"`
}

// NewMain gets a Main with the default configuration.
func NewMain() *Main {
	m := &Main{
		Config:         store.DefaultConfig(),
		ConformanceURL: DefaultConformanceURL,
		ParadataURL:    DefaultParadataURL,
		MaxRetries:     3,
		Actions:        append([]string(nil), lrgraph.DefaultActions...),
		KafkaHosts:     []string{"localhost:9092"},
		KafkaTopics:    []string{"lrgraph"},
		KafkaGroup:     "lrgraph",
		ListenAddr:     ":12121",
	}
	m.NewKafkaSource = func() (lrgraph.Source, error) {
		source := kafka.NewSource()
		source.Hosts = m.KafkaHosts
		source.Topics = m.KafkaTopics
		source.Group = m.KafkaGroup
		source.MaxMsgs = m.KafkaMaxMsgs
		source.IdleTimeout = m.KafkaIdle
		source.Log = m.Log
		source.Stats = m.Stats

		err := source.Open()
		if err != nil {
			return nil, errors.Wrap(err, "opening source")
		}
		return source, nil
	}
	return m
}

type feed struct {
	name      string
	extractor lrgraph.Extractor
	filter    lrgraph.BatchFilter
	open      func() (lrgraph.Source, error)
}

// Run harvests each configured feed in turn. A feed which can't be read ends
// the harvest; envelopes which can't be ingested are skipped unless
// StopOnError is set.
func (m *Main) Run(ctx context.Context) (err error) {
	if m.Log == nil {
		l, err := logger.New(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "getting logger")
		}
		defer l.Sync()
		m.Log = l.With("cmd", "harvest", "run", logger.RunID())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m.Stats == nil {
		var stats lrgraph.MultiStatter
		if m.MetricsBind != "" {
			reg := prometheus.NewRegistry()
			stats = append(stats, promstat.New("lrgraph", reg))
			m.MetricsAddr, err = promstat.Serve(ctx, m.MetricsBind, reg, m.Log)
			if err != nil {
				return errors.Wrap(err, "serving metrics")
			}
			m.Log.Printf("serving metrics on http://%s/metrics", m.MetricsAddr)
		}
		if m.Progress {
			tc := termstat.NewCollector(os.Stderr, time.Second)
			defer tc.Close()
			stats = append(stats, tc)
		}
		switch len(stats) {
		case 0:
			m.Stats = lrgraph.NopStatter{}
		case 1:
			m.Stats = stats[0]
		default:
			m.Stats = stats
		}
	}

	feeds, err := m.feeds(ctx)
	if err != nil {
		return err
	}
	if len(feeds) == 0 {
		return errors.New("no feeds configured")
	}
	policy, err := lrgraph.ParseLookupErrorPolicy(m.LookupError)
	if err != nil {
		return err
	}

	gs, err := store.Open(ctx, m.Config, store.OptLogger(m.Log), store.OptStatter(m.Stats))
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer func() {
		if cerr := gs.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing store")
		}
	}()
	upserter := lrgraph.NewUpserter(gs,
		lrgraph.OptUpserterLookupErrorPolicy(policy),
		lrgraph.OptUpserterRefreshAttributes(m.RefreshAttributes),
		lrgraph.OptUpserterLogger(m.Log),
		lrgraph.OptUpserterStatter(m.Stats),
	)

	start := time.Now()
	var total lrgraph.IngestStats
	submitted := lrgraph.NewSubmittedSet()
	for _, f := range feeds {
		st, err := m.runFeed(ctx, f, upserter, submitted)
		total.Batches += st.Batches
		total.BatchesFiltered += st.BatchesFiltered
		total.Envelopes += st.Envelopes
		total.EnvelopeErrors += st.EnvelopeErrors
		total.Relationships += st.Relationships
		total.SubmittedEdges += st.SubmittedEdges
		if err != nil {
			return errors.Wrapf(err, "harvesting %s feed", f.name)
		}
	}
	m.Log.Printf("harvest done in %v: %d envelopes (%d failed), %d relationships, %d submitted edges",
		time.Since(start), total.Envelopes, total.EnvelopeErrors, total.Relationships, total.SubmittedEdges)
	return nil
}

func (m *Main) feeds(ctx context.Context) ([]feed, error) {
	var feeds []feed
	lrFeed := func(loc string) func() (lrgraph.Source, error) {
		return func() (lrgraph.Source, error) {
			return lr.NewSource(
				lr.WithContext(ctx),
				lr.WithFileOptions(file.OptS3Region(m.S3Region)),
				lr.WithURLs(loc),
				lr.WithFollowResumption(m.FollowResumption),
				lr.WithMaxRetries(m.MaxRetries),
				lr.WithLogger(m.Log),
				lr.WithStatter(m.Stats),
			), nil
		}
	}
	if m.ConformanceURL != "" {
		feeds = append(feeds, feed{
			name:      "conformance",
			extractor: lrgraph.ConformanceExtractor{},
			open:      lrFeed(m.ConformanceURL),
		})
	}
	if m.ParadataURL != "" {
		feeds = append(feeds, feed{
			name:      "paradata",
			extractor: lrgraph.ParadataExtractor{},
			filter:    lrgraph.NewActionFilter(m.Actions...),
			open:      lrFeed(m.ParadataURL),
		})
	}
	if m.KafkaFeed != "" {
		f, err := m.pushFeed("kafka", m.KafkaFeed, m.NewKafkaSource)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	if m.ListenFeed != "" {
		f, err := m.pushFeed("http", m.ListenFeed, func() (lrgraph.Source, error) {
			src, err := lrhttp.NewSource(
				lrhttp.WithAddr(m.ListenAddr),
				lrhttp.WithIdleTimeout(m.ListenIdle),
				lrhttp.WithContext(ctx),
				lrhttp.WithLogger(m.Log),
				lrhttp.WithStatter(m.Stats),
			)
			if err != nil {
				return nil, errors.Wrap(err, "starting http source")
			}
			m.Log.Printf("accepting documents on %s", src.Addr())
			return src, nil
		})
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// pushFeed gets a feed whose payload shape is named by kind rather than
// implied by its URL.
func (m *Main) pushFeed(name, kind string, open func() (lrgraph.Source, error)) (feed, error) {
	f := feed{name: name, open: open}
	switch kind {
	case "conformance":
		f.extractor = lrgraph.ConformanceExtractor{}
	case "paradata":
		f.extractor = lrgraph.ParadataExtractor{}
		f.filter = lrgraph.NewActionFilter(m.Actions...)
	default:
		return f, errors.Errorf("unknown %s feed '%s', want conformance or paradata", name, kind)
	}
	return f, nil
}

func (m *Main) runFeed(ctx context.Context, f feed, upserter *lrgraph.Upserter, submitted *lrgraph.SubmittedSet) (lrgraph.IngestStats, error) {
	src, err := f.open()
	if err != nil {
		return lrgraph.IngestStats{}, err
	}
	if closer, ok := src.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				m.Log.Printf("closing %s feed: %v", f.name, err)
			}
		}()
	}
	opts := []lrgraph.IngesterOption{
		lrgraph.OptIngesterLogger(m.Log),
		lrgraph.OptIngesterStatter(m.Stats),
		lrgraph.OptIngesterStopOnError(m.StopOnError),
		lrgraph.OptIngesterSubmitted(submitted),
	}
	if f.filter != nil {
		opts = append(opts, lrgraph.OptIngesterFilter(f.filter))
	}
	m.Log.Printf("harvesting %s feed", f.name)
	return lrgraph.NewIngester(src, f.extractor, upserter, opts...).Run(ctx)
}
