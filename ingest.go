package lrgraph

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// IngestStats summarizes one Ingester run.
type IngestStats struct {
	Batches         int
	BatchesFiltered int
	Envelopes       int
	EnvelopeErrors  int
	Relationships   int
	SubmittedEdges  int
}

// SubmittedSet remembers the submitter->resource edges created in a run.
// Ingesters sharing a SubmittedSet create each submitted edge once between
// them.
type SubmittedSet struct {
	mu    sync.Mutex
	pairs map[[2]NodeHandle]struct{}
}

// NewSubmittedSet gets an empty SubmittedSet.
func NewSubmittedSet() *SubmittedSet {
	return &SubmittedSet{pairs: make(map[[2]NodeHandle]struct{})}
}

// Has reports whether the edge submitter->resource was added.
func (s *SubmittedSet) Has(submitter, resource NodeHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pairs[[2]NodeHandle{submitter, resource}]
	return ok
}

// Add records the edge submitter->resource.
func (s *SubmittedSet) Add(submitter, resource NodeHandle) {
	s.mu.Lock()
	s.pairs[[2]NodeHandle{submitter, resource}] = struct{}{}
	s.mu.Unlock()
}

// Len is the number of edges recorded.
func (s *SubmittedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

// Ingester drives one feed into the graph: it pulls batches from a Source,
// runs each envelope through an Extractor, and writes nodes through an
// Upserter.
type Ingester struct {
	// StopOnError makes a failed envelope end the run instead of being
	// logged and skipped.
	StopOnError bool

	src       Source
	extractor Extractor
	upserter  *Upserter
	filter    BatchFilter

	log   Logger
	stats Statter

	submitted *SubmittedSet
}

// IngesterOption is a functional option for the Ingester.
type IngesterOption func(n *Ingester)

// OptIngesterFilter sets a filter which every batch must pass.
func OptIngesterFilter(f BatchFilter) IngesterOption {
	return func(n *Ingester) {
		n.filter = f
	}
}

// OptIngesterLogger sets the logger.
func OptIngesterLogger(l Logger) IngesterOption {
	return func(n *Ingester) {
		n.log = l
	}
}

// OptIngesterStatter sets the stats collector.
func OptIngesterStatter(s Statter) IngesterOption {
	return func(n *Ingester) {
		n.stats = s
	}
}

// OptIngesterSubmitted sets the record of submitted edges already created in
// this run, so that Ingesters for several feeds of a run don't duplicate
// them. By default each Ingester has its own.
func OptIngesterSubmitted(set *SubmittedSet) IngesterOption {
	return func(n *Ingester) {
		if set != nil {
			n.submitted = set
		}
	}
}

// OptIngesterStopOnError sets StopOnError.
func OptIngesterStopOnError(stop bool) IngesterOption {
	return func(n *Ingester) {
		n.StopOnError = stop
	}
}

// NewIngester gets an Ingester reading source, extracting with extractor, and
// writing to the upserter's store.
func NewIngester(source Source, extractor Extractor, upserter *Upserter, opts ...IngesterOption) *Ingester {
	n := &Ingester{
		src:       source,
		extractor: extractor,
		upserter:  upserter,
		log:       NopLogger{},
		stats:     NopStatter{},
		submitted: NewSubmittedSet(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run ingests until the source returns io.EOF. Errors from the source end the
// run; errors from a single envelope are logged and counted unless
// StopOnError is set.
func (n *Ingester) Run(ctx context.Context) (IngestStats, error) {
	var st IngestStats
	start := time.Now()
	defer func() {
		n.stats.Timing("ingest.run", time.Since(start), 1.0)
	}()
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		batch, err := n.src.Record()
		if err == io.EOF {
			break
		} else if err != nil {
			return st, errors.Wrap(err, "getting record from source")
		}
		st.Batches++
		n.stats.Count("ingest.batch", 1, 1.0)
		if n.filter != nil && !n.filter.Accept(batch) {
			st.BatchesFiltered++
			n.stats.Count("ingest.batch_filtered", 1, 1.0)
			n.log.Debugf("filtered batch '%s' with %d envelopes", batch.ID, len(batch.Envelopes))
			continue
		}
		for _, env := range batch.Envelopes {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			st.Envelopes++
			n.stats.Count("ingest.envelope", 1, 1.0)
			err := n.ingestEnvelope(ctx, env, &st)
			if err == nil {
				continue
			}
			st.EnvelopeErrors++
			n.stats.Count("ingest.envelope_error", 1, 1.0)
			if n.StopOnError {
				return st, errors.Wrapf(err, "ingesting envelope for '%s'", env.ResourceLocator)
			}
			n.log.Printf("skipping envelope for '%s' (doc %s): %v", env.ResourceLocator, env.DocID, err)
		}
	}
	n.log.Printf("ingested %d envelopes from %d batches (%d filtered, %d failed), %d relationships, %d submitted edges",
		st.Envelopes, st.Batches, st.BatchesFiltered, st.EnvelopeErrors, st.Relationships, st.SubmittedEdges)
	return st, nil
}

func (n *Ingester) ingestEnvelope(ctx context.Context, env Envelope, st *IngestStats) (err error) {
	// a payload of an unexpected shape must not take the whole harvest down
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while ingesting: %v", r)
		}
	}()

	locator := env.ResourceLocator
	resKey := Normalize(locator)
	if resKey == "" {
		return errors.New("envelope has no resource_locator")
	}
	resource, err := n.upserter.Upsert(ctx, LabelResource, resKey, Attrs{string(LabelResource): locator})
	if err != nil {
		return errors.Wrap(err, "upserting resource")
	}

	ext, err := n.extractor.Extract(env)
	if err != nil {
		return errors.Wrap(err, "extracting")
	}

	// the submitter edge and the standard edges are independent; a failure in
	// one doesn't undo the other.
	var errs Errors
	if name, ok := ext.Submitter.Get(); ok {
		if err := n.linkSubmitter(ctx, name, resource, st); err != nil {
			errs = append(errs, err)
		}
	}
	store := n.upserter.Store()
	for _, rel := range ext.Relationships {
		stdKey := Normalize(rel.Standard)
		if stdKey == "" || rel.Type == "" {
			continue
		}
		standard, err := n.upserter.Upsert(ctx, LabelStandard, stdKey, Attrs{string(LabelStandard): rel.Standard})
		if err != nil {
			errs = append(errs, errors.Wrap(err, "upserting standard"))
			continue
		}
		if err := store.CreateRelationship(ctx, resource, rel.Type, standard); err != nil {
			errs = append(errs, errors.Wrapf(err, "relating resource to standard '%s' with %s", rel.Standard, rel.Type))
			continue
		}
		st.Relationships++
		n.stats.Count("ingest.relationship", 1, 1.0, "type:"+rel.Type)
	}
	return errs.Err()
}

func (n *Ingester) linkSubmitter(ctx context.Context, name string, resource NodeHandle, st *IngestStats) error {
	key := Normalize(name)
	submitter, err := n.upserter.Upsert(ctx, LabelSubmitter, key, Attrs{string(LabelSubmitter): name})
	if err != nil {
		return errors.Wrap(err, "upserting submitter")
	}
	if n.submitted.Has(submitter, resource) {
		return nil
	}
	if err := n.upserter.Store().CreateRelationship(ctx, submitter, RelSubmitted, resource); err != nil {
		return errors.Wrapf(err, "relating submitter '%s' to resource", name)
	}
	n.submitted.Add(submitter, resource)
	st.SubmittedEdges++
	n.stats.Count("ingest.submitted", 1, 1.0)
	return nil
}
