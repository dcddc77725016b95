// Package taxonomy reconciles the identifier schemes used for academic
// standards. It loads a reference table of synonymous identifiers into the
// graph and then links external taxonomy trees to it with sameAs edges.
package taxonomy

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
)

// Reference table column names. ColumnCurrentURL is the name an earlier
// revision of the table used for the URI column.
const (
	ColumnDotNotation = "Dot notation"
	ColumnURI         = "URI"
	ColumnCurrentURL  = "Current URL"
	ColumnGUID        = "GUID"
)

// RowSource yields reference table rows keyed by column name, and io.EOF
// after the last one.
type RowSource interface {
	Record() (map[string]string, error)
}

// ValidIDs is the set of dot-notation codes loaded from the reference table.
type ValidIDs map[string]struct{}

// Has reports whether code is in the set.
func (v ValidIDs) Has(code string) bool {
	_, ok := v[code]
	return ok
}

// Reconciler writes reference identifiers and cross-taxonomy links through an
// Upserter. It is not safe for concurrent use.
type Reconciler struct {
	upserter    *lrgraph.Upserter
	fetcher     TreeFetcher
	searchAll   bool
	concurrency int

	log   lrgraph.Logger
	stats lrgraph.Statter
}

// Option is a functional option for the Reconciler.
type Option func(r *Reconciler)

// OptFetcher sets how taxonomy trees are retrieved.
func OptFetcher(f TreeFetcher) Option {
	return func(r *Reconciler) {
		r.fetcher = f
	}
}

// OptSearchAll makes Link use every matching node in a subtree rather than
// only the first one found.
func OptSearchAll(all bool) Option {
	return func(r *Reconciler) {
		r.searchAll = all
	}
}

// OptConcurrency sets how many taxonomy trees are fetched at once.
func OptConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// OptLogger sets the logger.
func OptLogger(l lrgraph.Logger) Option {
	return func(r *Reconciler) {
		r.log = l
	}
}

// OptStatter sets the stats collector.
func OptStatter(s lrgraph.Statter) Option {
	return func(r *Reconciler) {
		r.stats = s
	}
}

// NewReconciler gets a Reconciler writing through upserter.
func NewReconciler(upserter *lrgraph.Upserter, opts ...Option) *Reconciler {
	r := &Reconciler{
		upserter:    upserter,
		fetcher:     NewHTTPFetcher(),
		concurrency: 2,
		log:         lrgraph.NopLogger{},
		stats:       lrgraph.NopStatter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadReference reads every row of the reference table. The dot notation,
// URI and GUID of a row each become a Standard node under their own key, and
// the URI and GUID nodes get a sameAs edge to the dot-notation node. Rows
// without a dot notation, and rows the source can't parse, are logged and
// skipped. Store failures abort the load.
func (r *Reconciler) LoadReference(ctx context.Context, rows RowSource) (ValidIDs, error) {
	start := time.Now()
	valid := make(ValidIDs)
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return valid, err
		}
		row, err := rows.Record()
		if err == io.EOF {
			break
		} else if err != nil {
			r.stats.Count("reconcile.row_error", 1, 1.0)
			r.log.Printf("skipping reference row %d: %v", n, err)
			continue
		}
		dot := strings.TrimSpace(row[ColumnDotNotation])
		if dot == "" {
			r.stats.Count("reconcile.row_skipped", 1, 1.0)
			r.log.Printf("skipping reference row %d: no %s", n, ColumnDotNotation)
			continue
		}
		uri := strings.TrimSpace(row[ColumnURI])
		if uri == "" {
			uri = strings.TrimSpace(row[ColumnCurrentURL])
		}
		guid := strings.TrimSpace(row[ColumnGUID])

		dotNode, err := r.upsertStandard(ctx, dot)
		if err != nil {
			return valid, errors.Wrapf(err, "reference row %d", n)
		}
		valid[dot] = struct{}{}
		for _, syn := range []string{uri, guid} {
			if syn == "" {
				continue
			}
			node, err := r.upsertStandard(ctx, syn)
			if err != nil {
				return valid, errors.Wrapf(err, "reference row %d", n)
			}
			if node == dotNode {
				continue
			}
			err = r.upserter.Store().CreateRelationship(ctx, node, lrgraph.RelSameAs, dotNode)
			if err != nil {
				return valid, errors.Wrapf(err, "linking '%s' to '%s'", syn, dot)
			}
			r.stats.Count("reconcile.same_as", 1, 1.0, "phase:reference")
		}
		r.stats.Count("reconcile.row", 1, 1.0)
	}
	r.stats.Timing("reconcile.reference", time.Since(start), 1.0)
	r.log.Printf("loaded %d reference identifiers", len(valid))
	return valid, nil
}

func (r *Reconciler) upsertStandard(ctx context.Context, raw string) (lrgraph.NodeHandle, error) {
	return r.upserter.Upsert(ctx, lrgraph.LabelStandard, lrgraph.Normalize(raw), lrgraph.Attrs{string(lrgraph.LabelStandard): raw})
}
