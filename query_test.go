package lrgraph_test

import (
	"context"
	"testing"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/mock"
	"github.com/learningregistry/lrgraph/test"
)

// submissions ingests one conformance envelope per (submitter, locator).
func submissions(t *testing.T, pairs ...[2]string) *mock.Graph {
	t.Helper()
	g := mock.NewGraph()
	var envs []lrgraph.Envelope
	for _, p := range pairs {
		envs = append(envs, test.ConformanceEnvelope(p[1], test.NSDLRecord(nil, []string{p[0]}, nil)))
	}
	_, err := lrgraph.NewIngester(lrgraph.NewSliceSource(lrgraph.Batch{Envelopes: envs}),
		lrgraph.ConformanceExtractor{}, lrgraph.NewUpserter(g)).Run(context.Background())
	test.ErrNil(t, err, "ingesting submissions")
	return g
}

func TestQuerierRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := submissions(t,
		[2]string{"Alice", "http://example.com/a b"},
		[2]string{"Alice", "http://example.com/2"},
		[2]string{"Bob", "http://example.com/2"},
	)
	q := lrgraph.NewQuerier(g)

	res, err := q.SubmitterResources(ctx, "Alice")
	test.ErrNil(t, err, "submitter resources")
	test.MustBe(t, []string{"http://example.com/a b", "http://example.com/2"}, res)

	for _, r := range res {
		subs, err := q.ResourceSubmitters(ctx, r)
		test.ErrNil(t, err, "resource submitters")
		found := false
		for _, s := range subs {
			found = found || s == "Alice"
		}
		if !found {
			t.Fatalf("Alice missing from submitters of %s: %v", r, subs)
		}
	}

	subs, err := q.ResourceSubmitters(ctx, "http://example.com/2")
	test.ErrNil(t, err, "shared resource")
	test.MustBe(t, []string{"Alice", "Bob"}, subs)

	none, err := q.SubmitterResources(ctx, "Nobody")
	test.ErrNil(t, err, "unknown submitter")
	test.MustBe(t, 0, len(none), "unknown submitter has no resources")
}

func TestQuerierCompare(t *testing.T) {
	ctx := context.Background()

	t.Run("disjoint", func(t *testing.T) {
		g := submissions(t, [2]string{"A", "r1"}, [2]string{"B", "r2"})
		cmp, err := lrgraph.NewQuerier(g).Compare(ctx, "A", "B")
		test.ErrNil(t, err, "compare")
		test.MustBe(t, true, cmp.NoShared(), "no shared")
		test.MustBe(t, []string{"r1"}, cmp.FirstOnly, "first only")
		test.MustBe(t, []string{"r2"}, cmp.SecondOnly, "second only")
	})

	t.Run("overlapping", func(t *testing.T) {
		g := submissions(t,
			[2]string{"A", "r1"}, [2]string{"A", "r2"},
			[2]string{"B", "r2"}, [2]string{"B", "r3"},
		)
		cmp, err := lrgraph.NewQuerier(g).Compare(ctx, "A", "B")
		test.ErrNil(t, err, "compare")
		test.MustBe(t, false, cmp.NoShared(), "shared")
		test.MustBe(t, []string{"r2"}, cmp.Shared, "shared")
		test.MustBe(t, []string{"r1"}, cmp.FirstOnly, "first only")
		test.MustBe(t, []string{"r3"}, cmp.SecondOnly, "second only")
	})

	t.Run("identical", func(t *testing.T) {
		g := submissions(t,
			[2]string{"A", "r1"}, [2]string{"A", "r2"},
			[2]string{"B", "r1"}, [2]string{"B", "r2"},
		)
		cmp, err := lrgraph.NewQuerier(g).Compare(ctx, "A", "B")
		test.ErrNil(t, err, "compare")
		test.MustBe(t, false, cmp.NoShared(), "identical sets share everything")
		test.MustBe(t, []string{}, cmp.FirstOnly, "first only")
		test.MustBe(t, []string{}, cmp.SecondOnly, "second only")
	})
}
