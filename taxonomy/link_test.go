package taxonomy_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/file"
	"github.com/learningregistry/lrgraph/mock"
	"github.com/learningregistry/lrgraph/taxonomy"
	"github.com/learningregistry/lrgraph/test"
	"github.com/pkg/errors"
)

type fetcher struct {
	mu    sync.Mutex
	trees map[string]string
	calls []string
}

func (f *fetcher) Fetch(ctx context.Context, url string) ([]taxonomy.Node, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	doc, ok := f.trees[url]
	f.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("404 %s", url)
	}
	return taxonomy.DecodeTree([]byte(doc))
}

func TestLink(t *testing.T) {
	ctx := context.Background()
	g := mock.NewGraph()
	u := lrgraph.NewUpserter(g)
	f := &fetcher{trees: map[string]string{
		"http://asn/math": `[{"children":[
			{"leaf":true,"asn_statementNotation":"1","asn_identifier":"ASN-77"}
		]},{"children":[
			{"leaf":true,"asn_statementNotation":"2","asn_identifier":"ASN-78"}
		]}]`,
	}}
	r := taxonomy.NewReconciler(u, taxonomy.OptFetcher(f))

	valid, err := r.LoadReference(ctx, &rows{recs: []map[string]string{
		{"Dot notation": "Math.1"},
		{"Dot notation": "Math.2"},
	}})
	test.ErrNil(t, err, "loading reference")
	_, err = u.Upsert(ctx, lrgraph.LabelStandard, lrgraph.Normalize("ASN-77"), lrgraph.Attrs{"standard": "ASN-77"})
	test.ErrNil(t, err, "upserting ASN standard")
	before := len(g.Nodes(lrgraph.LabelStandard))

	stats, err := r.Link(ctx, []taxonomy.Subject{{Name: "Math", URL: "http://asn/math"}}, valid)
	test.ErrNil(t, err, "linking")
	test.MustBe(t, taxonomy.LinkStats{Subjects: 1, Pairs: 2, Linked: 1, Skipped: 1}, stats)
	test.MustBe(t, []mock.Rel{{
		From: standard(t, g, "ASN-77"),
		Type: lrgraph.RelSameAs,
		To:   standard(t, g, "Math.1"),
	}}, g.Rels(lrgraph.RelSameAs))
	test.MustBe(t, before, len(g.Nodes(lrgraph.LabelStandard)), "linking never creates nodes")
}

func TestLinkRelationshipFailure(t *testing.T) {
	ctx := context.Background()
	g := mock.NewGraph()
	g.RelErr = func(from lrgraph.NodeHandle, relType string, to lrgraph.NodeHandle) error {
		if relType == lrgraph.RelSameAs {
			return errors.New("store unavailable")
		}
		return nil
	}
	u := lrgraph.NewUpserter(g)
	for _, id := range []string{"ASN-77", "Math.1"} {
		_, err := u.Upsert(ctx, lrgraph.LabelStandard, lrgraph.Normalize(id), lrgraph.Attrs{"standard": id})
		test.ErrNil(t, err, "upserting "+id)
	}
	f := &fetcher{trees: map[string]string{
		"http://asn/math": `[{"children":[{"leaf":true,"asn_statementNotation":"1","asn_identifier":"ASN-77"}]}]`,
	}}
	r := taxonomy.NewReconciler(u, taxonomy.OptFetcher(f))
	stats, err := r.Link(ctx, []taxonomy.Subject{{Name: "Math", URL: "http://asn/math"}}, taxonomy.ValidIDs{"Math.1": {}})
	if err == nil {
		t.Fatal("expected relationship error")
	}
	test.MustBe(t, 0, stats.Linked, "linked")
	test.MustBe(t, 0, len(g.Rels(lrgraph.RelSameAs)), "sameAs edges")
}

func TestLinkFetchFailure(t *testing.T) {
	f := &fetcher{trees: map[string]string{"http://asn/ok": `[]`}}
	r := taxonomy.NewReconciler(lrgraph.NewUpserter(mock.NewGraph()), taxonomy.OptFetcher(f))
	_, err := r.Link(context.Background(), []taxonomy.Subject{
		{Name: "Ok", URL: "http://asn/ok"},
		{Name: "Gone", URL: "http://asn/gone"},
	}, taxonomy.ValidIDs{})
	if err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestLinkLookupFailure(t *testing.T) {
	ctx := context.Background()
	g := mock.NewGraph()
	f := &fetcher{trees: map[string]string{"u": `[{"children":[{"leaf":true,"asn_statementNotation":"1","asn_identifier":"ASN-1"}]}]`}}
	valid := taxonomy.ValidIDs{"Math.1": {}}
	g.QueryErr = func(label lrgraph.Label, key string) error { return errors.New("timeout") }

	r := taxonomy.NewReconciler(lrgraph.NewUpserter(g), taxonomy.OptFetcher(f))
	stats, err := r.Link(ctx, []taxonomy.Subject{{Name: "Math", URL: "u"}}, valid)
	test.ErrNil(t, err, "lookup errors are misses by default")
	test.MustBe(t, 1, stats.Skipped)

	r = taxonomy.NewReconciler(lrgraph.NewUpserter(g, lrgraph.OptUpserterLookupErrorPolicy(lrgraph.FailOnLookupError)), taxonomy.OptFetcher(f))
	if _, err := r.Link(ctx, []taxonomy.Subject{{Name: "Math", URL: "u"}}, valid); err == nil {
		t.Fatal("expected lookup error with fail policy")
	}
}

func TestParseSubjects(t *testing.T) {
	subjects, err := taxonomy.ParseSubjects([]string{"Math=http://a/b?x=1", " Literacy = http://c ", ""})
	test.ErrNil(t, err, "parsing")
	test.MustBe(t, []taxonomy.Subject{
		{Name: "Math", URL: "http://a/b?x=1"},
		{Name: "Literacy", URL: "http://c"},
	}, subjects)

	for _, bad := range []string{"Math", "=http://x", "Math="} {
		if _, err := taxonomy.ParseSubjects([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestHTTPFetcher(t *testing.T) {
	var (
		mu    sync.Mutex
		tries int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky.json":
			mu.Lock()
			tries++
			n := tries
			mu.Unlock()
			if n == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			io.WriteString(w, `[{"children":[{"leaf":"true","asn_statementNotation":"1","asn_identifier":"A"}]}]`)
		case "/root.json":
			io.WriteString(w, `{"children":[{"leaf":true,"asn_statementNotation":"1","asn_identifier":"B"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := taxonomy.NewHTTPFetcher(file.OptHTTPClient(srv.Client()))
	valid := taxonomy.ValidIDs{"Math.1": {}}

	nodes, err := f.Fetch(context.Background(), srv.URL+"/flaky.json")
	test.ErrNil(t, err, "fetching with a retry")
	test.MustBe(t, []taxonomy.Pair{{Identifier: "A", DotNotation: "Math.1"}}, taxonomy.Search(nodes, "Math", valid, false))

	nodes, err = f.Fetch(context.Background(), srv.URL+"/root.json")
	test.ErrNil(t, err, "fetching single root")
	test.MustBe(t, []taxonomy.Pair{{Identifier: "B", DotNotation: "Math.1"}}, taxonomy.Search(nodes, "Math", valid, false))

	f.MaxRetries = 2
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.json"); err == nil {
		t.Fatal("expected error for missing taxonomy")
	}
}
