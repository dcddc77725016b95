package lrgraph_test

import (
	"io"
	"testing"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/test"
)

func TestDecodeBatch(t *testing.T) {
	b, err := lrgraph.DecodeBatch([]byte(`{"doc_ID": "e1", "resource_locator": "http://example.com/a", "resource_data": "<x/>"}`))
	test.ErrNil(t, err, "decoding envelope")
	test.MustBe(t, "e1", b.ID)
	test.MustBe(t, 1, len(b.Envelopes))
	test.MustBe(t, "http://example.com/a", b.Envelopes[0].ResourceLocator)

	b, err = lrgraph.DecodeBatch([]byte(`{"doc_ID": "d1", "resource_data": [
		{"resource_locator": "http://example.com/a", "resource_data": "<x/>"},
		{"doc_ID": "own", "resource_locator": "http://example.com/b", "resource_data": {}}]}`))
	test.ErrNil(t, err, "decoding document")
	test.MustBe(t, "d1", b.ID)
	test.MustBe(t, 2, len(b.Envelopes))
	test.MustBe(t, "d1", b.Envelopes[0].DocID, "envelope inherits doc ID")
	test.MustBe(t, "own", b.Envelopes[1].DocID)

	for _, bad := range []string{`{`, `{}`, `{"resource_data": []}`, `[1]`} {
		if _, err := lrgraph.DecodeBatch([]byte(bad)); err == nil {
			t.Errorf("expected error decoding %s", bad)
		}
	}
}

func TestSliceSource(t *testing.T) {
	src := lrgraph.NewSliceSource(lrgraph.Batch{ID: "a"}, lrgraph.Batch{ID: "b"})
	for _, want := range []string{"a", "b"} {
		b, err := src.Record()
		test.ErrNil(t, err, "getting record")
		test.MustBe(t, want, b.ID)
	}
	if _, err := src.Record(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
