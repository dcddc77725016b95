package lrgraph_test

import (
	"testing"

	"github.com/learningregistry/lrgraph"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw string
		exp string
	}{
		{raw: "", exp: ""},
		{raw: "http://example.com/a?b=c d", exp: "http%3A%2F%2Fexample.com%2Fa%3Fb%3Dc+d"},
		{raw: "CCSS.Math.Content.1.OA.A.1", exp: "CCSS.Math.Content.1.OA.A.1"},
		{raw: "Jane Doe", exp: "Jane+Doe"},
		{raw: "Zoë", exp: "Zo%C3%AB"},
		{raw: "a\xffb", exp: "a%EF%BF%BDb"},
	}
	for i, tst := range tests {
		if got := lrgraph.Normalize(tst.raw); got != tst.exp {
			t.Errorf("test %d: Normalize(%q) = %q, want %q", i, tst.raw, got, tst.exp)
		}
	}
}

func TestNormalizeDeterministicAndReversible(t *testing.T) {
	for _, raw := range []string{"http://x.org/r?id=1&q=a b", "Zoë's Lessons", "+%/"} {
		k1, k2 := lrgraph.Normalize(raw), lrgraph.Normalize(raw)
		if k1 != k2 {
			t.Fatalf("non-deterministic key for %q: %q vs %q", raw, k1, k2)
		}
		if back := lrgraph.Denormalize(k1); back != raw {
			t.Fatalf("Denormalize(Normalize(%q)) = %q", raw, back)
		}
	}
}

func TestDenormalizeBadEscape(t *testing.T) {
	if got := lrgraph.Denormalize("100%"); got != "100%" {
		t.Fatalf("unexpected %q", got)
	}
}
