package taxonomy_test

import (
	"encoding/json"
	"testing"

	"github.com/learningregistry/lrgraph/taxonomy"
	"github.com/learningregistry/lrgraph/test"
)

func mustTree(t *testing.T, doc string) []taxonomy.Node {
	t.Helper()
	var nodes []taxonomy.Node
	test.ErrNil(t, json.Unmarshal([]byte(doc), &nodes), "decoding tree")
	return nodes
}

func TestSearchLeafMatch(t *testing.T) {
	roots := mustTree(t, `[{"children":[
		{"leaf":true,"asn_statementNotation":"1","asn_identifier":"ASN-77"}
	]}]`)
	pairs := taxonomy.Search(roots, "Math", taxonomy.ValidIDs{"Math.1": {}}, false)
	test.MustBe(t, []taxonomy.Pair{{Identifier: "ASN-77", DotNotation: "Math.1"}}, pairs)
}

func TestSearchQualification(t *testing.T) {
	valid := taxonomy.ValidIDs{"Math.1": {}}
	tests := []struct {
		name string
		node string
		want int
	}{
		{name: "not a leaf", node: `{"leaf":false,"asn_statementNotation":"1","asn_identifier":"X"}`},
		{name: "no leaf flag", node: `{"asn_statementNotation":"1","asn_identifier":"X"}`},
		{name: "no identifier", node: `{"leaf":true,"asn_statementNotation":"1"}`},
		{name: "no notation", node: `{"leaf":true,"asn_identifier":"X"}`},
		{name: "unknown code", node: `{"leaf":true,"asn_statementNotation":"2","asn_identifier":"X"}`},
		{name: "string leaf", node: `{"leaf":"true","asn_statementNotation":"1","asn_identifier":"X"}`, want: 1},
		{name: "numeric notation", node: `{"leaf":true,"asn_statementNotation":1,"asn_identifier":"X"}`, want: 1},
	}
	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			roots := mustTree(t, `[{"children":[`+tst.node+`]}]`)
			test.MustBe(t, tst.want, len(taxonomy.Search(roots, "Math", valid, false)))
		})
	}
}

func TestSearchFirstMatchPerSubtree(t *testing.T) {
	roots := mustTree(t, `[
		{"children":[
			{"children":[
				{"leaf":true,"asn_statementNotation":"9","asn_identifier":"NOPE"}
			]},
			{"children":[
				{"leaf":true,"asn_statementNotation":"1","asn_identifier":"ASN-1"},
				{"leaf":true,"asn_statementNotation":"2","asn_identifier":"ASN-2"}
			]},
			{"leaf":true,"asn_statementNotation":"3","asn_identifier":"ASN-3"}
		]},
		{"children":[
			{"leaf":"false","asn_statementNotation":"2","asn_identifier":"ASN-2b"},
			{"leaf":true,"asn_statementNotation":"2","asn_identifier":"ASN-2c"}
		]}
	]`)
	valid := taxonomy.ValidIDs{"Math.1": {}, "Math.2": {}, "Math.3": {}}

	first := taxonomy.Search(roots, "Math", valid, false)
	test.MustBe(t, []taxonomy.Pair{
		{Identifier: "ASN-1", DotNotation: "Math.1"},
		{Identifier: "ASN-2c", DotNotation: "Math.2"},
	}, first, "first match")

	all := taxonomy.Search(roots, "Math", valid, true)
	test.MustBe(t, []taxonomy.Pair{
		{Identifier: "ASN-1", DotNotation: "Math.1"},
		{Identifier: "ASN-2", DotNotation: "Math.2"},
		{Identifier: "ASN-3", DotNotation: "Math.3"},
		{Identifier: "ASN-2c", DotNotation: "Math.2"},
	}, all, "search all")
}

func TestBadLeafFlag(t *testing.T) {
	var nodes []taxonomy.Node
	if err := json.Unmarshal([]byte(`[{"leaf":"maybe"}]`), &nodes); err == nil {
		t.Fatal("expected error for unparseable leaf flag")
	}
}
