package neo4jdb

import (
	"testing"

	"github.com/learningregistry/lrgraph"
	"github.com/stretchr/testify/assert"
)

func TestNodeLabel(t *testing.T) {
	assert.Equal(t, "`Resource`", nodeLabel(lrgraph.LabelResource))
	assert.Equal(t, "`Standard`", nodeLabel(lrgraph.LabelStandard))
	assert.Equal(t, "`Submitter`", nodeLabel(lrgraph.LabelSubmitter))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`conformsTo`", quote("conformsTo"))
	assert.Equal(t, "`a``b`", quote("a`b"))
	assert.Equal(t, "`http%3A%2F%2Fx`", quote("http%3A%2F%2Fx"))
}

func TestStatements(t *testing.T) {
	assert.Equal(t,
		"CREATE INDEX `lrgraph_standard_key` IF NOT EXISTS FOR (n:`Standard`) ON (n.key)",
		indexStatement(lrgraph.LabelStandard))
	assert.Contains(t, relationshipStatement("sameAs", false), " CREATE (a)-[:`sameAs`]->(b) ")
	assert.Contains(t, relationshipStatement("sameAs", true), " MERGE (a)-[:`sameAs`]->(b) ")
	assert.Contains(t, neighborStatement("submitted", lrgraph.Outgoing), "(a)-[:`submitted`]->(b)")
	assert.Contains(t, neighborStatement("submitted", lrgraph.Incoming), "(a)<-[:`submitted`]-(b)")
}
