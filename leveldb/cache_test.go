// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package leveldb_test

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/leveldb"
	"github.com/learningregistry/lrgraph/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGraph counts the index queries which reach the wrapped store.
func countingGraph() (*mock.Graph, *int) {
	g := mock.NewGraph()
	n := new(int)
	g.QueryErr = func(label lrgraph.Label, key string) error {
		*n++
		return nil
	}
	return g, n
}

func TestIndexCache(t *testing.T) {
	ctx := context.Background()
	dir, err := ioutil.TempDir("", "lrgraph-index-cache")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	g, queries := countingGraph()
	stats := &mock.RecordingStatter{}
	c, err := leveldb.Open(dir, "neo4j://localhost:7687", g, leveldb.OptStatter(stats))
	require.NoError(t, err)

	u := lrgraph.NewUpserter(c)
	first, err := u.Upsert(ctx, lrgraph.LabelStandard, "A.1", lrgraph.Attrs{"standard": "A.1"})
	require.NoError(t, err)
	assert.Equal(t, 1, *queries, "first lookup reaches the store")

	for i := 0; i < 3; i++ {
		again, err := u.Upsert(ctx, lrgraph.LabelStandard, "A.1", nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, *queries, "later lookups come from the cache")
	assert.Equal(t, int64(3), stats.Get("index_cache.hit"))
	assert.Len(t, g.Nodes(lrgraph.LabelStandard), 1)

	// reads and relationship writes pass through
	other, err := u.Upsert(ctx, lrgraph.LabelStandard, "B.1", nil)
	require.NoError(t, err)
	require.NoError(t, c.CreateRelationship(ctx, other, lrgraph.RelSameAs, first))
	in, err := c.Neighbors(ctx, first, lrgraph.RelSameAs, lrgraph.Incoming)
	require.NoError(t, err)
	assert.Equal(t, []lrgraph.NodeHandle{other}, in)
	require.NoError(t, c.Close())

	// same store: the cache survives a reopen
	c, err = leveldb.Open(dir, "neo4j://localhost:7687", g)
	require.NoError(t, err)
	hits, err := c.QueryIndex(ctx, lrgraph.LabelStandard, "A.1")
	require.NoError(t, err)
	assert.Equal(t, []lrgraph.NodeHandle{first}, hits)
	assert.Equal(t, 2, *queries, "only the B.1 miss reached the store")
	require.NoError(t, c.Close())

	// different store: the cache starts over
	g2, queries2 := countingGraph()
	c, err = leveldb.Open(dir, "neo4j://elsewhere:7687", g2)
	require.NoError(t, err)
	defer c.Close()
	hits, err = c.QueryIndex(ctx, lrgraph.LabelStandard, "A.1")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 1, *queries2)
}

func TestIndexCacheDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	dir, err := ioutil.TempDir("", "lrgraph-index-cache")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	g, queries := countingGraph()
	c, err := leveldb.Open(dir, "x", g)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		hits, err := c.QueryIndex(ctx, lrgraph.LabelResource, "nope")
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
	assert.Equal(t, 2, *queries)
}
