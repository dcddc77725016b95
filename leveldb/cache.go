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

// Package leveldb keeps a local copy of a graph store's label index so that
// repeated lookups don't go over the network.
package leveldb

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// storeKey holds the identity of the store the cached index belongs to.
var storeKey = []byte("\x00store")

// IndexCache is an lrgraph.ReadStore which answers QueryIndex from a leveldb
// mirror of the wrapped store's index and passes everything else through.
// Lookups which miss locally go to the wrapped store and their results are
// remembered. The mirror is only accurate if every IndexNode for the store
// goes through the cache, so it suits a single harvester writing to a store.
type IndexCache struct {
	lrgraph.ReadStore

	db    *leveldb.DB
	stats lrgraph.Statter
}

var _ lrgraph.ReadStore = &IndexCache{}

// Option is a functional option for the IndexCache.
type Option func(c *IndexCache)

// OptStatter sets the stats collector.
func OptStatter(s lrgraph.Statter) Option {
	return func(c *IndexCache) {
		c.stats = s
	}
}

// Open gets an IndexCache kept in dirname in front of inner. storeID names
// the store; a cache built for a different store is discarded.
func Open(dirname, storeID string, inner lrgraph.ReadStore, opts ...Option) (*IndexCache, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	c := &IndexCache{
		ReadStore: inner,
		stats:     lrgraph.NopStatter{},
	}
	for _, o := range opts {
		o(c)
	}
	c.db, err = leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	if err := c.claim(storeID); err != nil {
		c.db.Close()
		return nil, err
	}
	return c, nil
}

// claim empties the cache unless it was built for storeID.
func (c *IndexCache) claim(storeID string) error {
	owner, err := c.db.Get(storeKey, nil)
	if err == nil && string(owner) == storeID {
		return nil
	} else if err != nil && err != leveldb.ErrNotFound {
		return errors.Wrap(err, "reading cache owner")
	}
	batch := new(leveldb.Batch)
	iter := c.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "scanning stale cache")
	}
	batch.Put(storeKey, []byte(storeID))
	return errors.Wrap(c.db.Write(batch, nil), "resetting cache")
}

// QueryIndex implements lrgraph.GraphStore.
func (c *IndexCache) QueryIndex(ctx context.Context, label lrgraph.Label, key string) ([]lrgraph.NodeHandle, error) {
	nodes, ok, err := c.get(label, key)
	if err != nil {
		return nil, err
	}
	if ok {
		c.stats.Count("index_cache.hit", 1, 1.0)
		return nodes, nil
	}
	c.stats.Count("index_cache.miss", 1, 1.0)
	nodes, err = c.ReadStore.QueryIndex(ctx, label, key)
	if err != nil || len(nodes) == 0 {
		return nodes, err
	}
	return nodes, c.put(label, key, nodes)
}

// IndexNode implements lrgraph.GraphStore.
func (c *IndexCache) IndexNode(ctx context.Context, label lrgraph.Label, key string, node lrgraph.NodeHandle) error {
	if err := c.ReadStore.IndexNode(ctx, label, key, node); err != nil {
		return err
	}
	nodes, _, err := c.get(label, key)
	if err != nil {
		return err
	}
	return c.put(label, key, append(nodes, node))
}

// Close closes the leveldb and then the wrapped store if it can be closed.
func (c *IndexCache) Close() error {
	var errs lrgraph.Errors
	if err := c.db.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "closing index cache"))
	}
	if closer, ok := c.ReadStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.Err()
}

func cacheKey(label lrgraph.Label, key string) []byte {
	k := make([]byte, 0, len(label)+1+len(key))
	return append(append(append(k, label...), 0), key...)
}

func (c *IndexCache) get(label lrgraph.Label, key string) ([]lrgraph.NodeHandle, bool, error) {
	val, err := c.db.Get(cacheKey(label, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrap(err, "reading index cache")
	}
	var nodes []lrgraph.NodeHandle
	if err := json.Unmarshal(val, &nodes); err != nil {
		return nil, false, errors.Wrap(err, "decoding index cache entry")
	}
	return nodes, true, nil
}

func (c *IndexCache) put(label lrgraph.Label, key string, nodes []lrgraph.NodeHandle) error {
	val, err := json.Marshal(nodes)
	if err != nil {
		return errors.Wrap(err, "encoding index cache entry")
	}
	return errors.Wrap(c.db.Put(cacheKey(label, key), val, nil), "writing index cache")
}
