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

// Package boltdb implements an embedded graph store in a single bolt file.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"time"

	"github.com/boltdb/bolt"
	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
)

var (
	nodeBucket  = []byte("nodes")
	indexBucket = []byte("index")
	outBucket   = []byte("out")
	inBucket    = []byte("in")
)

// Store is an lrgraph.ReadStore backed by boltdb. Nodes are kept in one
// bucket keyed by sequence number, the label index has a bucket per label,
// and relationships are kept in both directions so Neighbors is a prefix
// scan either way. Store implements lrgraph.AtomicUpserter, doing the index
// lookup and the create in one transaction.
type Store struct {
	Db *bolt.DB
}

var _ lrgraph.ReadStore = &Store{}
var _ lrgraph.AtomicUpserter = &Store{}

type nodeRecord struct {
	Label lrgraph.Label     `json:"label"`
	Attrs map[string]string `json:"attrs"`
}

// Open gets a Store backed by the bolt file at filename, creating it if
// need be.
func Open(filename string) (s *Store, err error) {
	s = &Store{}
	s.Db, err = bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = s.Db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{nodeBucket, indexBucket, outBucket, inBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating %s bucket", name)
			}
		}
		return nil
	})
	if err != nil {
		s.Db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return s, nil
}

// Close syncs and closes the underlying boltdb.
func (s *Store) Close() error {
	err := s.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return s.Db.Close()
}

// QueryIndex implements lrgraph.GraphStore.
func (s *Store) QueryIndex(ctx context.Context, label lrgraph.Label, key string) (nodes []lrgraph.NodeHandle, err error) {
	err = s.Db.View(func(tx *bolt.Tx) error {
		nodes = lookup(tx, label, key)
		return nil
	})
	return nodes, err
}

// CreateNode implements lrgraph.GraphStore.
func (s *Store) CreateNode(ctx context.Context, label lrgraph.Label, attrs lrgraph.Attrs) (node lrgraph.NodeHandle, err error) {
	err = s.Db.Update(func(tx *bolt.Tx) error {
		node, err = createNode(tx, label, attrs)
		return err
	})
	return node, err
}

// IndexNode implements lrgraph.GraphStore.
func (s *Store) IndexNode(ctx context.Context, label lrgraph.Label, key string, node lrgraph.NodeHandle) error {
	id, err := parseHandle(node)
	if err != nil {
		return err
	}
	return s.Db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(nodeBucket).Get(id) == nil {
			return errors.Errorf("indexing unknown node %s", node)
		}
		return index(tx, label, key, id)
	})
}

// UpsertNode implements lrgraph.AtomicUpserter.
func (s *Store) UpsertNode(ctx context.Context, label lrgraph.Label, key string, attrs lrgraph.Attrs) (node lrgraph.NodeHandle, created bool, err error) {
	err = s.Db.Update(func(tx *bolt.Tx) error {
		if hits := lookup(tx, label, key); len(hits) > 0 {
			node = hits[0]
			return nil
		}
		node, err = createNode(tx, label, attrs)
		if err != nil {
			return err
		}
		created = true
		id, _ := parseHandle(node)
		return index(tx, label, key, id)
	})
	if err != nil {
		return "", false, err
	}
	return node, created, nil
}

// CreateRelationship implements lrgraph.GraphStore. Creating the same
// relationship twice records it twice.
func (s *Store) CreateRelationship(ctx context.Context, from lrgraph.NodeHandle, relType string, to lrgraph.NodeHandle) error {
	fid, err := parseHandle(from)
	if err != nil {
		return err
	}
	tid, err := parseHandle(to)
	if err != nil {
		return err
	}
	return s.Db.Update(func(tx *bolt.Tx) error {
		nb := tx.Bucket(nodeBucket)
		if nb.Get(fid) == nil {
			return errors.Errorf("relationship from unknown node %s", from)
		}
		if nb.Get(tid) == nil {
			return errors.Errorf("relationship to unknown node %s", to)
		}
		if err := incr(tx.Bucket(outBucket), edgeKey(fid, relType, tid)); err != nil {
			return errors.Wrap(err, "adding outgoing edge")
		}
		return errors.Wrap(incr(tx.Bucket(inBucket), edgeKey(tid, relType, fid)), "adding incoming edge")
	})
}

// SetAttribute implements lrgraph.GraphStore.
func (s *Store) SetAttribute(ctx context.Context, node lrgraph.NodeHandle, name, value string) error {
	id, err := parseHandle(node)
	if err != nil {
		return err
	}
	return s.Db.Update(func(tx *bolt.Tx) error {
		nb := tx.Bucket(nodeBucket)
		rec, err := getNode(nb, id)
		if err != nil {
			return errors.Wrapf(err, "setting attribute on %s", node)
		}
		rec.Attrs[name] = value
		return putNode(nb, id, rec)
	})
}

// Neighbors implements lrgraph.GraphReader.
func (s *Store) Neighbors(ctx context.Context, node lrgraph.NodeHandle, relType string, dir lrgraph.Direction) (nodes []lrgraph.NodeHandle, err error) {
	id, err := parseHandle(node)
	if err != nil {
		return nil, err
	}
	bucket := outBucket
	if dir == lrgraph.Incoming {
		bucket = inBucket
	}
	err = s.Db.View(func(tx *bolt.Tx) error {
		prefix := edgePrefix(id, relType)
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			other := handle(k[len(prefix):])
			for n := binary.BigEndian.Uint64(v); n > 0; n-- {
				nodes = append(nodes, other)
			}
		}
		return nil
	})
	return nodes, err
}

// Attribute implements lrgraph.GraphReader.
func (s *Store) Attribute(ctx context.Context, node lrgraph.NodeHandle, name string) (val string, ok bool, err error) {
	id, err := parseHandle(node)
	if err != nil {
		return "", false, err
	}
	err = s.Db.View(func(tx *bolt.Tx) error {
		rec, err := getNode(tx.Bucket(nodeBucket), id)
		if err != nil {
			return err
		}
		val, ok = rec.Attrs[name]
		return nil
	})
	return val, ok, err
}

// Label returns the label of node.
func (s *Store) Label(node lrgraph.NodeHandle) (label lrgraph.Label, err error) {
	id, err := parseHandle(node)
	if err != nil {
		return "", err
	}
	err = s.Db.View(func(tx *bolt.Tx) error {
		rec, err := getNode(tx.Bucket(nodeBucket), id)
		if err != nil {
			return err
		}
		label = rec.Label
		return nil
	})
	return label, err
}

func lookup(tx *bolt.Tx, label lrgraph.Label, key string) []lrgraph.NodeHandle {
	lb := tx.Bucket(indexBucket).Bucket([]byte(label))
	if lb == nil {
		return nil
	}
	var nodes []lrgraph.NodeHandle
	prefix := append([]byte(key), 0)
	c := lb.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		nodes = append(nodes, handle(k[len(prefix):]))
	}
	return nodes
}

func index(tx *bolt.Tx, label lrgraph.Label, key string, id []byte) error {
	lb, err := tx.Bucket(indexBucket).CreateBucketIfNotExists([]byte(label))
	if err != nil {
		return errors.Wrapf(err, "adding %s to index bucket", label)
	}
	k := make([]byte, 0, len(key)+1+len(id))
	k = append(append(append(k, key...), 0), id...)
	return errors.Wrap(lb.Put(k, []byte{}), "inserting into index bucket")
}

func createNode(tx *bolt.Tx, label lrgraph.Label, attrs lrgraph.Attrs) (lrgraph.NodeHandle, error) {
	nb := tx.Bucket(nodeBucket)
	seq, err := nb.NextSequence()
	if err != nil {
		return "", err
	}
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, seq)
	rec := nodeRecord{Label: label, Attrs: make(map[string]string, len(attrs))}
	for k, v := range attrs {
		rec.Attrs[k] = v
	}
	if err := putNode(nb, id, rec); err != nil {
		return "", errors.Wrap(err, "inserting into nodes bucket")
	}
	return handle(id), nil
}

func getNode(nb *bolt.Bucket, id []byte) (rec nodeRecord, err error) {
	data := nb.Get(id)
	if data == nil {
		return rec, errors.Errorf("unknown node %s", handle(id))
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "decoding node %s", handle(id))
	}
	if rec.Attrs == nil {
		rec.Attrs = make(map[string]string)
	}
	return rec, nil
}

func putNode(nb *bolt.Bucket, id []byte, rec nodeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding node")
	}
	return nb.Put(id, data)
}

// edgePrefix is the part of an edge key shared by every edge of relType at
// node.
func edgePrefix(node []byte, relType string) []byte {
	k := make([]byte, 0, len(node)+len(relType)+1+8)
	return append(append(append(k, node...), relType...), 0)
}

func edgeKey(from []byte, relType string, to []byte) []byte {
	return append(edgePrefix(from, relType), to...)
}

func incr(b *bolt.Bucket, key []byte) error {
	var n uint64
	if v := b.Get(key); len(v) == 8 {
		n = binary.BigEndian.Uint64(v)
	}
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, n+1)
	return b.Put(key, v)
}

func handle(id []byte) lrgraph.NodeHandle {
	return lrgraph.NodeHandle(strconv.FormatUint(binary.BigEndian.Uint64(id), 10))
}

func parseHandle(node lrgraph.NodeHandle) ([]byte, error) {
	n, err := strconv.ParseUint(string(node), 10, 64)
	if err != nil {
		return nil, errors.Errorf("'%s' is not a bolt node handle", node)
	}
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, n)
	return id, nil
}
