// Package mock has in-memory implementations of lrgraph interfaces for use in
// tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
)

// Node is a node held by Graph.
type Node struct {
	Handle lrgraph.NodeHandle
	Label  lrgraph.Label
	Attrs  map[string]string
}

// Rel is a relationship held by Graph.
type Rel struct {
	From lrgraph.NodeHandle
	Type string
	To   lrgraph.NodeHandle
}

// Graph is an in-memory lrgraph.ReadStore. The error hooks, when set, are
// consulted before the corresponding operation and make it fail.
type Graph struct {
	QueryErr  func(label lrgraph.Label, key string) error
	CreateErr func(label lrgraph.Label, attrs lrgraph.Attrs) error
	RelErr    func(from lrgraph.NodeHandle, relType string, to lrgraph.NodeHandle) error

	mu    sync.Mutex
	next  int
	nodes map[lrgraph.NodeHandle]*Node
	order []lrgraph.NodeHandle
	index map[lrgraph.Label]map[string][]lrgraph.NodeHandle
	rels  []Rel
}

var _ lrgraph.ReadStore = &Graph{}

// NewGraph gets an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[lrgraph.NodeHandle]*Node),
		index: make(map[lrgraph.Label]map[string][]lrgraph.NodeHandle),
	}
}

// QueryIndex implements lrgraph.GraphStore.
func (g *Graph) QueryIndex(ctx context.Context, label lrgraph.Label, key string) ([]lrgraph.NodeHandle, error) {
	if g.QueryErr != nil {
		if err := g.QueryErr(label, key); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	hits := g.index[label][key]
	ret := make([]lrgraph.NodeHandle, len(hits))
	copy(ret, hits)
	return ret, nil
}

// CreateNode implements lrgraph.GraphStore.
func (g *Graph) CreateNode(ctx context.Context, label lrgraph.Label, attrs lrgraph.Attrs) (lrgraph.NodeHandle, error) {
	if g.CreateErr != nil {
		if err := g.CreateErr(label, attrs); err != nil {
			return "", err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	h := lrgraph.NodeHandle(fmt.Sprintf("n%d", g.next))
	g.next++
	n := &Node{Handle: h, Label: label, Attrs: make(map[string]string, len(attrs))}
	for k, v := range attrs {
		n.Attrs[k] = v
	}
	g.nodes[h] = n
	g.order = append(g.order, h)
	return h, nil
}

// IndexNode implements lrgraph.GraphStore.
func (g *Graph) IndexNode(ctx context.Context, label lrgraph.Label, key string, node lrgraph.NodeHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[node]; !ok {
		return errors.Errorf("indexing unknown node %s", node)
	}
	if g.index[label] == nil {
		g.index[label] = make(map[string][]lrgraph.NodeHandle)
	}
	g.index[label][key] = append(g.index[label][key], node)
	return nil
}

// CreateRelationship implements lrgraph.GraphStore.
func (g *Graph) CreateRelationship(ctx context.Context, from lrgraph.NodeHandle, relType string, to lrgraph.NodeHandle) error {
	if g.RelErr != nil {
		if err := g.RelErr(from, relType, to); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return errors.Errorf("relationship from unknown node %s", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return errors.Errorf("relationship to unknown node %s", to)
	}
	g.rels = append(g.rels, Rel{From: from, Type: relType, To: to})
	return nil
}

// SetAttribute implements lrgraph.GraphStore.
func (g *Graph) SetAttribute(ctx context.Context, node lrgraph.NodeHandle, name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[node]
	if !ok {
		return errors.Errorf("setting attribute on unknown node %s", node)
	}
	n.Attrs[name] = value
	return nil
}

// Neighbors implements lrgraph.GraphReader.
func (g *Graph) Neighbors(ctx context.Context, node lrgraph.NodeHandle, relType string, dir lrgraph.Direction) ([]lrgraph.NodeHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ret []lrgraph.NodeHandle
	for _, r := range g.rels {
		if r.Type != relType {
			continue
		}
		if dir == lrgraph.Outgoing && r.From == node {
			ret = append(ret, r.To)
		} else if dir == lrgraph.Incoming && r.To == node {
			ret = append(ret, r.From)
		}
	}
	return ret, nil
}

// Attribute implements lrgraph.GraphReader.
func (g *Graph) Attribute(ctx context.Context, node lrgraph.NodeHandle, name string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[node]
	if !ok {
		return "", false, errors.Errorf("unknown node %s", node)
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

// Nodes returns copies of every node with label, in creation order.
func (g *Graph) Nodes(label lrgraph.Label) []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ret []Node
	for _, h := range g.order {
		if n := g.nodes[h]; n.Label == label {
			ret = append(ret, g.copyNode(n))
		}
	}
	return ret
}

// Node returns a copy of the node with handle h.
func (g *Graph) Node(h lrgraph.NodeHandle) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[h]
	if !ok {
		return Node{}, false
	}
	return g.copyNode(n), true
}

func (g *Graph) copyNode(n *Node) Node {
	c := Node{Handle: n.Handle, Label: n.Label, Attrs: make(map[string]string, len(n.Attrs))}
	for k, v := range n.Attrs {
		c.Attrs[k] = v
	}
	return c
}

// Indexed returns the nodes indexed under key for label.
func (g *Graph) Indexed(label lrgraph.Label, key string) []lrgraph.NodeHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]lrgraph.NodeHandle(nil), g.index[label][key]...)
}

// Rels returns every relationship of relType, or every relationship when
// relType is empty, in creation order.
func (g *Graph) Rels(relType string) []Rel {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ret []Rel
	for _, r := range g.rels {
		if relType == "" || r.Type == relType {
			ret = append(ret, r)
		}
	}
	return ret
}
