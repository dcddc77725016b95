package lrgraph

import (
	"context"
	"strings"
)

// Label tags a node with the kind of thing it identifies. The index is
// scoped by label, so the same key may exist once per label.
type Label string

const (
	LabelResource  Label = "resource"
	LabelStandard  Label = "standard"
	LabelSubmitter Label = "submitter"
)

// Labels lists every label the pipeline writes.
var Labels = []Label{LabelResource, LabelStandard, LabelSubmitter}

// Relationship types with a fixed meaning. Paradata relationships are typed
// by the activity's action and are not listed here.
const (
	RelConformsTo = "conformsTo"
	RelSubmitted  = "submitted"
	RelSameAs     = "sameAs"
)

// NodeHandle is an opaque reference to a node, only meaningful to the store
// which returned it.
type NodeHandle string

// Attrs are the properties a node is created with.
type Attrs map[string]string

// GraphStore is the minimal set of operations the pipeline needs from a graph
// database. QueryIndex is an exact match on the key passed to IndexNode.
// Nothing here guarantees uniqueness of a key - that is the Upserter's job.
type GraphStore interface {
	QueryIndex(ctx context.Context, label Label, key string) ([]NodeHandle, error)
	CreateNode(ctx context.Context, label Label, attrs Attrs) (NodeHandle, error)
	IndexNode(ctx context.Context, label Label, key string, node NodeHandle) error
	CreateRelationship(ctx context.Context, from NodeHandle, relType string, to NodeHandle) error
	SetAttribute(ctx context.Context, node NodeHandle, name, value string) error
}

// AtomicUpserter is implemented by stores which can do the
// query-then-create sequence in a single transaction. Upserter prefers it
// when present, which makes concurrent harvests against that store safe.
type AtomicUpserter interface {
	UpsertNode(ctx context.Context, label Label, key string, attrs Attrs) (node NodeHandle, created bool, err error)
}

// Direction selects which end of a relationship GraphReader.Neighbors
// follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "in"
	}
	return "out"
}

// GraphReader is the read side used by the Querier.
type GraphReader interface {
	// Neighbors returns the nodes at the other end of every relType
	// relationship starting (Outgoing) or ending (Incoming) at node. A node
	// connected twice is returned twice.
	Neighbors(ctx context.Context, node NodeHandle, relType string, dir Direction) ([]NodeHandle, error)
	// Attribute returns the value of a node property and whether it is set.
	Attribute(ctx context.Context, node NodeHandle, name string) (string, bool, error)
}

// ReadStore is a store which can be both written by the pipeline and read by
// the Querier.
type ReadStore interface {
	GraphStore
	GraphReader
}

// Errors collects several errors into one, e.g. while closing multiple
// resources.
type Errors []error

func (errs Errors) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}

// Err returns nil for an empty list.
func (errs Errors) Err() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}
