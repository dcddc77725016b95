package lrgraph

import (
	"context"

	"github.com/pkg/errors"
)

// ErrEmptyKey is returned when asked to upsert or look up an empty key.
var ErrEmptyKey = errors.New("empty key")

// LookupErrorPolicy decides what the Upserter does when the index can't be
// queried.
type LookupErrorPolicy int

const (
	// TreatLookupErrorAsMiss logs the failure and carries on as if the key
	// were not indexed. The harvest keeps going through transient store
	// problems at the price of possibly creating a duplicate node.
	TreatLookupErrorAsMiss LookupErrorPolicy = iota
	// FailOnLookupError returns the lookup error to the caller.
	FailOnLookupError
)

func (p LookupErrorPolicy) String() string {
	switch p {
	case TreatLookupErrorAsMiss:
		return "miss"
	case FailOnLookupError:
		return "fail"
	default:
		return "unknown"
	}
}

// ParseLookupErrorPolicy parses the names returned by LookupErrorPolicy.String.
func ParseLookupErrorPolicy(s string) (LookupErrorPolicy, error) {
	switch s {
	case "", "miss":
		return TreatLookupErrorAsMiss, nil
	case "fail":
		return FailOnLookupError, nil
	default:
		return 0, errors.Errorf("unknown lookup error policy '%s', want miss or fail", s)
	}
}

// Upserter is the single place nodes get created. It finds the node indexed
// under (label, key) or creates and indexes a new one. The lookup and the
// create are separate store calls unless the store implements
// AtomicUpserter, so only one Upserter may write to a given store at a time
// otherwise.
type Upserter struct {
	store   GraphStore
	atomic  AtomicUpserter
	policy  LookupErrorPolicy
	refresh bool

	log   Logger
	stats Statter
}

// UpserterOption is a functional option for the Upserter.
type UpserterOption func(u *Upserter)

// OptUpserterLookupErrorPolicy sets what happens when the index lookup fails.
func OptUpserterLookupErrorPolicy(p LookupErrorPolicy) UpserterOption {
	return func(u *Upserter) {
		u.policy = p
	}
}

// OptUpserterRefreshAttributes makes the Upserter write the non-key attributes
// passed to Upsert onto nodes which already exist.
func OptUpserterRefreshAttributes(refresh bool) UpserterOption {
	return func(u *Upserter) {
		u.refresh = refresh
	}
}

// OptUpserterLogger sets the logger.
func OptUpserterLogger(l Logger) UpserterOption {
	return func(u *Upserter) {
		u.log = l
	}
}

// OptUpserterStatter sets the stats collector.
func OptUpserterStatter(s Statter) UpserterOption {
	return func(u *Upserter) {
		u.stats = s
	}
}

// NewUpserter gets an Upserter writing to store.
func NewUpserter(store GraphStore, opts ...UpserterOption) *Upserter {
	u := &Upserter{
		store: store,
		log:   NopLogger{},
		stats: NopStatter{},
	}
	if au, ok := store.(AtomicUpserter); ok {
		u.atomic = au
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Store returns the store the Upserter writes to.
func (u *Upserter) Store() GraphStore { return u.store }

// Upsert returns the node indexed under key for label, creating it with attrs
// if there is none. When several nodes share the key the first one the store
// returns is used.
func (u *Upserter) Upsert(ctx context.Context, label Label, key string, attrs Attrs) (NodeHandle, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if u.atomic != nil {
		node, created, err := u.atomic.UpsertNode(ctx, label, key, attrs)
		if err != nil {
			return "", errors.Wrapf(err, "upserting %s '%s'", label, key)
		}
		if created {
			u.stats.Count("upsert.create", 1, 1.0, "label:"+string(label))
		} else {
			u.stats.Count("upsert.hit", 1, 1.0, "label:"+string(label))
			if err := u.refreshAttrs(ctx, label, node, attrs); err != nil {
				return node, err
			}
		}
		return node, nil
	}

	node, found, err := u.Lookup(ctx, label, key)
	if err != nil {
		return "", err
	}
	if found {
		u.stats.Count("upsert.hit", 1, 1.0, "label:"+string(label))
		return node, u.refreshAttrs(ctx, label, node, attrs)
	}

	node, err = u.store.CreateNode(ctx, label, attrs)
	if err != nil {
		return "", errors.Wrapf(err, "creating %s node '%s'", label, key)
	}
	err = u.store.IndexNode(ctx, label, key, node)
	if err != nil {
		return node, errors.Wrapf(err, "indexing %s node '%s'", label, key)
	}
	u.stats.Count("upsert.create", 1, 1.0, "label:"+string(label))
	u.log.Debugf("created %s node %s for '%s'", label, node, key)
	return node, nil
}

// Lookup returns the first node indexed under key for label without creating
// anything. A failed lookup is reported as not found unless the policy is
// FailOnLookupError.
func (u *Upserter) Lookup(ctx context.Context, label Label, key string) (node NodeHandle, found bool, err error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	nodes, err := u.store.QueryIndex(ctx, label, key)
	if err != nil {
		u.stats.Count("upsert.lookup_error", 1, 1.0, "label:"+string(label))
		if u.policy == FailOnLookupError {
			return "", false, errors.Wrapf(err, "querying %s index for '%s'", label, key)
		}
		u.log.Printf("querying %s index for '%s' failed, treating as not found: %v", label, key, err)
		return "", false, nil
	}
	if len(nodes) == 0 {
		return "", false, nil
	}
	if len(nodes) > 1 {
		u.log.Debugf("%d %s nodes indexed under '%s', using %s", len(nodes), label, key, nodes[0])
	}
	return nodes[0], true, nil
}

func (u *Upserter) refreshAttrs(ctx context.Context, label Label, node NodeHandle, attrs Attrs) error {
	if !u.refresh {
		return nil
	}
	for name, value := range attrs {
		if name == string(label) {
			continue // identifying attribute never changes
		}
		err := u.store.SetAttribute(ctx, node, name, value)
		if err != nil {
			return errors.Wrapf(err, "refreshing '%s' on %s node %s", name, label, node)
		}
	}
	return nil
}
