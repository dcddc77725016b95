package lrgraph

import (
	"context"

	"github.com/pkg/errors"
)

// Querier answers submitter/resource questions over a finished graph.
type Querier struct {
	store ReadStore
}

// NewQuerier gets a Querier reading from store.
func NewQuerier(store ReadStore) *Querier {
	return &Querier{store: store}
}

// ResourceSubmitters returns the names of everyone who submitted the resource
// at locator. An unknown locator yields no names.
func (q *Querier) ResourceSubmitters(ctx context.Context, locator string) ([]string, error) {
	names, err := q.traverse(ctx, LabelResource, locator, Incoming, LabelSubmitter)
	return names, errors.Wrapf(err, "finding submitters of '%s'", locator)
}

// SubmitterResources returns the locators of every resource submitted by
// name. An unknown submitter yields no locators.
func (q *Querier) SubmitterResources(ctx context.Context, name string) ([]string, error) {
	locators, err := q.traverse(ctx, LabelSubmitter, name, Outgoing, LabelResource)
	return locators, errors.Wrapf(err, "finding resources of '%s'", name)
}

// traverse follows submitted edges from the node indexed under raw and
// returns the identifying attribute of each node reached, without
// duplicates, in the order the store returned them.
func (q *Querier) traverse(ctx context.Context, from Label, raw string, dir Direction, to Label) ([]string, error) {
	key := Normalize(raw)
	if key == "" {
		return nil, nil
	}
	starts, err := q.store.QueryIndex(ctx, from, key)
	if err != nil {
		return nil, errors.Wrap(err, "querying index")
	}
	var (
		ret  []string
		seen = make(map[string]struct{})
	)
	for _, start := range starts {
		nodes, err := q.store.Neighbors(ctx, start, RelSubmitted, dir)
		if err != nil {
			return nil, errors.Wrap(err, "following submitted edges")
		}
		for _, node := range nodes {
			val, ok, err := q.store.Attribute(ctx, node, string(to))
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s of node %s", to, node)
			}
			if !ok {
				continue
			}
			if _, dup := seen[val]; dup {
				continue
			}
			seen[val] = struct{}{}
			ret = append(ret, val)
		}
	}
	return ret, nil
}

// Comparison is the result of comparing what two submitters contributed.
type Comparison struct {
	First, Second string

	Shared     []string
	FirstOnly  []string
	SecondOnly []string
}

// NoShared reports whether the two submitters have no resource in common, in
// which case FirstOnly and SecondOnly hold their full sets.
func (c Comparison) NoShared() bool { return len(c.Shared) == 0 }

// Compare intersects the resources of two submitters and reports each one's
// resources that the other did not submit.
func (q *Querier) Compare(ctx context.Context, first, second string) (Comparison, error) {
	cmp := Comparison{First: first, Second: second}
	a, err := q.SubmitterResources(ctx, first)
	if err != nil {
		return cmp, err
	}
	b, err := q.SubmitterResources(ctx, second)
	if err != nil {
		return cmp, err
	}
	inA, inB := toSet(a), toSet(b)
	for _, r := range a {
		if _, ok := inB[r]; ok {
			cmp.Shared = append(cmp.Shared, r)
		}
	}
	cmp.FirstOnly = difference(a, inB)
	cmp.SecondOnly = difference(b, inA)
	return cmp, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func difference(items []string, exclude map[string]struct{}) []string {
	ret := make([]string, 0)
	for _, it := range items {
		if _, ok := exclude[it]; !ok {
			ret = append(ret, it)
		}
	}
	return ret
}
