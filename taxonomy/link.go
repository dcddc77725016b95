package taxonomy

import (
	"context"
	"strings"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Subject is a named taxonomy. Its name is the prefix its statement
// notations are given to form dot-notation codes.
type Subject struct {
	Name string
	URL  string
}

// DefaultSubjects are the Common Core manifests published by ASN.
var DefaultSubjects = []Subject{
	{Name: "Literacy", URL: "http://asn.jesandco.org/resources/D10003FC_manifest.json"},
	{Name: "Math", URL: "http://asn.jesandco.org/resources/D10003FB_manifest.json"},
}

// ParseSubjects parses name=url pairs.
func ParseSubjects(specs []string) ([]Subject, error) {
	subjects := make([]Subject, 0, len(specs))
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		i := strings.Index(s, "=")
		if i <= 0 || i == len(s)-1 {
			return nil, errors.Errorf("subject '%s' is not of the form name=url", s)
		}
		subjects = append(subjects, Subject{Name: strings.TrimSpace(s[:i]), URL: strings.TrimSpace(s[i+1:])})
	}
	return subjects, nil
}

// LinkStats summarizes a call to Link.
type LinkStats struct {
	Subjects int
	Pairs    int
	Linked   int
	Skipped  int
}

// Link fetches each subject's taxonomy, finds the nodes matching valid codes
// and adds a sameAs edge from the Standard node of each matched identifier
// to the Standard node of its dot-notation code. Pairs where either node is
// missing are skipped. Trees are fetched concurrently, but the graph is
// written from the calling goroutine only.
func (r *Reconciler) Link(ctx context.Context, subjects []Subject, valid ValidIDs) (LinkStats, error) {
	start := time.Now()
	var stats LinkStats
	trees := make([][]Node, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, subj := range subjects {
		i, subj := i, subj
		g.Go(func() error {
			nodes, err := r.fetcher.Fetch(gctx, subj.URL)
			if err != nil {
				return errors.Wrapf(err, "fetching %s taxonomy", subj.Name)
			}
			trees[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for i, subj := range subjects {
		stats.Subjects++
		pairs := Search(trees[i], subj.Name, valid, r.searchAll)
		r.log.Printf("%s: %d matching taxonomy nodes", subj.Name, len(pairs))
		for _, p := range pairs {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Pairs++
			linked, err := r.linkPair(ctx, p)
			if err != nil {
				return stats, errors.Wrapf(err, "linking %s", subj.Name)
			}
			if linked {
				stats.Linked++
				r.stats.Count("reconcile.same_as", 1, 1.0, "phase:taxonomy")
			} else {
				stats.Skipped++
				r.stats.Count("reconcile.pair_skipped", 1, 1.0)
			}
		}
	}
	r.stats.Timing("reconcile.link", time.Since(start), 1.0)
	return stats, nil
}

func (r *Reconciler) linkPair(ctx context.Context, p Pair) (bool, error) {
	var nodes [2]lrgraph.NodeHandle
	for i, raw := range []string{p.Identifier, p.DotNotation} {
		node, found, err := r.upserter.Lookup(ctx, lrgraph.LabelStandard, lrgraph.Normalize(raw))
		if err != nil {
			return false, err
		}
		if !found {
			r.log.Debugf("no standard node for '%s', skipping", raw)
			return false, nil
		}
		nodes[i] = node
	}
	idNode, dotNode := nodes[0], nodes[1]
	err := r.upserter.Store().CreateRelationship(ctx, idNode, lrgraph.RelSameAs, dotNode)
	return err == nil, errors.Wrapf(err, "relating '%s' to '%s'", p.Identifier, p.DotNotation)
}
