package lrgraph

import (
	"strings"
)

// DefaultActions are the paradata actions which describe an alignment.
var DefaultActions = []string{"matched", "recommended", "aligned"}

// BatchFilter decides whether a batch is ingested at all.
type BatchFilter interface {
	Accept(b Batch) bool
}

// ActionFilter accepts a paradata batch only if every envelope in it carries
// one of the whitelisted actions. A single envelope with another action, or
// whose activity can't be read, rejects the whole batch.
type ActionFilter struct {
	actions map[string]struct{}
}

// NewActionFilter gets an ActionFilter for the given actions, compared case
// insensitively. With no actions, DefaultActions are used.
func NewActionFilter(actions ...string) *ActionFilter {
	if len(actions) == 0 {
		actions = DefaultActions
	}
	f := &ActionFilter{actions: make(map[string]struct{}, len(actions))}
	for _, a := range actions {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			f.actions[a] = struct{}{}
		}
	}
	return f
}

// Accept implements BatchFilter.
func (f *ActionFilter) Accept(b Batch) bool {
	for _, env := range b.Envelopes {
		if !f.acceptEnvelope(env) {
			return false
		}
	}
	return true
}

func (f *ActionFilter) acceptEnvelope(env Envelope) bool {
	act, err := decodeActivity(env.ResourceData)
	if err != nil {
		return false
	}
	_, ok := f.actions[strings.ToLower(strings.TrimSpace(act.Verb.Action))]
	return ok
}
