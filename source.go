package lrgraph

import (
	"io"
)

// Source is the interface for getting envelopes one Batch at a time. Record
// returns io.EOF once the feed is exhausted. Sources need not be thread safe.
type Source interface {
	Record() (Batch, error)
}

// SliceSource is a Source over batches already in memory.
type SliceSource struct {
	batches []Batch
}

// NewSliceSource gets a SliceSource which returns batches in order.
func NewSliceSource(batches ...Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

// Record implements Source.
func (s *SliceSource) Record() (Batch, error) {
	if len(s.batches) == 0 {
		return Batch{}, io.EOF
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}
