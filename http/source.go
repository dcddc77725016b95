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

// Package http accepts Learning Registry documents pushed over HTTP.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/pkg/errors"
)

// Source implements the lrgraph.Source interface by listening for HTTP post
// requests. A request body is a sequence of JSON values, each of which is a
// data service page (an object with "documents"), a single document, or a
// single envelope. Every document becomes one Batch. A request is answered
// once all of its batches are queued for Record.
type Source struct {
	addr     string
	listener net.Listener
	server   *http.Server
	records  chan lrgraph.Batch
	idle     time.Duration
	ctx      context.Context

	log   lrgraph.Logger
	stats lrgraph.Statter

	done      chan struct{}
	closeOnce sync.Once
}

var _ lrgraph.Source = &Source{}

// WithAddr is an option for the Source which causes it to bind to the given
// address.
func WithAddr(addr string) SourceOption {
	return func(j *Source) {
		j.addr = addr
	}
}

// WithListener is an option for Source which causes it to use the given
// listener. It will infer the address from the listener.
func WithListener(l net.Listener) SourceOption {
	return func(j *Source) {
		j.listener = l
		j.addr = l.Addr().String()
	}
}

// WithBuffer is an option for Source which modifies the length of the
// channel used to buffer received batches (while they are waiting to be
// retrieved by a call to Record).
func WithBuffer(n int) SourceOption {
	return func(j *Source) {
		if n > -1 {
			j.records = make(chan lrgraph.Batch, n)
		}
	}
}

// WithIdleTimeout is an option for Source which ends the feed when nothing
// has been received for d.
func WithIdleTimeout(d time.Duration) SourceOption {
	return func(j *Source) {
		j.idle = d
	}
}

// WithContext is an option for Source which ends the feed when ctx is done.
func WithContext(ctx context.Context) SourceOption {
	return func(j *Source) {
		j.ctx = ctx
	}
}

// WithLogger is an option for Source which sets the logger.
func WithLogger(l lrgraph.Logger) SourceOption {
	return func(j *Source) {
		j.log = l
	}
}

// WithStatter is an option for Source which sets the stats collector.
func WithStatter(s lrgraph.Statter) SourceOption {
	return func(j *Source) {
		j.stats = s
	}
}

// SourceOption is a functional option type for Source.
type SourceOption func(j *Source)

// NewSource creates a Source and starts listening - it takes SourceOptions
// which modify its behavior.
func NewSource(opts ...SourceOption) (*Source, error) {
	j := &Source{
		records: make(chan lrgraph.Batch, 3),
		ctx:     context.Background(),
		log:     lrgraph.NopLogger{},
		stats:   lrgraph.NopStatter{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	if j.listener == nil {
		var err error
		j.listener, err = net.Listen("tcp", j.addr)
		if err != nil {
			return nil, errors.Wrap(err, "listening")
		}
	}
	if tl, ok := j.listener.(*net.TCPListener); ok {
		j.listener = tcpKeepAliveListener{tl}
	}

	j.server = &http.Server{
		Addr:    j.addr,
		Handler: j,
	}
	go func() {
		err := j.server.Serve(j.listener)
		if err != nil && err != http.ErrServerClosed {
			j.log.Printf("serving %s: %v", j.Addr(), err)
			j.Close()
		}
	}()
	return j, nil
}

// Addr gets the address that the Source is listening on.
func (j *Source) Addr() string {
	if j.listener != nil {
		return j.listener.Addr().String()
	}
	return j.addr
}

// Record returns the next batch received. It returns io.EOF once the Source
// has been closed, its context is done, or the idle timeout passes.
func (j *Source) Record() (lrgraph.Batch, error) {
	var idle <-chan time.Time
	if j.idle > 0 {
		t := time.NewTimer(j.idle)
		defer t.Stop()
		idle = t.C
	}
	select {
	case b := <-j.records:
		return b, nil
	case <-idle:
		j.log.Printf("nothing received on %s for %v, ending feed", j.Addr(), j.idle)
		return lrgraph.Batch{}, io.EOF
	case <-j.ctx.Done():
		return lrgraph.Batch{}, io.EOF
	case <-j.done:
		return lrgraph.Batch{}, io.EOF
	}
}

// Close stops the server. Requests still waiting for their batches to be
// taken are answered with an error.
func (j *Source) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.done)
		err = j.server.Close()
	})
	return errors.Wrap(err, "closing server")
}

// ServeHTTP implements http.Handler for Source
func (j *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		err := errors.Errorf("unsupported method: %v", r.Method)
		j.stats.Count("http.bad_request", 1, 1.0)
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
		return
	}
	n := 0
	dec := json.NewDecoder(r.Body)
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == io.EOF {
			break
		}
		var batches []lrgraph.Batch
		if err == nil {
			batches, err = decodeValue(raw)
		}
		if err != nil {
			err := errors.Wrapf(err, "decoding value %d", n+1)
			j.log.Printf("bad request from %s: %v", r.RemoteAddr, err)
			j.stats.Count("http.bad_request", 1, 1.0)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, b := range batches {
			select {
			case j.records <- b:
				j.stats.Count("http.batch", 1, 1.0)
			case <-j.done:
				http.Error(w, "source closed", http.StatusServiceUnavailable)
				return
			case <-r.Context().Done():
				return
			}
		}
		n++
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "accepted %d values\n", n)
}

// decodeValue turns a page into its documents' batches, or a document or
// envelope into one batch.
func decodeValue(raw json.RawMessage) ([]lrgraph.Batch, error) {
	var page struct {
		Documents *[]json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, errors.Wrap(err, "unmarshaling json")
	}
	if page.Documents == nil {
		b, err := lrgraph.DecodeBatch(raw)
		if err != nil {
			return nil, err
		}
		return []lrgraph.Batch{b}, nil
	}
	batches := make([]lrgraph.Batch, 0, len(*page.Documents))
	for i, doc := range *page.Documents {
		b, err := lrgraph.DecodeBatch(doc)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// tcpKeepAliveListener is copied from net/http

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}
