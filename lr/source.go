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

// Package lr reads envelopes from a Learning Registry data service: the JSON
// pages served by its extract and slice APIs, or copies of them saved to
// disk or S3.
package lr

import (
	"context"
	"encoding/json"
	"io"
	"net/url"

	"github.com/learningregistry/lrgraph"
	"github.com/learningregistry/lrgraph/file"
	"github.com/pkg/errors"
)

// Source is an lrgraph.Source over data service pages of the form
//
//	{"documents": [{"doc_ID": "...", "resource_data": [envelope, ...]}, ...],
//	 "resumption_token": "..."}
//
// Each document becomes one Batch. Pages are decoded one document at a time
// as they are read. When following resumption tokens, a page served over
// HTTP which carries a token is followed by the page at the same URL with a
// resumption_token query parameter, until a page has none.
//
// Failed downloads are retried, skipping the documents already returned.
// Source is not safe for concurrent use.
type Source struct {
	ctx        context.Context
	inputs     []*input
	maxRetries int
	follow     bool
	fileOpts   []file.Option
	err        error

	log   lrgraph.Logger
	stats lrgraph.Statter

	next int
	cur  *input
	rc   io.ReadCloser
	dec  *json.Decoder
	page pageState
}

// pageState is where the decoder is within a page.
type pageState struct {
	started bool // read the opening brace
	inDocs  bool // inside the documents array
	token   string
}

// NewSource creates a Source reading the locations set by options.
func NewSource(options ...Option) *Source {
	src := &Source{
		ctx:        context.Background(),
		maxRetries: 3,
		log:        lrgraph.NopLogger{},
		stats:      lrgraph.NopStatter{},
	}
	for _, opt := range options {
		opt(src)
	}
	return src
}

var _ lrgraph.Source = &Source{}

// Option is a functional option to pass to NewSource.
type Option func(*Source)

// WithURLs returns an Option which adds locations to read. They may be HTTP
// URLs, s3:// URLs, local files or local directories, which are read file by
// file. WithURLs should come after any WithFileOptions.
func WithURLs(urls ...string) Option {
	return func(s *Source) {
		for _, loc := range urls {
			locs, err := file.Expand(loc)
			if err != nil {
				s.setErr(errors.Wrapf(err, "expanding '%s'", loc))
				continue
			}
			for _, l := range locs {
				o, err := file.NewOpener(l, s.fileOpts...)
				if err != nil {
					s.setErr(errors.Wrapf(err, "resolving '%s'", l))
					continue
				}
				s.inputs = append(s.inputs, &input{Opener: o, base: l})
			}
		}
	}
}

// WithOpeners returns an Option which adds pages to read.
func WithOpeners(os ...file.Opener) Option {
	return func(s *Source) {
		for _, o := range os {
			s.inputs = append(s.inputs, &input{Opener: o})
		}
	}
}

// WithFileOptions returns an Option which sets the options used to open
// locations, such as the HTTP client or S3 region.
func WithFileOptions(opts ...file.Option) Option {
	return func(s *Source) {
		s.fileOpts = append(s.fileOpts, opts...)
	}
}

// WithFollowResumption returns an Option which makes the Source follow
// resumption tokens.
func WithFollowResumption(follow bool) Option {
	return func(s *Source) {
		s.follow = follow
	}
}

// WithMaxRetries returns an Option which sets the max number of tries per
// page.
func WithMaxRetries(maxRetries int) Option {
	return func(s *Source) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
	}
}

// WithContext returns an Option which sets the context used when opening
// pages.
func WithContext(ctx context.Context) Option {
	return func(s *Source) {
		s.ctx = ctx
	}
}

// WithLogger returns an Option which sets the logger.
func WithLogger(l lrgraph.Logger) Option {
	return func(s *Source) {
		s.log = l
	}
}

// WithStatter returns an Option which sets the stats collector.
func WithStatter(st lrgraph.Statter) Option {
	return func(s *Source) {
		s.stats = st
	}
}

func (s *Source) setErr(err error) {
	if s.err == nil {
		s.err = err
	}
}

// input tracks the use of an Opener.
type input struct {
	file.Opener
	base  string // location without resumption token, empty if not followable
	docs  int    // documents returned, so a retry can skip them
	tries int
}

// permanentError marks failures which opening the page again won't fix.
type permanentError struct{ error }

// Record implements lrgraph.Source. It returns io.EOF after the last document
// of the last page.
func (s *Source) Record() (lrgraph.Batch, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		s.next = len(s.inputs)
		return lrgraph.Batch{}, err
	}
	for {
		if s.cur == nil {
			if s.next >= len(s.inputs) {
				return lrgraph.Batch{}, io.EOF
			}
			s.cur = s.inputs[s.next]
			if err := s.open(); err != nil {
				s.advance()
				return lrgraph.Batch{}, err
			}
			s.stats.Count("lr.page", 1, 1.0)
		}
		doc, ok, err := s.nextDocument()
		if perm, isPerm := err.(permanentError); isPerm {
			name := s.cur.String()
			s.advance()
			return lrgraph.Batch{}, errors.Wrapf(perm.error, "decoding %s", name)
		} else if err != nil {
			s.log.Printf("reading %s failed after %d documents, reopening: %v", s.cur, s.cur.docs, err)
			s.closeCur()
			if err := s.open(); err != nil {
				s.advance()
				return lrgraph.Batch{}, err
			}
			continue
		}
		if !ok {
			s.endPage()
			continue
		}
		s.cur.docs++
		s.stats.Count("lr.document", 1, 1.0)
		for i := range doc.Envelopes {
			if doc.Envelopes[i].DocID == "" {
				doc.Envelopes[i].DocID = doc.ID
			}
		}
		return doc, nil
	}
}

// Close closes the page currently being read, if any.
func (s *Source) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc, s.dec = nil, nil
	return err
}

// endPage finishes the current page, queueing the next page of the same
// feed if there is a resumption token to follow.
func (s *Source) endPage() {
	token, base := s.page.token, s.cur.base
	s.advance()
	if !s.follow || token == "" {
		return
	}
	if !file.IsHTTP(base) {
		s.log.Debugf("not following resumption token of %s", base)
		return
	}
	loc, err := resumeURL(base, token)
	if err != nil {
		s.setErr(err)
		return
	}
	o, err := file.NewOpener(loc, s.fileOpts...)
	if err != nil {
		s.setErr(errors.Wrapf(err, "resolving '%s'", loc))
		return
	}
	s.log.Debugf("following resumption token to %s", loc)
	// s.next already points past the finished page
	rest := append([]*input{{Opener: o, base: base}}, s.inputs[s.next:]...)
	s.inputs = append(s.inputs[:s.next], rest...)
}

func resumeURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parsing '%s'", base)
	}
	q := u.Query()
	q.Set("resumption_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) advance() {
	s.closeCur()
	s.cur = nil
	s.next++
}

func (s *Source) closeCur() {
	if err := s.Close(); err != nil {
		s.log.Printf("closing %s: %v", s.cur, err)
	}
}

// open (re)opens the current input, retrying up to maxRetries times in total
// for that input.
func (s *Source) open() error {
	var err error
	for s.cur.tries < s.maxRetries {
		s.cur.tries++
		err = s.openTry()
		if err == nil {
			return nil
		}
		s.closeCur()
		if perm, ok := err.(permanentError); ok {
			return perm.error
		}
	}
	if err == nil {
		err = errors.New("no tries left")
	}
	return errors.Wrapf(err, "couldn't fetch '%s' - tried %d times, latest", s.cur, s.maxRetries)
}

func (s *Source) openTry() error {
	rc, err := s.cur.Open(s.ctx)
	if err != nil {
		return errors.Wrap(err, "opening")
	}
	s.rc = rc
	s.dec = json.NewDecoder(rc)
	s.page = pageState{}

	// catch up to previous location
	for i := 0; i < s.cur.docs; i++ {
		_, ok, err := s.nextDocument()
		if err != nil {
			return err
		} else if !ok {
			return errors.Errorf("%s ended after %d documents, had read %d before", s.cur, i, s.cur.docs)
		}
	}
	return nil
}

// nextDocument walks the page's tokens up to the next document. It returns
// false at the end of the page. Malformed JSON is a permanentError.
func (s *Source) nextDocument() (lrgraph.Batch, bool, error) {
	for {
		if s.page.inDocs {
			if s.dec.More() {
				var doc lrgraph.Batch
				if err := s.dec.Decode(&doc); err != nil {
					return doc, false, classify(err)
				}
				return doc, true, nil
			}
			if _, err := s.dec.Token(); err != nil { // ]
				return lrgraph.Batch{}, false, classify(err)
			}
			s.page.inDocs = false
			continue
		}

		tok, err := s.dec.Token()
		if err == io.EOF && !s.page.started {
			return lrgraph.Batch{}, false, permanentError{errors.New("empty page")}
		} else if err == io.EOF {
			return lrgraph.Batch{}, false, io.ErrUnexpectedEOF
		} else if err != nil {
			return lrgraph.Batch{}, false, classify(err)
		}
		switch t := tok.(type) {
		case json.Delim:
			if t == '{' && !s.page.started {
				s.page.started = true
				continue
			}
			if t == '}' && s.page.started {
				return lrgraph.Batch{}, false, nil
			}
			return lrgraph.Batch{}, false, permanentError{errors.Errorf("unexpected '%s' in page", t)}
		case string:
			if !s.page.started {
				return lrgraph.Batch{}, false, permanentError{errors.New("page is not a JSON object")}
			}
			if err := s.readField(t); err != nil {
				return lrgraph.Batch{}, false, err
			}
		default:
			return lrgraph.Batch{}, false, permanentError{errors.Errorf("page is not a JSON object, found %v", t)}
		}
	}
}

// readField reads the value of a top level field.
func (s *Source) readField(name string) error {
	switch name {
	case "documents":
		tok, err := s.dec.Token()
		if err != nil {
			return classify(err)
		}
		switch tok {
		case nil:
		case json.Delim('['):
			s.page.inDocs = true
		default:
			return permanentError{errors.Errorf("documents is %v, not an array", tok)}
		}
	case "resumption_token":
		var token *string
		if err := s.dec.Decode(&token); err != nil {
			return classify(err)
		}
		if token != nil {
			s.page.token = *token
		}
	default:
		var skip json.RawMessage
		if err := s.dec.Decode(&skip); err != nil {
			return classify(err)
		}
	}
	return nil
}

// classify separates malformed JSON, which is permanent, from read failures,
// which are worth retrying.
func classify(err error) error {
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return permanentError{err}
	}
	return err
}
