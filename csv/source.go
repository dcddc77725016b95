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

// Package csv reads header-named rows out of CSV files, such as the table of
// synonymous standard identifiers loaded by the taxonomy reconciler.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"log"
	"strings"

	"github.com/learningregistry/lrgraph/file"
	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"
)

// Source reads rows from a sequence of CSV files. Each call to Record returns
// one data row as a map keyed by the names in the file's header line. Fields
// may be quoted, and empty fields are left out of the map.
//
// The Source takes care of retrying failed reads/downloads and making sure
// not to return duplicate rows. Source is not safe for concurrent use.
type Source struct {
	ctx        context.Context
	inputs     []*input
	maxRetries int
	encoding   string
	err        error

	next   int
	cur    *input
	rc     io.ReadCloser
	reader *csv.Reader
	header []string
}

// NewSource creates a Source. The files it reads are set with Options defined
// in this package. e.g.
//
// src := NewSource(WithURLs([]string{"ids.csv", "s3://bucket/ids.csv", "http://example.com/ids.csv"}))
func NewSource(options ...Option) *Source {
	src := &Source{
		ctx:        context.Background(),
		maxRetries: 3,
	}
	for _, opt := range options {
		opt(src)
	}
	return src
}

// Option is a functional option to pass to NewSource.
type Option func(*Source)

// WithURLs returns an Option which adds the URLs to the set of files a Source
// will read from. The URLs may be local paths, HTTP URLs or s3:// URLs.
func WithURLs(urls []string, opts ...file.Option) Option {
	return func(s *Source) {
		for _, url := range urls {
			o, err := file.NewOpener(url, opts...)
			if err != nil {
				s.setErr(errors.Wrapf(err, "resolving '%s'", url))
				continue
			}
			s.inputs = append(s.inputs, &input{Opener: o})
		}
	}
}

// WithOpeners returns an Option which adds the Openers to the set of files a
// Source will read from.
func WithOpeners(os []file.Opener) Option {
	return func(s *Source) {
		for _, o := range os {
			s.inputs = append(s.inputs, &input{Opener: o})
		}
	}
}

// WithMaxRetries returns an Option which sets the max number of tries per
// file.
func WithMaxRetries(maxRetries int) Option {
	return func(s *Source) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
	}
}

// WithEncoding returns an Option which decodes the files from the named
// character encoding (e.g. "windows-1252") instead of reading them as UTF-8.
func WithEncoding(label string) Option {
	return func(s *Source) {
		if label == "" {
			return
		}
		if enc, _ := charset.Lookup(label); enc == nil {
			s.setErr(errors.Errorf("unknown encoding '%s'", label))
			return
		}
		s.encoding = label
	}
}

// WithContext returns an Option which sets the context used when opening
// files.
func WithContext(ctx context.Context) Option {
	return func(s *Source) {
		s.ctx = ctx
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
	rows  int // data rows consumed, so a retry can skip them
	tries int
}

// permanentError marks failures which opening the file again won't fix.
type permanentError struct{ error }

// Record returns the next data row. It returns io.EOF after the last row of
// the last file. A row which can't be parsed is reported as an error and
// reading carries on with the next row on the following call.
func (s *Source) Record() (map[string]string, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		s.next = len(s.inputs)
		return nil, err
	}
	for {
		if s.cur == nil {
			if s.next >= len(s.inputs) {
				return nil, io.EOF
			}
			s.cur = s.inputs[s.next]
			if err := s.open(); err != nil {
				s.advance()
				return nil, err
			}
		}
		row, err := s.reader.Read()
		if err == io.EOF {
			s.advance()
			continue
		}
		if perr, ok := err.(*csv.ParseError); ok {
			s.cur.rows++
			return nil, errors.Wrapf(perr, "parsing %s", s.cur)
		} else if err != nil {
			s.closeCur()
			if err := s.open(); err != nil {
				s.advance()
				return nil, err
			}
			continue
		}
		s.cur.rows++
		rec, err := parseRecord(s.header, row)
		if err != nil {
			return nil, errors.Wrapf(err, "file %s: parsing row %d", s.cur, s.cur.rows)
		}
		if len(rec) == 0 {
			continue
		}
		return rec, nil
	}
}

// Close closes the file currently being read, if any.
func (s *Source) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc, s.reader = nil, nil
	return err
}

func (s *Source) advance() {
	s.closeCur()
	s.cur = nil
	s.next++
}

func (s *Source) closeCur() {
	if err := s.Close(); err != nil {
		log.Printf("closing %s: %v", s.cur, err)
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
	var r io.Reader = rc
	if s.encoding != "" {
		r, err = charset.NewReaderLabel(s.encoding, rc)
		if err != nil {
			return permanentError{errors.Wrapf(err, "decoding %s", s.cur)}
		}
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return permanentError{errors.Errorf("%s has no header", s.cur)}
	} else if perr, ok := err.(*csv.ParseError); ok {
		return permanentError{errors.Wrapf(perr, "parsing header of %s", s.cur)}
	} else if err != nil {
		return errors.Wrap(err, "reading CSV header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if err := validateHeader(header); err != nil {
		return permanentError{errors.Wrapf(err, "validating header of %s", s.cur)}
	}

	// catch up to previous location
	for i := 0; i < s.cur.rows; i++ {
		if _, err := reader.Read(); err == io.EOF {
			return errors.Errorf("%s ended after %d rows, had read %d before", s.cur, i, s.cur.rows)
		} else if _, ok := err.(*csv.ParseError); err != nil && !ok {
			return errors.Wrapf(err, "skipping to row %d", s.cur.rows)
		}
	}
	s.reader = reader
	s.header = header
	return nil
}

func parseRecord(header []string, row []string) (map[string]string, error) {
	if len(header) > len(row) {
		return nil, errors.Errorf("header/row len mismatch: %dvs%d, %v and %v", len(header), len(row), header, row)
	} else if len(row) > len(header) {
		for i := len(header); i < len(row); i++ {
			if strings.TrimSpace(row[i]) != "" {
				log.Printf("data in non headered field: %v, %d", row, i)
			}
		}
	}
	ret := make(map[string]string, len(header))
	for i := 0; i < len(header); i++ {
		if row[i] == "" {
			continue
		}
		ret[header[i]] = row[i]
	}
	return ret, nil
}

func validateHeader(header []string) error {
	fields := make(map[string]int)
	for i, h := range header {
		if h == "" {
			return errors.Errorf("header contains empty string at %d: %v", i, header)
		}
		if pos, exists := fields[h]; exists {
			return errors.Errorf("%s appeared at both %d and %d in header", h, pos, i)
		}
		fields[h] = i
	}
	return nil
}
