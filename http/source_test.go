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

package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/learningregistry/lrgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	envelope = `{"doc_ID": "e1", "resource_locator": "http://example.com/a", "resource_data": "<x/>"}`
	document = `{"doc_ID": "d1", "resource_data": [{"resource_locator": "http://example.com/b", "resource_data": {}}]}`
	page     = `{"documents": [` + document + `, {"doc_ID": "d2", "resource_data": [{"resource_locator": "http://example.com/c", "resource_data": "<y/>"}]}], "resumption_token": null}`
)

func TestSource(t *testing.T) {
	j, err := NewSource(WithAddr("127.0.0.1:0"), WithBuffer(10), WithIdleTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer j.Close()

	tests := []struct {
		method string
		data   string
		status int
		exp    []string
	}{
		{method: "POST", data: envelope, status: http.StatusAccepted, exp: []string{"e1"}},
		{method: "POST", data: document, status: http.StatusAccepted, exp: []string{"d1"}},
		{method: "POST", data: page, status: http.StatusAccepted, exp: []string{"d1", "d2"}},
		{method: "POST", data: envelope + "\n  " + document, status: http.StatusAccepted, exp: []string{"e1", "d1"}},
		{method: "POST", data: `{"hello": 2}`, status: http.StatusBadRequest},
		{method: "POST", data: `{"resource_locator: 2}`, status: http.StatusBadRequest},
		{method: "GET", status: http.StatusMethodNotAllowed},
	}

	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			rec := httptest.NewRecorder()
			j.ServeHTTP(rec, httptest.NewRequest(test.method, "/", strings.NewReader(test.data)))
			assert.Equal(t, test.status, rec.Code, rec.Body.String())
			for _, exp := range test.exp {
				b, err := j.Record()
				require.NoError(t, err)
				assert.Equal(t, exp, b.ID)
			}
			_, err := j.Record()
			assert.Equal(t, io.EOF, err, "idle timeout ends the feed")
		})
	}
}

func TestSourceOverNetwork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j, err := NewSource(WithAddr("127.0.0.1:0"), WithBuffer(0), WithContext(ctx))
	require.NoError(t, err)
	defer j.Close()

	posted := make(chan error, 1)
	go func() {
		resp, err := http.Post("http://"+j.Addr()+"/lr", "application/json", bytes.NewBufferString(page))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				err = fmt.Errorf("status %s", resp.Status)
			}
		}
		posted <- err
	}()

	var ids []string
	for i := 0; i < 2; i++ {
		b, err := j.Record()
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}
	require.NoError(t, <-posted)
	assert.Equal(t, []string{"d1", "d2"}, ids)

	cancel()
	b, err := j.Record()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, lrgraph.Batch{}, b)
}

func TestSourceClose(t *testing.T) {
	j, err := NewSource(WithAddr("127.0.0.1:0"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	_, err = j.Record()
	assert.Equal(t, io.EOF, err)
}
