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

// Package s3 opens objects in S3 for the sources that read feeds and
// reference tables.
package s3

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// Scheme is the URL scheme handled by this package.
const Scheme = "s3"

// Option is a functional option type for Opener.
type Option func(o *Opener)

// OptRegion is an Option which sets the AWS region used when the Opener
// creates its own client.
func OptRegion(region string) Option {
	return func(o *Opener) {
		o.region = region
	}
}

// OptClient is an Option which sets the S3 client. Mostly for testing.
func OptClient(client s3iface.S3API) Option {
	return func(o *Opener) {
		o.client = client
	}
}

// Opener opens a single S3 object. Each call to Open reads the object from
// the beginning, so callers can retry a failed read by opening again.
type Opener struct {
	bucket string
	key    string
	region string

	client s3iface.S3API
}

// NewOpener gets an Opener for a URL of the form s3://bucket/key.
func NewOpener(rawurl string, opts ...Option) (*Opener, error) {
	bucket, key, err := ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	o := &Opener{
		bucket: bucket,
		key:    key,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ParseURL splits an s3://bucket/key URL into its bucket and key.
func ParseURL(rawurl string) (bucket, key string, err error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing '%s'", rawurl)
	}
	if u.Scheme != Scheme {
		return "", "", errors.Errorf("'%s' is not an s3:// URL", rawurl)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", errors.Errorf("'%s' needs both a bucket and a key", rawurl)
	}
	return bucket, key, nil
}

// IsURL reports whether loc names an S3 object.
func IsURL(loc string) bool {
	return strings.HasPrefix(loc, Scheme+"://")
}

// Open fetches the object.
func (o *Opener) Open(ctx context.Context) (io.ReadCloser, error) {
	if o.client == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(o.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		o.client = s3.New(sess)
	}
	result, err := o.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %v", o)
	}
	return result.Body, nil
}

func (o *Opener) String() string {
	return Scheme + "://" + o.bucket + "/" + o.key
}
