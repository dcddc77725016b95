// Package file resolves the locations the sources read from (local paths,
// HTTP URLs and s3:// URLs) into Openers.
package file

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/learningregistry/lrgraph/aws/s3"
	"github.com/pkg/errors"
)

// Opener is an interface to a resource which can be repeatedly opened. Each
// call to Open returns a ReadCloser which reads from the beginning of the
// resource, so a failed read can be retried by opening again. String returns
// the location being opened.
type Opener interface {
	fmt.Stringer
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Option is a functional option for NewOpener.
type Option func(c *config)

type config struct {
	client   *http.Client
	s3Region string
}

// OptHTTPClient sets the client used for HTTP locations.
func OptHTTPClient(c *http.Client) Option {
	return func(conf *config) {
		conf.client = c
	}
}

// OptS3Region sets the AWS region used for s3:// locations.
func OptS3Region(region string) Option {
	return func(conf *config) {
		conf.s3Region = region
	}
}

// NewOpener gets an Opener for loc, which may be an http(s) URL, an
// s3://bucket/key URL, a file:// URL or a local path.
func NewOpener(loc string, opts ...Option) (Opener, error) {
	conf := &config{client: http.DefaultClient}
	for _, opt := range opts {
		opt(conf)
	}
	switch {
	case IsHTTP(loc):
		return &httpOpener{url: loc, client: conf.client}, nil
	case s3.IsURL(loc):
		o, err := s3.NewOpener(loc, s3.OptRegion(conf.s3Region))
		if err != nil {
			return nil, errors.Wrap(err, "getting s3 opener")
		}
		return o, nil
	default:
		return pathOpener(strings.TrimPrefix(loc, "file://")), nil
	}
}

// IsHTTP reports whether loc is an http or https URL.
func IsHTTP(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

// Expand turns loc into the list of locations to read. A local directory
// expands to the regular files in it, in name order. Anything else is
// returned as is.
func Expand(loc string) ([]string, error) {
	if IsHTTP(loc) || s3.IsURL(loc) {
		return []string{loc}, nil
	}
	pathname := strings.TrimPrefix(loc, "file://")
	info, err := os.Stat(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	if !info.IsDir() {
		return []string{loc}, nil
	}
	infos, err := ioutil.ReadDir(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "reading directory")
	}
	files := make([]string, 0, len(infos))
	for _, info = range infos {
		if info.Mode().IsRegular() {
			files = append(files, filepath.Join(pathname, info.Name()))
		}
	}
	return files, nil
}

type pathOpener string

func (p pathOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	return f, nil
}

func (p pathOpener) String() string { return string(p) }

type httpOpener struct {
	url    string
	client *http.Client
}

func (h *httpOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := h.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "getting via http")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.Errorf("getting %s: unexpected status %s", h.url, resp.Status)
	}
	return resp.Body, nil
}

func (h *httpOpener) String() string { return h.url }
