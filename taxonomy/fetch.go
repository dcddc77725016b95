package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"

	"github.com/learningregistry/lrgraph/file"
	"github.com/pkg/errors"
)

// TreeFetcher retrieves the top-level nodes of the taxonomy at url.
type TreeFetcher interface {
	Fetch(ctx context.Context, url string) ([]Node, error)
}

// HTTPFetcher fetches taxonomy trees over HTTP. Local paths and s3:// URLs
// work as well.
type HTTPFetcher struct {
	MaxRetries int

	opts []file.Option
}

// NewHTTPFetcher gets an HTTPFetcher. The options control how locations are
// opened.
func NewHTTPFetcher(opts ...file.Option) *HTTPFetcher {
	return &HTTPFetcher{
		MaxRetries: 3,
		opts:       opts,
	}
}

// Fetch implements TreeFetcher. The document may be a JSON array of nodes or
// a single root node.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]Node, error) {
	o, err := file.NewOpener(url, f.opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving '%s'", url)
	}
	tries := f.MaxRetries
	if tries < 1 {
		tries = 1
	}
	var data []byte
	for try := 0; try < tries; try++ {
		data, err = f.read(ctx, o)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't fetch '%s' - tried %d times, latest", url, tries)
	}
	return DecodeTree(data)
}

func (f *HTTPFetcher) read(ctx context.Context, o file.Opener) ([]byte, error) {
	rc, err := o.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := ioutil.ReadAll(rc)
	return data, errors.Wrap(err, "reading")
}

// DecodeTree decodes a taxonomy document, which may be a JSON array of nodes
// or a single root node.
func DecodeTree(data []byte) ([]Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var root Node
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, errors.Wrap(err, "decoding taxonomy root")
		}
		return []Node{root}, nil
	}
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, errors.Wrap(err, "decoding taxonomy")
	}
	return nodes, nil
}
