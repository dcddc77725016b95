package s3_test

import (
	"context"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/learningregistry/lrgraph/aws/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	objects map[string]string
	gets    int
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *awss3.GetObjectInput, opts ...request.Option) (*awss3.GetObjectOutput, error) {
	f.gets++
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &awss3.GetObjectOutput{Body: ioutil.NopCloser(strings.NewReader(body))}, nil
}

func TestParseURL(t *testing.T) {
	bucket, key, err := s3.ParseURL("s3://lr-dumps/2013/standards.json")
	require.NoError(t, err)
	assert.Equal(t, "lr-dumps", bucket)
	assert.Equal(t, "2013/standards.json", key)

	for _, bad := range []string{"http://example.com/x", "s3://bucket-only", "s3:///key-only"} {
		_, _, err := s3.ParseURL(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, s3.IsURL("s3://a/b"))
	assert.False(t, s3.IsURL("/tmp/a"))
}

func TestOpenerRereads(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{"b/k.csv": "a,b\n1,2\n"}}
	o, err := s3.NewOpener("s3://b/k.csv", s3.OptClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "s3://b/k.csv", o.String())

	for i := 0; i < 2; i++ {
		rc, err := o.Open(context.Background())
		require.NoError(t, err)
		data, err := ioutil.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "a,b\n1,2\n", string(data))
	}
	assert.Equal(t, 2, fake.gets)
}

func TestOpenerMissing(t *testing.T) {
	o, err := s3.NewOpener("s3://b/missing", s3.OptClient(&fakeS3{}))
	require.NoError(t, err)
	_, err = o.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/missing")
}
