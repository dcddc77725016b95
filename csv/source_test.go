package csv_test

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/learningregistry/lrgraph/csv"
	"github.com/learningregistry/lrgraph/file"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func MustGetTempFile(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := ioutil.TempFile("", "")
	require.NoError(t, err, "getting temp file")
	_, err = f.WriteString(content)
	require.NoError(t, err, "writing temp file")
	require.NoError(t, f.Close())
	return f
}

func readAll(t *testing.T, src *csv.Source) ([]map[string]string, []error) {
	t.Helper()
	var (
		recs []map[string]string
		errs []error
	)
	for i := 0; i < 100; i++ {
		rec, err := src.Record()
		if err == io.EOF {
			return recs, errs
		} else if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	t.Fatal("source never reached EOF")
	return nil, nil
}

func TestCSVSource(t *testing.T) {
	f := MustGetTempFile(t, `Dot notation,URI,GUID
CCSS.Math.Content.1.OA.A.1,"http://corestandards.org/Math/Content/1/OA/A/1","DB7A9F0E, a"

RL.1.1,,GUID-2
`)
	defer os.Remove(f.Name())

	recs, errs := readAll(t, csv.NewSource(csv.WithURLs([]string{f.Name()})))
	require.Empty(t, errs)
	require.Len(t, recs, 2)
	assert.Equal(t, map[string]string{
		"Dot notation": "CCSS.Math.Content.1.OA.A.1",
		"URI":          "http://corestandards.org/Math/Content/1/OA/A/1",
		"GUID":         "DB7A9F0E, a",
	}, recs[0])
	assert.Equal(t, map[string]string{"Dot notation": "RL.1.1", "GUID": "GUID-2"}, recs[1])
}

func TestCSVSourceMultipleFiles(t *testing.T) {
	f1 := MustGetTempFile(t, "\ufeffa,b\n1,2\n")
	f2 := MustGetTempFile(t, "a,b\n3,4\n")
	defer os.Remove(f1.Name())
	defer os.Remove(f2.Name())

	recs, errs := readAll(t, csv.NewSource(csv.WithURLs([]string{f1.Name(), f2.Name()})))
	require.Empty(t, errs)
	assert.Equal(t, []map[string]string{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}}, recs)
}

func TestCSVSourceBadRows(t *testing.T) {
	f := MustGetTempFile(t, "a,b,c\n1,2,3\n4,x\"y,6\n7,8\n9,10,11\n")
	defer os.Remove(f.Name())

	recs, errs := readAll(t, csv.NewSource(csv.WithURLs([]string{f.Name()})))
	assert.Len(t, errs, 2, "bare quote and short row")
	assert.Equal(t, []map[string]string{
		{"a": "1", "b": "2", "c": "3"},
		{"a": "9", "b": "10", "c": "11"},
	}, recs)
}

func TestCSVSourceBadHeader(t *testing.T) {
	f := MustGetTempFile(t, "a,a\n1,2\n")
	defer os.Remove(f.Name())

	src := csv.NewSource(csv.WithURLs([]string{f.Name()}))
	_, err := src.Record()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating header")
	_, err = src.Record()
	assert.Equal(t, io.EOF, err)
}

func TestCSVSourceEncoding(t *testing.T) {
	f := MustGetTempFile(t, "name\ncaf\xe9\n")
	defer os.Remove(f.Name())

	recs, errs := readAll(t, csv.NewSource(csv.WithURLs([]string{f.Name()}), csv.WithEncoding("windows-1252")))
	require.Empty(t, errs)
	assert.Equal(t, []map[string]string{{"name": "café"}}, recs)

	src := csv.NewSource(csv.WithURLs([]string{f.Name()}), csv.WithEncoding("klingon"))
	_, err := src.Record()
	require.Error(t, err)
	_, err = src.Record()
	assert.Equal(t, io.EOF, err)
}

// flakyOpener cuts the connection after cut bytes on the first open.
type flakyOpener struct {
	content string
	cut     int
	opens   int
}

func (f *flakyOpener) String() string { return "flaky" }

func (f *flakyOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	f.opens++
	if f.opens == 1 {
		return ioutil.NopCloser(&cutReader{data: []byte(f.content[:f.cut])}), nil
	}
	return ioutil.NopCloser(strings.NewReader(f.content)), nil
}

type cutReader struct {
	data []byte
}

func (c *cutReader) Read(p []byte) (int, error) {
	if len(c.data) > 0 {
		n := copy(p, c.data)
		c.data = c.data[n:]
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestCSVSourceRetry(t *testing.T) {
	content := "a\n1\n2\n3\n"
	fo := &flakyOpener{content: content, cut: strings.Index(content, "2")}
	recs, errs := readAll(t, csv.NewSource(csv.WithOpeners([]file.Opener{fo})))
	require.Empty(t, errs)
	assert.Equal(t, []map[string]string{{"a": "1"}, {"a": "2"}, {"a": "3"}}, recs)
	assert.Equal(t, 2, fo.opens)
}

type deadOpener struct{ opens int }

func (d *deadOpener) String() string { return "dead" }

func (d *deadOpener) Open(ctx context.Context) (io.ReadCloser, error) {
	d.opens++
	return nil, errors.New("unreachable")
}

func TestCSVSourceGivesUp(t *testing.T) {
	d := &deadOpener{}
	src := csv.NewSource(csv.WithOpeners([]file.Opener{d}), csv.WithMaxRetries(2))
	_, err := src.Record()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tried 2 times")
	assert.Equal(t, 2, d.opens)
	_, err = src.Record()
	assert.Equal(t, io.EOF, err)
}
