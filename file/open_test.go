package file

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func mustTempDir(t *testing.T, prefix string) string {
	t.Helper()
	d, err := ioutil.TempDir("", prefix)
	if err != nil {
		t.Fatal("getting temp dir")
	}
	return d
}

func mustFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := ioutil.WriteFile(p, []byte(contents), 0600); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

func mustRead(t *testing.T, o Opener) string {
	t.Helper()
	rc, err := o.Open(context.Background())
	if err != nil {
		t.Fatalf("opening %s: %v", o, err)
	}
	defer rc.Close()
	buf, err := ioutil.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading %s: %v", o, err)
	}
	return string(buf)
}

func TestExpand(t *testing.T) {
	d := mustTempDir(t, "testexpand")
	defer os.RemoveAll(d)

	b := mustFile(t, d, "b.json", `{}`)
	a := mustFile(t, d, "a.json", `{}`)
	if err := os.Mkdir(filepath.Join(d, "sub"), 0700); err != nil {
		t.Fatalf("making subdir: %v", err)
	}

	got, err := Expand(d)
	if err != nil {
		t.Fatalf("expanding dir: %v", err)
	}
	if !reflect.DeepEqual(got, []string{a, b}) {
		t.Fatalf("unexpected expansion: %v", got)
	}

	got, err = Expand(a)
	if err != nil || !reflect.DeepEqual(got, []string{a}) {
		t.Fatalf("expanding file: %v, %v", got, err)
	}

	got, err = Expand("https://example.com/feed")
	if err != nil || !reflect.DeepEqual(got, []string{"https://example.com/feed"}) {
		t.Fatalf("expanding URL: %v, %v", got, err)
	}

	if _, err := Expand(filepath.Join(d, "nope")); err == nil {
		t.Fatal("expected error expanding missing path")
	}
}

func TestOpenerPath(t *testing.T) {
	d := mustTempDir(t, "testopener")
	defer os.RemoveAll(d)
	p := mustFile(t, d, "ref.csv", "hello")

	for _, loc := range []string{p, "file://" + p} {
		o, err := NewOpener(loc)
		if err != nil {
			t.Fatalf("getting opener for %s: %v", loc, err)
		}
		// twice, to check every Open starts over
		for i := 0; i < 2; i++ {
			if got := mustRead(t, o); got != "hello" {
				t.Fatalf("read %q from %s", got, loc)
			}
		}
	}
}

func TestOpenerHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "served "+r.URL.Path)
	}))
	defer srv.Close()

	o, err := NewOpener(srv.URL+"/feed", OptHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("getting opener: %v", err)
	}
	if got := mustRead(t, o); got != "served /feed" {
		t.Fatalf("unexpected body %q", got)
	}

	o, err = NewOpener(srv.URL + "/missing")
	if err != nil {
		t.Fatalf("getting opener: %v", err)
	}
	if _, err := o.Open(context.Background()); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOpenerS3(t *testing.T) {
	o, err := NewOpener("s3://bucket/key.json", OptS3Region("us-east-1"))
	if err != nil {
		t.Fatalf("getting opener: %v", err)
	}
	if fmt.Sprint(o) != "s3://bucket/key.json" {
		t.Fatalf("unexpected name %s", o)
	}
	if _, err := NewOpener("s3://bucket"); err == nil {
		t.Fatal("expected error for s3 URL without key")
	}
}
