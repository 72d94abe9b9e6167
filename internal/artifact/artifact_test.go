package artifact

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nanaosei/cropdoc/crop"
)

func TestDir(t *testing.T) {
	root := t.TempDir()

	t.Run("missing weights", func(t *testing.T) {
		_, err := Dir{Root: root}.Fetch(t.Context(), crop.Maize)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("present weights", func(t *testing.T) {
		want := filepath.Join(root, Filename(crop.Maize))
		if err := os.WriteFile(want, []byte("weights"), 0o644); err != nil {
			t.Fatal(err)
		}

		got, err := Dir{Root: root}.Fetch(t.Context(), crop.Maize)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if want != got {
			t.Errorf("Expected %q, got %q", want, got)
		}
	})
}

func newBucketServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+Filename(crop.Tomato) {
			w.Write([]byte("tomato-weights"))
			return
		}
		http.NotFound(w, r)
	}))
}

func TestBucket(t *testing.T) {
	t.Run("downloads and caches", func(t *testing.T) {
		srv := newBucketServer()
		defer srv.Close()
		b := &Bucket{BaseURL: srv.URL, CacheDir: t.TempDir(), Client: srv.Client()}

		local, err := b.Fetch(t.Context(), crop.Tomato)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		data, err := os.ReadFile(local)
		if err != nil {
			t.Fatal(err)
		}
		if expected, actual := "tomato-weights", string(data); expected != actual {
			t.Errorf("Expected %q, got %q", expected, actual)
		}

		// Second fetch is served from cache even if the server goes away.
		srv.Close()
		again, err := b.Fetch(t.Context(), crop.Tomato)
		if err != nil {
			t.Fatalf("Unexpected error on cached fetch %s", err)
		}
		if local != again {
			t.Errorf("Expected cached path %q, got %q", local, again)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		srv := newBucketServer()
		defer srv.Close()
		b := &Bucket{BaseURL: srv.URL, CacheDir: t.TempDir(), Client: srv.Client()}
		if _, err := b.Fetch(t.Context(), crop.Cashew); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable, got %v", err)
		}
	})
}
