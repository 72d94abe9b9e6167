// Package artifact retrieves trained model weights for a crop and hands back
// a path on local disk. Two sources are supported: a local directory and an
// HTTP bucket with the same naming scheme.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nanaosei/cropdoc/crop"
)

// ErrUnavailable indicates the weights for a crop could not be retrieved.
var ErrUnavailable = errors.New("model artifact unavailable")

// Filename returns the weights file name for a crop. The trainer exports one
// ONNX file per crop under this name.
func Filename(t crop.Type) string {
	return fmt.Sprintf("best_%s_model.onnx", t)
}

// Dir serves weights from a local directory.
type Dir struct {
	Root string
}

func (d Dir) Fetch(ctx context.Context, t crop.Type) (string, error) {
	path := filepath.Join(d.Root, Filename(t))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	return path, nil
}

// Bucket downloads weights over HTTP into a local cache directory. A file
// already present in the cache is reused without a network round trip.
type Bucket struct {
	BaseURL  string // e.g. https://models.example.com/cropdoc
	CacheDir string
	Client   *http.Client // if nil uses http.DefaultClient
}

func (b *Bucket) Fetch(ctx context.Context, t crop.Type) (string, error) {
	local := filepath.Join(b.CacheDir, Filename(t))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	url := b.BaseURL + "/" + Filename(t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %s: %v", ErrUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetching %s: status %d", ErrUnavailable, url, resp.StatusCode)
	}

	if err := os.MkdirAll(b.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Download to a temp file first so a torn download never leaves a
	// truncated weights file in the cache.
	tmp, err := os.CreateTemp(b.CacheDir, Filename(t)+".tmp*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: downloading %s: %v", ErrUnavailable, url, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return local, nil
}
