// Package registry owns the model lifecycle: fetching weights for every
// supported crop, opening an inference session per crop, and exposing
// read-only lookup once loading has finished.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nanaosei/cropdoc/crop"
)

var (
	// ErrNotLoaded is returned by Lookup when the crop has no model bound.
	ErrNotLoaded = errors.New("model not loaded")
)

// Store retrieves trained weights for a crop and returns a local file path.
type Store interface {
	Fetch(ctx context.Context, t crop.Type) (string, error)
}

// Session is an open inference session for one model. Predict takes a CHW
// float32 input of the model's expected size and returns one logit per
// class. Implementations need not be safe for concurrent use; Model
// serializes access.
type Session interface {
	Predict(input []float32) ([]float32, error)
	Close() error
}

// Loader opens a Session from a weights file for the given profile.
type Loader interface {
	Load(profile *crop.Profile, weightsPath string) (Session, error)
}

// Model binds a crop profile to its loaded inference session. Immutable
// after Load returns; Infer is safe for concurrent callers.
type Model struct {
	Profile *crop.Profile

	mu   sync.Mutex // sessions reuse input/output buffers across runs
	sess Session
}

// Infer runs the model on a preprocessed input and returns the raw logits.
// The returned slice is a copy and is safe to retain.
func (m *Model) Infer(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logits, err := m.sess.Predict(input)
	if err != nil {
		return nil, fmt.Errorf("inference for %s: %w", m.Profile.Crop, err)
	}

	out := make([]float32, len(logits))
	copy(out, logits)
	return out, nil
}

// Registry maps every supported crop to a ready model. Construction is
// all-or-nothing: Load either returns a registry with a model for every
// crop, or an error and no registry. After Load the registry is never
// mutated and is safe for unlimited concurrent readers.
type Registry struct {
	models map[crop.Type]*Model
}

// Load fetches and opens a model for every supported crop type. A failure
// on any single crop aborts the whole load; sessions opened so far are
// closed before returning.
func Load(ctx context.Context, store Store, loader Loader) (*Registry, error) {
	r := &Registry{models: make(map[crop.Type]*Model, len(crop.Types()))}

	for _, ct := range crop.Types() {
		profile, err := crop.Lookup(ct)
		if err != nil {
			r.Close()
			return nil, err
		}

		log.Printf("Loading %s model...", ct)
		weights, err := store.Fetch(ctx, ct)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("loading %s model: %w", ct, err)
		}

		sess, err := loader.Load(profile, weights)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("loading %s model: %w", ct, err)
		}

		r.models[ct] = &Model{Profile: profile, sess: sess}
	}

	log.Printf("All %d models loaded", len(r.models))
	return r, nil
}

// Ready reports whether every supported crop has a loaded model.
func (r *Registry) Ready() bool {
	for _, ct := range crop.Types() {
		if _, ok := r.models[ct]; !ok {
			return false
		}
	}
	return true
}

// Loaded reports whether this specific crop has a model bound.
func (r *Registry) Loaded(t crop.Type) bool {
	_, ok := r.models[t]
	return ok
}

// Lookup returns the model for a crop. Unsupported crops report
// crop.ErrUnknownCrop, supported crops without a model report ErrNotLoaded.
func (r *Registry) Lookup(t crop.Type) (*Model, error) {
	if _, err := crop.Lookup(t); err != nil {
		return nil, err
	}
	m, ok := r.models[t]
	if !ok {
		return nil, fmt.Errorf("%w for crop %s", ErrNotLoaded, t)
	}
	return m, nil
}

// Close releases every session. Only called at process shutdown.
func (r *Registry) Close() {
	for ct, m := range r.models {
		if err := m.sess.Close(); err != nil {
			log.Printf("closing %s session: %v", ct, err)
		}
	}
}
