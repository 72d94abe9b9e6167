// Package testutil provides fake registry collaborators for tests so that
// model loading and inference can be exercised without ONNX weights.
package testutil

import (
	"context"
	"fmt"

	"github.com/nanaosei/cropdoc/crop"
	"github.com/nanaosei/cropdoc/internal/registry"
)

// FakeStore pretends every crop's weights exist, except those listed in
// Missing.
type FakeStore struct {
	Missing map[crop.Type]bool
}

func (s FakeStore) Fetch(_ context.Context, t crop.Type) (string, error) {
	if s.Missing[t] {
		return "", fmt.Errorf("no weights for %s", t)
	}
	return "/fake/" + string(t) + ".onnx", nil
}

// FakeSession returns fixed logits from every Predict call.
type FakeSession struct {
	Logits []float32
	Err    error

	Predicts int
	Closed   bool
}

func (s *FakeSession) Predict(input []float32) ([]float32, error) {
	s.Predicts++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Logits, nil
}

func (s *FakeSession) Close() error {
	s.Closed = true
	return nil
}

// FakeLoader hands out sessions whose logits favor the class at
// PredictIndex for each crop (default: index 0). Sessions are retained in
// Sessions for inspection.
type FakeLoader struct {
	PredictIndex map[crop.Type]int
	FailFor      map[crop.Type]bool

	Sessions map[crop.Type]*FakeSession
}

func (l *FakeLoader) Load(profile *crop.Profile, weightsPath string) (registry.Session, error) {
	if l.FailFor[profile.Crop] {
		return nil, fmt.Errorf("cannot open session for %s", profile.Crop)
	}

	logits := make([]float32, len(profile.Classes))
	for i := range logits {
		logits[i] = float32(-i) // strictly decreasing, so ranking is deterministic
	}
	idx := l.PredictIndex[profile.Crop]
	logits[idx] = 4 // clear winner

	sess := &FakeSession{Logits: logits}
	if l.Sessions == nil {
		l.Sessions = make(map[crop.Type]*FakeSession)
	}
	l.Sessions[profile.Crop] = sess
	return sess, nil
}

// LoadRegistry builds a ready registry backed by fakes, predicting the
// class index given per crop. Fails the test on error.
type TB interface {
	Fatalf(format string, args ...any)
	Helper()
}

func LoadRegistry(t TB, predictIndex map[crop.Type]int) *registry.Registry {
	t.Helper()
	loader := &FakeLoader{PredictIndex: predictIndex}
	reg, err := registry.Load(context.Background(), FakeStore{}, loader)
	if err != nil {
		t.Fatalf("loading fake registry: %v", err)
	}
	return reg
}
