// Package crop holds the static per-crop configuration: the supported crop
// types, the ordered class labels each model predicts, and the image
// preprocessing recipe the models were trained with.
package crop

import (
	"fmt"
	"sort"
	"strings"
)

// Type identifies one of the supported crops.
type Type string

const (
	Cashew  Type = "cashew"
	Cassava Type = "cassava"
	Maize   Type = "maize"
	Tomato  Type = "tomato"
)

// ErrUnknownCrop is returned when a crop type is not in the supported set.
type ErrUnknownCrop struct {
	Got string
}

func (e *ErrUnknownCrop) Error() string {
	return fmt.Sprintf("unsupported crop type %q, supported crops: %s", e.Got, strings.Join(typeStrings(), ", "))
}

// Profile is the immutable per-crop configuration. Classes is ordered: the
// position of a label is the index of the model output logit for that label,
// and must match the ordering used at training time.
type Profile struct {
	Crop    Type
	Classes []string

	// Preprocessing recipe. The model weights encode this exact transform,
	// so it must be applied byte-for-byte the same at serving time.
	ImageSize int
	Mean      [3]float32
	Std       [3]float32

	// Labels (case-folded) that mean the plant is not diseased.
	healthy map[string]bool
}

// Healthy reports whether label names a healthy plant. The check is lexical,
// against the aliases the training data used for this crop.
func (p *Profile) Healthy(label string) bool {
	return p.healthy[strings.ToLower(label)]
}

// ImageNet normalization constants, shared by every model.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

const imageSize = 240 // EfficientNet-B1 input size

func newProfile(t Type, classes []string, healthyAliases ...string) *Profile {
	h := map[string]bool{"healthy": true}
	for _, a := range healthyAliases {
		h[strings.ToLower(a)] = true
	}
	return &Profile{
		Crop:      t,
		Classes:   classes,
		ImageSize: imageSize,
		Mean:      imagenetMean,
		Std:       imagenetStd,
		healthy:   h,
	}
}

// Class orderings match the label indices the models were trained against.
// Do not reorder.
var profiles = map[Type]*Profile{
	Cashew: newProfile(Cashew, []string{
		"anthracnose", "gumosis", "healthy", "leaf_miner", "red_rust",
	}),
	Cassava: newProfile(Cassava, []string{
		"bacterial_blight", "brown_spot", "green_mite", "healthy", "mosaic",
	}, "cassava healthy"),
	Maize: newProfile(Maize, []string{
		"fall_armyworm", "grasshoper", "healthy", "leaf_beetle",
		"leaf_blight", "leaf_spot", "streak_virus",
	}),
	Tomato: newProfile(Tomato, []string{
		"healthy", "leaf_blight", "leaf_curl", "septoria_leaf_spot", "verticulium_wilt",
	}),
}

// Parse validates a crop type string (case-insensitive) against the
// supported set.
func Parse(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[t]; !ok {
		return "", &ErrUnknownCrop{Got: s}
	}
	return t, nil
}

// Lookup returns the profile for t.
func Lookup(t Type) (*Profile, error) {
	p, ok := profiles[t]
	if !ok {
		return nil, &ErrUnknownCrop{Got: string(t)}
	}
	return p, nil
}

// Types returns the supported crop types in a stable order.
func Types() []Type {
	ts := make([]Type, 0, len(profiles))
	for t := range profiles {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

func typeStrings() []string {
	ts := Types()
	ss := make([]string, len(ts))
	for i, t := range ts {
		ss[i] = string(t)
	}
	return ss
}
