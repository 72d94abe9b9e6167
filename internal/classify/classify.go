// Package classify turns raw image bytes plus a crop type into a ranked
// disease prediction.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/nanaosei/cropdoc/crop"
	"github.com/nanaosei/cropdoc/internal/registry"

	"github.com/nfnt/resize"
)

var (
	// ErrInvalidImage indicates the image bytes are empty or not a
	// decodable image.
	ErrInvalidImage = errors.New("invalid image")

	// ErrBadTransform indicates the crop profile carries no usable
	// preprocessing recipe. Should not happen with the built-in profiles.
	ErrBadTransform = errors.New("preprocess spec undefined")
)

// TopPrediction is one entry of the ranked prediction list.
type TopPrediction struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// Prediction is the result of classifying one image.
type Prediction struct {
	CropType         crop.Type       `json:"crop_type"`
	PredictedDisease string          `json:"predicted_disease"`
	Confidence       float64         `json:"confidence"`
	IsHealthy        bool            `json:"is_healthy"`
	Description      string          `json:"description"`
	TopPredictions   []TopPrediction `json:"top_predictions"`
}

// Classify preprocesses imageBytes for the given crop, runs that crop's
// model and returns the ranked prediction. Confidences are percentages
// rounded to two decimals; TopPredictions holds min(3, classes) entries in
// descending order with the predicted disease first.
func Classify(reg *registry.Registry, imageBytes []byte, ct crop.Type) (*Prediction, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}

	model, err := reg.Lookup(ct)
	if err != nil {
		return nil, err
	}
	profile := model.Profile

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	input, err := preprocess(img, profile)
	if err != nil {
		return nil, err
	}

	logits, err := model.Infer(input)
	if err != nil {
		return nil, err
	}

	probs := softmax(logits[:min(len(logits), len(profile.Classes))])

	k := min(3, len(profile.Classes))
	tracker := newTopKTracker(k)
	for i, p := range probs {
		tracker.processItem(i, p)
	}

	ranked := tracker.topK()
	top := make([]TopPrediction, len(ranked))
	for i, cs := range ranked {
		top[i] = TopPrediction{
			Disease:    profile.Classes[cs.index],
			Confidence: round2(cs.prob * 100),
		}
	}

	predicted := top[0]
	return &Prediction{
		CropType:         ct,
		PredictedDisease: predicted.Disease,
		Confidence:       predicted.Confidence,
		IsHealthy:        profile.Healthy(predicted.Disease),
		Description:      crop.Description(predicted.Disease),
		TopPredictions:   top,
	}, nil
}

// preprocess converts an image to the CHW float32 layout the models expect:
// a deterministic Lanczos resize to the profile's square input size,
// followed by per-channel mean/std normalization. This must match the
// training-time transform exactly; the weights encode it.
func preprocess(img image.Image, p *crop.Profile) ([]float32, error) {
	if p == nil || p.ImageSize <= 0 {
		return nil, ErrBadTransform
	}

	size := p.ImageSize
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	// Any source color model collapses to 3 RGB channels here; RGBA()
	// handles grayscale, paletted and alpha inputs uniformly.
	input := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()

			idx := y*size + x
			input[idx] = (float32(r)/65535.0 - p.Mean[0]) / p.Std[0]
			input[plane+idx] = (float32(g)/65535.0 - p.Mean[1]) / p.Std[1]
			input[2*plane+idx] = (float32(b)/65535.0 - p.Mean[2]) / p.Std[2]
		}
	}

	return input, nil
}

// softmax converts logits into a probability distribution. Computed in
// float64 with the max subtracted for numerical stability.
func softmax(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	if len(logits) == 0 {
		return probs
	}

	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}

	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l) - maxLogit)
		probs[i] = e
		sum += e
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
