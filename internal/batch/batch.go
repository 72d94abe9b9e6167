// Package batch fans a bounded list of classification items through the
// inference (and optionally advice) pipelines with per-item failure
// isolation: one bad item never aborts the rest.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nanaosei/cropdoc/crop"
	"github.com/nanaosei/cropdoc/internal/advice"
	"github.com/nanaosei/cropdoc/internal/classify"
	"github.com/nanaosei/cropdoc/internal/registry"

	"golang.org/x/sync/errgroup"
)

// MaxBatch is the ceiling on items per batch call. It also bounds the
// worst-case resource usage of a single call.
const MaxBatch = 10

// Items run through a small worker pool; inference is CPU bound so there is
// no point going wider.
const concurrency = 4

var (
	ErrLengthMismatch = errors.New("number of images must match number of crop types")
	ErrTooLarge       = fmt.Errorf("maximum %d images per batch request", MaxBatch)
)

// Request is one batch call. Filenames and Notes are optional; when present
// they are matched to images by index.
type Request struct {
	Images    [][]byte
	CropTypes []string
	Filenames []string
	Notes     []string

	// WithAdvice attaches AI advice to each successful item. Off by
	// default to bound batch latency.
	WithAdvice bool
}

// Result is the outcome for a single item, preserving its input index.
// Error items carry Status "error" and no prediction.
type Result struct {
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	FileSize int    `json:"file_size,omitempty"`
	Notes    string `json:"notes,omitempty"`

	*classify.Prediction
	Advice *advice.Advice `json:"ai_advice,omitempty"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Summary is the whole batch outcome, results ordered by input index.
type Summary struct {
	TotalImages int      `json:"total_images"`
	Successful  int      `json:"successful_classifications"`
	Results     []Result `json:"results"`
}

// Run validates the request and classifies every item. Validation failures
// (mismatched lengths, too many items) are reported before any inference
// runs; per-item failures are captured in the item's Result.
func Run(ctx context.Context, reg *registry.Registry, adv *advice.Advisor, req Request) (*Summary, error) {
	if len(req.Images) != len(req.CropTypes) {
		return nil, ErrLengthMismatch
	}
	if len(req.Images) > MaxBatch {
		return nil, ErrTooLarge
	}

	results := make([]Result, len(req.Images))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range req.Images {
		g.Go(func() error {
			results[i] = runItem(ctx, reg, adv, req, i)
			return nil // item failures live in the result, never abort the batch
		})
	}
	_ = g.Wait() // workers never return an error

	summary := &Summary{
		TotalImages: len(req.Images),
		Results:     results,
	}
	for _, r := range results {
		if r.Status == "success" {
			summary.Successful++
		}
	}
	return summary, nil
}

func runItem(ctx context.Context, reg *registry.Registry, adv *advice.Advisor, req Request, i int) Result {
	res := Result{Index: i}
	if i < len(req.Filenames) {
		res.Filename = req.Filenames[i]
	}

	if err := ctx.Err(); err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	ct, err := crop.Parse(req.CropTypes[i])
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	pred, err := classify.Classify(reg, req.Images[i], ct)
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	res.Prediction = pred
	res.FileSize = len(req.Images[i])
	if i < len(req.Notes) {
		res.Notes = req.Notes[i]
	}
	res.Status = "success"

	if req.WithAdvice && adv.Available() {
		a := adv.Generate(ctx, advice.Request{
			Crop:        pred.CropType,
			Disease:     pred.PredictedDisease,
			Confidence:  pred.Confidence,
			Healthy:     pred.IsHealthy,
			Description: pred.Description,
			Notes:       res.Notes,
		})
		res.Advice = &a
	}

	return res
}
