// Package evaluation scores a trained model on a held-out set, optionally
// combining predictions across deterministic test-time augmentation variants.
package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/retinalab/drgrade/dataloader"
	"github.com/retinalab/drgrade/dataset"
	"github.com/retinalab/drgrade/model"
	"github.com/retinalab/drgrade/preprocessing"
)

// ErrNoVariants indicates that every augmentation variant failed for a
// sample, leaving nothing to combine.
var ErrNoVariants = errors.New("evaluation: no augmentation variant produced logits")

// Evaluator runs weighted test-time augmentation over a model. With an empty
// variant list it degenerates to plain single-pass evaluation.
type Evaluator struct {
	model      model.Model
	variants   []preprocessing.Variant
	targetSize int
}

// NewEvaluator creates an evaluator. Pass preprocessing.TTAVariants for the
// standard nine-variant set, or nil for single-pass evaluation.
func NewEvaluator(m model.Model, variants []preprocessing.Variant, targetSize int) *Evaluator {
	return &Evaluator{model: m, variants: variants, targetSize: targetSize}
}

// Predict combines logits across all variants for one normalized CHW tensor:
// each variant's logits are scaled by its weight, summed, and divided by the
// total weight of the variants that succeeded. A variant that fails is logged
// and dropped rather than zero-filled, so a bad rotation cannot drag the
// combined prediction toward the uniform distribution.
func (e *Evaluator) Predict(data []float32) ([]float32, error) {
	if len(e.variants) == 0 {
		return e.forward(data)
	}

	combined := make([]float32, e.model.NumClasses())
	var totalWeight float64

	for _, v := range e.variants {
		transformed := v.Apply(data, 3, e.targetSize, e.targetSize)
		logits, err := e.forward(transformed)
		if err != nil {
			log.WithFields(log.Fields{"variant": v.Name, "error": err}).Warn("augmentation variant failed")
			continue
		}
		w := float32(v.Weight)
		for j, l := range logits {
			combined[j] += w * l
		}
		totalWeight += v.Weight
	}

	if totalWeight == 0 {
		return nil, ErrNoVariants
	}
	inv := float32(1 / totalWeight)
	for j := range combined {
		combined[j] *= inv
	}
	return combined, nil
}

func (e *Evaluator) forward(data []float32) ([]float32, error) {
	shape := []int{1, 3, e.targetSize, e.targetSize}
	logits, err := e.model.Forward(data, shape)
	if err != nil {
		return nil, err
	}
	if len(logits) != 1 {
		return nil, fmt.Errorf("expected one logit row, got %d", len(logits))
	}
	return logits[0], nil
}

// PredictClass returns the argmax class for one tensor.
func (e *Evaluator) PredictClass(data []float32) (int, error) {
	logits, err := e.Predict(data)
	if err != nil {
		return 0, err
	}
	return argmax(logits), nil
}

// Evaluate scores every sample in src and returns the aggregate report.
// Samples that fail to load or predict are skipped and counted, matching the
// training loaders' skip-and-log policy.
func (e *Evaluator) Evaluate(ctx context.Context, src dataloader.Source, showProgress bool) (*Report, error) {
	report := NewReport(e.model.NumClasses(), dataset.ClassNames[:])

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(src.Len(),
			progressbar.OptionSetDescription("evaluating"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sample, err := src.Sample(i)
		if err != nil {
			report.Skipped++
			log.WithFields(log.Fields{"index": i, "error": err}).Warn("skipping unreadable sample")
			continue
		}

		predicted, err := e.PredictClass(sample.Data)
		if err != nil {
			report.Skipped++
			log.WithFields(log.Fields{"index": i, "error": err}).Warn("skipping failed prediction")
			continue
		}

		report.Add(sample.Label, predicted)
		if bar != nil {
			bar.Add(1)
		}
	}

	if report.Total == 0 {
		return nil, fmt.Errorf("no samples evaluated")
	}
	return report, nil
}

func argmax(logits []float32) int {
	best := 0
	for j := 1; j < len(logits); j++ {
		if logits[j] > logits[best] {
			best = j
		}
	}
	return best
}
