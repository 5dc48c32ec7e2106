package dataset

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/retinalab/drgrade/preprocessing"
)

// Sample is one (tensor, label) pair ready for batching.
type Sample struct {
	Data  []float32
	Label int
}

// Provider lazily loads, decodes, and transforms one sample per access.
// A decode failure is an explicit error for that access; the batching layer
// decides whether to skip or abort. Samples are never silently replaced with
// placeholder data, since zero tensors would corrupt the class distribution.
type Provider struct {
	index     *Index
	processor *preprocessing.Processor
	augmenter *preprocessing.Augmenter
}

// NewProvider creates a provider over idx. augmenter may be nil for
// validation/test providers.
func NewProvider(idx *Index, processor *preprocessing.Processor, augmenter *preprocessing.Augmenter) *Provider {
	return &Provider{
		index:     idx,
		processor: processor,
		augmenter: augmenter,
	}
}

// Len returns the number of samples.
func (p *Provider) Len() int { return p.index.Len() }

// Deterministic reports whether repeated access to the same position yields
// identical tensors (no random augmentation).
func (p *Provider) Deterministic() bool { return p.augmenter == nil }

// SampleSize returns the flat tensor length of every sample.
func (p *Provider) SampleSize() int {
	size := p.processor.TargetSize()
	return 3 * size * size
}

// Sample loads and transforms the sample at position i.
func (p *Provider) Sample(i int) (*Sample, error) {
	if i < 0 || i >= p.index.Len() {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, p.index.Len())
	}
	entry := p.index.Entry(i)

	file, err := os.Open(entry.Path)
	if err != nil {
		log.WithFields(log.Fields{"index": i, "image": entry.Path, "error": err}).Error("failed to open sample")
		return nil, fmt.Errorf("failed to open sample %d (%s): %w", i, entry.Path, err)
	}
	defer file.Close()

	img, err := p.processor.DecodeAndPreprocess(file, p.augmenter)
	if err != nil {
		log.WithFields(log.Fields{"index": i, "image": entry.Path, "error": err}).Error("failed to decode sample")
		return nil, fmt.Errorf("failed to decode sample %d (%s): %w", i, entry.Path, err)
	}

	return &Sample{Data: img.Data, Label: entry.Class}, nil
}

// Label returns the class of the sample at position i without loading it.
func (p *Provider) Label(i int) int { return p.index.Entry(i).Class }
