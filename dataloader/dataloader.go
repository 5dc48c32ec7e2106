package dataloader

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/retinalab/drgrade/dataset"
)

// Source is the contract a sample provider must satisfy to be batched.
type Source interface {
	Len() int
	Sample(i int) (*dataset.Sample, error)
	Label(i int) int
	SampleSize() int
	Deterministic() bool
}

// Batch is one batch of CPU tensors. Inputs is flat NCHW data with Shape
// [n, 3, size, size]; Labels holds one class index per sample.
type Batch struct {
	Inputs []float32
	Shape  []int
	Labels []int32
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return b.Shape[0] }

// Config holds loader configuration.
type Config struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	// SampleWeights, when set, switches the loader to weighted sampling with
	// replacement using the given per-sample distribution (class balancing
	// at the sampler instead of the loss).
	SampleWeights []float64
	// CacheSize is the maximum number of preprocessed tensors to keep; only
	// honored when the source is deterministic.
	CacheSize int
}

// Loader assembles batches from a Source. A sample that fails to load is
// logged and skipped, so one broken file costs one sample rather than an
// epoch; the error surfaced by the provider is never masked with synthetic
// data.
type Loader struct {
	mu    sync.Mutex
	src   Source
	cfg   Config
	rng   *rand.Rand
	order []int
	pos   int
	cache *tensorCache

	cumWeights []float64
	skipped    int64
}

// NewLoader creates a loader over src.
func NewLoader(src Source, cfg Config) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if len(cfg.SampleWeights) > 0 && len(cfg.SampleWeights) != src.Len() {
		return nil, fmt.Errorf("sample weight count %d does not match source size %d",
			len(cfg.SampleWeights), src.Len())
	}

	l := &Loader{
		src: src,
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.CacheSize > 0 && src.Deterministic() {
		l.cache = newTensorCache(cfg.CacheSize)
	}
	if len(cfg.SampleWeights) > 0 {
		l.cumWeights = make([]float64, len(cfg.SampleWeights))
		sum := 0.0
		for i, w := range cfg.SampleWeights {
			sum += w
			l.cumWeights[i] = sum
		}
	}
	l.reshuffle()
	return l, nil
}

// Reset rewinds the loader and draws a fresh sample order.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reshuffle()
}

func (l *Loader) reshuffle() {
	n := l.src.Len()
	if l.cumWeights != nil {
		// Weighted sampling with replacement.
		total := l.cumWeights[len(l.cumWeights)-1]
		l.order = make([]int, n)
		for i := range l.order {
			r := l.rng.Float64() * total
			l.order[i] = sort.SearchFloat64s(l.cumWeights, r)
		}
	} else {
		l.order = make([]int, n)
		for i := range l.order {
			l.order[i] = i
		}
		if l.cfg.Shuffle {
			l.rng.Shuffle(n, func(i, j int) {
				l.order[i], l.order[j] = l.order[j], l.order[i]
			})
		}
	}
	l.pos = 0
}

// Next returns the next batch, or (nil, nil) when the epoch is exhausted.
func (l *Loader) Next() (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pos >= len(l.order) {
		return nil, nil
	}

	sampleSize := l.src.SampleSize()
	inputs := make([]float32, 0, l.cfg.BatchSize*sampleSize)
	labels := make([]int32, 0, l.cfg.BatchSize)

	for len(labels) < l.cfg.BatchSize && l.pos < len(l.order) {
		idx := l.order[l.pos]
		l.pos++

		data, label, err := l.loadSample(idx)
		if err != nil {
			l.skipped++
			log.WithFields(log.Fields{"index": idx, "error": err}).Warn("skipping bad sample")
			continue
		}
		inputs = append(inputs, data...)
		labels = append(labels, int32(label))
	}

	if len(labels) == 0 {
		// Every remaining sample failed; report end of epoch.
		return nil, nil
	}

	dim := int(math.Sqrt(float64(sampleSize / 3)))
	return &Batch{
		Inputs: inputs,
		Shape:  []int{len(labels), 3, dim, dim},
		Labels: labels,
	}, nil
}

func (l *Loader) loadSample(idx int) ([]float32, int, error) {
	if l.cache != nil {
		if data, ok := l.cache.get(idx); ok {
			return data, l.src.Label(idx), nil
		}
	}
	sample, err := l.src.Sample(idx)
	if err != nil {
		return nil, 0, err
	}
	if l.cache != nil {
		l.cache.put(idx, sample.Data)
	}
	return sample.Data, sample.Label, nil
}

// Batches returns the number of batches in one epoch.
func (l *Loader) Batches() int {
	n := l.src.Len()
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Progress returns the current position and the epoch length.
func (l *Loader) Progress() (current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos, len(l.order)
}

// Skipped returns the cumulative number of samples dropped for load errors.
func (l *Loader) Skipped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}

// CacheStats describes cache effectiveness, or "" when caching is off.
func (l *Loader) CacheStats() string {
	if l.cache == nil {
		return ""
	}
	return l.cache.stats()
}
