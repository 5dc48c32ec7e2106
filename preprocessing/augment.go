package preprocessing

import (
	"math/rand"
	"sync"
)

// AugmentConfig controls the randomized training-time augmentations. The
// zero value disables everything; DefaultAugmentConfig matches the training
// transform used for the retinopathy models.
type AugmentConfig struct {
	HorizontalFlip bool    // flip left-right with probability 0.5
	VerticalFlip   bool    // flip top-bottom with probability 0.5
	MaxRotation    float64 // max absolute rotation in degrees
	Brightness     float64 // jitter factor drawn from [1-b, 1+b]
	Contrast       float64 // jitter factor drawn from [1-c, 1+c]
}

// DefaultAugmentConfig returns the standard fundus-image augmentation set.
func DefaultAugmentConfig() AugmentConfig {
	return AugmentConfig{
		HorizontalFlip: true,
		VerticalFlip:   true,
		MaxRotation:    10,
		Brightness:     0.2,
		Contrast:       0.2,
	}
}

// Augmenter applies randomized augmentations in [0,1] pixel space, before
// normalization. It is seeded so runs are reproducible, and safe for
// concurrent use by loader workers.
type Augmenter struct {
	mu  sync.Mutex
	rng *rand.Rand
	cfg AugmentConfig
}

// NewAugmenter creates a seeded augmenter.
func NewAugmenter(cfg AugmentConfig, seed int64) *Augmenter {
	return &Augmenter{
		rng: rand.New(rand.NewSource(seed)),
		cfg: cfg,
	}
}

// Apply runs the configured augmentations on CHW data and returns the result.
func (a *Augmenter) Apply(data []float32, channels, height, width int) []float32 {
	a.mu.Lock()
	flipH := a.cfg.HorizontalFlip && a.rng.Float64() < 0.5
	flipV := a.cfg.VerticalFlip && a.rng.Float64() < 0.5
	var angle float64
	if a.cfg.MaxRotation > 0 {
		angle = (a.rng.Float64()*2 - 1) * a.cfg.MaxRotation
	}
	brightness := float32(1)
	contrast := float32(1)
	if a.cfg.Brightness > 0 {
		brightness = float32(1 + (a.rng.Float64()*2-1)*a.cfg.Brightness)
	}
	if a.cfg.Contrast > 0 {
		contrast = float32(1 + (a.rng.Float64()*2-1)*a.cfg.Contrast)
	}
	a.mu.Unlock()

	if flipH {
		data = FlipHorizontal(data, channels, height, width)
	}
	if flipV {
		data = FlipVertical(data, channels, height, width)
	}
	if angle != 0 {
		data = Rotate(data, channels, height, width, angle, 0)
	}
	if brightness != 1 || contrast != 1 {
		data = AdjustColor(data, brightness, contrast, true)
	}
	return data
}
