package preprocessing

import "fmt"

// Variant is one deterministic test-time augmentation: a transform over a
// normalized CHW tensor plus the weight its logits carry in the combined
// prediction.
type Variant struct {
	Name   string
	Weight float64
	Apply  func(data []float32, channels, height, width int) []float32
}

// TTA logit weights. The original image dominates; geometric and photometric
// variants contribute progressively less.
const (
	ttaBaseWeight     = 1.0
	ttaFlipWeight     = 0.8
	ttaRotationWeight = 0.6
	ttaColorWeight    = 0.7
	ttaCropWeight     = 0.7
)

// TTAVariants returns the standard nine-variant set for a square input of
// targetSize pixels: identity, both flips, four small rotations, one color
// jitter, and one center-crop-and-resize.
func TTAVariants(targetSize int) []Variant {
	identity := func(data []float32, c, h, w int) []float32 {
		out := make([]float32, len(data))
		copy(out, data)
		return out
	}

	variants := []Variant{
		{Name: "original", Weight: ttaBaseWeight, Apply: identity},
		{Name: "hflip", Weight: ttaFlipWeight, Apply: FlipHorizontal},
		{Name: "vflip", Weight: ttaFlipWeight, Apply: FlipVertical},
	}

	for _, angle := range []float64{-10, -5, 5, 10} {
		angle := angle
		variants = append(variants, Variant{
			Name:   fmt.Sprintf("rotate%+g", angle),
			Weight: ttaRotationWeight,
			Apply: func(data []float32, c, h, w int) []float32 {
				return Rotate(data, c, h, w, angle, 0)
			},
		})
	}

	variants = append(variants, Variant{
		Name:   "color",
		Weight: ttaColorWeight,
		Apply: func(data []float32, c, h, w int) []float32 {
			return AdjustColor(data, 1.1, 1.1, false)
		},
	})

	crop := targetSize * 5 / 6
	variants = append(variants, Variant{
		Name:   "crop",
		Weight: ttaCropWeight,
		Apply: func(data []float32, c, h, w int) []float32 {
			return CenterCropResize(data, c, h, w, crop)
		},
	})

	return variants
}
