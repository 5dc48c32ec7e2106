package preprocessing

import (
	"fmt"
	"image"
	"io"
	"sync"

	// Supported input formats.
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// ImageNet channel statistics, shared by every backbone the pipeline trains.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

// Processor converts decoded images into normalized CHW float32 tensors with
// buffer reuse. A single Processor is safe for concurrent use; buffers are
// guarded and the returned slice is always a copy.
type Processor struct {
	mu         sync.Mutex
	rgbaBuffer *image.RGBA
	dataBuffer []float32
	targetSize int
	mean       [3]float32
	std        [3]float32
}

// NewProcessor creates a processor that resizes to targetSize x targetSize
// and normalizes with the ImageNet per-channel mean/std.
func NewProcessor(targetSize int) *Processor {
	return &Processor{
		targetSize: targetSize,
		mean:       DefaultMean,
		std:        DefaultStd,
	}
}

// TargetSize returns the square output size in pixels.
func (p *Processor) TargetSize() int { return p.targetSize }

// ProcessedImage is a preprocessed image ready for model input, stored in
// CHW order (3 channels, height, width).
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image and preprocesses it.
// Decode failures surface as errors; broken inputs are never substituted
// with placeholder tensors.
func (p *Processor) DecodeAndPreprocess(reader io.Reader, aug *Augmenter) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return p.Preprocess(img, aug)
}

// Preprocess converts img to the canonical 3-channel representation, resizes
// it, applies the augmenter (if any) in [0,1] pixel space, and normalizes.
func (p *Processor) Preprocess(img image.Image, aug *Augmenter) (*ProcessedImage, error) {
	size := p.targetSize

	p.mu.Lock()
	if p.rgbaBuffer == nil || p.rgbaBuffer.Bounds().Dx() != size {
		p.rgbaBuffer = image.NewRGBA(image.Rect(0, 0, size, size))
	}
	target := p.rgbaBuffer

	// Bilinear resize; grayscale sources come out with equal RGB channels,
	// which is the canonical 3-channel form.
	xdraw.BiLinear.Scale(target, target.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	required := 3 * size * size
	if len(p.dataBuffer) < required {
		p.dataBuffer = make([]float32, required)
	}
	data := p.dataBuffer[:required]

	plane := size * size
	for y := 0; y < size; y++ {
		row := target.Pix[y*target.Stride:]
		for x := 0; x < size; x++ {
			idx := y*size + x
			data[idx] = float32(row[x*4]) / 255.0
			data[plane+idx] = float32(row[x*4+1]) / 255.0
			data[2*plane+idx] = float32(row[x*4+2]) / 255.0
		}
	}

	if aug != nil {
		data = aug.Apply(data, 3, size, size)
	}

	// Normalize in place, then copy out of the shared buffer.
	for c := 0; c < 3; c++ {
		mean, std := p.mean[c], p.std[c]
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i] - mean) / std
		}
	}

	out := make([]float32, required)
	copy(out, data)
	p.mu.Unlock()

	return &ProcessedImage{
		Data:     out,
		Width:    size,
		Height:   size,
		Channels: 3,
	}, nil
}
