package preprocessing

import "math"

// Tensor ops used by both the training augmenter and test-time augmentation.
// All operate on CHW float32 data and return a fresh slice, leaving the input
// untouched.

// FlipHorizontal mirrors each row.
func FlipHorizontal(data []float32, channels, height, width int) []float32 {
	out := make([]float32, len(data))
	plane := height * width
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				out[c*plane+y*width+x] = data[c*plane+y*width+(width-1-x)]
			}
		}
	}
	return out
}

// FlipVertical mirrors each column.
func FlipVertical(data []float32, channels, height, width int) []float32 {
	out := make([]float32, len(data))
	plane := height * width
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			src := c*plane + (height-1-y)*width
			dst := c*plane + y*width
			copy(out[dst:dst+width], data[src:src+width])
		}
	}
	return out
}

// Rotate rotates the image by degrees around its center with bilinear
// sampling. Pixels sampled outside the source are set to fill.
func Rotate(data []float32, channels, height, width int, degrees float64, fill float32) []float32 {
	theta := degrees * math.Pi / 180
	sin, cos := math.Sin(theta), math.Cos(theta)
	cx := float64(width-1) / 2
	cy := float64(height-1) / 2

	out := make([]float32, len(data))
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Inverse mapping: destination pixel pulled from the source.
			dx := float64(x) - cx
			dy := float64(y) - cy
			srcX := cos*dx + sin*dy + cx
			srcY := -sin*dx + cos*dy + cy
			for c := 0; c < channels; c++ {
				out[c*plane+y*width+x] = bilinearSample(data[c*plane:(c+1)*plane], height, width, srcX, srcY, fill)
			}
		}
	}
	return out
}

// AdjustColor applies brightness and contrast factors the way ColorJitter
// does: brightness scales pixels, contrast pulls them toward the image's
// gray mean. When clamp is true the result is clipped to [0,1]
// (pre-normalization pixel space); in normalized space clamping is skipped.
func AdjustColor(data []float32, brightness, contrast float32, clamp bool) []float32 {
	out := make([]float32, len(data))

	var mean float32
	for _, v := range data {
		mean += v
	}
	mean /= float32(len(data))

	for i, v := range data {
		v = (v*brightness-mean)*contrast + mean
		if clamp {
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
		}
		out[i] = v
	}
	return out
}

// CenterCropResize crops a centered crop x crop region and resizes it back to
// the original dimensions with bilinear sampling.
func CenterCropResize(data []float32, channels, height, width, crop int) []float32 {
	if crop >= height && crop >= width {
		out := make([]float32, len(data))
		copy(out, data)
		return out
	}
	y0 := (height - crop) / 2
	x0 := (width - crop) / 2

	plane := height * width
	cropped := make([]float32, channels*crop*crop)
	for c := 0; c < channels; c++ {
		for y := 0; y < crop; y++ {
			src := c*plane + (y0+y)*width + x0
			dst := c*crop*crop + y*crop
			copy(cropped[dst:dst+crop], data[src:src+crop])
		}
	}
	return resizeCHW(cropped, channels, crop, crop, height, width)
}

// resizeCHW resizes CHW data from (h, w) to (outH, outW) bilinearly.
func resizeCHW(data []float32, channels, height, width, outH, outW int) []float32 {
	out := make([]float32, channels*outH*outW)
	scaleY := float64(height) / float64(outH)
	scaleX := float64(width) / float64(outW)
	plane := height * width
	outPlane := outH * outW

	for y := 0; y < outH; y++ {
		srcY := (float64(y)+0.5)*scaleY - 0.5
		for x := 0; x < outW; x++ {
			srcX := (float64(x)+0.5)*scaleX - 0.5
			for c := 0; c < channels; c++ {
				out[c*outPlane+y*outW+x] = bilinearSample(data[c*plane:(c+1)*plane], height, width, srcX, srcY, 0)
			}
		}
	}
	return out
}

// bilinearSample reads plane (height x width) at fractional coordinates,
// returning fill for samples fully outside the image.
func bilinearSample(plane []float32, height, width int, x, y float64, fill float32) float32 {
	if x < -1 || y < -1 || x > float64(width) || y > float64(height) {
		return fill
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	at := func(px, py int) float32 {
		if px < 0 || py < 0 || px >= width || py >= height {
			return fill
		}
		return plane[py*width+px]
	}

	top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
	bottom := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}
