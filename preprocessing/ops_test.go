package preprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradientTensor fills a CHW tensor with a distinct value per position.
func gradientTensor(channels, height, width int) []float32 {
	data := make([]float32, channels*height*width)
	for i := range data {
		data[i] = float32(i) / float32(len(data))
	}
	return data
}

func TestFlipHorizontalInvolution(t *testing.T) {
	data := gradientTensor(3, 4, 6)

	once := FlipHorizontal(data, 3, 4, 6)
	assert.NotEqual(t, data, once)

	twice := FlipHorizontal(once, 3, 4, 6)
	assert.Equal(t, data, twice)
}

func TestFlipVerticalInvolution(t *testing.T) {
	data := gradientTensor(3, 4, 6)

	once := FlipVertical(data, 3, 4, 6)
	assert.NotEqual(t, data, once)

	twice := FlipVertical(once, 3, 4, 6)
	assert.Equal(t, data, twice)
}

func TestFlipHorizontalMirrorsRows(t *testing.T) {
	data := []float32{
		1, 2, 3,
		4, 5, 6,
	}
	out := FlipHorizontal(data, 1, 2, 3)
	assert.Equal(t, []float32{
		3, 2, 1,
		6, 5, 4,
	}, out)
}

func TestRotateZeroIsIdentity(t *testing.T) {
	data := gradientTensor(3, 8, 8)

	out := Rotate(data, 3, 8, 8, 0, 0)
	for i := range data {
		assert.InDelta(t, data[i], out[i], 1e-5)
	}
}

func TestRotatePreservesCenter(t *testing.T) {
	data := make([]float32, 9*9)
	data[4*9+4] = 1

	out := Rotate(data, 1, 9, 9, 37, 0)
	assert.InDelta(t, 1.0, out[4*9+4], 1e-5)
}

func TestRotateLeavesInputUntouched(t *testing.T) {
	data := gradientTensor(1, 5, 5)
	backup := append([]float32(nil), data...)

	Rotate(data, 1, 5, 5, 15, 0)
	assert.Equal(t, backup, data)
}

func TestAdjustColorIdentity(t *testing.T) {
	data := gradientTensor(3, 4, 4)

	out := AdjustColor(data, 1, 1, true)
	for i := range data {
		assert.InDelta(t, data[i], out[i], 1e-6)
	}
}

func TestAdjustColorBrightness(t *testing.T) {
	data := []float32{0.2, 0.4}

	out := AdjustColor(data, 1.5, 1, false)
	assert.InDelta(t, 0.3, out[0], 1e-6)
	assert.InDelta(t, 0.6, out[1], 1e-6)
}

func TestAdjustColorContrastPreservesMean(t *testing.T) {
	data := []float32{0.2, 0.4, 0.6, 0.8}

	out := AdjustColor(data, 1, 2, false)
	var meanIn, meanOut float32
	for i := range data {
		meanIn += data[i]
		meanOut += out[i]
	}
	assert.InDelta(t, meanIn/4, meanOut/4, 1e-5)

	// Spread doubles around the mean.
	assert.InDelta(t, (data[3]-data[0])*2, out[3]-out[0], 1e-5)
}

func TestAdjustColorClamps(t *testing.T) {
	data := []float32{0.0, 1.0}

	out := AdjustColor(data, 1, 3, true)
	assert.GreaterOrEqual(t, out[0], float32(0))
	assert.LessOrEqual(t, out[1], float32(1))
}

func TestCenterCropResizeShape(t *testing.T) {
	data := gradientTensor(3, 12, 12)

	out := CenterCropResize(data, 3, 12, 12, 8)
	require.Len(t, out, len(data))
}

func TestCenterCropResizeUniformUnchanged(t *testing.T) {
	data := make([]float32, 3*10*10)
	for i := range data {
		data[i] = 0.5
	}

	out := CenterCropResize(data, 3, 10, 10, 6)
	for i := range out {
		assert.InDelta(t, 0.5, out[i], 1e-5)
	}
}

func TestCenterCropResizeNoOpWhenCropCoversImage(t *testing.T) {
	data := gradientTensor(3, 8, 8)

	out := CenterCropResize(data, 3, 8, 8, 8)
	assert.Equal(t, data, out)
}
