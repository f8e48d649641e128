package interp

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

type averageNet struct{}

// Predict averages the two inputs and adds out of range values to check
// clipping.
func (averageNet) Predict(inputs ...model.Input) ([]*model.Tensor, error) {
	a := inputs[0].(*model.Tensor)
	b := inputs[1].(*model.Tensor)
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] = (a.Data[i] + b.Data[i]) / 2
	}
	out.Data[len(out.Data)-1] = 3
	return []*model.Tensor{out, model.Zeros(1)}, nil
}

func solid(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestInterpolate(t *testing.T) {
	t.Parallel()

	mid, err := New(averageNet{}).Interpolate(solid(4, 2, 0), solid(4, 2, 200))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), mid.Rect)
	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 255}, mid.RGBAAt(0, 0))
	assert.Equal(t, uint8(255), mid.RGBAAt(3, 1).B)
}

func TestInterpolate_SizeMismatch(t *testing.T) {
	t.Parallel()

	_, err := New(averageNet{}).Interpolate(solid(4, 2, 0), solid(2, 2, 0))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestWindow(t *testing.T) {
	t.Parallel()

	var w Window
	a, b, c := solid(1, 1, 1), solid(1, 1, 2), solid(1, 1, 3)

	_, _, ok := w.Push(a)
	assert.False(t, ok)

	prev, cur, ok := w.Push(b)
	require.True(t, ok)
	assert.Same(t, a, prev)
	assert.Same(t, b, cur)

	prev, cur, ok = w.Push(c)
	require.True(t, ok)
	assert.Same(t, b, prev)
	assert.Same(t, c, cur)
}

func TestTriplet(t *testing.T) {
	t.Parallel()

	out := Triplet(solid(4, 2, 1), solid(4, 2, 2), solid(4, 2, 3))
	assert.Equal(t, image.Rect(0, 0, 4, 6), out.Rect)
	assert.Equal(t, uint8(2), out.RGBAAt(0, 3).R)
}
