package lane

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

func TestCheckShape(t *testing.T) {
	t.Parallel()

	assert.NoError(t, CheckShape(640, 360))
	assert.NoError(t, CheckShape(1280, 720))
	assert.ErrorIs(t, CheckShape(640, 480), ErrInvalidShape)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	raw := []float32{
		3, 0.2, 0.9, 0, 0, 1, 0.1,
		-3, 0, 1, 0, 0, 0, 0,
	}
	lanes, err := Decode(raw, 0.5)
	require.NoError(t, err)
	require.Len(t, lanes, 1)
	assert.InDelta(t, 0.9526, lanes[0].Score, 1e-4)
	assert.Equal(t, [4]float32{0, 0, 1, 0.1}, lanes[0].Coeffs)

	_, err = Decode(raw[:8], 0.5)
	assert.Error(t, err)
}

func TestLane_Points(t *testing.T) {
	t.Parallel()

	// x = y + 0.1, from y = 0 to y = 1.
	l := Lane{Lower: 0, Upper: 1, Coeffs: [4]float32{0, 0, 1, 0.1}}
	assert.InDelta(t, 0.6, l.Eval(0.5), 1e-6)

	pts := l.Points(100, 200)
	require.NotEmpty(t, pts)
	assert.Equal(t, image.Pt(10, 0), pts[0])
	// Points past x = 1 leave the image and are dropped.
	for _, p := range pts {
		assert.Less(t, p.X, 100)
		assert.Greater(t, p.X, 0)
	}
	assert.Less(t, len(pts), 100)
}

type fakeNet struct {
	out   []float32
	shape []int64
}

func (f *fakeNet) Predict(inputs ...model.Input) ([]*model.Tensor, error) {
	f.shape = inputs[0].(*model.Tensor).Shape
	return []*model.Tensor{model.NewTensor(f.out, 1, int64(len(f.out)))}, nil
}

func TestDetector_Detect(t *testing.T) {
	t.Parallel()

	net := &fakeNet{out: []float32{4, 0.4, 1, 0, 0, 0, 0.5}}
	lanes, frame, err := NewDetector(net).Detect(image.NewRGBA(image.Rect(0, 0, 1280, 720)))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, Height, Width}, net.shape)
	assert.Equal(t, image.Rect(0, 0, Width, Height), frame.Rect)
	require.Len(t, lanes, 1)

	_, _, err = NewDetector(net).Detect(image.NewRGBA(image.Rect(0, 0, 100, 100)))
	assert.ErrorIs(t, err, ErrInvalidShape)
}
