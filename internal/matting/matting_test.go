package matting

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

type fakeNet struct {
	calls int
	shape []int64
	value float32
}

func (f *fakeNet) Predict(inputs ...model.Input) ([]*model.Tensor, error) {
	f.calls++
	in := inputs[0].(*model.Tensor)
	f.shape = in.Shape
	h, w := in.Shape[2], in.Shape[3]
	out := model.Zeros(1, 1, h, w)
	for i := range out.Data {
		out.Data[i] = f.value
	}
	return []*model.Tensor{out}, nil
}

func gray(w, h int, pix ...uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	copy(g.Pix, pix)
	return g
}

func TestMinMaxNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float32{0, 0.5, 1}, MinMaxNormalize([]float32{2, 3, 4}))
	assert.Equal(t, []float32{0, 0}, MinMaxNormalize([]float32{7, 7}))
}

func TestThresholdAndTrimap(t *testing.T) {
	t.Parallel()

	mask := Threshold(gray(4, 1, 10, 204, 205, 255), 204)
	assert.Equal(t, []uint8{0, 255, 255, 255}, mask.Pix)

	eroded := gray(4, 1, 0, 0, 255, 255)
	dilated := gray(4, 1, 0, 255, 255, 255)
	tri := TrimapFromMasks(eroded, dilated)
	assert.Equal(t, []uint8{Background, Unknown, Foreground, Foreground}, tri.Pix)
}

func TestAlpha(t *testing.T) {
	t.Parallel()

	tri := gray(3, 1, Background, Unknown, Foreground)
	assert.Equal(t, []uint8{0, 127, 255}, Alpha([]float32{0.9, 0.5, 0.1}, tri))
}

func TestPreprocess(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	x := Preprocess(img, gray(2, 1, 255, 128))

	assert.Equal(t, []int64{1, 4, 1, 2}, x.Shape)
	assert.InDelta(t, 1, x.Data[0], 1e-6)
	assert.InDelta(t, 1, x.Data[6], 1e-6)
	assert.InDelta(t, 128.0/255, x.Data[7], 1e-6)
}

func TestTileSize(t *testing.T) {
	t.Parallel()

	w, h := TileSize(33, 64)
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
}

func TestMatter_Matte(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	tri := image.NewGray(img.Rect)
	for i := range tri.Pix {
		tri.Pix[i] = Unknown
	}
	tri.Pix[0] = Background
	tri.Pix[1] = Foreground

	net := &fakeNet{value: 0.5}
	out, err := NewMatter(net).Matte(img, tri)
	require.NoError(t, err)

	assert.Equal(t, 1, net.calls)
	assert.Equal(t, []int64{1, 4, 32, 64}, net.shape)
	assert.Equal(t, img.Rect, out.Rect)
	assert.Equal(t, color.NRGBA{R: 100, G: 100, B: 100, A: 0}, out.NRGBAAt(0, 0))
	assert.Equal(t, uint8(255), out.NRGBAAt(1, 0).A)
	assert.Equal(t, uint8(127), out.NRGBAAt(39, 19).A)
}

func TestMatter_TrimapSizeMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewMatter(&fakeNet{}).Matte(image.NewRGBA(image.Rect(0, 0, 4, 4)), image.NewGray(image.Rect(0, 0, 2, 2)))
	assert.Error(t, err)
}

func TestComposite(t *testing.T) {
	t.Parallel()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0})

	out := Composite(img)
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0, G: 255, B: 0, A: 255}, out.RGBAAt(1, 0))
}

func TestTrimapFromImage(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(1, 0, color.RGBA{R: 128, A: 255})
	assert.Equal(t, []uint8{0, 128}, TrimapFromImage(img).Pix)
}
