package imageutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[i*4+0] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = c.A
	}
	return img
}

func TestToCHW_Orders(t *testing.T) {
	t.Parallel()

	img := solid(2, 1, color.RGBA{R: 255, G: 0, B: 51, A: 255})

	rgb := ToCHW(img, Norm255, RGB)
	assert.Equal(t, []float32{1, 1, 0, 0, 0.2, 0.2}, rgb)

	bgr := ToCHW(img, Norm255, BGR)
	assert.Equal(t, []float32{0.2, 0.2, 0, 0, 1, 1}, bgr)
}

func TestToCHW_Normalizations(t *testing.T) {
	t.Parallel()

	img := solid(1, 1, color.RGBA{R: 255, G: 0, B: 0, A: 255})

	assert.Equal(t, []float32{1, -1, -1}, ToCHW(img, Norm127, RGB))
	assert.Equal(t, []float32{255, 0, 0}, ToCHW(img, NormNone, RGB))

	in := ToCHW(img, NormImageNet, RGB)
	assert.InDelta(t, (1-0.485)/0.229, in[0], 1e-5)
	assert.InDelta(t, -0.456/0.224, in[1], 1e-5)
}

func TestFromCHW_RoundTrip(t *testing.T) {
	t.Parallel()

	img := solid(3, 2, color.RGBA{R: 10, G: 128, B: 250, A: 255})
	data := ToCHW(img, Norm255, BGR)
	back := FromCHW(data, 3, 2, BGR)

	for i := 0; i < 6; i++ {
		assert.InDelta(t, 10, back.Pix[i*4], 1)
		assert.InDelta(t, 128, back.Pix[i*4+1], 1)
		assert.InDelta(t, 250, back.Pix[i*4+2], 1)
		assert.Equal(t, uint8(255), back.Pix[i*4+3])
	}
}

func TestToByte_Clips(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(0), ToByte(-3))
	assert.Equal(t, uint8(255), ToByte(300))
	assert.Equal(t, uint8(12), ToByte(12.9))
}

func TestAdjustFrameSize_PadsToAspect(t *testing.T) {
	t.Parallel()

	img := solid(200, 100, color.RGBA{R: 255, A: 255})
	padded, resized := AdjustFrameSize(img, 50, 50)

	assert.Equal(t, 200, padded.Rect.Dx())
	assert.Equal(t, 200, padded.Rect.Dy())
	assert.Equal(t, 50, resized.Rect.Dx())
	assert.Equal(t, 50, resized.Rect.Dy())

	// The frame is centered vertically, top and bottom are black.
	assert.Equal(t, uint8(0), padded.RGBAAt(100, 10).R)
	assert.Equal(t, uint8(255), padded.RGBAAt(100, 100).R)
	assert.Equal(t, uint8(0), padded.RGBAAt(100, 190).R)
}

func TestPadResize(t *testing.T) {
	t.Parallel()

	img := solid(100, 50, color.RGBA{R: 255, A: 255})
	out, ratio := PadResize(img, 40, 40, color.RGBA{R: 114, G: 114, B: 114, A: 255})

	assert.InDelta(t, 0.4, ratio, 1e-9)
	assert.Equal(t, 40, out.Rect.Dx())
	assert.Equal(t, uint8(255), out.RGBAAt(5, 5).R)
	assert.Equal(t, uint8(114), out.RGBAAt(5, 30).R)
}

func TestCenterCropAndResizeShorter(t *testing.T) {
	t.Parallel()

	img := solid(300, 200, color.RGBA{G: 255, A: 255})
	r := ResizeShorter(img, 100)
	assert.Equal(t, 150, r.Rect.Dx())
	assert.Equal(t, 100, r.Rect.Dy())

	c := CenterCrop(r, 80, 80)
	assert.Equal(t, image.Rect(0, 0, 80, 80), c.Rect)

	sq := CenterCropSquare(img)
	assert.Equal(t, 200, sq.Rect.Dx())
	assert.Equal(t, 200, sq.Rect.Dy())
}

func TestToGrayAndFlip(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	gray := ToGray(img)
	assert.InDelta(t, 255, gray[0], 1e-3)
	assert.InDelta(t, 0, gray[1], 1e-3)

	assert.Equal(t, []float32{gray[1], gray[0]}, FlipHorizontal(gray, 2, 1))
}

func TestResizePlane(t *testing.T) {
	t.Parallel()

	src := []float32{
		0, 1,
		2, 3,
	}
	same := ResizePlane(src, 2, 2, 2, 2)
	assert.Equal(t, src, same)

	up := ResizePlane(src, 2, 2, 4, 4)
	require.Len(t, up, 16)
	assert.InDelta(t, 0, up[0], 1e-6)
	assert.InDelta(t, 3, up[15], 1e-6)
	assert.InDelta(t, 1.5, (up[5]+up[6]+up[9]+up[10])/4, 1e-6)
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	img := solid(4, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	for _, name := range []string{"a.png", "sub/b.jpg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, img))
		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, img.Rect, got.Bounds())
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	a := solid(2, 3, color.RGBA{R: 255, A: 255})
	b := solid(4, 1, color.RGBA{G: 255, A: 255})

	h := Hconcat(a, b)
	assert.Equal(t, image.Rect(0, 0, 6, 3), h.Rect)
	assert.Equal(t, uint8(255), h.RGBAAt(1, 2).R)
	assert.Equal(t, uint8(255), h.RGBAAt(3, 0).G)
	assert.Equal(t, uint8(0), h.RGBAAt(3, 2).G)

	v := Vconcat(a, b)
	assert.Equal(t, image.Rect(0, 0, 4, 4), v.Rect)
	assert.Equal(t, uint8(255), v.RGBAAt(3, 3).G)
}
