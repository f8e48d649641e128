package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		copy(img.Pix[i*4:], []uint8{c.R, c.G, c.B, c.A})
	}
	return img
}

func TestCategoryColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Red, CategoryColor(0, 5))
	assert.NotEqual(t, CategoryColor(1, 5), CategoryColor(2, 5))
}

func TestBlend(t *testing.T) {
	t.Parallel()

	out, err := Blend(filled(4, 4, Black), filled(4, 4, White), 0.5)
	require.NoError(t, err)
	px := out.RGBAAt(2, 2)
	assert.InDelta(t, 127, px.R, 1)
	assert.InDelta(t, 127, px.B, 1)
}

func TestDrawBoxes_KeepsColors(t *testing.T) {
	t.Parallel()

	out, err := DrawBoxes(filled(64, 64, Black), []Box{{Rect: image.Rect(10, 10, 50, 50), Color: Red}})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), out.Rect)
	assert.Equal(t, Red, out.RGBAAt(10, 30))
	assert.Equal(t, Black, out.RGBAAt(30, 30))
}

func TestOpening_RemovesSpecks(t *testing.T) {
	t.Parallel()

	g := image.NewGray(image.Rect(0, 0, 40, 40))
	g.SetGray(3, 3, color.Gray{Y: 255})
	for y := 15; y < 35; y++ {
		for x := 15; x < 35; x++ {
			g.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	out, err := Opening(g, 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.GrayAt(3, 3).Y)
	assert.Equal(t, uint8(255), out.GrayAt(25, 25).Y)
}

func TestErodeDilate(t *testing.T) {
	t.Parallel()

	g := image.NewGray(image.Rect(0, 0, 9, 9))
	g.SetGray(4, 4, color.Gray{Y: 255})

	d, err := Dilate(g, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), d.GrayAt(3, 5).Y)
	assert.Equal(t, uint8(0), d.GrayAt(2, 4).Y)

	e, err := Erode(d, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), e.GrayAt(4, 4).Y)
	assert.Equal(t, uint8(0), e.GrayAt(3, 4).Y)
}

func TestGaussianBlur(t *testing.T) {
	t.Parallel()

	flat := make([]float32, 20*10)
	for i := range flat {
		flat[i] = 3
	}
	out, err := GaussianBlur(flat, 20, 10, 4)
	require.NoError(t, err)
	require.Len(t, out, len(flat))
	for _, v := range out {
		assert.InDelta(t, 3, v, 1e-4)
	}

	spike := make([]float32, 31*31)
	spike[15*31+15] = 1
	out, err = GaussianBlur(spike, 31, 31, 2)
	require.NoError(t, err)
	assert.Less(t, out[15*31+15], float32(1))
	assert.Greater(t, out[15*31+15], out[15*31+18])
}
