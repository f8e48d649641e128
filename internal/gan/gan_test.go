package gan

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

func TestSquareRect(t *testing.T) {
	t.Parallel()

	assert.Equal(t, image.Rect(10, 0, 50, 40), SquareRect(image.Rect(20, 0, 40, 40), 1))
	assert.Equal(t, image.Rect(0, -10, 40, 30), SquareRect(image.Rect(0, 0, 40, 20), 1))

	r := SquareRect(image.Rect(0, 0, 40, 20), 1.5)
	assert.Equal(t, 60, r.Dx())
	assert.Equal(t, 60, r.Dy())
}

func TestPreprocess(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	x := Preprocess(img)
	assert.Equal(t, []int64{1, 3, Size, Size}, x.Shape)
	assert.Equal(t, float32(-1), x.Data[0])
}

func TestPostprocess(t *testing.T) {
	t.Parallel()

	out := model.NewTensor([]float32{
		-1, 1, // R
		0, 0, // G
		0.5, -1, // B
	}, 1, 3, 1, 2)
	img, err := Postprocess(out)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0, G: 128, B: 191, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, G: 128, B: 0, A: 255}, img.RGBAAt(1, 0))

	_, err = Postprocess(model.Zeros(1, 1, 2, 2))
	assert.Error(t, err)
}

// whiteNet returns a constant gradient so the stretched output is white
// on the right half.
type whiteNet struct{ calls int }

func (n *whiteNet) Predict(...model.Input) ([]*model.Tensor, error) {
	n.calls++
	data := make([]float32, 3*Size*Size)
	for c := 0; c < 3; c++ {
		for i := 0; i < Size*Size; i++ {
			if i%Size >= Size/2 {
				data[c*Size*Size+i] = 1
			}
		}
	}
	return []*model.Tensor{model.NewTensor(data, 1, 3, Size, Size)}, nil
}

type fixedLocator []face.Face

func (l fixedLocator) Detect(image.Image) ([]face.Face, error) { return l, nil }

func TestProcess_WholeFrame(t *testing.T) {
	t.Parallel()

	net := &whiteNet{}
	out, err := New(net, nil, 1).Process(image.NewRGBA(image.Rect(0, 0, 64, 48)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, Size, Size), out.Rect)
	assert.Equal(t, 1, net.calls)
}

func TestProcess_Faces(t *testing.T) {
	t.Parallel()

	net := &whiteNet{}
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	loc := fixedLocator{{X1: 20, Y1: 20, X2: 60, Y2: 60}, {X1: 90, Y1: 90, X2: 120, Y2: 120}}

	out, err := New(net, loc, 1).Process(src)
	require.NoError(t, err)
	assert.Equal(t, src.Rect, out.Rect)
	assert.Equal(t, 2, net.calls)

	// The right half of the first face turns white, the rest stays black.
	assert.Equal(t, uint8(255), out.RGBAAt(55, 40).R)
	assert.Equal(t, uint8(0), out.RGBAAt(25, 40).R)
	assert.Equal(t, uint8(0), out.RGBAAt(10, 10).R)
	// The source frame is left untouched.
	assert.Equal(t, uint8(0), src.RGBAAt(55, 40).R)
}
