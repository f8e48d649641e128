package faceswap

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

type fakeNet struct {
	got []model.Input
	fn  func(in []model.Input) []*model.Tensor
}

func (f *fakeNet) Predict(inputs ...model.Input) ([]*model.Tensor, error) {
	f.got = inputs
	return f.fn(inputs), nil
}

func TestHalveAlignCorners(t *testing.T) {
	t.Parallel()

	src := []float32{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
		12, 13, 14, 15,
	}
	out := HalveAlignCorners(src, 4, 4)
	assert.Equal(t, []float32{0, 3, 12, 15}, out)
}

func TestSwapper_Embed(t *testing.T) {
	t.Parallel()

	backbone := &fakeNet{fn: func([]model.Input) []*model.Tensor {
		return []*model.Tensor{model.Zeros(1, 512)}
	}}
	s := New(nil, backbone, nil)

	emb, err := s.Embed(image.NewRGBA(image.Rect(0, 0, CropSize, CropSize)))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 512}, emb.Shape)

	in := backbone.got[0].(*model.Tensor)
	assert.Equal(t, []int64{1, 3, 112, 112}, in.Shape)
	assert.InDelta(t, -1, in.Data[0], 1e-6)
}

func TestSwapper_Generate(t *testing.T) {
	t.Parallel()

	gen := &fakeNet{fn: func([]model.Input) []*model.Tensor {
		data := make([]float32, 3*GeneratorSize*GeneratorSize)
		for i := range data {
			data[i] = 1
		}
		return []*model.Tensor{model.NewTensor(data, 1, 3, GeneratorSize, GeneratorSize)}
	}}
	s := New(nil, nil, gen)

	out, err := s.Generate(image.NewRGBA(image.Rect(0, 0, CropSize, CropSize)), &Embedding{Tensor: model.Zeros(1, 512)})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, CropSize, CropSize), out.Rect)
	assert.Equal(t, uint8(255), out.RGBAAt(100, 100).G)

	require.Len(t, gen.got, 2)
	_, half := gen.got[0].(*model.Float16Tensor)
	assert.True(t, half)
	_, half = gen.got[1].(*model.Float16Tensor)
	assert.True(t, half)
}

func TestSwapper_NoFace(t *testing.T) {
	t.Parallel()

	det := face.NewDetector(&fakeNet{fn: func([]model.Input) []*model.Tensor {
		var out []*model.Tensor
		for _, n := range []int64{32, 8, 2} {
			out = append(out, model.Zeros(n, 1))
		}
		for _, n := range []int64{32, 8, 2} {
			out = append(out, model.Zeros(n, 4))
		}
		for _, n := range []int64{32, 8, 2} {
			out = append(out, model.Zeros(n, 10))
		}
		return out
	}})
	det.Size = 32
	s := New(det, nil, nil)

	_, err := s.Source(image.NewRGBA(image.Rect(0, 0, 40, 40)))
	assert.ErrorIs(t, err, face.ErrNoFace)
}
