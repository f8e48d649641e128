package anomaly

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

func TestChannelIndex(t *testing.T) {
	t.Parallel()

	a := ChannelIndex(448, 100, 1024)
	b := ChannelIndex(448, 100, 1024)
	assert.Equal(t, a, b)
	assert.Len(t, a, 100)

	seen := map[int]bool{}
	for _, c := range a {
		assert.False(t, seen[c])
		assert.True(t, c >= 0 && c < 448)
		seen[c] = true
	}
	assert.NotEqual(t, a, ChannelIndex(448, 100, 7))
}

func TestLookupArch(t *testing.T) {
	t.Parallel()

	a, err := LookupArch("wide_resnet50_2")
	require.NoError(t, err)
	assert.Equal(t, 550, a.Dim)

	_, err = LookupArch("vgg")
	assert.ErrorIs(t, err, ErrUnknownArch)
}

func TestConcat(t *testing.T) {
	t.Parallel()

	l1 := model.NewTensor([]float32{
		1, 2,
		3, 4,
	}, 1, 1, 2, 2)
	l2 := model.NewTensor([]float32{9, 8}, 1, 2, 1, 1)

	e, err := Concat([]*model.Tensor{l1, l2}, []int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, e.D)
	assert.Equal(t, []float32{8, 8, 8, 8, 1, 2, 3, 4}, e.Data)
	assert.Equal(t, float32(3), e.At(1, 2))

	_, err = Concat([]*model.Tensor{l1, l2}, []int{3})
	assert.Error(t, err)
}

func TestConcat_Indivisible(t *testing.T) {
	t.Parallel()

	l1 := model.Zeros(1, 1, 3, 3)
	l2 := model.Zeros(1, 1, 2, 2)
	_, err := Concat([]*model.Tensor{l1, l2}, []int{0})
	assert.Error(t, err)
}

func embedding(vals ...float32) *Embedding {
	// Two channels at a single position.
	return &Embedding{D: 2, H: 1, W: 1, Data: vals}
}

func TestFitAndDistance(t *testing.T) {
	t.Parallel()

	embs := []*Embedding{
		embedding(1, 0),
		embedding(-1, 0),
		embedding(0, 1),
		embedding(0, -1),
	}
	dist, err := Fit("resnet18", []int{0, 1}, embs, false)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, dist.Mean)

	// Sample variance is 2/3 on each axis, plus the diagonal epsilon.
	v := 2.0/3 + covarianceEpsilon
	assert.InDelta(t, 1/v, dist.CovInv[0], 1e-5)
	assert.InDelta(t, 0, dist.CovInv[1], 1e-5)

	d, err := dist.Distance(embedding(2, 0))
	require.NoError(t, err)
	assert.InDelta(t, 2/math.Sqrt(v), d[0], 1e-4)

	_, err = dist.Distance(&Embedding{D: 3, H: 1, W: 1, Data: make([]float32, 3)})
	assert.Error(t, err)
}

func TestFit_TooFewImages(t *testing.T) {
	t.Parallel()

	_, err := Fit("resnet18", nil, []*Embedding{embedding(1, 1)}, false)
	assert.Error(t, err)
}

func TestDistribution_SaveLoad(t *testing.T) {
	t.Parallel()

	dist := &Distribution{
		Arch: "resnet18", Index: []int{3, 1}, D: 2, H: 1, W: 1,
		Mean: []float32{1, 2}, CovInv: []float32{1, 0, 0, 1},
	}
	path := filepath.Join(t.TempDir(), "train.gob")
	require.NoError(t, dist.Save(path))

	got, err := LoadDistribution(path)
	require.NoError(t, err)
	assert.Equal(t, dist, got)
}

type constNet struct{ layers []*model.Tensor }

func (n constNet) Predict(...model.Input) ([]*model.Tensor, error) { return n.layers, nil }

func TestExtractor_EmbedImage(t *testing.T) {
	t.Parallel()

	net := constNet{layers: []*model.Tensor{model.Zeros(1, 4, 56, 56), model.Zeros(1, 8, 28, 28)}}
	ex := NewExtractor(net, []int{0, 5, 11})
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	emb, crop, err := ex.EmbedImage(img)
	require.NoError(t, err)
	assert.Equal(t, 3, emb.D)
	assert.Equal(t, 56, emb.H)
	assert.Equal(t, image.Rect(0, 0, ImageSize, ImageSize), crop.Rect)
}
