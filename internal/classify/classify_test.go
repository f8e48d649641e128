package classify

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

type fakeNet struct {
	got    *model.Tensor
	logits []float32
}

func (f *fakeNet) Predict(inputs ...model.Input) ([]*model.Tensor, error) {
	f.got = inputs[0].(*model.Tensor)
	return []*model.Tensor{model.NewTensor(f.logits, 1, int64(len(f.logits)))}, nil
}

func TestSoftmax(t *testing.T) {
	t.Parallel()

	p := Softmax([]float32{1, 1, 1, 1})
	for _, v := range p {
		assert.InDelta(t, 0.25, v, 1e-6)
	}

	p = Softmax([]float32{1000, 0})
	assert.InDelta(t, 1, p[0], 1e-6)
	assert.InDelta(t, 0, p[1], 1e-6)
}

func TestTopK(t *testing.T) {
	t.Parallel()

	preds := TopK([]float32{0.1, 0.5, 0.2, 0.15, 0.05}, 3, []string{"a", "b", "c"})
	require.Len(t, preds, 3)
	assert.Equal(t, Prediction{Index: 1, Label: "b", Prob: 0.5}, preds[0])
	assert.Equal(t, "c", preds[1].Label)
	assert.Equal(t, "3", preds[2].Label)
}

func TestClassifier_Classify(t *testing.T) {
	t.Parallel()

	net := &fakeNet{logits: []float32{0, 5, 1, 2, 0, 0}}
	c := New(net, []string{"cat", "dog"})

	preds, err := c.Classify(image.NewRGBA(image.Rect(0, 0, 300, 400)))
	require.NoError(t, err)
	require.Len(t, preds, 5)
	assert.Equal(t, "dog", preds[0].Label)
	assert.Equal(t, []int64{1, 3, 224, 224}, net.got.Shape)

	resp := Response(preds)
	assert.Equal(t, "dog", resp.Class)
	assert.Equal(t, preds[0].Prob, resp.Confidence)
	assert.Len(t, resp.Predictions, 5)
}

func TestLoadLabels(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("tench\ngoldfish \n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tench", "goldfish"}, labels)

	labels, err = LoadLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
