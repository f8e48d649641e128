package detect

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
	got []model.Input
	out []*model.Tensor
}

func (f *fakeNet) Predict(inputs ...model.Input) ([]*model.Tensor, error) {
	f.got = inputs
	return f.out, nil
}

func TestNMS_SuppressesOverlaps(t *testing.T) {
	t.Parallel()

	boxes := []box{
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.8},
		{x1: 1, y1: 1, x2: 10, y2: 10, score: 0.9},
		{x1: 20, y1: 20, x2: 30, y2: 30, score: 0.5},
	}
	kept := nms(boxes, 0.45)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].score)
	assert.Equal(t, float32(0.5), kept[1].score)
}

func TestMulticlassNMS_KeepsOtherClasses(t *testing.T) {
	t.Parallel()

	boxes := []box{
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.8, category: 1},
		{x1: 0, y1: 0, x2: 10, y2: 10, score: 0.9, category: 0},
	}
	kept := multiclassNMS(boxes, 0.45)
	require.Len(t, kept, 2)
	assert.Equal(t, 0, kept[0].category)
	assert.Equal(t, 1, kept[1].category)
}

func TestDecodeYOLOv4(t *testing.T) {
	t.Parallel()

	boxes := model.NewTensor([]float32{
		0.1, 0.1, 0.5, 0.5,
		0.12, 0.1, 0.5, 0.52,
		0.6, 0.6, 0.9, 0.8,
	}, 1, 3, 1, 4)
	confs := model.NewTensor([]float32{
		0.9, 0.1,
		0.7, 0.2,
		0.1, 0.3,
	}, 1, 3, 2)

	objs, err := DecodeYOLOv4(boxes, confs, 0.4, 0.45)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, 0, objs[0].Category)
	assert.InDelta(t, 0.9, objs[0].Prob, 1e-6)
	assert.InDelta(t, 0.1, objs[0].X, 1e-6)
	assert.InDelta(t, 0.4, objs[0].W, 1e-6)
}

func TestDecodeYOLOv4_BadShape(t *testing.T) {
	t.Parallel()

	_, err := DecodeYOLOv4(model.Zeros(1, 3, 4), model.Zeros(1, 3, 2), 0.4, 0.45)
	assert.Error(t, err)
}

func TestYOLOv4Weight(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "yolov4.onnx", YOLOv4Weight(416, 416))
	assert.Equal(t, "yolov4_640_416.onnx", YOLOv4Weight(640, 416))
	assert.True(t, ValidYOLOv4Size(1280))
	assert.False(t, ValidYOLOv4Size(512))
}

func TestYOLOv4_Detect(t *testing.T) {
	t.Parallel()

	net := &fakeNet{out: []*model.Tensor{
		model.NewTensor([]float32{0.25, 0.25, 0.75, 0.75}, 1, 1, 1, 4),
		model.NewTensor([]float32{0.95}, 1, 1, 1),
	}}
	d := NewYOLOv4(net, 32, 32)
	objs, err := d.Detect(image.NewRGBA(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)
	require.Len(t, objs, 1)

	in, ok := net.got[0].(*model.Tensor)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 3, 32, 32}, in.Shape)
}

func TestDecodeYOLOX(t *testing.T) {
	t.Parallel()

	// 32×32 input: 16 cells at stride 8, 4 at 16 and 1 at 32.
	const cells, stride = 21, 7
	data := make([]float32, cells*stride)
	set := func(i int, v ...float32) { copy(data[i*stride:], v) }
	// Cell (1, 1) at stride 8 decodes to an 8×8 box centered at (12, 12).
	set(5, 0.5, 0.5, 0, 0, 0.9, 0, 1)
	// Same box from cell (2, 1), weaker, same class.
	set(6, -0.5, 0.5, 0, 0, 0.85, 0, 1)
	// Same box from cell (0, 0), other class.
	set(0, 1.5, 1.5, 0, 0, 0.95, 1, 0)

	objs, err := DecodeYOLOX(model.NewTensor(data, 1, cells, stride), 32, 32, 1, 32, 32, 0.45, 0.8)
	require.NoError(t, err)
	require.Len(t, objs, 2)

	assert.Equal(t, 0, objs[0].Category)
	assert.InDelta(t, 0.95, objs[0].Prob, 1e-6)
	assert.Equal(t, 1, objs[1].Category)
	assert.InDelta(t, 0.9, objs[1].Prob, 1e-6)
	assert.InDelta(t, 0.25, objs[1].X, 1e-6)
	assert.InDelta(t, 0.25, objs[1].Y, 1e-6)
	assert.InDelta(t, 0.25, objs[1].W, 1e-6)
}

func TestDecodeYOLOX_GridMismatch(t *testing.T) {
	t.Parallel()

	_, err := DecodeYOLOX(model.Zeros(1, 20, 7), 32, 32, 1, 32, 32, 0.45, 0.8)
	assert.Error(t, err)
}

func TestReverseLetterbox(t *testing.T) {
	t.Parallel()

	objs := []Object{{X: 0.1, Y: 0.25, W: 0.5, H: 0.5}}

	same := ReverseLetterbox(objs, 100, 100, 50, 50)
	assert.InDelta(t, 0.1, same[0].X, 1e-6)
	assert.InDelta(t, 0.25, same[0].Y, 1e-6)
	assert.InDelta(t, 0.5, same[0].W, 1e-6)

	// A 200×100 frame letterboxed into 100×100 leaves 25 rows of padding
	// above and below.
	got := ReverseLetterbox(objs, 200, 100, 100, 100)
	assert.InDelta(t, 0.1, got[0].X, 1e-6)
	assert.InDelta(t, 0, got[0].Y, 1e-6)
	assert.InDelta(t, 1, got[0].H, 1e-6)
}

func TestWritePredictions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.txt")
	objs := []Object{{Category: 9, Prob: 0.5, X: 0.1, Y: 0.2, W: 0.3, H: 0.4}}
	require.NoError(t, WritePredictions(path, objs, 100, 50, COCOCategories))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "traffic_light 0.500000 10 10 30 20\n", string(b))
}

func TestObjectRect(t *testing.T) {
	t.Parallel()

	o := Object{X: 0.5, Y: 0.25, W: 0.25, H: 0.5}
	assert.Equal(t, image.Rect(50, 25, 75, 75), o.Rect(100, 100))
}
