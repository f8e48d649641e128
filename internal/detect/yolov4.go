package detect

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// YOLOv4SizeChoices are the input sizes weights are published for.
var YOLOv4SizeChoices = []int{416, 640, 1280}

// YOLOv4Weight names the weight file for a w×h input.
func YOLOv4Weight(w, h int) string {
	if w == YOLOv4SizeChoices[0] && h == YOLOv4SizeChoices[0] {
		return "yolov4.onnx"
	}
	return fmt.Sprintf("yolov4_%d_%d.onnx", w, h)
}

// ValidYOLOv4Size reports whether weights exist for size.
func ValidYOLOv4Size(size int) bool {
	for _, s := range YOLOv4SizeChoices {
		if s == size {
			return true
		}
	}
	return false
}

// YOLOv4 runs a YOLOv4 network that emits corner boxes and per class
// confidences.
type YOLOv4 struct {
	Net           model.Predictor
	Width, Height int
	Threshold     float32
	IoU           float32
	// Letterbox pads frames to the input aspect instead of stretching them.
	Letterbox bool
}

func NewYOLOv4(net model.Predictor, w, h int) *YOLOv4 {
	return &YOLOv4{Net: net, Width: w, Height: h, Threshold: 0.4, IoU: 0.45}
}

func (d *YOLOv4) Detect(img image.Image) ([]Object, error) {
	var in *image.RGBA
	if d.Letterbox {
		in = imageutil.Letterbox(img, d.Width, d.Height)
	} else {
		in = imageutil.Resize(img, d.Width, d.Height)
	}
	x := model.NewTensor(imageutil.ToCHW(in, imageutil.Norm255, imageutil.RGB), 1, 3, int64(d.Height), int64(d.Width))

	out, err := d.Net.Predict(x)
	if err != nil {
		return nil, err
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("yolov4: expected boxes and confidences, got %d outputs", len(out))
	}
	objs, err := DecodeYOLOv4(out[0], out[1], d.Threshold, d.IoU)
	if err != nil {
		return nil, err
	}
	if d.Letterbox {
		b := img.Bounds()
		objs = ReverseLetterbox(objs, b.Dx(), b.Dy(), d.Width, d.Height)
	}
	return objs, nil
}

// DecodeYOLOv4 turns boxes [1, N, 1, 4] (normalized x1 y1 x2 y2) and confs
// [1, N, C] into objects. Each box keeps only its best class, and NMS runs
// per class.
func DecodeYOLOv4(boxes, confs *model.Tensor, threshold, iouThresh float32) ([]Object, error) {
	if len(boxes.Shape) != 4 || boxes.Shape[3] != 4 || len(confs.Shape) != 3 {
		return nil, fmt.Errorf("yolov4: unexpected output shapes %v and %v", boxes.Shape, confs.Shape)
	}
	n := int(boxes.Shape[1])
	classes := int(confs.Shape[2])
	if int(confs.Shape[1]) != n {
		return nil, fmt.Errorf("yolov4: %d boxes but %d confidence rows", n, confs.Shape[1])
	}

	var candidates []box
	for i := 0; i < n; i++ {
		row := confs.Data[i*classes : (i+1)*classes]
		best := 0
		for c := 1; c < classes; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if row[best] <= threshold {
			continue
		}
		b := boxes.Data[i*4 : i*4+4]
		candidates = append(candidates, box{x1: b[0], y1: b[1], x2: b[2], y2: b[3], score: row[best], category: best})
	}

	kept := multiclassNMS(candidates, iouThresh)
	objs := make([]Object, len(kept))
	for i, b := range kept {
		objs[i] = Object{Category: b.category, Prob: b.score, X: b.x1, Y: b.y1, W: b.x2 - b.x1, H: b.y2 - b.y1}
	}
	return objs, nil
}
