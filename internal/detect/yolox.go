package detect

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// YOLOXModels maps the published variants to their square input size.
var YOLOXModels = map[string]int{
	"yolox_nano":    416,
	"yolox_tiny":    416,
	"yolox_s":       640,
	"yolox_m":       640,
	"yolox_l":       640,
	"yolox_darknet": 640,
	"yolox_x":       640,
}

var yoloxStrides = []int{8, 16, 32}

// padValue fills the area the resized image does not cover.
var padValue = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// YOLOX runs an anchor-free YOLOX network.
type YOLOX struct {
	Net           model.Predictor
	Width, Height int
	NMS           float32
	Score         float32
}

func NewYOLOX(net model.Predictor, w, h int) *YOLOX {
	return &YOLOX{Net: net, Width: w, Height: h, NMS: 0.45, Score: 0.8}
}

func (d *YOLOX) Detect(img image.Image) ([]Object, error) {
	in, ratio := imageutil.PadResize(img, d.Width, d.Height, padValue)
	x := model.NewTensor(imageutil.ToCHW(in, imageutil.NormNone, imageutil.BGR), 1, 3, int64(d.Height), int64(d.Width))

	out, err := d.Net.Predict(x)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("yolox: no output")
	}
	b := img.Bounds()
	return DecodeYOLOX(out[0], d.Width, d.Height, float32(ratio), b.Dx(), b.Dy(), d.NMS, d.Score)
}

// DecodeYOLOX decodes raw predictions [1, N, 5+C] laid out over the stride
// 8, 16 and 32 grids of a w×h input. Boxes are scaled back by ratio and
// normalized by the imgW×imgH source size.
func DecodeYOLOX(pred *model.Tensor, w, h int, ratio float32, imgW, imgH int, nmsThresh, scoreThresh float32) ([]Object, error) {
	if len(pred.Shape) != 3 || pred.Shape[2] < 6 {
		return nil, fmt.Errorf("yolox: unexpected output shape %v", pred.Shape)
	}
	stride := int(pred.Shape[2])
	classes := stride - 5

	type cell struct{ gx, gy, s float32 }
	var grid []cell
	for _, s := range yoloxStrides {
		gw, gh := w/s, h/s
		for gy := 0; gy < gh; gy++ {
			for gx := 0; gx < gw; gx++ {
				grid = append(grid, cell{float32(gx), float32(gy), float32(s)})
			}
		}
	}
	if len(grid) != int(pred.Shape[1]) {
		return nil, fmt.Errorf("yolox: %d predictions do not match a %dx%d grid of %d cells", pred.Shape[1], w, h, len(grid))
	}

	var candidates []box
	for i, g := range grid {
		row := pred.Data[i*stride : (i+1)*stride]
		cx := (row[0] + g.gx) * g.s
		cy := (row[1] + g.gy) * g.s
		bw := math32.Exp(row[2]) * g.s
		bh := math32.Exp(row[3]) * g.s
		x1, y1 := (cx-bw/2)/ratio, (cy-bh/2)/ratio
		x2, y2 := (cx+bw/2)/ratio, (cy+bh/2)/ratio
		for c := 0; c < classes; c++ {
			score := row[4] * row[5+c]
			if score > scoreThresh {
				candidates = append(candidates, box{x1: x1, y1: y1, x2: x2, y2: y2, score: score, category: c})
			}
		}
	}

	kept := multiclassNMS(candidates, nmsThresh)
	fw, fh := float32(imgW), float32(imgH)
	objs := make([]Object, len(kept))
	for i, b := range kept {
		objs[i] = Object{
			Category: b.category,
			Prob:     b.score,
			X:        b.x1 / fw,
			Y:        b.y1 / fh,
			W:        (b.x2 - b.x1) / fw,
			H:        (b.y2 - b.y1) / fh,
		}
	}
	return objs, nil
}
