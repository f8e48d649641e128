// Package face detects faces with SCRFD, aligns them to the ArcFace template
// and compares ArcFace embeddings.
package face

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/chewxy/math32"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// ErrNoFace is returned when an image that must contain a face has none.
var ErrNoFace = errors.New("no face detected")

// Face is a detection in source image pixels.
type Face struct {
	X1, Y1, X2, Y2 float32
	Score          float32
	// Keypoints are the eyes, the nose tip and the mouth corners.
	Keypoints [5][2]float32
}

// Rect is the integer bounding box.
func (f Face) Rect() image.Rectangle {
	return image.Rect(int(f.X1), int(f.Y1), int(f.X2), int(f.Y2))
}

func (f Face) area() float32 { return (f.X2 - f.X1) * (f.Y2 - f.Y1) }

var scrfdStrides = []int{8, 16, 32}

const scrfdAnchors = 2

// Detector runs an SCRFD model with keypoint heads.
type Detector struct {
	Net       model.Predictor
	Size      int
	Threshold float32
	NMS       float32
}

func NewDetector(net model.Predictor) *Detector {
	return &Detector{Net: net, Size: 640, Threshold: 0.4, NMS: 0.45}
}

// Detect returns faces sorted by descending score.
func (d *Detector) Detect(img image.Image) ([]Face, error) {
	in, scale := imageutil.PadResize(img, d.Size, d.Size, color.Black)
	data := imageutil.ToCHW(in, imageutil.NormNone, imageutil.RGB)
	for i, v := range data {
		data[i] = (v - 127.5) / 128
	}
	out, err := d.Net.Predict(model.NewTensor(data, 1, 3, int64(d.Size), int64(d.Size)))
	if err != nil {
		return nil, err
	}
	faces, err := DecodeSCRFD(out, d.Size, d.Size, d.Threshold)
	if err != nil {
		return nil, err
	}
	faces = nmsFaces(faces, d.NMS)
	s := float32(scale)
	for i := range faces {
		f := &faces[i]
		f.X1, f.Y1, f.X2, f.Y2 = f.X1/s, f.Y1/s, f.X2/s, f.Y2/s
		for k := range f.Keypoints {
			f.Keypoints[k][0] /= s
			f.Keypoints[k][1] /= s
		}
	}
	return faces, nil
}

// Best returns the highest scoring face.
func (d *Detector) Best(img image.Image) (Face, error) {
	faces, err := d.Detect(img)
	if err != nil {
		return Face{}, err
	}
	if len(faces) == 0 {
		return Face{}, ErrNoFace
	}
	return faces[0], nil
}

// DecodeSCRFD decodes the nine SCRFD outputs, ordered scores, boxes and
// keypoints for strides 8, 16 and 32, of a w×h input.
func DecodeSCRFD(out []*model.Tensor, w, h int, threshold float32) ([]Face, error) {
	n := len(scrfdStrides)
	if len(out) != 3*n {
		return nil, fmt.Errorf("scrfd: expected %d outputs, got %d", 3*n, len(out))
	}
	var faces []Face
	for si, stride := range scrfdStrides {
		gw, gh := w/stride, h/stride
		cells := gw * gh * scrfdAnchors
		scores, boxes, kps := out[si].Data, out[si+n].Data, out[si+2*n].Data
		if len(scores) != cells || len(boxes) != cells*4 || len(kps) != cells*10 {
			return nil, fmt.Errorf("scrfd: stride %d outputs do not match a %dx%d grid", stride, gw, gh)
		}
		s := float32(stride)
		for i := 0; i < cells; i++ {
			if scores[i] < threshold {
				continue
			}
			cell := i / scrfdAnchors
			cx := float32(cell%gw) * s
			cy := float32(cell/gw) * s
			b := boxes[i*4 : i*4+4]
			f := Face{
				X1:    cx - b[0]*s,
				Y1:    cy - b[1]*s,
				X2:    cx + b[2]*s,
				Y2:    cy + b[3]*s,
				Score: scores[i],
			}
			k := kps[i*10 : i*10+10]
			for j := 0; j < 5; j++ {
				f.Keypoints[j] = [2]float32{cx + k[2*j]*s, cy + k[2*j+1]*s}
			}
			faces = append(faces, f)
		}
	}
	return faces, nil
}

func faceIoU(a, b Face) float32 {
	w := math32.Max(0, math32.Min(a.X2, b.X2)-math32.Max(a.X1, b.X1))
	h := math32.Max(0, math32.Min(a.Y2, b.Y2)-math32.Max(a.Y1, b.Y1))
	inter := w * h
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func nmsFaces(faces []Face, thresh float32) []Face {
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].Score > faces[j].Score })
	var keep []Face
	for _, f := range faces {
		ok := true
		for _, k := range keep {
			if faceIoU(f, k) > thresh {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, f)
		}
	}
	return keep
}
