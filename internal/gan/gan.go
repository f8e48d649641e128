// Package gan removes glasses from faces with Council-GAN.
package gan

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

const Size = 128

// FaceLocator finds faces to transform individually.
type FaceLocator interface {
	Detect(img image.Image) ([]face.Face, error)
}

// Remover runs the generator on whole frames or, with a Locator, on every
// face found in them.
type Remover struct {
	Net     model.Predictor
	Locator FaceLocator
	// Dilation scales the square cut around each face.
	Dilation float64
}

func New(net model.Predictor, locator FaceLocator, dilation float64) *Remover {
	return &Remover{Net: net, Locator: locator, Dilation: dilation}
}

// Preprocess center crops img to a square, resizes it to Size and maps
// pixels to [-1, 1].
func Preprocess(img image.Image) *model.Tensor {
	sq := imageutil.Resize(imageutil.CenterCropSquare(img), Size, Size)
	return model.NewTensor(imageutil.ToCHW(sq, imageutil.Norm127, imageutil.RGB), 1, 3, Size, Size)
}

// Postprocess stretches the generator output to the full 0..255 range.
func Postprocess(out *model.Tensor) (*image.RGBA, error) {
	if len(out.Shape) != 4 || out.Shape[1] != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", out.Shape)
	}
	data := out.Item(0)
	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	w, h := int(out.Shape[3]), int(out.Shape[2])
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	plane := w * h
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			v := float32(0)
			if hi > lo {
				v = (data[c*plane+i] - lo) / (hi - lo) * 255
			}
			img.Pix[i*4+c] = imageutil.ToByte(v + 0.5)
		}
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// Transform runs the generator on the centered square of img.
func (r *Remover) Transform(img image.Image) (*image.RGBA, error) {
	slog.Debug("Start inference...")
	out, err := r.Net.Predict(Preprocess(img))
	if err != nil {
		return nil, err
	}
	return Postprocess(out[0])
}

// Process transforms a frame. Without a locator the result is the
// generator output for the centered square; with one every face is
// transformed and pasted back into a copy of the frame.
func (r *Remover) Process(img image.Image) (*image.RGBA, error) {
	if r.Locator == nil {
		return r.Transform(img)
	}
	faces, err := r.Locator.Detect(img)
	if err != nil {
		return nil, err
	}
	out := imageutil.Crop(img, img.Bounds())
	bounds := out.Rect
	for _, f := range faces {
		sq := SquareRect(f.Rect(), r.Dilation)
		// Parts of the square outside the frame are fed as black.
		res, err := r.Transform(imageutil.Crop(img, sq.Add(img.Bounds().Min)))
		if err != nil {
			return nil, err
		}
		res = imageutil.Resize(res, sq.Dx(), sq.Dy())
		visible := sq.Intersect(bounds)
		if visible.Empty() {
			continue
		}
		imageutil.Paste(out, imageutil.Crop(res, visible.Sub(sq.Min)), visible.Min)
	}
	return out, nil
}

// SquareRect grows r into a square with the same center whose side is the
// longer side of r times dilation.
func SquareRect(r image.Rectangle, dilation float64) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	size := int(float64(max(w, h)) * dilation)
	growW := size - w
	growH := size - h
	return image.Rect(r.Min.X-growW/2, r.Min.Y-growH/2, r.Max.X+growW-growW/2, r.Max.Y+growH-growH/2)
}
