// Package interp synthesizes intermediate video frames with CAIN.
package interp

import (
	"errors"
	"fmt"
	"image"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// Video frames are resized to this size before interpolation.
const (
	VideoWidth  = 448
	VideoHeight = 256
)

// ErrSizeMismatch is returned when the two frames differ in size.
var ErrSizeMismatch = errors.New("frames differ in size")

// Interpolator predicts the frame halfway between two frames.
type Interpolator struct {
	Net model.Predictor
}

func New(net model.Predictor) *Interpolator {
	return &Interpolator{Net: net}
}

func toInput(img image.Image) *model.Tensor {
	b := img.Bounds()
	return model.NewTensor(imageutil.ToCHW(img, imageutil.Norm255, imageutil.RGB), 1, 3, int64(b.Dy()), int64(b.Dx()))
}

// Interpolate returns the middle frame of a and b.
func (in *Interpolator) Interpolate(a, b image.Image) (*image.RGBA, error) {
	if a.Bounds().Size() != b.Bounds().Size() {
		return nil, fmt.Errorf("%w: %v and %v", ErrSizeMismatch, a.Bounds().Size(), b.Bounds().Size())
	}
	out, err := in.Net.Predict(toInput(a), toInput(b))
	if err != nil {
		return nil, err
	}
	y := out[0]
	if len(y.Shape) != 4 || y.Shape[1] != 3 {
		return nil, fmt.Errorf("cain: unexpected output shape %v", y.Shape)
	}
	return imageutil.FromCHW(y.Item(0), int(y.Shape[3]), int(y.Shape[2]), imageutil.RGB), nil
}

// Window keeps the two most recent frames of a stream.
type Window struct {
	frames []image.Image
}

// Push adds a frame and reports the previous and current frames once two
// have been seen.
func (w *Window) Push(frame image.Image) (prev, cur image.Image, ok bool) {
	w.frames = append(w.frames, frame)
	if len(w.frames) > 2 {
		w.frames = w.frames[1:]
	}
	if len(w.frames) < 2 {
		return nil, nil, false
	}
	return w.frames[0], w.frames[1], true
}

// Triplet stacks the first frame, the interpolated frame and the second
// frame vertically for preview.
func Triplet(prev, mid, cur image.Image) *image.RGBA {
	return imageutil.Vconcat(prev, mid, cur)
}
