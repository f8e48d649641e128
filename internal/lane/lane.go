// Package lane detects road lanes with PolyLaneNet, which regresses every
// lane as a cubic polynomial of the normalized image row.
package lane

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/vision"
)

const (
	Width  = 640
	Height = 360

	laneValues   = 7
	curvePoints  = 100
	overlayAlpha = 0.6
)

// ErrInvalidShape is returned for frames that do not scale to Width×Height.
var ErrInvalidShape = errors.New("invalid image shape")

// Lane is one predicted lane. Lower and Upper bound the rows it spans, as
// fractions of the image height; Coeffs map a row to a column, highest
// degree first.
type Lane struct {
	Score        float32
	Lower, Upper float32
	Coeffs       [4]float32
}

// Detector runs PolyLaneNet.
type Detector struct {
	Net       model.Predictor
	Threshold float32
}

func NewDetector(net model.Predictor) *Detector {
	return &Detector{Net: net, Threshold: 0.5}
}

// CheckShape rejects frames whose aspect ratio differs from the network's.
func CheckShape(w, h int) error {
	rate := float64(Height) / float64(h)
	if int(float64(h)*rate) != Height || int(float64(w)*rate) != Width {
		return fmt.Errorf("%w: %dx%d does not scale to %dx%d", ErrInvalidShape, w, h, Width, Height)
	}
	return nil
}

// Detect returns the lanes of img together with the Width×Height frame
// they refer to.
func (d *Detector) Detect(img image.Image) ([]Lane, *image.RGBA, error) {
	b := img.Bounds()
	if err := CheckShape(b.Dx(), b.Dy()); err != nil {
		return nil, nil, err
	}
	frame := imageutil.Resize(img, Width, Height)
	x := model.NewTensor(imageutil.ToCHW(frame, imageutil.Norm255, imageutil.BGR), 1, 3, Height, Width)
	out, err := d.Net.Predict(x)
	if err != nil {
		return nil, nil, err
	}
	lanes, err := Decode(out[0].Item(0), d.Threshold)
	return lanes, frame, err
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// Decode splits the raw output into lanes and keeps those whose score
// passes threshold.
func Decode(raw []float32, threshold float32) ([]Lane, error) {
	if len(raw)%laneValues != 0 {
		return nil, fmt.Errorf("output of %d values is not a multiple of %d", len(raw), laneValues)
	}
	var lanes []Lane
	for i := 0; i < len(raw); i += laneValues {
		v := raw[i : i+laneValues]
		score := sigmoid(v[0])
		if score < threshold {
			continue
		}
		lanes = append(lanes, Lane{
			Score:  score,
			Lower:  v[1],
			Upper:  v[2],
			Coeffs: [4]float32{v[3], v[4], v[5], v[6]},
		})
	}
	return lanes, nil
}

// Eval evaluates the lane polynomial at row y.
func (l Lane) Eval(y float64) float64 {
	var x float64
	for _, c := range l.Coeffs {
		x = x*y + float64(c)
	}
	return x
}

// Points samples the lane between its bounds on a w×h image, dropping
// points that fall outside the image horizontally.
func (l Lane) Points(w, h int) []image.Point {
	var pts []image.Point
	lo, hi := float64(l.Lower), float64(l.Upper)
	for i := 0; i < curvePoints; i++ {
		y := lo + (hi-lo)*float64(i)/float64(curvePoints-1)
		p := image.Pt(int(l.Eval(y)*float64(w)), int(y*float64(h)))
		if p.X > 0 && p.X < w {
			pts = append(pts, p)
		}
	}
	return pts
}

// Draw overlays every lane on img in green, labelled with its index.
func Draw(img image.Image, lanes []Lane) (*image.RGBA, error) {
	b := img.Bounds()
	lines := make([]vision.Polyline, len(lanes))
	for i, l := range lanes {
		lines[i] = vision.Polyline{Points: l.Points(b.Dx(), b.Dy()), Label: fmt.Sprint(i)}
	}
	return vision.DrawPolylines(img, lines, vision.Green, overlayAlpha)
}
