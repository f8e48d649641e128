package anomaly

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/vision"
)

const titleHeight = 28

// Result is everything plotted for one test image.
type Result struct {
	Path  string
	Crop  *image.RGBA
	Score float32
	// Map is the normalized score map and Truth the ground truth, if any.
	Map   []float32
	Truth []bool
}

// Figure lays out image, ground truth, heat map, predicted mask and the
// segmentation boundary side by side under a title.
func Figure(r Result, threshold float32) (*image.RGBA, error) {
	truth := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	for i, v := range r.Truth {
		if v {
			truth.Pix[i] = 255
		}
	}

	heat := imageutil.FromGray(scale255(r.Map), ImageSize, ImageSize)
	jet, err := vision.JetColormap(heat)
	if err != nil {
		return nil, err
	}
	overlay, err := vision.Blend(r.Crop, jet, 0.5)
	if err != nil {
		return nil, err
	}

	mask, err := Segment(r.Map, threshold)
	if err != nil {
		return nil, err
	}
	boundary, err := vision.MarkBoundaries(r.Crop, mask, vision.Red)
	if err != nil {
		return nil, err
	}

	panels := imageutil.Hconcat(r.Crop, truth, overlay, mask, boundary)
	title := image.NewRGBA(image.Rect(0, 0, panels.Rect.Dx(), titleHeight))
	for i := range title.Pix {
		title.Pix[i] = 255
	}
	text := fmt.Sprintf("Input : %s  Anomaly score : %f", r.Path, r.Score)
	title, err = vision.PutText(title, text, image.Pt(8, titleHeight-9), 0.5, vision.Black)
	if err != nil {
		return nil, err
	}
	return imageutil.Vconcat(title, panels), nil
}

func scale255(m []float32) []float32 {
	out := make([]float32, len(m))
	for i, v := range m {
		out[i] = v * 255
	}
	return out
}
