// Package faceswap puts the identity of a source face onto target faces with
// the SberSwap generator.
package faceswap

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

const (
	// CropSize is the aligned face crop the networks work on.
	CropSize = 224
	// GeneratorSize is the generator's input resolution.
	GeneratorSize = 256
	// featherBorder is the width of the blend ramp at the crop edges.
	featherBorder = 16
)

// Swapper holds the three networks of the pipeline.
type Swapper struct {
	Detector  *face.Detector
	Backbone  model.Predictor
	Generator model.Predictor
}

func New(detector *face.Detector, backbone, generator model.Predictor) *Swapper {
	return &Swapper{Detector: detector, Backbone: backbone, Generator: generator}
}

// Embedding is the identity vector of a source face.
type Embedding struct {
	*model.Tensor
}

// Align detects the best face in img and returns its aligned crop together
// with the transform that produced it.
func (s *Swapper) Align(img image.Image) (*image.RGBA, face.Affine, error) {
	f, err := s.Detector.Best(img)
	if err != nil {
		return nil, face.Affine{}, err
	}
	m := face.EstimateNorm(f.Keypoints, CropSize)
	return face.Warp(img, m, CropSize), m, nil
}

// Embed computes the identity embedding of an aligned crop. The crop is
// scaled to [-1, 1] and halved with corner aligned bilinear sampling to the
// backbone's 112×112 input.
func (s *Swapper) Embed(crop *image.RGBA) (*Embedding, error) {
	b := crop.Bounds()
	w, h := b.Dx(), b.Dy()
	chw := imageutil.ToCHW(crop, imageutil.Norm127, imageutil.RGB)
	hw, hh := w/2, h/2
	half := make([]float32, 0, 3*hw*hh)
	for c := 0; c < 3; c++ {
		half = append(half, HalveAlignCorners(chw[c*w*h:(c+1)*w*h], w, h)...)
	}
	out, err := s.Backbone.Predict(model.NewTensor(half, 1, 3, int64(hh), int64(hw)))
	if err != nil {
		return nil, fmt.Errorf("arcface backbone: %w", err)
	}
	return &Embedding{Tensor: out[0]}, nil
}

// Source aligns and embeds the identity to transfer.
func (s *Swapper) Source(img image.Image) (*Embedding, error) {
	crop, _, err := s.Align(img)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return s.Embed(crop)
}

// Swap replaces the best face in target with the identity of src. The
// result is a copy of target.
func (s *Swapper) Swap(target image.Image, src *Embedding) (*image.RGBA, error) {
	crop, m, err := s.Align(target)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	swapped, err := s.Generate(crop, src)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, target.Bounds().Dx(), target.Bounds().Dy()))
	imageutil.Paste(out, target, image.Point{})
	face.InverseWarp(out, swapped, m, face.FeatherMask(CropSize, CropSize, featherBorder))
	slog.Debug("face swapped", "target", target.Bounds())
	return out, nil
}

// Generate runs the generator on an aligned crop and returns the swapped
// crop at CropSize. Inputs are sent as float16.
func (s *Swapper) Generate(crop *image.RGBA, src *Embedding) (*image.RGBA, error) {
	in := imageutil.Resize(crop, GeneratorSize, GeneratorSize)
	x := model.NewTensor(imageutil.ToCHW(in, imageutil.Norm127, imageutil.RGB), 1, 3, GeneratorSize, GeneratorSize)
	out, err := s.Generator.Predict(model.Half(x), model.Half(src.Tensor))
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	y := out[0]
	if len(y.Shape) != 4 || y.Shape[1] != 3 {
		return nil, fmt.Errorf("generator: unexpected output shape %v", y.Shape)
	}
	h, w := int(y.Shape[2]), int(y.Shape[3])
	px := make([]float32, w*h*3)
	for i, v := range y.Item(0) {
		px[i] = (v + 1) / 2
	}
	return imageutil.Resize(imageutil.FromCHW(px, w, h, imageutil.RGB), CropSize, CropSize), nil
}

// HalveAlignCorners resamples a w×h plane to w/2×h/2 with bilinear
// interpolation whose corner samples coincide with the source corners.
func HalveAlignCorners(src []float32, w, h int) []float32 {
	ow, oh := w/2, h/2
	out := make([]float32, ow*oh)
	sx, sy := 0.0, 0.0
	if ow > 1 {
		sx = float64(w-1) / float64(ow-1)
	}
	if oh > 1 {
		sy = float64(h-1) / float64(oh-1)
	}
	for y := 0; y < oh; y++ {
		fy := float64(y) * sy
		y0 := min(int(fy), h-1)
		y1 := min(y0+1, h-1)
		dy := float32(fy - float64(y0))
		for x := 0; x < ow; x++ {
			fx := float64(x) * sx
			x0 := min(int(fx), w-1)
			x1 := min(x0+1, w-1)
			dx := float32(fx - float64(x0))
			top := src[y0*w+x0]*(1-dx) + src[y0*w+x1]*dx
			bottom := src[y1*w+x0]*(1-dx) + src[y1*w+x1]*dx
			out[y*ow+x] = top*(1-dy) + bottom*dy
		}
	}
	return out
}
