// Package vision draws results and runs the OpenCV filters the demos need.
package vision

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
)

var (
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Black = color.RGBA{A: 255}
	Green = color.RGBA{G: 255, A: 255}
	Red   = color.RGBA{R: 255, A: 255}
)

// Box is one labelled rectangle.
type Box struct {
	Rect  image.Rectangle
	Label string
	Color color.RGBA
}

func toMat(img image.Image) (gocv.Mat, error) {
	return gocv.ImageToMatRGB(img)
}

func fromMat(m gocv.Mat) (*image.RGBA, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert mat: %w", err)
	}
	return imageutil.ToRGBA(img), nil
}

func grayMat(g *image.Gray) (gocv.Mat, error) {
	return gocv.ImageGrayToMatGray(g)
}

func grayFromMat(m gocv.Mat) (*image.Gray, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert mat: %w", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("expected a single channel mat, got %T", img)
	}
	return g, nil
}

// CategoryColor spreads n categories around the hue circle.
func CategoryColor(category, n int) color.RGBA {
	return hsv(float64(category)/float64(n+1), 1, 1)
}

func hsv(h, s, v float64) color.RGBA {
	h = math.Mod(h, 1) * 6
	i := math.Floor(h)
	f := h - i
	p, q, t := v*(1-s), v*(1-s*f), v*(1-s*(1-f))
	var r, g, b float64
	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}

// DrawBoxes outlines every box and writes its label on a filled tab at the
// top-left corner.
func DrawBoxes(img image.Image, boxes []Box) (*image.RGBA, error) {
	m, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	w := img.Bounds().Dx()
	scale := math.Max(float64(w)/2048, 0.4)
	const margin = 3
	for _, b := range boxes {
		gocv.Rectangle(&m, b.Rect, b.Color, 4)
		if b.Label == "" {
			continue
		}
		size := gocv.GetTextSize(b.Label, gocv.FontHersheySimplex, scale, 1)
		tab := image.Rect(b.Rect.Min.X, b.Rect.Min.Y, b.Rect.Min.X+size.X+margin, b.Rect.Min.Y+size.Y+margin)
		gocv.Rectangle(&m, tab, b.Color, -1)
		gocv.PutText(&m, b.Label, image.Pt(tab.Min.X, tab.Max.Y-margin/2), gocv.FontHersheySimplex, scale, White, 1)
	}
	return fromMat(m)
}

// DrawTexts stacks lines of text in the top-left corner on a dark band.
func DrawTexts(img image.Image, texts []string) (*image.RGBA, error) {
	m, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	scale := math.Max(float64(img.Bounds().Dx())/512, 0.5)
	y := 0
	for _, text := range texts {
		size := gocv.GetTextSize(text, gocv.FontHersheySimplex, scale, 2)
		gocv.Rectangle(&m, image.Rect(0, y, size.X+10, y+size.Y+10), Black, -1)
		gocv.PutText(&m, text, image.Pt(5, y+size.Y+5), gocv.FontHersheySimplex, scale, White, 2)
		y += size.Y + 10
	}
	return fromMat(m)
}

// Polyline is a sequence of connected points with an optional label drawn at
// its first point.
type Polyline struct {
	Points []image.Point
	Label  string
}

// DrawPolylines draws lines on a copy of img and blends that copy back with
// the given weight.
func DrawPolylines(img image.Image, lines []Polyline, c color.RGBA, weight float64) (*image.RGBA, error) {
	base, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer base.Close()
	overlay := base.Clone()
	defer overlay.Close()

	for _, l := range lines {
		for i := 1; i < len(l.Points); i++ {
			gocv.Line(&overlay, l.Points[i-1], l.Points[i], c, 2)
		}
		if l.Label != "" && len(l.Points) > 0 {
			gocv.PutText(&base, l.Label, l.Points[0], gocv.FontHersheyComplex, 1, c, 1)
		}
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(base, 1-weight, overlay, weight, 0, &out)
	return fromMat(out)
}

// DrawPoints marks points with small filled circles.
func DrawPoints(img image.Image, pts []image.Point, c color.RGBA) (*image.RGBA, error) {
	m, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	for _, p := range pts {
		gocv.Circle(&m, p, 2, c, -1)
	}
	return fromMat(m)
}

// Blend returns a*(1-alpha) + b*alpha. Both images must have the same size.
func Blend(a, b image.Image, alpha float64) (*image.RGBA, error) {
	ma, err := toMat(a)
	if err != nil {
		return nil, err
	}
	defer ma.Close()
	mb, err := toMat(b)
	if err != nil {
		return nil, err
	}
	defer mb.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(ma, 1-alpha, mb, alpha, 0, &out)
	return fromMat(out)
}

// Erode applies a ksize×ksize rectangular erosion iterations times.
func Erode(g *image.Gray, ksize, iterations int) (*image.Gray, error) {
	return morph(g, ksize, iterations, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Erode(src, dst, kernel)
	})
}

// Dilate applies a ksize×ksize rectangular dilation iterations times.
func Dilate(g *image.Gray, ksize, iterations int) (*image.Gray, error) {
	return morph(g, ksize, iterations, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Dilate(src, dst, kernel)
	})
}

func morph(g *image.Gray, ksize, iterations int, op func(gocv.Mat, *gocv.Mat, gocv.Mat)) (*image.Gray, error) {
	src, err := grayMat(g)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	for i := 0; i < iterations; i++ {
		op(src, &dst, kernel)
		dst.CopyTo(&src)
	}
	return grayFromMat(src)
}

// Opening removes specks smaller than a disk of the given radius.
func Opening(g *image.Gray, radius int) (*image.Gray, error) {
	src, err := grayMat(g)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(2*radius+1, 2*radius+1))
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MorphologyEx(src, &dst, gocv.MorphOpen, kernel)
	return grayFromMat(dst)
}

// JetColormap renders a grayscale image with the jet palette.
func JetColormap(g *image.Gray) (*image.RGBA, error) {
	src, err := grayMat(g)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.ApplyColorMap(src, &dst, gocv.ColormapJet)
	return fromMat(dst)
}

// MarkBoundaries outlines the foreground regions of mask on img.
func MarkBoundaries(img image.Image, mask *image.Gray, c color.RGBA) (*image.RGBA, error) {
	m, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	mm, err := grayMat(mask)
	if err != nil {
		return nil, err
	}
	defer mm.Close()

	contours := gocv.FindContours(mm, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	gocv.DrawContours(&m, contours, -1, c, 2)
	return fromMat(m)
}

// PutText writes text at org using the simplex font.
func PutText(img image.Image, text string, org image.Point, scale float64, c color.RGBA) (*image.RGBA, error) {
	m, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	gocv.PutText(&m, text, org, gocv.FontHersheySimplex, scale, c, 1)
	return fromMat(m)
}

// GaussianBlur smooths a w×h float plane with a gaussian of the given sigma,
// truncated at four sigmas and reflecting at the borders.
func GaussianBlur(plane []float32, w, h int, sigma float64) ([]float32, error) {
	buf := make([]byte, 4*len(plane))
	for i, v := range plane {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV32F, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create mat: %w", err)
	}
	defer src.Close()

	radius := int(4*sigma + 0.5)
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Pt(2*radius+1, 2*radius+1), sigma, sigma, gocv.BorderReflect)

	out, err := dst.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), out...), nil
}
