// Package imageutil converts between images and the float32 planes networks
// consume.
package imageutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
)

// Normalization selects how 8-bit pixel values are scaled.
type Normalization int

const (
	// Norm255 divides by 255.
	Norm255 Normalization = iota
	// Norm127 maps to [-1, 1].
	Norm127
	// NormImageNet divides by 255 then applies the ImageNet mean and std.
	NormImageNet
	// NormNone keeps raw 0..255 values.
	NormNone
)

// ChannelOrder is the channel layout a network expects.
type ChannelOrder int

const (
	RGB ChannelOrder = iota
	BGR
)

var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Load decodes a PNG or JPEG file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Save encodes img according to the extension of path.
func Save(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ToRGBA returns img as an *image.RGBA with its origin at (0, 0).
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// Resize scales img to exactly w×h.
func Resize(img image.Image, w, h int) *image.RGBA {
	return ToRGBA(resize.Resize(uint(w), uint(h), img, resize.Bilinear))
}

// ResizeShorter scales img so its shorter side equals size.
func ResizeShorter(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < h {
		return Resize(img, size, int(math.Round(float64(h)*float64(size)/float64(w))))
	}
	return Resize(img, int(math.Round(float64(w)*float64(size)/float64(h))), size)
}

// CenterCrop cuts a w×h window from the middle of img.
func CenterCrop(img image.Image, w, h int) *image.RGBA {
	src := ToRGBA(img)
	x0 := (src.Rect.Dx() - w) / 2
	y0 := (src.Rect.Dy() - h) / 2
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Rect, src, image.Pt(x0, y0), draw.Src)
	return out
}

// CenterCropSquare crops the largest centered square.
func CenterCropSquare(img image.Image) *image.RGBA {
	b := img.Bounds()
	size := min(b.Dx(), b.Dy())
	return CenterCrop(img, size, size)
}

// Crop copies r out of img. Parts of r outside img stay transparent black.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Rect, img, r.Min, draw.Src)
	return out
}

// Paste draws src onto dst with its top-left corner at at.
func Paste(dst *image.RGBA, src image.Image, at image.Point) {
	b := src.Bounds()
	draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(b.Size())}, src, b.Min, draw.Src)
}

// AdjustFrameSize pads img with black to the aspect ratio of w×h, keeping
// it centered, and returns the padded image together with its resize to w×h.
// This is the letterbox conversion detectors are fed with.
func AdjustFrameSize(img image.Image, w, h int) (padded, resized *image.RGBA) {
	b := img.Bounds()
	fw, fh := b.Dx(), b.Dy()
	scale := math.Max(float64(fh)/float64(h), float64(fw)/float64(w))
	pw := int(math.Round(scale * float64(w)))
	ph := int(math.Round(scale * float64(h)))

	padded = image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(padded, padded.Rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	at := image.Pt((pw-fw)/2, (ph-fh)/2)
	Paste(padded, img, at)
	return padded, Resize(padded, w, h)
}

// Letterbox is AdjustFrameSize without the intermediate padded image.
func Letterbox(img image.Image, w, h int) *image.RGBA {
	_, resized := AdjustFrameSize(img, w, h)
	return resized
}

// PadResize scales img by the largest ratio that fits w×h, places it at the
// top-left corner of a canvas filled with fill and returns the ratio.
func PadResize(img image.Image, w, h int, fill color.Color) (*image.RGBA, float64) {
	b := img.Bounds()
	ratio := math.Min(float64(h)/float64(b.Dy()), float64(w)/float64(b.Dx()))
	rw := int(float64(b.Dx()) * ratio)
	rh := int(float64(b.Dy()) * ratio)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Rect, image.NewUniform(fill), image.Point{}, draw.Src)
	Paste(out, Resize(img, rw, rh), image.Point{})
	return out, ratio
}

// ToCHW packs img into a 3×H×W float32 plane in the given channel order.
func ToCHW(img image.Image, norm Normalization, order ChannelOrder) []float32 {
	src := ToRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	ch := [3]int{0, 1, 2}
	if order == BGR {
		ch = [3]int{2, 1, 0}
	}
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			for c := 0; c < 3; c++ {
				// px is RGB; ch[c] picks which source channel feeds plane c.
				out[c*plane+i] = normalize(px[ch[c]], ch[c], norm)
			}
		}
	}
	return out
}

func normalize(v uint8, channel int, norm Normalization) float32 {
	f := float32(v)
	switch norm {
	case Norm255:
		return f / 255
	case Norm127:
		return f/127.5 - 1
	case NormImageNet:
		return (f/255 - ImageNetMean[channel]) / ImageNetStd[channel]
	default:
		return f
	}
}

// ToGray returns the luma of every pixel as 0..255 floats, using the
// BT.601 weights.
func ToGray(img image.Image) []float32 {
	src := ToRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])
			out[y*w+x] = 0.299*r + 0.587*g + 0.114*b
		}
	}
	return out
}

// FromCHW converts a 3×H×W plane in [0, 1] back into an image. Values are
// clipped.
func FromCHW(data []float32, w, h int, order ChannelOrder) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	plane := w * h
	ch := [3]int{0, 1, 2}
	if order == BGR {
		ch = [3]int{2, 1, 0}
	}
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			out.Pix[i*4+ch[c]] = ToByte(data[c*plane+i] * 255)
		}
		out.Pix[i*4+3] = 255
	}
	return out
}

// FromGray builds a grayscale image from 0..255 values.
func FromGray(data []float32, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range data {
		out.Pix[i] = ToByte(v)
	}
	return out
}

// ToByte clips v to 0..255 and truncates it.
func ToByte(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// FlipHorizontal mirrors a w×h single channel plane.
func FlipHorizontal(data []float32, w, h int) []float32 {
	out := make([]float32, len(data))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = data[y*w+w-1-x]
		}
	}
	return out
}

// ResizePlane resamples a single channel plane with bilinear interpolation
// using half-pixel centers.
func ResizePlane(src []float32, w, h, ow, oh int) []float32 {
	out := make([]float32, ow*oh)
	sx := float64(w) / float64(ow)
	sy := float64(h) / float64(oh)
	for y := 0; y < oh; y++ {
		fy := math.Max((float64(y)+0.5)*sy-0.5, 0)
		y0 := min(int(fy), h-1)
		y1 := min(y0+1, h-1)
		dy := float32(fy - float64(y0))
		for x := 0; x < ow; x++ {
			fx := math.Max((float64(x)+0.5)*sx-0.5, 0)
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

// Hconcat places images side by side, top aligned, on a black canvas.
func Hconcat(imgs ...image.Image) *image.RGBA {
	w, h := 0, 0
	for _, img := range imgs {
		w += img.Bounds().Dx()
		h = max(h, img.Bounds().Dy())
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	x := 0
	for _, img := range imgs {
		Paste(out, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}
	return out
}

// Vconcat stacks images top to bottom, left aligned, on a black canvas.
func Vconcat(imgs ...image.Image) *image.RGBA {
	w, h := 0, 0
	for _, img := range imgs {
		w = max(w, img.Bounds().Dx())
		h += img.Bounds().Dy()
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		Paste(out, img, image.Pt(0, y))
		y += img.Bounds().Dy()
	}
	return out
}
