// Package matting estimates alpha mattes with IndexNet, generating the
// trimap from a U²-Net saliency map when none is given.
package matting

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"path/filepath"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/vision"
)

// Trimap values.
const (
	Background = 0
	Unknown    = 128
	Foreground = 255
)

// Segmenter builds trimaps from a salient object segmentation network.
type Segmenter struct {
	Net  model.Predictor
	Size int
	// Threshold on the min-max normalized saliency in [0, 1].
	Threshold  float32
	KernelSize int
	Iterations int
	// DebugDir receives intermediate images when not empty.
	DebugDir string
}

func NewSegmenter(net model.Predictor) *Segmenter {
	return &Segmenter{Net: net, Size: 320, Threshold: 0.8, KernelSize: 7, Iterations: 5}
}

// Trimap returns the trimap of img and the raw saliency resized to img.
func (s *Segmenter) Trimap(img image.Image) (trimap, saliency *image.Gray, err error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	in := imageutil.Resize(img, s.Size, s.Size)
	x := model.NewTensor(imageutil.ToCHW(in, imageutil.NormImageNet, imageutil.RGB), 1, 3, int64(s.Size), int64(s.Size))
	out, err := s.Net.Predict(x)
	if err != nil {
		return nil, nil, fmt.Errorf("segmentation: %w", err)
	}
	pred := out[0]
	ph, pw := int(pred.Shape[len(pred.Shape)-2]), int(pred.Shape[len(pred.Shape)-1])
	plane := MinMaxNormalize(pred.Data[:pw*ph])
	for i := range plane {
		plane[i] *= 255
	}
	saliency = imageutil.FromGray(imageutil.ResizePlane(plane, pw, ph, w, h), w, h)
	s.dump("debug_segmentation.png", func() (image.Image, error) { return overlay(img, saliency), nil })

	mask := Threshold(saliency, uint8(255*s.Threshold))
	s.dump("debug_segmentation_threshold.png", func() (image.Image, error) { return overlay(img, mask), nil })

	eroded, err := vision.Erode(mask, s.KernelSize, s.Iterations)
	if err != nil {
		return nil, nil, err
	}
	dilated, err := vision.Dilate(mask, s.KernelSize, s.Iterations)
	if err != nil {
		return nil, nil, err
	}
	trimap = TrimapFromMasks(eroded, dilated)
	s.dump("debug_trimap_gray.png", func() (image.Image, error) { return trimap, nil })
	s.dump("debug_trimap.png", func() (image.Image, error) { return overlay(img, trimap), nil })
	return trimap, saliency, nil
}

func (s *Segmenter) dump(name string, render func() (image.Image, error)) {
	if s.DebugDir == "" {
		return
	}
	img, err := render()
	if err == nil {
		err = imageutil.Save(filepath.Join(s.DebugDir, name), img)
	}
	if err != nil {
		slog.Warn("failed to dump debug image", "name", name, "error", err)
	}
}

// MinMaxNormalize rescales v to [0, 1]. A constant input maps to zeros.
func MinMaxNormalize(v []float32) []float32 {
	out := make([]float32, len(v))
	if len(v) == 0 {
		return out
	}
	lo, hi := v[0], v[0]
	for _, x := range v {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if hi == lo {
		return out
	}
	for i, x := range v {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}

// Threshold maps pixels at or above t to 255 and the rest to 0.
func Threshold(g *image.Gray, t uint8) *image.Gray {
	out := image.NewGray(g.Rect)
	for i, v := range g.Pix {
		if v >= t {
			out.Pix[i] = 255
		}
	}
	return out
}

// TrimapFromMasks marks pixels that survive erosion as foreground, pixels
// outside the dilation as background and everything between as unknown.
func TrimapFromMasks(eroded, dilated *image.Gray) *image.Gray {
	out := image.NewGray(eroded.Rect)
	for i := range out.Pix {
		switch {
		case eroded.Pix[i] >= 254:
			out.Pix[i] = Foreground
		case dilated.Pix[i] <= 1:
			out.Pix[i] = Background
		default:
			out.Pix[i] = Unknown
		}
	}
	return out
}

// overlay averages img with a gray map, the way the debug dumps show masks.
func overlay(img image.Image, g *image.Gray) *image.RGBA {
	src := imageutil.ToRGBA(img)
	out := image.NewRGBA(src.Rect)
	for y := 0; y < src.Rect.Dy(); y++ {
		for x := 0; x < src.Rect.Dx(); x++ {
			v := uint16(g.GrayAt(x, y).Y)
			c := src.RGBAAt(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: uint8((uint16(c.R) + v) / 2),
				G: uint8((uint16(c.G) + v) / 2),
				B: uint8((uint16(c.B) + v) / 2),
				A: 255,
			})
		}
	}
	return out
}

// TrimapFromImage reads the first channel of a trimap image.
func TrimapFromImage(img image.Image) *image.Gray {
	src := imageutil.ToRGBA(img)
	out := image.NewGray(src.Rect)
	for i := range out.Pix {
		out.Pix[i] = src.Pix[i*4]
	}
	return out
}

// Matter runs IndexNet over tiles of the image.
type Matter struct {
	Net model.Predictor
	// Padding is the overlap discarded around each tile.
	Padding  int
	DebugDir string
}

func NewMatter(net model.Predictor) *Matter {
	return &Matter{Net: net}
}

// TileSize rounds the image up to the multiple of 32 the network needs.
func TileSize(w, h int) (int, int) {
	return (w + 31) / 32 * 32, (h + 31) / 32 * 32
}

// Matte returns img with the estimated alpha.
func (m *Matter) Matte(img image.Image, trimap *image.Gray) (*image.NRGBA, error) {
	src := imageutil.ToRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if trimap.Rect.Dx() != w || trimap.Rect.Dy() != h {
		return nil, fmt.Errorf("trimap is %v, image is %dx%d", trimap.Rect.Size(), w, h)
	}
	tw, th := TileSize(w, h)
	stepX, stepY := tw-2*m.Padding, th-2*m.Padding
	out := image.NewNRGBA(src.Rect)

	for ty := 0; ty < (h+stepY-1)/stepY; ty++ {
		for tx := 0; tx < (w+stepX-1)/stepX; tx++ {
			slog.Debug("tile", "x", tx, "y", ty)
			at := image.Pt(tx*stepX-m.Padding, ty*stepY-m.Padding)
			if err := m.tile(out, src, trimap, at, tw, th); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (m *Matter) tile(out *image.NRGBA, src *image.RGBA, trimap *image.Gray, at image.Point, tw, th int) error {
	r := image.Rectangle{Min: at, Max: at.Add(image.Pt(tw, th))}
	crop := imageutil.Crop(src, r)
	tri := image.NewGray(image.Rect(0, 0, tw, th))
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			if p := at.Add(image.Pt(x, y)); p.In(trimap.Rect) {
				tri.Pix[y*tw+x] = trimap.GrayAt(p.X, p.Y).Y
			}
		}
	}

	x := Preprocess(crop, tri)
	res, err := m.Net.Predict(x)
	if err != nil {
		return fmt.Errorf("indexnet: %w", err)
	}
	alpha := Alpha(res[0].Data[:tw*th], tri)
	if m.DebugDir != "" {
		if err := imageutil.Save(filepath.Join(m.DebugDir, "debug_output.png"), imageutil.FromGray(scale255(res[0].Data[:tw*th]), tw, th)); err != nil {
			slog.Warn("failed to dump debug image", "error", err)
		}
	}

	// Copy the tile without its padding into out.
	for y := m.Padding; y < th-m.Padding; y++ {
		for x := m.Padding; x < tw-m.Padding; x++ {
			p := at.Add(image.Pt(x, y))
			if !p.In(out.Rect) {
				continue
			}
			c := crop.RGBAAt(x, y)
			out.SetNRGBA(p.X, p.Y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: alpha[y*tw+x]})
		}
	}
	return nil
}

func scale255(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * 255
	}
	return out
}

// Preprocess stacks RGB and trimap, all scaled by 1/255, into [1, 4, H, W].
func Preprocess(img *image.RGBA, trimap *image.Gray) *model.Tensor {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	data := imageutil.ToCHW(img, imageutil.Norm255, imageutil.RGB)
	for _, v := range trimap.Pix[:w*h] {
		data = append(data, float32(v)/255)
	}
	return model.NewTensor(data, 1, 4, int64(h), int64(w))
}

// Alpha scales the prediction to 0..255 and forces the known regions of the
// trimap.
func Alpha(pred []float32, trimap *image.Gray) []uint8 {
	out := make([]uint8, len(pred))
	for i, v := range pred {
		switch trimap.Pix[i] {
		case Background:
			out[i] = 0
		case Foreground:
			out[i] = 255
		default:
			out[i] = imageutil.ToByte(v * 255)
		}
	}
	return out
}

// Composite blends a matte over a green screen.
func Composite(img *image.NRGBA) *image.RGBA {
	out := image.NewRGBA(img.Rect)
	for i := 0; i < len(img.Pix); i += 4 {
		a := float32(img.Pix[i+3]) / 255
		out.Pix[i] = imageutil.ToByte(float32(img.Pix[i]) * a)
		out.Pix[i+1] = imageutil.ToByte(float32(img.Pix[i+1])*a + 255*(1-a))
		out.Pix[i+2] = imageutil.ToByte(float32(img.Pix[i+2]) * a)
		out.Pix[i+3] = 255
	}
	return out
}
