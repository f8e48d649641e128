// Package anomaly localizes defects with PaDiM: a multivariate gaussian is
// fitted to backbone features at every spatial position of normal images,
// and test images are scored by their Mahalanobis distance to it.
package anomaly

import (
	"errors"
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

const (
	ResizeTo  = 256
	ImageSize = 224
)

// ErrUnknownArch is returned for a backbone name not in Archs.
var ErrUnknownArch = errors.New("unknown arch")

// Arch describes a feature backbone.
type Arch struct {
	Name string
	// Model is the catalog entry of the backbone.
	Model string
	// TotalDim is the channel count of the concatenated layer features and
	// Dim the size of the random subset kept from them.
	TotalDim int
	Dim      int
}

var Archs = map[string]Arch{
	"resnet18":        {Name: "resnet18", Model: "padim_resnet18", TotalDim: 448, Dim: 100},
	"wide_resnet50_2": {Name: "wide_resnet50_2", Model: "padim_wide_resnet50_2", TotalDim: 1792, Dim: 550},
}

func LookupArch(name string) (Arch, error) {
	a, ok := Archs[name]
	if !ok {
		return Arch{}, fmt.Errorf("%w: %s", ErrUnknownArch, name)
	}
	return a, nil
}

// ChannelIndex draws d distinct channels out of total. The same seed always
// yields the same subset.
func ChannelIndex(total, d int, seed uint64) []int {
	r := rand.New(rand.NewPCG(seed, seed))
	return r.Perm(total)[:d]
}

// Crop resizes img to ResizeTo and cuts the centered ImageSize square the
// backbone sees.
func Crop(img image.Image) *image.RGBA {
	return imageutil.CenterCrop(imageutil.Resize(img, ResizeTo, ResizeTo), ImageSize, ImageSize)
}

// Preprocess returns the network input for img together with the crop it
// was built from.
func Preprocess(img image.Image) (*model.Tensor, *image.RGBA) {
	crop := Crop(img)
	data := imageutil.ToCHW(crop, imageutil.NormImageNet, imageutil.RGB)
	return model.NewTensor(data, 1, 3, ImageSize, ImageSize), crop
}

// Embedding is a D×H×W feature map.
type Embedding struct {
	D, H, W int
	Data    []float32
}

// At returns channel c at position p.
func (e *Embedding) At(c, p int) float32 { return e.Data[c*e.H*e.W+p] }

// Concat upsamples every layer to the resolution of the first one by
// repeating values, stacks the channels and keeps those listed in index.
func Concat(layers []*model.Tensor, index []int) (*Embedding, error) {
	if len(layers) == 0 {
		return nil, errors.New("no feature layers")
	}
	for _, l := range layers {
		if len(l.Shape) != 4 || l.Shape[0] != 1 {
			return nil, fmt.Errorf("unexpected feature shape %v", l.Shape)
		}
	}
	h, w := int(layers[0].Shape[2]), int(layers[0].Shape[3])

	type channel struct {
		layer *model.Tensor
		c     int
	}
	var channels []channel
	for _, l := range layers {
		lh, lw := int(l.Shape[2]), int(l.Shape[3])
		if h%lh != 0 || w%lw != 0 {
			return nil, fmt.Errorf("feature map %dx%d does not divide %dx%d", lw, lh, w, h)
		}
		for c := 0; c < int(l.Shape[1]); c++ {
			channels = append(channels, channel{l, c})
		}
	}

	e := &Embedding{D: len(index), H: h, W: w, Data: make([]float32, len(index)*h*w)}
	for i, ci := range index {
		if ci < 0 || ci >= len(channels) {
			return nil, fmt.Errorf("channel %d out of range, features have %d", ci, len(channels))
		}
		ch := channels[ci]
		lh, lw := int(ch.layer.Shape[2]), int(ch.layer.Shape[3])
		sy, sx := h/lh, w/lw
		plane := ch.layer.Data[ch.c*lh*lw:]
		dst := e.Data[i*h*w:]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[y*w+x] = plane[(y/sy)*lw+x/sx]
			}
		}
	}
	return e, nil
}

// Extractor turns images into embeddings.
type Extractor struct {
	Net   model.Predictor
	Index []int
}

func NewExtractor(net model.Predictor, index []int) *Extractor {
	return &Extractor{Net: net, Index: index}
}

// Embed runs the backbone on an already preprocessed input.
func (e *Extractor) Embed(x *model.Tensor) (*Embedding, error) {
	out, err := e.Net.Predict(x)
	if err != nil {
		return nil, err
	}
	return Concat(out, e.Index)
}

// EmbedImage preprocesses img and embeds it.
func (e *Extractor) EmbedImage(img image.Image) (*Embedding, *image.RGBA, error) {
	x, crop := Preprocess(img)
	emb, err := e.Embed(x)
	return emb, crop, err
}

// Train embeds every training image and fits the distribution.
func Train(arch Arch, ex *Extractor, paths []string, progress bool) (*Distribution, error) {
	embs := make([]*Embedding, 0, len(paths))
	for _, path := range paths {
		img, err := imageutil.Load(path)
		if err != nil {
			return nil, err
		}
		emb, _, err := ex.EmbedImage(img)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		embs = append(embs, emb)
	}
	return Fit(arch.Name, ex.Index, embs, progress)
}

// Score returns the unnormalized score map of img and the crop it covers.
func Score(dist *Distribution, ex *Extractor, img image.Image) ([]float32, *image.RGBA, error) {
	emb, crop, err := ex.EmbedImage(img)
	if err != nil {
		return nil, nil, err
	}
	d, err := dist.Distance(emb)
	if err != nil {
		return nil, nil, err
	}
	m, err := ScoreMap(d, emb.W, emb.H)
	return m, crop, err
}
