package face

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// SameFaceThreshold is the cosine similarity above which two faces are
// considered the same person.
const SameFaceThreshold = 0.25572845

// Verifier compares faces with an ArcFace network fed grayscale crops and
// their mirror images.
type Verifier struct {
	Net  model.Predictor
	Size int
}

func NewVerifier(net model.Predictor) *Verifier {
	return &Verifier{Net: net, Size: 128}
}

// Preprocess resizes img to Size×Size gray and stacks it with its horizontal
// flip as a [2, 1, Size, Size] batch scaled to [-1, 1].
func (v *Verifier) Preprocess(img image.Image) *model.Tensor {
	gray := imageutil.ToGray(imageutil.Resize(img, v.Size, v.Size))
	flipped := imageutil.FlipHorizontal(gray, v.Size, v.Size)
	data := append(gray, flipped...)
	for i, x := range data {
		data[i] = x/127.5 - 1
	}
	return model.NewTensor(data, 2, 1, int64(v.Size), int64(v.Size))
}

// Features embeds already preprocessed pairs. The feature of each pair is
// the concatenation of the original and mirrored embeddings.
func (v *Verifier) Features(pairs ...*model.Tensor) ([][]float32, error) {
	batch, err := model.Concat(pairs...)
	if err != nil {
		return nil, err
	}
	out, err := v.Net.Predict(batch)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || int(out[0].Shape[0]) != 2*len(pairs) {
		return nil, fmt.Errorf("arcface: expected %d embeddings", 2*len(pairs))
	}
	feats := make([][]float32, len(pairs))
	for i := range pairs {
		feats[i] = append(append([]float32(nil), out[0].Item(2*i)...), out[0].Item(2*i+1)...)
	}
	return feats, nil
}

// Compare returns the cosine similarity of two faces.
func (v *Verifier) Compare(a, b image.Image) (float32, error) {
	return v.CompareTensors(v.Preprocess(a), v.Preprocess(b))
}

// CompareTensors is Compare on preprocessed inputs, letting callers reuse a
// base face.
func (v *Verifier) CompareTensors(a, b *model.Tensor) (float32, error) {
	feats, err := v.Features(a, b)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(feats[0], feats[1]), nil
}

// CosineSimilarity of two equally long vectors. Zero vectors compare as 0.
func CosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math32.Sqrt(na) * math32.Sqrt(nb))
}
