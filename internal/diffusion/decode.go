package diffusion

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// ScaleFactor is the latent scaling the first stage model was trained with.
const ScaleFactor = 0.18215

// Decode turns latents into images with the autoencoder. Output pixels are
// mapped from [-1, 1] to [0, 1] and clipped.
func Decode(ae model.Predictor, z *model.Tensor) ([]*image.RGBA, error) {
	scaled := z.Clone()
	for i := range scaled.Data {
		scaled.Data[i] /= ScaleFactor
	}
	out, err := ae.Predict(scaled)
	if err != nil {
		return nil, fmt.Errorf("autoencoder: %w", err)
	}
	x := out[0]
	if len(x.Shape) != 4 || x.Shape[1] != 3 {
		return nil, fmt.Errorf("autoencoder: unexpected output shape %v", x.Shape)
	}
	h, w := int(x.Shape[2]), int(x.Shape[3])
	imgs := make([]*image.RGBA, x.Shape[0])
	for i := range imgs {
		data := x.Item(i)
		px := make([]float32, len(data))
		for j, v := range data {
			px[j] = (v + 1) / 2
		}
		imgs[i] = imageutil.FromCHW(px, w, h, imageutil.RGB)
	}
	return imgs, nil
}

// Grid lays images out in rows of nrow.
func Grid(imgs []*image.RGBA, nrow int) *image.RGBA {
	if nrow <= 0 {
		nrow = len(imgs)
	}
	var rows []image.Image
	for i := 0; i < len(imgs); i += nrow {
		var row []image.Image
		for _, img := range imgs[i:min(i+nrow, len(imgs))] {
			row = append(row, img)
		}
		rows = append(rows, imageutil.Hconcat(row...))
	}
	return imageutil.Vconcat(rows...)
}
