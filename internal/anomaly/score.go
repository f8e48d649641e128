package anomaly

import (
	"errors"
	"image"
	"sort"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/vision"
)

const smoothingSigma = 4

// ErrNoGroundTruth is returned when a threshold is requested without masks.
var ErrNoGroundTruth = errors.New("no ground truth masks")

// ScoreMap upsamples a distance plane to ImageSize and smooths it.
func ScoreMap(distance []float32, w, h int) ([]float32, error) {
	up := imageutil.ResizePlane(distance, w, h, ImageSize, ImageSize)
	return vision.GaussianBlur(up, ImageSize, ImageSize, smoothingSigma)
}

// Normalize rescales all maps with their common minimum and maximum.
func Normalize(maps [][]float32) [][]float32 {
	lo, hi := float32(0), float32(0)
	first := true
	for _, m := range maps {
		for _, v := range m {
			if first {
				lo, hi, first = v, v, false
			}
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	span := hi - lo
	out := make([][]float32, len(maps))
	for i, m := range maps {
		out[i] = make([]float32, len(m))
		if span == 0 {
			continue
		}
		for j, v := range m {
			out[i][j] = (v - lo) / span
		}
	}
	return out
}

// ImageScore is the highest score of a map.
func ImageScore(m []float32) float32 {
	var best float32
	for i, v := range m {
		if i == 0 || v > best {
			best = v
		}
	}
	return best
}

// DecideThreshold picks the score threshold with the best pixel F1 against
// the ground truth. Maps whose mask is nil are left out.
func DecideThreshold(scores [][]float32, masks [][]bool) (float32, error) {
	type sample struct {
		score float32
		pos   bool
	}
	var samples []sample
	positives := 0
	for i, m := range scores {
		if i >= len(masks) || masks[i] == nil {
			continue
		}
		for j, v := range m {
			samples = append(samples, sample{v, masks[i][j]})
			if masks[i][j] {
				positives++
			}
		}
	}
	if len(samples) == 0 {
		return 0, ErrNoGroundTruth
	}
	sort.Slice(samples, func(a, b int) bool { return samples[a].score > samples[b].score })
	threshold := float64(samples[0].score)
	if positives == 0 {
		return samples[0].score, nil
	}

	var best float64
	tp := 0
	for i, s := range samples {
		if s.pos {
			tp++
		}
		// Only evaluate once all samples sharing this score are counted.
		if i+1 < len(samples) && samples[i+1].score == s.score {
			continue
		}
		precision := float64(tp) / float64(i+1)
		recall := float64(tp) / float64(positives)
		var f1 float64
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		if f1 > best {
			best, threshold = f1, float64(s.score)
		}
	}
	return float32(threshold), nil
}

// MaskFromImage crops a ground truth image like the inputs and marks
// pixels brighter than half intensity.
func MaskFromImage(img image.Image) []bool {
	crop := Crop(img)
	out := make([]bool, ImageSize*ImageSize)
	for i := range out {
		out[i] = crop.Pix[i*4] > 127
	}
	return out
}

// Segment thresholds a normalized score map and removes specks.
func Segment(score []float32, threshold float32) (*image.Gray, error) {
	g := image.NewGray(image.Rect(0, 0, ImageSize, ImageSize))
	for i, v := range score {
		if v > threshold {
			g.Pix[i] = 255
		}
	}
	return vision.Opening(g, 4)
}
