// Package classify runs ImageNet style classifiers such as AlexNet.
package classify

import (
	"bufio"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/chewxy/math32"

	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// Prediction is one category with its probability.
type Prediction struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Prob  float32 `json:"prob"`
}

// PredictionRequest carries an already preprocessed input.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// PredictionResponse is the best class plus the top-k distribution.
type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

// Classifier resizes the shorter side to ResizeTo, center crops Size and
// normalizes with the ImageNet statistics.
type Classifier struct {
	Net      model.Predictor
	Labels   []string
	Size     int
	ResizeTo int
	TopK     int
}

func New(net model.Predictor, labels []string) *Classifier {
	return &Classifier{Net: net, Labels: labels, Size: 224, ResizeTo: 256, TopK: 5}
}

// InputShape is the NCHW shape Preprocess produces.
func (c *Classifier) InputShape() []int64 {
	return []int64{1, 3, int64(c.Size), int64(c.Size)}
}

// Preprocess converts img to the network input.
func (c *Classifier) Preprocess(img image.Image) *model.Tensor {
	crop := imageutil.CenterCrop(imageutil.ResizeShorter(img, c.ResizeTo), c.Size, c.Size)
	return model.NewTensor(imageutil.ToCHW(crop, imageutil.NormImageNet, imageutil.RGB), c.InputShape()...)
}

// Classify returns the TopK categories of img, most probable first.
func (c *Classifier) Classify(img image.Image) ([]Prediction, error) {
	return c.ClassifyTensor(c.Preprocess(img))
}

// ClassifyTensor runs an already preprocessed input.
func (c *Classifier) ClassifyTensor(x *model.Tensor) ([]Prediction, error) {
	out, err := c.Net.Predict(x)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || out[0].Len() == 0 {
		return nil, fmt.Errorf("classifier returned no logits")
	}
	return TopK(Softmax(out[0].Item(0)), c.TopK, c.Labels), nil
}

// Response summarizes predictions the way the HTTP API reports them.
func Response(preds []Prediction) *PredictionResponse {
	resp := &PredictionResponse{Predictions: make(map[string]float32, len(preds))}
	for i, p := range preds {
		if i == 0 {
			resp.Class = p.Label
			resp.Confidence = p.Prob
		}
		resp.Predictions[p.Label] = p.Prob
	}
	return resp
}

// Softmax is numerically stabilized by subtracting the maximum logit.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	m := logits[0]
	for _, v := range logits[1:] {
		m = math32.Max(m, v)
	}
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// TopK picks the k largest probabilities. Categories without a label are
// named by their index.
func TopK(probs []float32, k int, labels []string) []Prediction {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	k = min(k, len(idx))

	preds := make([]Prediction, k)
	for i := 0; i < k; i++ {
		j := idx[i]
		l := fmt.Sprint(j)
		if j < len(labels) {
			l = labels[j]
		}
		preds[i] = Prediction{Index: j, Label: l, Prob: probs[j]}
	}
	return preds
}

// LoadLabels reads one label per line. An empty path yields no labels.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	defer f.Close()

	var labels []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		labels = append(labels, strings.TrimSpace(s.Text()))
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	slog.Debug("labels loaded", "path", path, "count", len(labels))
	return labels, nil
}
