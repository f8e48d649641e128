// Package detect decodes detector outputs into objects and draws them.
package detect

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"

	"github.com/chewxy/math32"

	"github.com/Brownie44l1/model-gallery/internal/vision"
)

// Object is one detection. X, Y, W and H are relative to the image size.
type Object struct {
	Category int     `json:"category"`
	Prob     float32 `json:"prob"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	W        float32 `json:"w"`
	H        float32 `json:"h"`
}

// Detector finds objects in an image.
type Detector interface {
	Detect(img image.Image) ([]Object, error)
}

// Rect converts o to pixel coordinates of a w×h image.
func (o Object) Rect(w, h int) image.Rectangle {
	return image.Rect(
		int(o.X*float32(w)), int(o.Y*float32(h)),
		int((o.X+o.W)*float32(w)), int((o.Y+o.H)*float32(h)),
	)
}

// box is a corner-form box used during decoding.
type box struct {
	x1, y1, x2, y2 float32
	score          float32
	category       int
}

func (b box) area() float32 { return (b.x2 - b.x1) * (b.y2 - b.y1) }

// iou is the intersection over union of two corner-form boxes.
func iou(a, b box) float32 {
	w := math32.Max(0, math32.Min(a.x2, b.x2)-math32.Max(a.x1, b.x1))
	h := math32.Max(0, math32.Min(a.y2, b.y2)-math32.Max(a.y1, b.y1))
	inter := w * h
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// nms keeps the highest scoring boxes, dropping any box that overlaps a kept
// one by more than thresh. The input order is not preserved.
func nms(boxes []box, thresh float32) []box {
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].score > boxes[j].score })
	var keep []box
	suppressed := make([]bool, len(boxes))
	for i, b := range boxes {
		if suppressed[i] {
			continue
		}
		keep = append(keep, b)
		for j := i + 1; j < len(boxes); j++ {
			if !suppressed[j] && iou(b, boxes[j]) > thresh {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// multiclassNMS runs nms separately for every category so that boxes of
// different classes never suppress each other.
func multiclassNMS(boxes []box, thresh float32) []box {
	byClass := make(map[int][]box)
	for _, b := range boxes {
		byClass[b.category] = append(byClass[b.category], b)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	var out []box
	for _, c := range classes {
		out = append(out, nms(byClass[c], thresh)...)
	}
	return out
}

// ReverseLetterbox maps objects detected on a letterboxed w×h network input
// back onto the imgW×imgH image the letterbox was built from.
func ReverseLetterbox(objs []Object, imgW, imgH, netW, netH int) []Object {
	w, h := float32(imgW), float32(imgH)
	scale := math32.Max(h/float32(netH), w/float32(netW))
	startY := math32.Floor((float32(netH) - h/scale) / 2)
	startX := math32.Floor((float32(netW) - w/scale) / 2)
	padX := startX * scale
	padY := startY * scale

	out := make([]Object, len(objs))
	for i, o := range objs {
		out[i] = Object{
			Category: o.Category,
			Prob:     o.Prob,
			X:        (o.X*(w+padX*2) - padX) / w,
			Y:        (o.Y*(h+padY*2) - padY) / h,
			W:        o.W * (w + padX*2) / w,
			H:        o.H * (h + padY*2) / h,
		}
	}
	return out
}

func label(labels []string, category int) string {
	if category >= 0 && category < len(labels) {
		return labels[category]
	}
	return fmt.Sprint(category)
}

// WritePredictions writes one line per object: label with spaces replaced by
// underscores, probability and the pixel box x y w h of a w×h image.
func WritePredictions(path string, objs []Object, w, h int, labels []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, o := range objs {
		fmt.Fprintf(bw, "%s %f %d %d %d %d\n",
			strings.ReplaceAll(label(labels, o.Category), " ", "_"),
			o.Prob,
			int(float32(w)*o.X), int(float32(h)*o.Y),
			int(float32(w)*o.W), int(float32(h)*o.H),
		)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Plot draws objs on img with a color per category.
func Plot(img image.Image, objs []Object, labels []string) (*image.RGBA, error) {
	b := img.Bounds()
	boxes := make([]vision.Box, len(objs))
	for i, o := range objs {
		boxes[i] = vision.Box{
			Rect:  o.Rect(b.Dx(), b.Dy()),
			Label: fmt.Sprintf("%s %.2f", label(labels, o.Category), o.Prob),
			Color: vision.CategoryColor(o.Category, len(labels)),
		}
	}
	return vision.DrawBoxes(img, boxes)
}
