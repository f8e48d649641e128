// Package handlers exposes the classifier and the detector over HTTP.
package handlers

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"

	"github.com/Brownie44l1/model-gallery/internal/classify"
	"github.com/Brownie44l1/model-gallery/internal/detect"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// maxUpload bounds multipart bodies.
const maxUpload = 10 << 20

// Classifier is the part of classify.Classifier the handlers use.
type Classifier interface {
	InputShape() []int64
	Classify(img image.Image) ([]classify.Prediction, error)
	ClassifyTensor(x *model.Tensor) ([]classify.Prediction, error)
}

type Handler struct {
	classifier Classifier
	detector   detect.Detector
	labels     []string
}

// NewHandler wires the endpoints. detector may be nil, in which case
// /detect/image answers 503.
func NewHandler(classifier Classifier, detector detect.Detector, labels []string) *Handler {
	return &Handler{
		classifier: classifier,
		detector:   detector,
		labels:     labels,
	}
}

// Detection is an object plus its category name.
type Detection struct {
	detect.Object
	Label string `json:"label"`
}

// DetectionResponse lists the objects found in an uploaded image.
type DetectionResponse struct {
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Objects []Detection `json:"objects"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

// Predict classifies an already preprocessed input sent as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req classify.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	shape := h.classifier.InputShape()
	expectedSize := 1
	for _, dim := range shape {
		expectedSize *= int(dim)
	}
	if len(req.Image) != expectedSize {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	preds, err := h.classifier.ClassifyTensor(model.NewTensor(req.Image, shape...))
	if err != nil {
		slog.Error("prediction failed", "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, classify.Response(preds))
}

// upload decodes the multipart "image" field.
func upload(w http.ResponseWriter, r *http.Request) (image.Image, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()
	slog.Debug("received file", "name", header.Filename, "bytes", header.Size)

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG", http.StatusBadRequest)
		return nil, false
	}
	slog.Debug("decoded image", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return img, true
}

// PredictFromImage classifies an uploaded image.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	img, ok := upload(w, r)
	if !ok {
		return
	}
	preds, err := h.classifier.Classify(img)
	if err != nil {
		slog.Error("prediction failed", "error", err)
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, classify.Response(preds))
}

// DetectFromImage runs the object detector on an uploaded image.
func (h *Handler) DetectFromImage(w http.ResponseWriter, r *http.Request) {
	if h.detector == nil {
		http.Error(w, "Detector not loaded", http.StatusServiceUnavailable)
		return
	}
	img, ok := upload(w, r)
	if !ok {
		return
	}
	objs, err := h.detector.Detect(img)
	if err != nil {
		slog.Error("detection failed", "error", err)
		http.Error(w, "Detection failed", http.StatusInternalServerError)
		return
	}

	resp := DetectionResponse{
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
		Objects: make([]Detection, len(objs)),
	}
	for i, o := range objs {
		label := fmt.Sprint(o.Category)
		if o.Category >= 0 && o.Category < len(h.labels) {
			label = h.labels[o.Category]
		}
		resp.Objects[i] = Detection{Object: o, Label: label}
	}
	writeJSON(w, resp)
}

// CORS allows browser clients from any origin.
func CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", CORS(h.Health))
	mux.HandleFunc("/predict", CORS(h.Predict))
	mux.HandleFunc("/predict/image", CORS(h.PredictFromImage))
	mux.HandleFunc("/detect/image", CORS(h.DetectFromImage))
}
