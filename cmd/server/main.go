package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/Brownie44l1/model-gallery/internal/classify"
	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/detect"
	"github.com/Brownie44l1/model-gallery/internal/handlers"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

func main() {
	ort := flag.String("ort", model.DefaultLibraryPath(), "onnxruntime shared library")
	modelDir := flag.String("model_dir", ".", "directory that caches downloaded models")
	labelsPath := flag.String("labels", "", "ImageNet labels, one per line")
	detector := flag.String("detector", "yolox_s", "YOLOX variant served on /detect/image, empty disables it")
	gpu := flag.Bool("gpu", false, "run on CUDA when available")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()
	cli.SetupLogging(os.Stderr, *debug)

	if err := model.Init(*ort); err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer model.Shutdown()

	loader, err := model.NewLoader(*modelDir, model.Options{UseGPU: *gpu})
	if err != nil {
		log.Fatalf("Failed to read model catalog: %v", err)
	}
	ctx := context.Background()

	alexnet, err := loader.Load(ctx, "alexnet")
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer alexnet.Close()

	labels, err := classify.LoadLabels(*labelsPath)
	if err != nil {
		log.Fatalf("Failed to load labels: %v", err)
	}

	var det detect.Detector
	if *detector != "" {
		size, ok := detect.YOLOXModels[*detector]
		if !ok {
			log.Fatalf("Unknown detector %q", *detector)
		}
		net, err := loader.Load(ctx, *detector)
		if err != nil {
			log.Fatalf("Failed to load detector: %v", err)
		}
		defer net.Close()
		det = detect.NewYOLOX(net, size, size)
	}

	handler := handlers.NewHandler(classify.New(alexnet, labels), det, detect.COCOCategories)
	mux := http.NewServeMux()
	handler.Routes(mux)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	slog.Info("server starting", "port", port, "classifier", "alexnet", "detector", *detector)
	log.Println("Endpoints:")
	log.Println("  GET  /health        - Health check")
	log.Println("  POST /predict       - Raw array prediction")
	log.Println("  POST /predict/image - Classify an image upload")
	log.Println("  POST /detect/image  - Detect objects in an image upload")
	log.Printf("Upload test: curl -X POST -F \"image=@dog.jpg\" http://localhost:%s/predict/image", port)

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
