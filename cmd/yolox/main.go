package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"
	"math"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/detect"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

type options struct {
	modelName       string
	writePrediction bool
	threshold       float64
	nms             float64
}

func main() {
	p := cli.NewParser("yolox", "YOLOX object detection", "input.jpg", "output.jpg")
	var opts options
	p.Flags().StringVar(&opts.modelName, "model_name", "yolox_s", "yolox_nano | yolox_tiny | yolox_s | yolox_m | yolox_l | yolox_darknet | yolox_x")
	p.Flags().BoolVar(&opts.writePrediction, "write_prediction", false, "write the detections to a .txt file next to each output")
	p.Flags().Float64Var(&opts.threshold, "threshold", 0.8, "score threshold")
	p.Flags().Float64Var(&opts.nms, "nms", 0.45, "IoU threshold for NMS")
	args := p.MustParse()

	if err := run(args, opts); err != nil {
		log.Fatalf("yolox: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, opts options) error {
	size, ok := detect.YOLOXModels[opts.modelName]
	if !ok {
		return fmt.Errorf("unknown model %q", opts.modelName)
	}
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	net, err := loader.Load(context.Background(), opts.modelName)
	if err != nil {
		return err
	}
	defer net.Close()

	det := detect.NewYOLOX(net, size, size)
	det.Score = float32(opts.threshold)
	det.NMS = float32(opts.nms)

	if args.Video != "" {
		return recognizeFromVideo(args, det, opts)
	}
	return recognizeFromImage(args, det, opts)
}

func predictionPath(savepath string) string {
	return strings.TrimSuffix(savepath, filepath.Ext(savepath)) + ".txt"
}

func recognizeFromImage(args *cli.Args, det *detect.YOLOX, opts options) error {
	return args.EachImage(func(path string, img image.Image) error {
		slog.Info("Start inference...")
		var objs []detect.Object
		err := args.Run(func() error {
			var err error
			objs, err = det.Detect(img)
			return err
		})
		if err != nil {
			return err
		}

		res, err := detect.Plot(img, objs, detect.COCOCategories)
		if err != nil {
			return err
		}
		savepath, err := cli.SavePath(args.SavePath, path, "", "")
		if err != nil {
			return err
		}
		cli.Saved(savepath)
		if err := imageutil.Save(savepath, res); err != nil {
			return err
		}
		if opts.writePrediction {
			b := img.Bounds()
			return detect.WritePredictions(predictionPath(savepath), objs, b.Dx(), b.Dy(), detect.COCOCategories)
		}
		return nil
	})
}

func recognizeFromVideo(args *cli.Args, det *detect.YOLOX, opts options) error {
	s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), 0, 0, args.Headless)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer s.Close()

	// Per frame predictions are named <video>_<frame>_res.txt.
	digits := 1
	if n := s.Capture.FrameCount(); n > 0 {
		digits = int(math.Log10(float64(n))) + 1
	}
	name := strings.TrimSuffix(filepath.Base(args.Video), filepath.Ext(args.Video))
	frameCount := 0

	return s.Run(func(frame *image.RGBA) (image.Image, error) {
		objs, err := det.Detect(frame)
		if err != nil {
			return nil, err
		}
		if opts.writePrediction {
			postfix := fmt.Sprintf("_%0*d_res", digits, frameCount)
			savepath, err := cli.SavePath(args.SavePath, name, postfix, ".png")
			if err != nil {
				return nil, err
			}
			b := frame.Bounds()
			if err := detect.WritePredictions(predictionPath(savepath), objs, b.Dx(), b.Dy(), detect.COCOCategories); err != nil {
				return nil, err
			}
			frameCount++
		}
		return detect.Plot(frame, objs, detect.COCOCategories)
	})
}
