package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/detect"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

func main() {
	p := cli.NewParser("yolov4", "YOLOv4 object detection", "input.jpg", "output.png")
	threshold := p.Flags().Float64("threshold", 0.4, "detection threshold")
	iou := p.Flags().Float64("iou", 0.45, "IoU threshold for NMS")
	width := p.Flags().Int("detection_width", detect.YOLOv4SizeChoices[0], "detection width: 416 | 640 | 1280")
	height := p.Flags().Int("detection_height", detect.YOLOv4SizeChoices[0], "detection height: 416 | 640 | 1280")
	args := p.MustParse()

	if !detect.ValidYOLOv4Size(*width) || !detect.ValidYOLOv4Size(*height) {
		log.Fatalf("yolov4: unsupported detection size %dx%d", *width, *height)
	}

	det, closeNet, err := load(args, *width, *height)
	if err != nil {
		log.Fatalf("yolov4: %v", err)
	}
	det.Threshold = float32(*threshold)
	det.IoU = float32(*iou)

	if args.Video != "" {
		err = recognizeFromVideo(args, det)
	} else {
		err = recognizeFromImage(args, det)
	}
	closeNet()
	if err != nil {
		log.Fatalf("yolov4: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func load(args *cli.Args, w, h int) (*detect.YOLOv4, func(), error) {
	loader, err := args.Loader()
	if err != nil {
		return nil, nil, err
	}
	e, err := loader.Catalog.Lookup("yolov4")
	if err != nil {
		return nil, nil, err
	}
	net, err := loader.LoadFile(context.Background(), e, detect.YOLOv4Weight(w, h))
	if err != nil {
		return nil, nil, err
	}
	return detect.NewYOLOv4(net, w, h), func() {
		net.Close()
		model.Shutdown()
	}, nil
}

func recognizeFromImage(args *cli.Args, det *detect.YOLOv4) error {
	return args.EachImage(func(path string, img image.Image) error {
		slog.Debug("input image shape", "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
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
		return imageutil.Save(savepath, res)
	})
}

func recognizeFromVideo(args *cli.Args, det *detect.YOLOv4) error {
	det.Letterbox = true
	s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), 0, 0, args.Headless)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer s.Close()
	return s.Run(func(frame *image.RGBA) (image.Image, error) {
		objs, err := det.Detect(frame)
		if err != nil {
			return nil, err
		}
		return detect.Plot(frame, objs, detect.COCOCategories)
	})
}
