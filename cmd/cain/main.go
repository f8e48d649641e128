package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/interp"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

func main() {
	p := cli.NewParser("cain", "CAIN frame interpolation", "input/0.png", "output")
	input2 := p.Flags().String("input2", "input/1.png", "second frame, used when a single -input is given")
	args := p.MustParse()

	if err := run(args, *input2); err != nil {
		log.Fatalf("cain: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, input2 string) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()

	net, err := loader.Load(context.Background(), "cain")
	if err != nil {
		return err
	}
	defer net.Close()
	in := interp.New(net)

	if args.Video != "" {
		return recognizeFromVideo(args, in)
	}
	if len(args.Inputs) == 1 && input2 != "" {
		args.Inputs = append(args.Inputs, input2)
	}
	if len(args.Inputs) < 2 {
		return errors.New("at least two input frames are required")
	}
	return recognizeFromImage(args, in)
}

func recognizeFromImage(args *cli.Args, in *interp.Interpolator) error {
	var window interp.Window
	no := 0
	return args.EachImage(func(path string, img image.Image) error {
		prev, cur, ok := window.Push(img)
		if !ok {
			return nil
		}
		slog.Info("Start inference...")
		var mid *image.RGBA
		err := args.Run(func() error {
			var err error
			mid, err = in.Interpolate(prev, cur)
			return err
		})
		if err != nil {
			return err
		}
		no++
		savepath, err := cli.SavePath(args.SavePath, fmt.Sprintf("output_%d.png", no), "", "")
		if err != nil {
			return err
		}
		cli.Saved(savepath)
		return imageutil.Save(savepath, mid)
	})
}

// recognizeFromVideo doubles the frame rate: every source frame is
// followed by the frame interpolated between it and the next one.
func recognizeFromVideo(args *cli.Args, in *interp.Interpolator) error {
	s, err := video.NewSession(args.Video, "", 0, 0, args.Headless)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer s.Close()

	var w *video.Writer
	if out := cli.VideoOutput(args.SavePath); out != "" {
		w, err = video.NewWriter(out, interp.VideoWidth, interp.VideoHeight, 2*s.Capture.FPS())
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("failed to close video writer", "error", err)
			}
		}()
	}

	var window interp.Window
	return s.Run(func(frame *image.RGBA) (image.Image, error) {
		img := imageutil.Resize(frame, interp.VideoWidth, interp.VideoHeight)
		prev, cur, ok := window.Push(img)
		if !ok {
			return img, nil
		}
		mid, err := in.Interpolate(prev, cur)
		if err != nil {
			return nil, err
		}
		if w != nil {
			if err := w.Write(prev); err != nil {
				return nil, err
			}
			if err := w.Write(mid); err != nil {
				return nil, err
			}
		}
		return interp.Triplet(prev, mid, cur), nil
	})
}
