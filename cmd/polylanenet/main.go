package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/lane"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

func main() {
	p := cli.NewParser("polylanenet", "PolyLaneNet lane detection", "input.jpg", "output")
	args := p.MustParse()

	if err := run(args); err != nil {
		log.Fatalf("polylanenet: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	net, err := loader.Load(context.Background(), "polylanenet")
	if err != nil {
		return err
	}
	defer net.Close()
	det := lane.NewDetector(net)

	predict := func(img image.Image) (*image.RGBA, error) {
		lanes, frame, err := det.Detect(img)
		if err != nil {
			return nil, err
		}
		slog.Debug("lanes", "count", len(lanes))
		return lane.Draw(frame, lanes)
	}

	if args.Video != "" {
		s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), lane.Width, lane.Height, args.Headless)
		if err != nil {
			return fmt.Errorf("failed to open video: %w", err)
		}
		defer s.Close()
		return s.Run(func(frame *image.RGBA) (image.Image, error) {
			return predict(frame)
		})
	}

	return args.EachImage(func(path string, img image.Image) error {
		slog.Info("Start inference...")
		var res *image.RGBA
		err := args.Run(func() error {
			var err error
			res, err = predict(img)
			return err
		})
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
