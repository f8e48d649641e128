package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/faceswap"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

func main() {
	p := cli.NewParser("sber-swap", "SberSwap face swap", "beckham.jpg", "output.png")
	source := p.Flags().String("source", "elon_musk.jpg", "image of the identity to transfer")
	args := p.MustParse()

	if err := run(args, *source); err != nil {
		log.Fatalf("sber-swap: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, source string) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	ctx := context.Background()

	nets := make(map[string]*model.Net)
	for _, name := range []string{"sber_swap_g", "scrfd", "arcface_backbone"} {
		slog.Info("Checking model...", "name", name)
		n, err := loader.Load(ctx, name)
		if err != nil {
			return err
		}
		defer n.Close()
		nets[name] = n
	}
	swapper := faceswap.New(face.NewDetector(nets["scrfd"]), nets["arcface_backbone"], nets["sber_swap_g"])

	slog.Info("SOURCE", "path", source)
	srcImg, err := imageutil.Load(source)
	if err != nil {
		return err
	}
	emb, err := swapper.Source(srcImg)
	if err != nil {
		return err
	}

	if args.Video != "" {
		return recognizeFromVideo(args, swapper, emb)
	}
	return args.EachImage(func(path string, img image.Image) error {
		slog.Info("Start inference...")
		var res *image.RGBA
		err := args.Run(func() error {
			var err error
			res, err = swapper.Swap(img, emb)
			return err
		})
		if err != nil {
			return err
		}
		savepath, err := cli.SavePath(args.SavePath, path, "", ".png")
		if err != nil {
			return err
		}
		cli.Saved(savepath)
		return imageutil.Save(savepath, res)
	})
}

func recognizeFromVideo(args *cli.Args, swapper *faceswap.Swapper, emb *faceswap.Embedding) error {
	s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), 0, 0, args.Headless)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer s.Close()

	return s.Run(func(frame *image.RGBA) (image.Image, error) {
		res, err := swapper.Swap(frame, emb)
		if errors.Is(err, face.ErrNoFace) {
			return frame, nil
		}
		return res, err
	})
}
