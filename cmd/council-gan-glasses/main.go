package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/gan"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

func main() {
	p := cli.NewParser("council-gan-glasses", "Glasses removal GAN based on SimGAN", "sample.jpg", "output.png")
	faceRecognition := p.Flags().Bool("face_recognition", false, "transform every detected face instead of the whole frame")
	dilation := p.Flags().Float64("dilation", 1, "scale of the square cut around each face")
	args := p.MustParse()

	if err := run(args, *faceRecognition, *dilation); err != nil {
		log.Fatalf("council-gan-glasses: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, faceRecognition bool, dilation float64) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	ctx := context.Background()

	net, err := loader.Load(ctx, "council_gan_glasses")
	if err != nil {
		return err
	}
	defer net.Close()

	var locator gan.FaceLocator
	if faceRecognition {
		fnet, err := loader.Load(ctx, "scrfd")
		if err != nil {
			return err
		}
		defer fnet.Close()
		locator = face.NewDetector(fnet)
	}
	remover := gan.New(net, locator, dilation)

	if args.Video != "" {
		s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), 0, 0, args.Headless)
		if err != nil {
			return fmt.Errorf("failed to open video: %w", err)
		}
		defer s.Close()
		return s.Run(func(frame *image.RGBA) (image.Image, error) {
			return remover.Process(frame)
		})
	}

	return args.EachImage(func(path string, img image.Image) error {
		var res *image.RGBA
		err := args.Run(func() error {
			var err error
			res, err = remover.Process(img)
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
