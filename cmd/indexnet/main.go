package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/matting"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
)

// Video frames wider than this are scaled down first.
const widthLimit = 640

func main() {
	p := cli.NewParser("indexnet", "IndexNet deep image matting", "input.jpg", "output.png")
	trimapPath := p.Flags().String("trimap", "trimap.png", "trimap image; empty generates one with U2-Net")
	args := p.MustParse()

	if err := run(args, *trimapPath); err != nil {
		log.Fatalf("indexnet: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, trimapPath string) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	ctx := context.Background()

	net, err := loader.Load(ctx, "indexnet")
	if err != nil {
		return err
	}
	defer net.Close()
	matter := matting.NewMatter(net)

	var seg *matting.Segmenter
	if trimapPath == "" || args.Video != "" {
		segNet, err := loader.Load(ctx, "u2net")
		if err != nil {
			return err
		}
		defer segNet.Close()
		seg = matting.NewSegmenter(segNet)
	}

	// -debug also dumps the intermediate images next to the output.
	if args.Debug {
		dir := args.SavePath
		if filepath.Ext(dir) != "" {
			dir = filepath.Dir(dir)
		}
		matter.DebugDir = dir
		if seg != nil {
			seg.DebugDir = dir
		}
	}

	if args.Video != "" {
		return recognizeFromVideo(args, seg, matter)
	}
	return recognizeFromImage(args, trimapPath, seg, matter)
}

func recognizeFromImage(args *cli.Args, trimapPath string, seg *matting.Segmenter, matter *matting.Matter) error {
	return args.EachImage(func(path string, img image.Image) error {
		var trimap *image.Gray
		if seg != nil {
			t, _, err := seg.Trimap(img)
			if err != nil {
				return err
			}
			trimap = t
		} else {
			t, err := imageutil.Load(trimapPath)
			if err != nil {
				return fmt.Errorf("failed to read trimap: %w", err)
			}
			trimap = matting.TrimapFromImage(t)
		}

		var out *image.NRGBA
		err := args.Run(func() error {
			var err error
			out, err = matter.Matte(img, trimap)
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
		return imageutil.Save(savepath, out)
	})
}

func recognizeFromVideo(args *cli.Args, seg *matting.Segmenter, matter *matting.Matter) error {
	s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), 0, 0, args.Headless)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer s.Close()

	return s.Run(func(frame *image.RGBA) (image.Image, error) {
		src := image.Image(frame)
		if w, h := frame.Rect.Dx(), frame.Rect.Dy(); w >= widthLimit {
			src = imageutil.Resize(frame, widthLimit, widthLimit*h/w)
		}
		trimap, _, err := seg.Trimap(src)
		if err != nil {
			return nil, err
		}
		out, err := matter.Matte(src, trimap)
		if err != nil {
			return nil, err
		}
		return matting.Composite(out), nil
	})
}
