package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/face"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
	"github.com/Brownie44l1/model-gallery/internal/video"
	"github.com/Brownie44l1/model-gallery/internal/vision"
)

func main() {
	p := cli.NewParser("arcface", "Determine if the person is the same from two facial images.", "correct_pair_1.jpg", "")
	input2 := p.Flags().String("input2", "correct_pair_2.jpg", "second face, used when a single -input is given")
	base := p.Flags().String("base", "", "face to look for in video mode; empty compares against the first face seen")
	args := p.MustParse()

	if err := run(args, *input2, *base); err != nil {
		log.Fatalf("arcface: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, input2, base string) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	ctx := context.Background()

	net, err := loader.Load(ctx, "arcface")
	if err != nil {
		return err
	}
	defer net.Close()
	v := face.NewVerifier(net)

	if args.Video != "" {
		fnet, err := loader.Load(ctx, "scrfd")
		if err != nil {
			return err
		}
		defer fnet.Close()
		return compareWithVideo(args, v, face.NewDetector(fnet), base)
	}

	inputs := args.Inputs
	if len(inputs) == 1 && input2 != "" {
		inputs = append(inputs, input2)
	}
	if len(inputs) != 2 {
		return fmt.Errorf("two face images are needed, got %d", len(inputs))
	}
	a, err := imageutil.Load(inputs[0])
	if err != nil {
		return err
	}
	b, err := imageutil.Load(inputs[1])
	if err != nil {
		return err
	}

	slog.Info("Start inference...")
	var sim float32
	err = args.Run(func() error {
		var err error
		sim, err = v.Compare(a, b)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Similarity of (%s, %s) : %.3f\n", inputs[0], inputs[1], sim)
	if sim < face.SameFaceThreshold {
		fmt.Println("They are not the same face!")
	} else {
		fmt.Println("They are the same face!")
	}
	return nil
}

func compareWithVideo(args *cli.Args, v *face.Verifier, det *face.Detector, base string) error {
	var ref *model.Tensor
	if base != "" {
		img, err := imageutil.Load(base)
		if err != nil {
			return err
		}
		ref = v.Preprocess(img)
	}

	s, err := video.NewSession(args.Video, cli.VideoOutput(args.SavePath), 0, 0, args.Headless)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer s.Close()

	return s.Run(func(frame *image.RGBA) (image.Image, error) {
		faces, err := det.Detect(frame)
		if err != nil {
			return nil, err
		}
		var out image.Image = frame
		var boxes []vision.Box
		var texts []string
		for _, f := range faces {
			r := f.Rect().Intersect(frame.Rect)
			if r.Empty() {
				continue
			}
			boxes = append(boxes, vision.Box{Rect: r, Color: vision.White})

			x := v.Preprocess(imageutil.Letterbox(imageutil.Crop(frame, r), v.Size, v.Size))
			if ref == nil {
				ref = x
			}
			sim, err := v.CompareTensors(ref, x)
			if err != nil {
				return nil, err
			}
			texts = []string{
				fmt.Sprintf("Similarity: %06.3f", sim),
				fmt.Sprintf("SAME FACE: %t", sim >= face.SameFaceThreshold),
			}
		}
		if len(boxes) > 0 {
			if out, err = vision.DrawBoxes(out, boxes); err != nil {
				return nil, err
			}
			if out, err = vision.DrawTexts(out, texts); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}
