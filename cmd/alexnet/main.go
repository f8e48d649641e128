package main

import (
	"context"
	"fmt"
	"image"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/classify"
	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

func main() {
	p := cli.NewParser("alexnet", "AlexNet ImageNet classification", "input/dog.jpg", "")
	labelsPath := p.Flags().String("labels", "imagenet_classes.txt", "ImageNet labels, one per line")
	args := p.MustParse()

	if err := run(args, *labelsPath); err != nil {
		log.Fatalf("alexnet: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, labelsPath string) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()

	net, err := loader.Load(context.Background(), "alexnet")
	if err != nil {
		return err
	}
	defer net.Close()

	labels, err := classify.LoadLabels(labelsPath)
	if err != nil {
		return err
	}
	c := classify.New(net, labels)

	n := 0
	return args.EachImage(func(path string, img image.Image) error {
		n++
		var preds []classify.Prediction
		err := args.Run(func() error {
			var err error
			preds, err = c.Classify(img)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Printf("[Image_%d] %s\n", n, path)
		for _, p := range preds {
			fmt.Printf("\t%s %f\n", p.Label, p.Prob)
		}
		return nil
	})
}
