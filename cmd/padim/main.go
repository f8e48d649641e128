package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/model-gallery/internal/anomaly"
	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

type options struct {
	arch      string
	feat      string
	trainDir  string
	gtDir     string
	seed      uint64
	threshold float64
}

func main() {
	p := cli.NewParser("padim", "PaDiM anomaly localization", "bottle_000.png", "output.png")
	var opts options
	fs := p.Flags()
	fs.StringVar(&opts.arch, "arch", "resnet18", "backbone: resnet18 | wide_resnet50_2")
	fs.StringVar(&opts.feat, "feat", "", "train set features written by a previous run")
	fs.StringVar(&opts.trainDir, "train_dir", "train", "directory of normal training images")
	fs.StringVar(&opts.gtDir, "gt_dir", "gt_masks", "directory of <name>_mask.png ground truth masks")
	fs.Uint64Var(&opts.seed, "seed", 1024, "seed of the random channel subset")
	fs.Float64Var(&opts.threshold, "threshold", -1, "anomaly threshold, negative derives it from the ground truth")
	args := p.MustParse()

	if err := run(args, opts); err != nil {
		log.Fatalf("padim: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, opts options) error {
	arch, err := anomaly.LookupArch(opts.arch)
	if err != nil {
		return err
	}
	if len(args.Inputs) == 0 {
		return errors.New("input file not found")
	}

	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	net, err := loader.Load(context.Background(), arch.Model)
	if err != nil {
		return err
	}
	defer net.Close()

	dist, err := distribution(arch, net, opts)
	if err != nil {
		return err
	}

	// Ground truth is only read when it decides the threshold.
	gtDir := opts.gtDir
	if opts.threshold >= 0 {
		gtDir = ""
	}
	results, err := score(args, dist, anomaly.NewExtractor(net, dist.Index), gtDir)
	if err != nil {
		return err
	}

	maps := make([][]float32, len(results))
	for i := range results {
		results[i].Score = anomaly.ImageScore(results[i].Map)
		maps[i] = results[i].Map
	}
	maps = anomaly.Normalize(maps)
	masks := make([][]bool, len(results))
	for i := range results {
		results[i].Map = maps[i]
		masks[i] = results[i].Truth
	}

	threshold := float32(opts.threshold)
	if opts.threshold < 0 {
		threshold, err = anomaly.DecideThreshold(maps, masks)
		if err != nil {
			return err
		}
		slog.Info("Optimal threshold", "threshold", threshold)
	}

	for _, r := range results {
		slog.Info("Anomaly score", "path", r.Path, "score", r.Score)
		fig, err := anomaly.Figure(r, threshold)
		if err != nil {
			return err
		}
		savepath, err := cli.SavePath(args.SavePath, r.Path, "", ".png")
		if err != nil {
			return err
		}
		cli.Saved(savepath)
		if err := imageutil.Save(savepath, fig); err != nil {
			return err
		}
	}
	return nil
}

// distribution loads the -feat file or fits the train set and saves it as
// <train_dir>.gob.
func distribution(arch anomaly.Arch, net model.Predictor, opts options) (*anomaly.Distribution, error) {
	if opts.feat != "" {
		slog.Info("loading train set feature", "path", opts.feat)
		dist, err := anomaly.LoadDistribution(opts.feat)
		if err != nil {
			return nil, err
		}
		if dist.Arch != arch.Name {
			return nil, fmt.Errorf("%s was trained with %s, not %s", opts.feat, dist.Arch, arch.Name)
		}
		return dist, nil
	}

	paths, err := cli.ExpandInputs([]string{opts.trainDir}, cli.Extensions["image"])
	if err != nil {
		return nil, err
	}
	slog.Info("training", "images", len(paths), "arch", arch.Name)
	ex := anomaly.NewExtractor(net, anomaly.ChannelIndex(arch.TotalDim, arch.Dim, opts.seed))
	dist, err := anomaly.Train(arch, ex, paths, true)
	if err != nil {
		return nil, err
	}
	if err := dist.Save(filepath.Base(filepath.Clean(opts.trainDir)) + ".gob"); err != nil {
		return nil, err
	}
	return dist, nil
}

// groundTruth reads <gtDir>/<name>_mask.png for an input, or nil.
func groundTruth(gtDir, path string) []bool {
	if gtDir == "" {
		return nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	mask, err := imageutil.Load(filepath.Join(gtDir, name+"_mask.png"))
	if err != nil {
		slog.Debug("no ground truth", "path", path, "error", err)
		return nil
	}
	return anomaly.MaskFromImage(mask)
}

func score(args *cli.Args, dist *anomaly.Distribution, ex *anomaly.Extractor, gtDir string) ([]anomaly.Result, error) {
	var results []anomaly.Result
	err := args.EachImage(func(path string, img image.Image) error {
		var (
			m    []float32
			crop *image.RGBA
		)
		err := args.Run(func() error {
			var err error
			m, crop, err = anomaly.Score(dist, ex, img)
			return err
		})
		if err != nil {
			return err
		}
		results = append(results, anomaly.Result{Path: path, Crop: crop, Map: m, Truth: groundTruth(gtDir, path)})
		return nil
	})
	return results, err
}
