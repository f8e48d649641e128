package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/Brownie44l1/model-gallery/internal/cli"
	"github.com/Brownie44l1/model-gallery/internal/diffusion"
	"github.com/Brownie44l1/model-gallery/internal/imageutil"
	"github.com/Brownie44l1/model-gallery/internal/model"
)

// Output images are size×size; latents are eight times smaller.
const (
	size          = 256
	latentFactor  = 8
	latentChannel = 4
)

type options struct {
	prompt    string
	nSamples  int
	scale     float64
	ddimSteps int
	ddimEta   float64
	seed      uint64
	tokenizer string
}

func main() {
	p := cli.NewParser("latent-diffusion-txt2img", "Latent Diffusion text to image", "", "output.png")
	var opts options
	fs := p.Flags()
	fs.StringVar(&opts.prompt, "prompt", "a painting of a virus monster playing guitar", "text to draw")
	fs.IntVar(&opts.nSamples, "n_samples", 4, "how many samples to produce")
	fs.Float64Var(&opts.scale, "scale", 5.0, "unconditional guidance scale, 1 disables guidance")
	fs.IntVar(&opts.ddimSteps, "ddim_steps", 50, "number of DDIM sampling steps")
	fs.Float64Var(&opts.ddimEta, "ddim_eta", 0, "DDIM eta, 0 is deterministic")
	fs.Uint64Var(&opts.seed, "seed", 42, "random seed")
	fs.StringVar(&opts.tokenizer, "tokenizer", "", "bert-base-uncased tokenizer.json, downloaded when empty")
	args := p.MustParse()

	if err := run(args, opts); err != nil {
		log.Fatalf("latent-diffusion-txt2img: %v", err)
	}
	slog.Info("Script finished successfully.")
}

func run(args *cli.Args, opts options) error {
	loader, err := args.Loader()
	if err != nil {
		return err
	}
	defer model.Shutdown()
	ctx := context.Background()

	names := []string{"transformer_emb", "transformer_attn", "diffusion_emb", "diffusion_mid", "diffusion_out", "autoencoder"}
	nets := make(map[string]*model.Net, len(names))
	for _, name := range names {
		n, err := loader.Load(ctx, name)
		if err != nil {
			return err
		}
		defer n.Close()
		nets[name] = n
	}

	tkPath := opts.tokenizer
	if tkPath == "" {
		tkPath, err = loader.Downloader.Ensure(ctx, loader.Dir, "tokenizer.json", diffusion.TokenizerURL)
		if err != nil {
			return err
		}
	}
	tk, err := diffusion.LoadTokenizer(tkPath)
	if err != nil {
		return err
	}
	embedder := diffusion.NewBERTEmbedder(tk, nets["transformer_emb"], nets["transformer_attn"])

	sampler := diffusion.NewSampler(&diffusion.UNet{
		Emb: nets["diffusion_emb"],
		Mid: nets["diffusion_mid"],
		Out: nets["diffusion_out"],
	}, opts.seed)
	sampler.Scale = float32(opts.scale)
	if sampler.Schedule, err = diffusion.LinearSchedule(opts.ddimSteps, opts.ddimEta); err != nil {
		return err
	}

	var uncond *model.Tensor
	if opts.scale != 1 {
		if uncond, err = embedder.Encode(repeat("", opts.nSamples)); err != nil {
			return err
		}
	}

	slog.Info("Start inference...", "prompt", opts.prompt)
	return args.Run(func() error {
		cond, err := embedder.Encode(repeat(opts.prompt, opts.nSamples))
		if err != nil {
			return err
		}
		shape := []int64{int64(opts.nSamples), latentChannel, size / latentFactor, size / latentFactor}
		z, err := sampler.Sample(shape, cond, uncond)
		if err != nil {
			return err
		}
		imgs, err := diffusion.Decode(nets["autoencoder"], z)
		if err != nil {
			return err
		}
		cli.Saved(args.SavePath)
		return imageutil.Save(args.SavePath, diffusion.Grid(imgs, opts.nSamples))
	})
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
