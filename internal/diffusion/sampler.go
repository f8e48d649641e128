package diffusion

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/schollz/progressbar/v3"

	"github.com/Brownie44l1/model-gallery/internal/model"
)

// UNet is the denoiser split into its embedding, middle and output stages.
// The embedding stage returns h, emb and twelve skip tensors; the middle
// stage consumes the last six skips and the output stage the first six.
type UNet struct {
	Emb model.Predictor
	Mid model.Predictor
	Out model.Predictor
}

const skipCount = 12

// Apply predicts the noise in x at timesteps t under context c.
func (u *UNet) Apply(x *model.Tensor, t *model.Int64Tensor, c *model.Tensor) (*model.Tensor, error) {
	out, err := u.Emb.Predict(x, t, c)
	if err != nil {
		return nil, fmt.Errorf("diffusion_emb: %w", err)
	}
	if len(out) != 2+skipCount {
		return nil, fmt.Errorf("diffusion_emb: expected %d outputs, got %d", 2+skipCount, len(out))
	}
	h, emb, hs := out[0], out[1], out[2:]

	in := []model.Input{h, emb, c}
	for _, s := range hs[6:] {
		in = append(in, s)
	}
	out, err = u.Mid.Predict(in...)
	if err != nil {
		return nil, fmt.Errorf("diffusion_mid: %w", err)
	}
	h = out[0]

	in = []model.Input{h, emb, c}
	for _, s := range hs[:6] {
		in = append(in, s)
	}
	out, err = u.Out.Predict(in...)
	if err != nil {
		return nil, fmt.Errorf("diffusion_out: %w", err)
	}
	return out[0], nil
}

// Denoiser predicts noise. *UNet implements it.
type Denoiser interface {
	Apply(x *model.Tensor, t *model.Int64Tensor, c *model.Tensor) (*model.Tensor, error)
}

// Sampler runs DDIM with classifier-free guidance.
type Sampler struct {
	Model    Denoiser
	Schedule *Schedule
	// Scale is the guidance scale. 1 disables the unconditional pass.
	Scale    float32
	Rand     *rand.Rand
	Progress bool
}

func NewSampler(m Denoiser, seed uint64) *Sampler {
	return &Sampler{
		Model:    m,
		Schedule: DefaultSchedule(),
		Scale:    5,
		Rand:     rand.New(rand.NewPCG(seed, seed)),
		Progress: true,
	}
}

func (s *Sampler) noise() float32 { return float32(s.Rand.NormFloat64()) }

// Sample draws latents of shape [n, c, h, w] conditioned on cond. uncond is
// the embedding of the empty prompt and may be nil when Scale is 1.
func (s *Sampler) Sample(shape []int64, cond, uncond *model.Tensor) (*model.Tensor, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("latent shape must have 4 dims, got %v", shape)
	}
	guided := s.Scale != 1
	if guided && uncond == nil {
		return nil, fmt.Errorf("guidance scale %v needs an unconditional embedding", s.Scale)
	}

	x := model.Zeros(shape...)
	for i := range x.Data {
		x.Data[i] = s.noise()
	}

	steps := len(s.Schedule.Timesteps)
	slog.Info("Running DDIM Sampling", "timesteps", steps)
	var bar *progressbar.ProgressBar
	if s.Progress {
		bar = progressbar.Default(int64(steps), "DDIM Sampler")
		defer bar.Close()
	}

	n := shape[0]
	for i := 0; i < steps; i++ {
		index := steps - i - 1
		ts := make([]int64, n)
		for j := range ts {
			ts[j] = int64(s.Schedule.Timesteps[index])
		}

		eps, err := s.predictNoise(x, ts, cond, uncond, guided)
		if err != nil {
			return nil, err
		}
		prev, _ := s.Schedule.Step(x.Data, eps.Data, index, s.noise)
		x = model.NewTensor(prev, shape...)
		if bar != nil {
			bar.Add(1)
		}
	}
	return x, nil
}

func (s *Sampler) predictNoise(x *model.Tensor, ts []int64, cond, uncond *model.Tensor, guided bool) (*model.Tensor, error) {
	n := int64(len(ts))
	if !guided {
		return s.Model.Apply(x, model.NewInt64Tensor(ts, n), cond)
	}

	xIn, err := model.Concat(x, x)
	if err != nil {
		return nil, err
	}
	cIn, err := model.Concat(uncond, cond)
	if err != nil {
		return nil, err
	}
	tIn := model.NewInt64Tensor(append(append([]int64(nil), ts...), ts...), 2*n)

	out, err := s.Model.Apply(xIn, tIn, cIn)
	if err != nil {
		return nil, err
	}
	parts, err := model.Split(out, 2)
	if err != nil {
		return nil, err
	}
	return Guide(parts[0], parts[1], s.Scale), nil
}

// Guide mixes unconditional and conditional noise predictions:
// uncond + scale*(cond-uncond).
func Guide(uncond, cond *model.Tensor, scale float32) *model.Tensor {
	out := cond.Clone()
	for i := range out.Data {
		out.Data[i] = uncond.Data[i] + scale*(cond.Data[i]-uncond.Data[i])
	}
	return out
}
