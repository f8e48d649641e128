// Package diffusion samples images from a latent diffusion model with DDIM.
package diffusion

import (
	"fmt"
	"math"
)

const (
	// DDPMSteps is the length of the training noise schedule.
	DDPMSteps   = 1000
	linearStart = 0.00085
	linearEnd   = 0.012
)

// LinearAlphasCumprod is the cumulative product of 1-β for betas spaced
// linearly in sqrt space between start and end.
func LinearAlphasCumprod(n int, start, end float64) []float64 {
	out := make([]float64, n)
	a, b := math.Sqrt(start), math.Sqrt(end)
	prod := 1.0
	for i := 0; i < n; i++ {
		s := a
		if n > 1 {
			s = a + (b-a)*float64(i)/float64(n-1)
		}
		prod *= 1 - s*s
		out[i] = prod
	}
	return out
}

// DDIMTimesteps picks steps evenly spaced timesteps out of ddpm, shifted by
// one so the last step lands on the data distribution.
func DDIMTimesteps(steps, ddpm int) ([]int, error) {
	if steps <= 0 || steps > ddpm {
		return nil, fmt.Errorf("ddim steps must be in 1..%d, got %d", ddpm, steps)
	}
	c := ddpm / steps
	var ts []int
	for t := 0; t < ddpm; t += c {
		ts = append(ts, t+1)
	}
	return ts, nil
}

// Schedule holds the per step coefficients of the DDIM update, indexed by
// position in Timesteps.
type Schedule struct {
	Timesteps          []int
	Alphas             []float64
	AlphasPrev         []float64
	Sigmas             []float64
	SqrtOneMinusAlphas []float64
}

// NewSchedule derives the DDIM coefficients from the training schedule
// alphacums. eta 0 makes sampling deterministic.
func NewSchedule(alphacums []float64, steps int, eta float64) (*Schedule, error) {
	ts, err := DDIMTimesteps(steps, len(alphacums))
	if err != nil {
		return nil, err
	}
	s := &Schedule{Timesteps: ts}
	for i, t := range ts {
		if t >= len(alphacums) {
			return nil, fmt.Errorf("timestep %d outside a schedule of %d", t, len(alphacums))
		}
		a := alphacums[t]
		prev := alphacums[0]
		if i > 0 {
			prev = alphacums[ts[i-1]]
		}
		s.Alphas = append(s.Alphas, a)
		s.AlphasPrev = append(s.AlphasPrev, prev)
		s.Sigmas = append(s.Sigmas, eta*math.Sqrt((1-prev)/(1-a)*(1-a/prev)))
		s.SqrtOneMinusAlphas = append(s.SqrtOneMinusAlphas, math.Sqrt(1-a))
	}
	return s, nil
}

// DefaultSchedule is the 50 step deterministic schedule over the linear
// training betas.
func DefaultSchedule() *Schedule {
	s, err := LinearSchedule(50, 0)
	if err != nil {
		panic(err)
	}
	return s
}

// LinearSchedule is a DDIM schedule of steps over the linear training betas.
func LinearSchedule(steps int, eta float64) (*Schedule, error) {
	return NewSchedule(LinearAlphasCumprod(DDPMSteps, linearStart, linearEnd), steps, eta)
}

// Step applies the DDIM update at schedule position index to the latent x
// given the predicted noise eps. noise is only read when the step's sigma is
// non-zero. It returns x at the previous timestep and the predicted x0.
func (s *Schedule) Step(x, eps []float32, index int, noise func() float32) (prev, predX0 []float32) {
	aT := s.Alphas[index]
	aPrev := s.AlphasPrev[index]
	sigma := s.Sigmas[index]
	sqrtOneMinus := s.SqrtOneMinusAlphas[index]
	dirCoef := math.Sqrt(1 - aPrev - sigma*sigma)
	sqrtPrev := math.Sqrt(aPrev)
	sqrtAT := math.Sqrt(aT)

	prev = make([]float32, len(x))
	predX0 = make([]float32, len(x))
	for i := range x {
		e := float64(eps[i])
		x0 := (float64(x[i]) - sqrtOneMinus*e) / sqrtAT
		v := sqrtPrev*x0 + dirCoef*e
		if sigma != 0 {
			v += sigma * float64(noise())
		}
		prev[i] = float32(v)
		predX0[i] = float32(x0)
	}
	return prev, predX0
}
