package anomaly

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// covarianceEpsilon is added to the diagonal so every covariance inverts.
const covarianceEpsilon = 0.01

// Distribution holds a gaussian per feature position, learned from normal
// images.
type Distribution struct {
	Arch  string
	Index []int
	D     int
	H, W  int
	// Mean is P×D and CovInv is P×D×D, with P = H·W.
	Mean   []float32
	CovInv []float32
}

// Fit estimates the mean and inverse covariance at every position.
func Fit(arch string, index []int, embs []*Embedding, progress bool) (*Distribution, error) {
	if len(embs) < 2 {
		return nil, fmt.Errorf("need at least 2 training images, got %d", len(embs))
	}
	d, h, w := embs[0].D, embs[0].H, embs[0].W
	for _, e := range embs {
		if e.D != d || e.H != h || e.W != w {
			return nil, errors.New("training embeddings differ in shape")
		}
	}
	p := h * w
	dist := &Distribution{
		Arch:   arch,
		Index:  index,
		D:      d,
		H:      h,
		W:      w,
		Mean:   make([]float32, p*d),
		CovInv: make([]float32, p*d*d),
	}

	var bar *progressbar.ProgressBar
	if progress {
		bar = progressbar.Default(int64(p), "fitting")
		defer bar.Close()
	}

	x := mat.NewDense(len(embs), d, nil)
	cov := mat.NewSymDense(d, nil)
	inv := mat.NewSymDense(d, nil)
	col := make([]float64, len(embs))
	for pos := 0; pos < p; pos++ {
		for n, e := range embs {
			for c := 0; c < d; c++ {
				x.Set(n, c, float64(e.At(c, pos)))
			}
		}
		for c := 0; c < d; c++ {
			mat.Col(col, c, x)
			dist.Mean[pos*d+c] = float32(stat.Mean(col, nil))
		}

		stat.CovarianceMatrix(cov, x, nil)
		for c := 0; c < d; c++ {
			cov.SetSym(c, c, cov.At(c, c)+covarianceEpsilon)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(cov); !ok {
			return nil, fmt.Errorf("covariance at position %d is not positive definite", pos)
		}
		if err := chol.InverseTo(inv); err != nil {
			return nil, fmt.Errorf("failed to invert covariance at position %d: %w", pos, err)
		}
		block := dist.CovInv[pos*d*d:]
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				block[i*d+j] = float32(inv.At(i, j))
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return dist, nil
}

// Distance returns the Mahalanobis distance of every position of e, as an
// H×W plane.
func (dist *Distribution) Distance(e *Embedding) ([]float32, error) {
	if e.D != dist.D || e.H != dist.H || e.W != dist.W {
		return nil, fmt.Errorf("embedding %dx%dx%d does not match distribution %dx%dx%d",
			e.D, e.H, e.W, dist.D, dist.H, dist.W)
	}
	d := dist.D
	p := dist.H * dist.W
	out := make([]float32, p)
	delta := make([]float64, d)
	for pos := 0; pos < p; pos++ {
		for c := 0; c < d; c++ {
			delta[c] = float64(e.At(c, pos) - dist.Mean[pos*d+c])
		}
		block := dist.CovInv[pos*d*d:]
		var sum float64
		for i := 0; i < d; i++ {
			var row float64
			for j := 0; j < d; j++ {
				row += float64(block[i*d+j]) * delta[j]
			}
			sum += delta[i] * row
		}
		out[pos] = float32(math.Sqrt(math.Max(sum, 0)))
	}
	return out, nil
}

// Save writes the distribution with encoding/gob.
func (dist *Distribution) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(dist); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode features: %w", err)
	}
	slog.Info("saved train set feature", "path", path)
	return f.Close()
}

// LoadDistribution reads a distribution written by Save.
func LoadDistribution(path string) (*Distribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var dist Distribution
	if err := gob.NewDecoder(f).Decode(&dist); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &dist, nil
}
