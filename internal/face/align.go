package face

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/mat"
)

// arcfaceTemplate is where the five keypoints land in a 112×112 crop.
var arcfaceTemplate = [5][2]float64{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

// Affine is a 2×3 matrix mapping source pixels to destination pixels.
type Affine [6]float64

func (a Affine) aff3() f64.Aff3 { return f64.Aff3(a) }

// Apply maps the point (x, y).
func (a Affine) Apply(x, y float64) (float64, float64) {
	return a[0]*x + a[1]*y + a[2], a[3]*x + a[4]*y + a[5]
}

// Invert returns the inverse transform. a must not be singular.
func (a Affine) Invert() Affine {
	det := a[0]*a[4] - a[1]*a[3]
	i0, i1 := a[4]/det, -a[1]/det
	i3, i4 := -a[3]/det, a[0]/det
	return Affine{
		i0, i1, -(i0*a[2] + i1*a[5]),
		i3, i4, -(i3*a[2] + i4*a[5]),
	}
}

// EstimateNorm finds the similarity transform taking kps onto the ArcFace
// template scaled to a size×size crop.
func EstimateNorm(kps [5][2]float32, size int) Affine {
	ratio := float64(size) / 112
	var src, dst [5][2]float64
	for i := range kps {
		src[i] = [2]float64{float64(kps[i][0]), float64(kps[i][1])}
		dst[i] = [2]float64{arcfaceTemplate[i][0] * ratio, arcfaceTemplate[i][1] * ratio}
	}
	return umeyama(src[:], dst[:])
}

// umeyama estimates rotation, uniform scale and translation between two
// point sets in the least squares sense.
func umeyama(src, dst [][2]float64) Affine {
	n := float64(len(src))
	var sm, dm [2]float64
	for i := range src {
		for d := 0; d < 2; d++ {
			sm[d] += src[i][d] / n
			dm[d] += dst[i][d] / n
		}
	}

	var srcVar float64
	cov := mat.NewDense(2, 2, nil)
	for i := range src {
		s := [2]float64{src[i][0] - sm[0], src[i][1] - sm[1]}
		t := [2]float64{dst[i][0] - dm[0], dst[i][1] - dm[1]}
		srcVar += (s[0]*s[0] + s[1]*s[1]) / n
		for r := 0; r < 2; r++ {
			for c := 0; c < 2; c++ {
				cov.Set(r, c, cov.At(r, c)+t[r]*s[c]/n)
			}
		}
	}

	d := []float64{1, 1}
	if mat.Det(cov) < 0 {
		d[1] = -1
	}

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		return Affine{1, 0, 0, 0, 1, 0}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	var rot mat.Dense
	rot.Product(&u, mat.NewDiagDense(2, d), v.T())

	scale := 1.0
	if srcVar > 0 {
		scale = (sv[0]*d[0] + sv[1]*d[1]) / srcVar
	}
	tx := dm[0] - scale*(rot.At(0, 0)*sm[0]+rot.At(0, 1)*sm[1])
	ty := dm[1] - scale*(rot.At(1, 0)*sm[0]+rot.At(1, 1)*sm[1])
	return Affine{
		scale * rot.At(0, 0), scale * rot.At(0, 1), tx,
		scale * rot.At(1, 0), scale * rot.At(1, 1), ty,
	}
}

// Warp renders the size×size crop that m maps img onto. Pixels outside img
// are black.
func Warp(img image.Image, m Affine, size int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Rect, image.Black, image.Point{}, draw.Src)
	xdraw.BiLinear.Transform(out, m.aff3(), img, img.Bounds(), xdraw.Over, nil)
	return out
}

// InverseWarp pastes crop back into dst through the inverse of m, the
// transform crop was produced with. mask weights the crop, nil pastes it
// whole.
func InverseWarp(dst *image.RGBA, crop image.Image, m Affine, mask image.Image) {
	opts := &xdraw.Options{}
	if mask != nil {
		opts.SrcMask = mask
		opts.SrcMaskP = crop.Bounds().Min
	}
	xdraw.BiLinear.Transform(dst, m.Invert().aff3(), crop, crop.Bounds(), xdraw.Over, opts)
}

// FeatherMask is a w×h alpha mask that is opaque in the middle and fades to
// zero over border pixels at the edges.
func FeatherMask(w, h, border int) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := min(x, y, w-1-x, h-1-y)
			a := 255
			if d < border {
				a = 255 * d / border
			}
			m.Pix[y*m.Stride+x] = uint8(a)
		}
	}
	return m
}
