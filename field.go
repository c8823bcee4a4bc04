package splatfit

import (
	"math"
	"math/rand/v2"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GaussianField owns the raw trainable arrays of N Gaussians. Nothing here
// is clamped: scales are used as is, colors and opacities pass through a
// sigmoid and quaternions are normalized on the way out.
type GaussianField struct {
	Means     *Param // Nx3
	Scales    *Param // Nx3
	Quats     *Param // Nx4, (w, x, y, z), not unit length in general
	Rgbs      *Param // Nx3, pre-sigmoid
	Opacities *Param // Nx1, pre-sigmoid
}

// initialOpacity is the raw opacity every Gaussian starts with.
const initialOpacity = 1.0

// NewGaussianField draws a random field from src. The draw order is fixed
// so a given seed always yields the same field: means (N*3), scales (N*3),
// rgbs (N*3), then u, v and w (N each) for the rotations.
func NewGaussianField(n int, bound float64, src rand.Source) *GaussianField {
	f := &GaussianField{
		Means:     NewParam("means", n, 3),
		Scales:    NewParam("scales", n, 3),
		Quats:     NewParam("quats", n, 4),
		Rgbs:      NewParam("rgbs", n, 3),
		Opacities: NewParam("opacities", n, 1),
	}
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}

	for i := range f.Means.Data {
		f.Means.Data[i] = bound * (unit.Rand() - 0.5)
	}
	for i := range f.Scales.Data {
		f.Scales.Data[i] = unit.Rand()
	}
	for i := range f.Rgbs.Data {
		f.Rgbs.Data[i] = unit.Rand()
	}

	// Uniform random rotations (Shoemake): three independent uniforms per
	// Gaussian mapped onto the unit 3-sphere.
	u := make([]float64, n)
	v := make([]float64, n)
	w := make([]float64, n)
	for _, buf := range [][]float64{u, v, w} {
		for i := range buf {
			buf[i] = unit.Rand()
		}
	}
	for i := range n {
		q := f.Quats.Row(i)
		q[0] = math.Sqrt(1-u[i]) * math.Sin(2*math.Pi*v[i])
		q[1] = math.Sqrt(1-u[i]) * math.Cos(2*math.Pi*v[i])
		q[2] = math.Sqrt(u[i]) * math.Sin(2*math.Pi*w[i])
		q[3] = math.Sqrt(u[i]) * math.Cos(2*math.Pi*w[i])
	}

	for i := range f.Opacities.Data {
		f.Opacities.Data[i] = initialOpacity
	}
	return f
}

func (f *GaussianField) Len() int {
	return f.Means.Len()
}

// Parameters returns the raw arrays in optimizer registration order.
func (f *GaussianField) Parameters() []*Param {
	return []*Param{f.Rgbs, f.Means, f.Scales, f.Opacities, f.Quats}
}

func (f *GaussianField) ZeroGrad() {
	for _, p := range f.Parameters() {
		p.ZeroGrad()
	}
}

// ProjectionInputs returns means, scales and a freshly normalized copy of
// the quaternions. The stored quaternions are left untouched.
func (f *GaussianField) ProjectionInputs() (means, scales, quats []float64) {
	return f.Means.Data, f.Scales.Data, normalizeQuats(f.Quats.Data)
}

// Appearance returns sigmoid(rgbs) and sigmoid(opacities).
func (f *GaussianField) Appearance() (colors, opacities []float64) {
	colors = make([]float64, len(f.Rgbs.Data))
	for i, x := range f.Rgbs.Data {
		colors[i] = sigmoid(x)
	}
	opacities = make([]float64, len(f.Opacities.Data))
	for i, x := range f.Opacities.Data {
		opacities[i] = sigmoid(x)
	}
	return colors, opacities
}

// AccumulateAppearanceGrad adds the gradient of the activated colors and
// opacities (as returned by Appearance) onto the raw arrays.
func (f *GaussianField) AccumulateAppearanceGrad(colors, opacities, dColors, dOpacities []float64) {
	for i, s := range colors {
		f.Rgbs.Grad[i] += dColors[i] * s * (1 - s)
	}
	for i, s := range opacities {
		f.Opacities.Grad[i] += dOpacities[i] * s * (1 - s)
	}
}

// AccumulateQuatGrad pulls gradients taken with respect to the normalized
// quaternions back onto the raw ones: dq = (g - q̂(q̂·g)) / |q|.
func (f *GaussianField) AccumulateQuatGrad(dUnit []float64) {
	for i := range f.Quats.Len() {
		q := f.Quats.Row(i)
		norm := quat.Abs(toQuat(q))
		if norm == 0 {
			continue
		}
		g := dUnit[i*4 : i*4+4]
		dot := 0.0
		for k := range 4 {
			dot += q[k] / norm * g[k]
		}
		for k := range 4 {
			f.Quats.Grad[i*4+k] += (g[k] - q[k]/norm*dot) / norm
		}
	}
}

// SeedColors overwrites the raw colors with logit(palette), cycling through
// the palette. Used when the target's palette is a better start than noise.
func (f *GaussianField) SeedColors(palette []colorful.Color) {
	if len(palette) == 0 {
		return
	}
	for i := range f.Rgbs.Len() {
		c := palette[i%len(palette)].Clamped()
		row := f.Rgbs.Row(i)
		row[0] = logit(c.R)
		row[1] = logit(c.G)
		row[2] = logit(c.B)
	}
}

func normalizeQuats(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i := 0; i+4 <= len(raw); i += 4 {
		q := toQuat(raw[i : i+4])
		// A zero quaternion stays zero (NaN-free) rather than blowing up.
		if norm := quat.Abs(q); norm != 0 {
			q = quat.Scale(1/norm, q)
		}
		out[i], out[i+1], out[i+2], out[i+3] = q.Real, q.Imag, q.Jmag, q.Kmag
	}
	return out
}

func toQuat(q []float64) quat.Number {
	return quat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func logit(p float64) float64 {
	p = min(0.99, max(0.01, p))
	return math.Log(p / (1 - p))
}
