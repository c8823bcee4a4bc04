package splatfit

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianField_Init(t *testing.T) {
	f := NewGaussianField(100, 2, rand.NewPCG(1, 2))
	require.Equal(t, 100, f.Len())
	assert.Len(t, f.Quats.Data, 400)

	for _, v := range f.Means.Data {
		assert.True(t, v >= -1 && v <= 1, "mean %v", v)
	}
	for _, v := range f.Scales.Data {
		assert.True(t, v >= 0 && v <= 1, "scale %v", v)
	}
	for _, v := range f.Opacities.Data {
		assert.Equal(t, initialOpacity, v)
	}
	for i := range f.Len() {
		q := f.Quats.Row(i)
		n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		assert.InDelta(t, 1.0, n, 1e-12)
	}
}

func TestGaussianField_SameSeedSameField(t *testing.T) {
	a := NewGaussianField(20, 2, rand.NewPCG(7, 7))
	b := NewGaussianField(20, 2, rand.NewPCG(7, 7))
	c := NewGaussianField(20, 2, rand.NewPCG(8, 7))
	for i, p := range a.Parameters() {
		assert.Equal(t, p.Data, b.Parameters()[i].Data, p.Name)
	}
	assert.NotEqual(t, a.Means.Data, c.Means.Data)
}

func TestGaussianField_ProjectionInputsDoNotMutate(t *testing.T) {
	f := NewGaussianField(3, 2, rand.NewPCG(1, 1))
	copy(f.Quats.Data, []float64{
		2, 0, 0, 0,
		1, 1, 1, 1,
		0, 0, 0, 0,
	})
	stored := append([]float64(nil), f.Quats.Data...)

	_, _, quats := f.ProjectionInputs()
	assert.Equal(t, stored, f.Quats.Data)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0, 0.5, 0.5, 0.5, 0.5, 0, 0, 0, 0}, quats, 1e-15)
}

func TestGaussianField_AppearanceRange(t *testing.T) {
	f := NewGaussianField(4, 2, rand.NewPCG(1, 1))
	copy(f.Rgbs.Data, []float64{-30, 0, 30, -1e3, 1e3, 5, -5, 0.5, 12, -12, 1, -1})
	copy(f.Opacities.Data, []float64{-1e308, 1e308, 0, 2})

	colors, opac := f.Appearance()
	for i, c := range colors {
		x := f.Rgbs.Data[i]
		if math.Abs(x) <= 30 {
			assert.True(t, c > 0 && c < 1, "sigmoid(%v) = %v", x, c)
		} else {
			assert.True(t, c >= 0 && c <= 1, "sigmoid(%v) = %v", x, c)
		}
	}
	assert.Equal(t, 0.5, colors[1])
	assert.Equal(t, 0.0, opac[0])
	assert.Equal(t, 1.0, opac[1])
	assert.Equal(t, 0.5, opac[2])
}

func TestGaussianField_QuatGradient(t *testing.T) {
	f := NewGaussianField(2, 2, rand.NewPCG(3, 4))
	copy(f.Quats.Data, []float64{0.3, -1.2, 0.7, 2.0, -0.5, 0.1, 0.4, -0.9})
	dUnit := []float64{0.2, -0.4, 1.1, 0.3, -0.7, 0.5, 0.05, 0.9}

	// L = sum(dUnit * normalize(q))
	objective := func() float64 {
		_, _, q := f.ProjectionInputs()
		s := 0.0
		for i := range q {
			s += dUnit[i] * q[i]
		}
		return s
	}
	f.ZeroGrad()
	f.AccumulateQuatGrad(dUnit)

	const eps = 1e-6
	for k := range f.Quats.Data {
		orig := f.Quats.Data[k]
		f.Quats.Data[k] = orig + eps
		fp := objective()
		f.Quats.Data[k] = orig - eps
		fm := objective()
		f.Quats.Data[k] = orig
		assert.InDelta(t, (fp-fm)/(2*eps), f.Quats.Grad[k], 1e-8, "quat[%d]", k)
	}
}

func TestGaussianField_AppearanceGradient(t *testing.T) {
	f := NewGaussianField(1, 2, rand.NewPCG(3, 4))
	colors, opac := f.Appearance()
	f.ZeroGrad()
	f.AccumulateAppearanceGrad(colors, opac, []float64{1, 1, 1}, []float64{1})
	for i, c := range colors {
		assert.InDelta(t, c*(1-c), f.Rgbs.Grad[i], 1e-15)
	}
	assert.InDelta(t, opac[0]*(1-opac[0]), f.Opacities.Grad[0], 1e-15)
}

func TestGaussianField_SeedColors(t *testing.T) {
	f := NewGaussianField(3, 2, rand.NewPCG(1, 1))
	f.SeedColors([]colorful.Color{{R: 0.5, G: 0.5, B: 0.5}, {R: 0.9, G: 0.1, B: 0.5}})
	colors, _ := f.Appearance()
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5, 0.9, 0.1, 0.5, 0.5, 0.5, 0.5}, colors, 1e-12)

	before := append([]float64(nil), f.Rgbs.Data...)
	f.SeedColors(nil)
	assert.Equal(t, before, f.Rgbs.Data)
}
