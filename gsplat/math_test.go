package gsplat

import (
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuatToRotmat_Orthonormal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		q := unitQuat(rng)
		r := quatToRotmat(q[0], q[1], q[2], q[3])
		rrt := r.mul(r.t())
		for i := range 3 {
			for j := range 3 {
				want := 0.0
				if i == j {
					want = 1
				}
				assert.InDelta(t, want, rrt[i*3+j], 1e-12)
			}
		}
	}
	assert.Equal(t, mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}, quatToRotmat(1, 0, 0, 0))
}

// Every pixel center within radius of the footprint center falls inside
// the returned tile rectangle.
func TestTileBBox_CoversFootprint(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	const w, h = 70, 45
	for _, tile := range []int{1, 7, 16, 64} {
		tilesX, tilesY := tileGrid(w, h, tile)
		for range 50 {
			cx := rng.Float64()*float64(w+20) - 10
			cy := rng.Float64()*float64(h+20) - 10
			radius := 1 + rng.IntN(12)
			x0, y0, x1, y1 := tileBBox(cx, cy, radius, tile, tilesX, tilesY)
			for y := range h {
				for x := range w {
					px, py := float64(x)+0.5, float64(y)+0.5
					if math.Abs(cx-px) > float64(radius) || math.Abs(cy-py) > float64(radius) {
						continue
					}
					tx, ty := x/tile, y/tile
					require.True(t, tx >= x0 && tx < x1 && ty >= y0 && ty < y1,
						"tile %d: pixel (%d,%d) outside [%d,%d)x[%d,%d)", tile, x, y, x0, x1, y0, y1)
				}
			}
		}
	}
}

func TestTileBBox_FarOffscreen(t *testing.T) {
	x0, y0, x1, y1 := tileBBox(1e300, -1e300, 3, 16, 4, 4)
	assert.Equal(t, 4, x0)
	assert.Equal(t, 4, x1)
	assert.Equal(t, 0, y0)
	assert.Equal(t, 0, y1)
}

func TestImage_RoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(2, 3, 6, 5))
	src.SetNRGBA(2, 3, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	img := FromImage(src)
	require.Equal(t, 4, img.W)
	require.Equal(t, 2, img.H)
	assert.InDelta(t, 1.0, img.At(0, 0).R, 1e-12)
	assert.InDelta(t, 0.2, img.At(0, 0).B, 1e-12)

	img.Set(1, 1, colorful.Color{R: 2, G: -1, B: 0.5})
	out := img.NRGBA()
	assert.Equal(t, color.NRGBA{R: 255, G: 0, B: 51, A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 255, G: 0, B: 128, A: 255}, out.NRGBAAt(1, 1))
}
