package gsplat

import (
	"cmp"
	"math"
	"slices"

	"github.com/pkg/errors"
)

const (
	// alphaMax keeps 1-alpha invertible for the backward pass.
	alphaMax = 0.999
	// alphaMin is the smallest alpha that is composited at all.
	alphaMin = 1.0 / 255.0
	// A pixel stops accumulating once its transmittance would fall below this.
	transmittanceMin = 1e-4
)

// RasterizeInput bundles the projected footprints with per-Gaussian
// appearance. Colors is Nx3 and Opacities is N, both already in [0,1].
type RasterizeInput struct {
	Proj       *Projection
	Colors     []float64
	Opacities  []float64
	H, W       int
	TileSize   int
	Background [3]float64
}

func (in *RasterizeInput) validate() error {
	if in.Proj == nil {
		return errors.New("gsplat: nil projection")
	}
	n := in.Proj.Len()
	if len(in.Proj.XYs) != n*2 || len(in.Proj.Conics) != n*3 || len(in.Proj.Radii) != n || len(in.Proj.TilesHit) != n {
		return errors.New("gsplat: inconsistent projection arrays")
	}
	if len(in.Colors) != n*3 {
		return errors.Errorf("gsplat: colors has %d values, want %d", len(in.Colors), n*3)
	}
	if len(in.Opacities) != n {
		return errors.Errorf("gsplat: opacities has %d values, want %d", len(in.Opacities), n)
	}
	if in.W <= 0 || in.H <= 0 {
		return errors.Errorf("gsplat: invalid image size %dx%d", in.W, in.H)
	}
	if in.TileSize <= 0 {
		return errors.Errorf("gsplat: invalid tile size %d", in.TileSize)
	}
	return nil
}

// RasterState is what the forward pass leaves behind for RasterizeBackward.
type RasterState struct {
	tilesX, tilesY int
	// bins[t] lists the Gaussians overlapping tile t, nearest first.
	bins [][]int32
	// per pixel: transmittance after compositing and the bin length that
	// was consumed.
	finalT []float64
	last   []int32
}

// Bin returns the depth-sorted Gaussian indices of tile (tx, ty).
func (s *RasterState) Bin(tx, ty int) []int32 {
	return s.bins[ty*s.tilesX+tx]
}

func (s *RasterState) TileGrid() (int, int) {
	return s.tilesX, s.tilesY
}

// binGaussians assigns every visible Gaussian to the tiles its footprint
// overlaps and sorts each tile by depth. Indices are appended in ascending
// order, so the stable sort breaks depth ties by index.
func binGaussians(ctx *Context, in *RasterizeInput) ([][]int32, int, int, error) {
	p := in.Proj
	tilesX, tilesY := tileGrid(in.W, in.H, in.TileSize)
	bins := make([][]int32, tilesX*tilesY)
	for i := range p.Len() {
		if !p.Visible(i) {
			continue
		}
		x0, y0, x1, y1 := tileBBox(p.XYs[i*2], p.XYs[i*2+1], p.Radii[i], in.TileSize, tilesX, tilesY)
		for ty := y0; ty < y1; ty++ {
			for tx := x0; tx < x1; tx++ {
				t := ty*tilesX + tx
				bins[t] = append(bins[t], int32(i))
			}
		}
	}
	err := ctx.forEach(len(bins), func(t int) error {
		slices.SortStableFunc(bins[t], func(a, b int32) int {
			return cmp.Compare(p.Depths[a], p.Depths[b])
		})
		return nil
	})
	return bins, tilesX, tilesY, err
}

// gaussianAt evaluates Gaussian id at pixel center (px, py). ok is false
// when the Gaussian is skipped for this pixel.
func gaussianAt(p *Projection, opac []float64, id int, px, py float64) (dx, dy, vis, raw float64, ok bool) {
	dx = p.XYs[id*2] - px
	dy = p.XYs[id*2+1] - py
	r := float64(p.Radii[id])
	if math.Abs(dx) > r || math.Abs(dy) > r {
		return
	}
	a, b, c := p.Conics[id*3], p.Conics[id*3+1], p.Conics[id*3+2]
	sigma := 0.5*(a*dx*dx+c*dy*dy) + b*dx*dy
	if sigma < 0 {
		return
	}
	vis = math.Exp(-sigma)
	raw = opac[id] * vis
	if min(alphaMax, raw) < alphaMin {
		return
	}
	ok = true
	return
}

// Rasterize composites the projected Gaussians front to back over the
// background, one tile at a time.
func Rasterize(ctx *Context, in *RasterizeInput) (*Image, *RasterState, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	bins, tilesX, tilesY, err := binGaussians(ctx, in)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rasterize")
	}
	img := NewImage(in.W, in.H)
	state := &RasterState{
		tilesX: tilesX,
		tilesY: tilesY,
		bins:   bins,
		finalT: make([]float64, in.W*in.H),
		last:   make([]int32, in.W*in.H),
	}
	p := in.Proj
	bg := in.Background
	err = ctx.forEach(len(bins), func(t int) error {
		bin := bins[t]
		tx, ty := t%tilesX, t/tilesX
		x0, y0 := tx*in.TileSize, ty*in.TileSize
		x1, y1 := min(x0+in.TileSize, in.W), min(y0+in.TileSize, in.H)
		for y := y0; y < y1; y++ {
			py := float64(y) + 0.5
			for x := x0; x < x1; x++ {
				px := float64(x) + 0.5
				T := 1.0
				var cr, cg, cb float64
				last := 0
				for k, id32 := range bin {
					id := int(id32)
					_, _, _, raw, ok := gaussianAt(p, in.Opacities, id, px, py)
					if !ok {
						continue
					}
					alpha := min(alphaMax, raw)
					nextT := T * (1 - alpha)
					if nextT < transmittanceMin {
						break
					}
					w := alpha * T
					cr += in.Colors[id*3] * w
					cg += in.Colors[id*3+1] * w
					cb += in.Colors[id*3+2] * w
					T = nextT
					last = k + 1
				}
				off := img.PixOffset(x, y)
				img.Pix[off] = cr + bg[0]*T
				img.Pix[off+1] = cg + bg[1]*T
				img.Pix[off+2] = cb + bg[2]*T
				pi := y*in.W + x
				state.finalT[pi] = T
				state.last[pi] = int32(last)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "rasterize")
	}
	return img, state, nil
}
