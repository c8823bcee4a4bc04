package gsplat

import (
	"github.com/pkg/errors"
)

// RasterGrads holds gradients with respect to Rasterize's differentiable
// inputs.
type RasterGrads struct {
	DXYs       []float64 // Nx2
	DConics    []float64 // Nx3
	DColors    []float64 // Nx3
	DOpacities []float64 // N
}

// tileGrads is one tile's contribution, indexed by position in its bin.
type tileGrads struct {
	xy    []float64
	conic []float64
	color []float64
	opac  []float64
}

// RasterizeBackward walks every pixel's contributors back to front and
// accumulates gradients given dImage, the gradient of the loss with respect
// to the rendered image. Tiles run in parallel; their partial sums are
// merged in tile order so the result does not depend on scheduling.
func RasterizeBackward(ctx *Context, in *RasterizeInput, state *RasterState, dImage *Image) (*RasterGrads, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New("gsplat: nil raster state")
	}
	if dImage == nil || dImage.W != in.W || dImage.H != in.H || len(dImage.Pix) != in.W*in.H*3 {
		return nil, errors.New("gsplat: image gradient does not match raster size")
	}
	tilesX, tilesY := tileGrid(in.W, in.H, in.TileSize)
	if tilesX != state.tilesX || tilesY != state.tilesY {
		return nil, errors.New("gsplat: raster state was built with a different tile size")
	}

	p := in.Proj
	bg := in.Background
	partial := make([]tileGrads, len(state.bins))
	err := ctx.forEach(len(state.bins), func(t int) error {
		bin := state.bins[t]
		if len(bin) == 0 {
			return nil
		}
		tg := tileGrads{
			xy:    make([]float64, len(bin)*2),
			conic: make([]float64, len(bin)*3),
			color: make([]float64, len(bin)*3),
			opac:  make([]float64, len(bin)),
		}
		tx, ty := t%tilesX, t/tilesX
		x0, y0 := tx*in.TileSize, ty*in.TileSize
		x1, y1 := min(x0+in.TileSize, in.W), min(y0+in.TileSize, in.H)
		for y := y0; y < y1; y++ {
			py := float64(y) + 0.5
			for x := x0; x < x1; x++ {
				px := float64(x) + 0.5
				pi := y*in.W + x
				off := dImage.PixOffset(x, y)
				vr, vg, vb := dImage.Pix[off], dImage.Pix[off+1], dImage.Pix[off+2]
				if vr == 0 && vg == 0 && vb == 0 {
					continue
				}
				finalT := state.finalT[pi]
				T := finalT
				bgDot := bg[0]*vr + bg[1]*vg + bg[2]*vb
				var br, bgg, bb float64 // color accumulated behind the current Gaussian
				for k := int(state.last[pi]) - 1; k >= 0; k-- {
					id := int(bin[k])
					dx, dy, vis, raw, ok := gaussianAt(p, in.Opacities, id, px, py)
					if !ok {
						continue
					}
					alpha := min(alphaMax, raw)
					ra := 1 / (1 - alpha)
					T *= ra
					fac := alpha * T
					cr, cg, cb := in.Colors[id*3], in.Colors[id*3+1], in.Colors[id*3+2]
					tg.color[k*3] += fac * vr
					tg.color[k*3+1] += fac * vg
					tg.color[k*3+2] += fac * vb

					vAlpha := (cr*T-br*ra)*vr + (cg*T-bgg*ra)*vg + (cb*T-bb*ra)*vb
					vAlpha -= finalT * ra * bgDot
					br += cr * fac
					bgg += cg * fac
					bb += cb * fac

					if raw >= alphaMax {
						continue
					}
					vSigma := -raw * vAlpha
					a, b, c := p.Conics[id*3], p.Conics[id*3+1], p.Conics[id*3+2]
					tg.conic[k*3] += 0.5 * dx * dx * vSigma
					tg.conic[k*3+1] += dx * dy * vSigma
					tg.conic[k*3+2] += 0.5 * dy * dy * vSigma
					tg.xy[k*2] += vSigma * (a*dx + b*dy)
					tg.xy[k*2+1] += vSigma * (b*dx + c*dy)
					tg.opac[k] += vis * vAlpha
				}
			}
		}
		partial[t] = tg
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "rasterize backward")
	}

	n := p.Len()
	out := &RasterGrads{
		DXYs:       make([]float64, n*2),
		DConics:    make([]float64, n*3),
		DColors:    make([]float64, n*3),
		DOpacities: make([]float64, n),
	}
	for t, tg := range partial {
		for k, id32 := range state.bins[t] {
			if tg.opac == nil {
				break
			}
			id := int(id32)
			out.DXYs[id*2] += tg.xy[k*2]
			out.DXYs[id*2+1] += tg.xy[k*2+1]
			for c := range 3 {
				out.DConics[id*3+c] += tg.conic[k*3+c]
				out.DColors[id*3+c] += tg.color[k*3+c]
			}
			out.DOpacities[id] += tg.opac[k]
		}
	}
	return out, nil
}
