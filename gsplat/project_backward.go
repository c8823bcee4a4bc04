package gsplat

import (
	"github.com/pkg/errors"
)

// ProjectionGrads holds gradients with respect to Project's differentiable
// inputs. DQuats is taken with respect to the unit quaternions that were
// passed in; pulling it back through the normalization is the caller's job.
type ProjectionGrads struct {
	DMeans  []float64 // Nx3
	DScales []float64 // Nx3
	DQuats  []float64 // Nx4
}

// ProjectBackward propagates gradients of the pixel centers (Nx2) and
// conics (Nx3) back to means, scales and quaternions. Culled Gaussians get
// zero gradient.
func ProjectBackward(ctx *Context, in *ProjectInput, proj *Projection, dXYs, dConics []float64) (*ProjectionGrads, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	n := in.Len()
	if proj.Len() != n {
		return nil, errors.Errorf("gsplat: projection has %d gaussians, input has %d", proj.Len(), n)
	}
	if len(dXYs) != n*2 || len(dConics) != n*3 {
		return nil, errors.Errorf("gsplat: gradient shapes %d,%d do not match %d gaussians", len(dXYs), len(dConics), n)
	}
	cam, err := newCamera(in)
	if err != nil {
		return nil, err
	}
	out := &ProjectionGrads{
		DMeans:  make([]float64, n*3),
		DScales: make([]float64, n*3),
		DQuats:  make([]float64, n*4),
	}
	err = ctx.forChunks(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !proj.Visible(i) {
				continue
			}
			fp, ok := cam.footprint(in, i)
			if !ok {
				continue
			}
			cam.backward(&fp, in.GlobScale,
				[2]float64{dXYs[i*2], dXYs[i*2+1]},
				[3]float64{dConics[i*3], dConics[i*3+1], dConics[i*3+2]},
				out.DMeans[i*3:i*3+3], out.DScales[i*3:i*3+3], out.DQuats[i*4:i*4+4])
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "project backward")
	}
	return out, nil
}

func (c *camera) backward(fp *footprint, globScale float64, dxy [2]float64, dconic [3]float64, dMean, dScale, dQuat []float64) {
	z := fp.p[2]
	rz := 1 / z
	rz2 := rz * rz
	rz3 := rz2 * rz

	// conic = cov2d⁻¹, so dcov2d = -Q·G·Q with G the symmetric gradient of Q.
	q := [4]float64{fp.conic[0], fp.conic[1], fp.conic[1], fp.conic[2]}
	g := [4]float64{dconic[0], 0.5 * dconic[1], 0.5 * dconic[1], dconic[2]}
	qg := mul22(q, g)
	gs := mul22(qg, q)
	for k := range gs {
		gs[k] = -gs[k]
	}

	var dp [3]float64

	// pixel center
	dp[0] += dxy[0] * c.fx * rz
	dp[1] += dxy[1] * c.fy * rz
	dp[2] -= (dxy[0]*c.fx*fp.p[0] + dxy[1]*c.fy*fp.p[1]) * rz2

	// cov2d = T·V·Tᵀ: dV = Tᵀ·Gs·T, dT = 2·Gs·T·V
	tm := fp.t
	var dV mat3
	for a := range 3 {
		for b := range 3 {
			dV[a*3+b] = tm[a]*(gs[0]*tm[b]+gs[1]*tm[3+b]) + tm[3+a]*(gs[2]*tm[b]+gs[3]*tm[3+b])
		}
	}
	gsT := mat23{
		gs[0]*tm[0] + gs[1]*tm[3], gs[0]*tm[1] + gs[1]*tm[4], gs[0]*tm[2] + gs[1]*tm[5],
		gs[2]*tm[0] + gs[3]*tm[3], gs[2]*tm[1] + gs[3]*tm[4], gs[2]*tm[2] + gs[3]*tm[5],
	}
	dT := gsT.mul3(fp.cov)
	for k := range dT {
		dT[k] *= 2
	}

	// T = J·W: dJ = dT·Wᵀ
	dJ := dT.mul3(c.rot.t())
	dtx := -dJ[2] * c.fx * rz2
	dty := -dJ[5] * c.fy * rz2
	dp[2] += -dJ[0]*c.fx*rz2 + 2*dJ[2]*c.fx*fp.tx*rz3 - dJ[4]*c.fy*rz2 + 2*dJ[5]*c.fy*fp.ty*rz3
	if fp.clampX {
		dp[2] += dtx * fp.tx * rz
	} else {
		dp[0] += dtx
	}
	if fp.clampY {
		dp[2] += dty * fp.ty * rz
	} else {
		dp[1] += dty
	}

	// p = W·mean + t
	dm := c.rot.t().mulVec(dp)
	for k := range 3 {
		dMean[k] += dm[k]
	}

	// V = M·Mᵀ, M = R·S
	dM := dV.add(dV.t()).mul(fp.m)
	var dR mat3
	for r := range 3 {
		for col := range 3 {
			dR[r*3+col] = dM[r*3+col] * fp.s[col]
			dScale[col] += globScale * dM[r*3+col] * fp.rotQ[r*3+col]
		}
	}
	dq := rotmatGradToQuat(fp.q[0], fp.q[1], fp.q[2], fp.q[3], dR)
	for k := range 4 {
		dQuat[k] += dq[k]
	}
}

// mul22 multiplies row-major 2x2 matrices.
func mul22(a, b [4]float64) [4]float64 {
	return [4]float64{
		a[0]*b[0] + a[1]*b[2], a[0]*b[1] + a[1]*b[3],
		a[2]*b[0] + a[3]*b[2], a[2]*b[1] + a[3]*b[3],
	}
}
