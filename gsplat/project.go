package gsplat

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// Gaussians closer than this to the image plane are culled.
	clipThresh = 0.01
	// Screen-space dilation added to every projected covariance.
	covBlur = 0.3
	// Centers are clamped to this multiple of the half-FOV tangent when
	// building the projection Jacobian.
	fovClamp = 1.3
)

// ProjectInput carries everything Project needs. Means and Scales are Nx3,
// Quats is Nx4 in (w, x, y, z) order and must already be unit length.
type ProjectInput struct {
	Means     []float64
	Scales    []float64
	GlobScale float64
	Quats     []float64
	View      mat.Matrix
	Fx, Fy    float64
	Cx, Cy    float64
	H, W      int
	TileSize  int
}

func (in *ProjectInput) Len() int {
	return len(in.Means) / 3
}

func (in *ProjectInput) validate() error {
	n := in.Len()
	if len(in.Means) != n*3 {
		return errors.Errorf("gsplat: means has %d values, not a multiple of 3", len(in.Means))
	}
	if len(in.Scales) != n*3 {
		return errors.Errorf("gsplat: scales has %d values, want %d", len(in.Scales), n*3)
	}
	if len(in.Quats) != n*4 {
		return errors.Errorf("gsplat: quats has %d values, want %d", len(in.Quats), n*4)
	}
	if in.W <= 0 || in.H <= 0 {
		return errors.Errorf("gsplat: invalid image size %dx%d", in.W, in.H)
	}
	if in.TileSize <= 0 {
		return errors.Errorf("gsplat: invalid tile size %d", in.TileSize)
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return errors.Errorf("gsplat: invalid focal length %g,%g", in.Fx, in.Fy)
	}
	return nil
}

// Projection is the screen-space footprint of every Gaussian. A culled
// Gaussian has Radii[i] == 0 and TilesHit[i] == 0; its other fields are
// zero.
type Projection struct {
	XYs          []float64 // Nx2 pixel centers
	Depths       []float64 // view-space z
	Radii        []int
	Conics       []float64 // Nx3, (A, B, C) of the inverse covariance [[A,B],[B,C]]
	Compensation []float64
	TilesHit     []int
	Cov3D        []float64 // Nx6 view-space covariance, upper triangle row-major
}

func (p *Projection) Len() int {
	return len(p.Depths)
}

// Visible reports whether Gaussian i survived culling.
func (p *Projection) Visible(i int) bool {
	return p.Radii[i] > 0 && p.TilesHit[i] > 0
}

func newProjection(n int) *Projection {
	return &Projection{
		XYs:          make([]float64, n*2),
		Depths:       make([]float64, n),
		Radii:        make([]int, n),
		Conics:       make([]float64, n*3),
		Compensation: make([]float64, n),
		TilesHit:     make([]int, n),
		Cov3D:        make([]float64, n*6),
	}
}

// camera holds the per-call constants shared by every Gaussian.
type camera struct {
	rot            mat3
	trans          [3]float64
	fx, fy, cx, cy float64
	limX, limY     float64
	w, h, tileSize int
	tilesX, tilesY int
}

func newCamera(in *ProjectInput) (*camera, error) {
	rot, trans, err := viewRT(in.View)
	if err != nil {
		return nil, err
	}
	tilesX, tilesY := tileGrid(in.W, in.H, in.TileSize)
	return &camera{
		rot:      rot,
		trans:    trans,
		fx:       in.Fx,
		fy:       in.Fy,
		cx:       in.Cx,
		cy:       in.Cy,
		limX:     fovClamp * 0.5 * float64(in.W) / in.Fx,
		limY:     fovClamp * 0.5 * float64(in.H) / in.Fy,
		w:        in.W,
		h:        in.H,
		tileSize: in.TileSize,
		tilesX:   tilesX,
		tilesY:   tilesY,
	}, nil
}

// footprint is every intermediate of projecting one Gaussian. The backward
// pass rebuilds it instead of caching N of them.
type footprint struct {
	q       [4]float64
	rotQ    mat3 // rotation from q
	s       [3]float64
	m       mat3 // rotQ * diag(s)
	cov     mat3 // world covariance m*mᵀ
	p       [3]float64
	tx, ty  float64
	clampX  bool
	clampY  bool
	j       mat23
	t       mat23 // j * view rotation
	cov2d   [3]float64
	det     float64
	conic   [3]float64
	comp    float64
	radius  int
	xy      [2]float64
	tiles   int
	viewCov mat3
}

func (c *camera) footprint(in *ProjectInput, i int) (fp footprint, ok bool) {
	mean := [3]float64{in.Means[i*3], in.Means[i*3+1], in.Means[i*3+2]}
	fp.p = c.rot.mulVec(mean)
	for k := range 3 {
		fp.p[k] += c.trans[k]
	}
	if !(fp.p[2] > clipThresh) {
		return fp, false
	}

	fp.q = [4]float64{in.Quats[i*4], in.Quats[i*4+1], in.Quats[i*4+2], in.Quats[i*4+3]}
	fp.rotQ = quatToRotmat(fp.q[0], fp.q[1], fp.q[2], fp.q[3])
	for k := range 3 {
		fp.s[k] = in.GlobScale * in.Scales[i*3+k]
	}
	for r := range 3 {
		for col := range 3 {
			fp.m[r*3+col] = fp.rotQ[r*3+col] * fp.s[col]
		}
	}
	fp.cov = fp.m.mul(fp.m.t())

	z := fp.p[2]
	fp.tx, fp.clampX = clampRatio(fp.p[0], z, c.limX)
	fp.ty, fp.clampY = clampRatio(fp.p[1], z, c.limY)
	rz := 1 / z
	rz2 := rz * rz
	fp.j = mat23{
		c.fx * rz, 0, -c.fx * fp.tx * rz2,
		0, c.fy * rz, -c.fy * fp.ty * rz2,
	}
	fp.t = fp.j.mul3(c.rot)
	fp.viewCov = c.rot.mul(fp.cov).mul(c.rot.t())

	raw := fp.t.sandwich(fp.cov)
	detRaw := raw[0]*raw[2] - raw[1]*raw[1]
	fp.cov2d = [3]float64{raw[0] + covBlur, raw[1], raw[2] + covBlur}
	fp.det = fp.cov2d[0]*fp.cov2d[2] - fp.cov2d[1]*fp.cov2d[1]
	if !(fp.det > 0) {
		return fp, false
	}
	fp.comp = math.Sqrt(max(0, detRaw/fp.det))
	inv := 1 / fp.det
	fp.conic = [3]float64{fp.cov2d[2] * inv, -fp.cov2d[1] * inv, fp.cov2d[0] * inv}

	b := 0.5 * (fp.cov2d[0] + fp.cov2d[2])
	disc := math.Sqrt(max(0.1, b*b-fp.det))
	lambda := max(b+disc, b-disc)
	fp.radius = int(math.Ceil(3 * math.Sqrt(lambda)))

	fp.xy = [2]float64{c.fx*fp.p[0]*rz + c.cx, c.fy*fp.p[1]*rz + c.cy}
	x0, y0, x1, y1 := tileBBox(fp.xy[0], fp.xy[1], fp.radius, c.tileSize, c.tilesX, c.tilesY)
	fp.tiles = (x1 - x0) * (y1 - y0)
	if fp.radius <= 0 || fp.tiles <= 0 {
		return fp, false
	}
	return fp, true
}

// clampRatio limits x/z to [-lim, lim] and returns z times the result.
func clampRatio(x, z, lim float64) (float64, bool) {
	r := x / z
	if r > lim {
		return z * lim, true
	}
	if r < -lim {
		return -z * lim, true
	}
	return x, false
}

// Project maps every Gaussian to its screen-space footprint. Gaussians
// behind the camera or with a degenerate footprint are marked culled; that
// is not an error.
func Project(ctx *Context, in *ProjectInput) (*Projection, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cam, err := newCamera(in)
	if err != nil {
		return nil, err
	}
	n := in.Len()
	out := newProjection(n)
	err = ctx.forChunks(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			fp, ok := cam.footprint(in, i)
			if !ok {
				continue
			}
			out.XYs[i*2] = fp.xy[0]
			out.XYs[i*2+1] = fp.xy[1]
			out.Depths[i] = fp.p[2]
			out.Radii[i] = fp.radius
			copy(out.Conics[i*3:i*3+3], fp.conic[:])
			out.Compensation[i] = fp.comp
			out.TilesHit[i] = fp.tiles
			v := fp.viewCov
			copy(out.Cov3D[i*6:i*6+6], []float64{v[0], v[1], v[2], v[4], v[5], v[8]})
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "project")
	}
	return out, nil
}
