package gsplat

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// mat3 is a row-major 3x3 matrix. Per-Gaussian math stays on the stack;
// gonum matrices are used only at the API boundary.
type mat3 [9]float64

func (a mat3) mul(b mat3) mat3 {
	var out mat3
	for r := range 3 {
		for c := range 3 {
			out[r*3+c] = a[r*3]*b[c] + a[r*3+1]*b[3+c] + a[r*3+2]*b[6+c]
		}
	}
	return out
}

func (a mat3) t() mat3 {
	return mat3{
		a[0], a[3], a[6],
		a[1], a[4], a[7],
		a[2], a[5], a[8],
	}
}

func (a mat3) add(b mat3) mat3 {
	for i := range a {
		a[i] += b[i]
	}
	return a
}

func (a mat3) mulVec(v [3]float64) [3]float64 {
	return [3]float64{
		a[0]*v[0] + a[1]*v[1] + a[2]*v[2],
		a[3]*v[0] + a[4]*v[1] + a[5]*v[2],
		a[6]*v[0] + a[7]*v[1] + a[8]*v[2],
	}
}

// mat23 is a row-major 2x3 matrix.
type mat23 [6]float64

func (a mat23) mul3(b mat3) mat23 {
	var out mat23
	for r := range 2 {
		for c := range 3 {
			out[r*3+c] = a[r*3]*b[c] + a[r*3+1]*b[3+c] + a[r*3+2]*b[6+c]
		}
	}
	return out
}

// sandwich returns a·b·aᵀ as the symmetric 2x2 (xx, xy, yy).
func (a mat23) sandwich(b mat3) [3]float64 {
	ab := a.mul3(b)
	xx := ab[0]*a[0] + ab[1]*a[1] + ab[2]*a[2]
	xy := ab[0]*a[3] + ab[1]*a[4] + ab[2]*a[5]
	yy := ab[3]*a[3] + ab[4]*a[4] + ab[5]*a[5]
	return [3]float64{xx, xy, yy}
}

// quatToRotmat expects a unit quaternion in (w, x, y, z) order.
func quatToRotmat(w, x, y, z float64) mat3 {
	return mat3{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// rotmatGradToQuat pulls a gradient on the rotation matrix back onto the
// quaternion components it was built from.
func rotmatGradToQuat(w, x, y, z float64, g mat3) [4]float64 {
	return [4]float64{
		2 * (-z*g[1] + y*g[2] + z*g[3] - x*g[5] - y*g[6] + x*g[7]),
		2 * (y*g[1] + z*g[2] + y*g[3] - 2*x*g[4] - w*g[5] + z*g[6] + w*g[7] - 2*x*g[8]),
		2 * (-2*y*g[0] + x*g[1] + w*g[2] + x*g[3] + z*g[5] - w*g[6] + z*g[7] - 2*y*g[8]),
		2 * (-2*z*g[0] - w*g[1] + x*g[2] + w*g[3] - 2*z*g[4] + y*g[5] + x*g[6] + y*g[7]),
	}
}

// viewRT splits a 4x4 world-to-camera matrix into rotation and translation.
func viewRT(view mat.Matrix) (mat3, [3]float64, error) {
	if view == nil {
		return mat3{}, [3]float64{}, errors.New("gsplat: nil view matrix")
	}
	if r, c := view.Dims(); r != 4 || c != 4 {
		return mat3{}, [3]float64{}, errors.Errorf("gsplat: view matrix is %dx%d, want 4x4", r, c)
	}
	var rot mat3
	var t [3]float64
	for r := range 3 {
		for c := range 3 {
			rot[r*3+c] = view.At(r, c)
		}
		t[r] = view.At(r, 3)
	}
	return rot, t, nil
}

// tileBBox returns the half-open tile rectangle touched by a footprint of
// the given pixel radius around center.
func tileBBox(cx, cy float64, radius, tileSize, tilesX, tilesY int) (x0, y0, x1, y1 int) {
	r := float64(radius)
	b := float64(tileSize)
	x0 = tileIndex((cx-r)/b, tilesX)
	y0 = tileIndex((cy-r)/b, tilesY)
	x1 = tileIndex((cx+r)/b+1, tilesX)
	y1 = tileIndex((cy+r)/b+1, tilesY)
	return
}

// tileIndex floors v and clamps it to [0,n] before converting, so far
// off-screen centers cannot overflow int.
func tileIndex(v float64, n int) int {
	v = math.Floor(max(0, min(float64(n), v)))
	return clampInt(int(v), 0, n)
}

func tileGrid(w, h, tileSize int) (tilesX, tilesY int) {
	return (w + tileSize - 1) / tileSize, (h + tileSize - 1) / tileSize
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
