package splatfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// CameraDistance is how far the camera sits from the scene origin along +z.
const CameraDistance = 8.0

// Camera is a fixed pinhole camera looking down +z at the origin. It is
// never mutated after NewCamera.
type Camera struct {
	fov           float64
	width, height int
	focal         float64
	view          *mat.Dense
}

// NewCamera derives the focal length from the horizontal field of view:
// f = 0.5*width / tan(0.5*fov).
func NewCamera(fov float64, width, height int) *Camera {
	return &Camera{
		fov:    fov,
		width:  width,
		height: height,
		focal:  0.5 * float64(width) / math.Tan(0.5*fov),
		view: mat.NewDense(4, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, CameraDistance,
			0, 0, 0, 1,
		}),
	}
}

func (c *Camera) Focal() float64 {
	return c.focal
}

// ViewMatrix returns a copy of the world-to-camera transform.
func (c *Camera) ViewMatrix() *mat.Dense {
	return mat.DenseCopyOf(c.view)
}

func (c *Camera) PrincipalPoint() (cx, cy float64) {
	return float64(c.width) / 2, float64(c.height) / 2
}

func (c *Camera) ImageSize() (width, height int) {
	return c.width, c.height
}

func (c *Camera) FOV() float64 {
	return c.fov
}
