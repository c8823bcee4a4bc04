package splatfit

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type ColorInit int

const (
	ColorInitRandom ColorInit = iota
	ColorInitDominant
	ColorInitKMeans
)

func (c ColorInit) String() string {
	switch c {
	case ColorInitDominant:
		return "dominantcolor"
	case ColorInitKMeans:
		return "kmeans"
	default:
		return "random"
	}
}

type Options struct {
	// Number of Gaussians. Fixed for the whole run.
	NumPoints  int
	Iterations int
	// Adam learning rate shared by all five parameter arrays.
	// Ideal start: 0.01. Much above 0.05 tends to oscillate on detailed images.
	LearningRate float64
	// Tile edge in pixels for both operators. The rendered image does not
	// depend on it, only speed does.
	TileSize int
	// Horizontal field of view in radians.
	FOV float64
	// Means start uniformly inside a cube of this edge centered at the origin.
	Bound float64
	// Multiplier applied to every scale inside the projection.
	GlobalScale float64
	Background  [3]float64
	// Capture a preview frame every FrameStride iterations.
	SaveImages  bool
	FrameStride int
	Seed        uint64
	ColorInit   ColorInit
	// Palette size for palette based ColorInit.
	PaletteSize int
	// Goroutines per operator call. 0 => GOMAXPROCS.
	Workers int
	// Target resolution. 0 keeps the size of the loaded image.
	Width, Height int

	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
}

func DefaultOptions() Options {
	return Options{
		NumPoints:    2000,
		Iterations:   1000,
		LearningRate: 0.01,
		TileSize:     16,
		FOV:          math.Pi / 2,
		Bound:        2,
		GlobalScale:  1,
		FrameStride:  5,
		Seed:         42,
		ColorInit:    ColorInitRandom,
		PaletteSize:  8,
		Workers:      runtime.GOMAXPROCS(0),
		Logger:       logrus.StandardLogger(),
	}
}

func (o *Options) Validate() error {
	if o.NumPoints <= 0 {
		return errors.Errorf("num points must be positive, got %d", o.NumPoints)
	}
	if o.Iterations <= 0 {
		return errors.Errorf("iterations must be positive, got %d", o.Iterations)
	}
	if !(o.LearningRate > 0) {
		return errors.Errorf("learning rate must be positive, got %g", o.LearningRate)
	}
	if o.TileSize <= 0 {
		return errors.Errorf("tile size must be positive, got %d", o.TileSize)
	}
	if !(o.FOV > 0 && o.FOV < math.Pi) {
		return errors.Errorf("fov must be in (0, pi), got %g", o.FOV)
	}
	if o.SaveImages && o.FrameStride <= 0 {
		return errors.Errorf("frame stride must be positive, got %d", o.FrameStride)
	}
	if o.Width < 0 || o.Height < 0 {
		return errors.Errorf("invalid target size %dx%d", o.Width, o.Height)
	}
	return nil
}
