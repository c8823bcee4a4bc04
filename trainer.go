package splatfit

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/setanarut/splatfit/gsplat"
	"github.com/setanarut/splatfit/utils"
)

type trainState int

const (
	stateIterating trainState = iota
	stateDone
)

// Trainer fits a GaussianField to a single target image. It owns the field,
// the optimizer state and the operator execution context; call Close when
// done with it.
type Trainer struct {
	opt    Options
	log    logrus.FieldLogger
	target *gsplat.Image
	camera *Camera
	field  *GaussianField
	adam   *Adam
	exec   *gsplat.Context
	diag   *Diagnostics

	state    trainState
	iter     int
	history  []float64
	rendered *gsplat.Image
}

type Result struct {
	Iterations int
	FinalLoss  float64
	Losses     []float64
	Timings    Timings
}

func NewTrainer(target *gsplat.Image, opt Options) (*Trainer, error) {
	if target == nil || target.W == 0 || target.H == 0 {
		return nil, errors.New("trainer: empty target image")
	}
	if err := opt.Validate(); err != nil {
		return nil, errors.Wrap(err, "trainer")
	}
	log := opt.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	field := NewGaussianField(opt.NumPoints, opt.Bound, rand.NewPCG(opt.Seed, opt.Seed^0x9e3779b97f4a7c15))
	if opt.ColorInit != ColorInitRandom {
		method := utils.PaletteMethodDominantColor
		if opt.ColorInit == ColorInitKMeans {
			method = utils.PaletteMethodKMeans
		}
		palette := utils.ExtractPalette(target.NRGBA(), max(opt.PaletteSize, 1), method)
		field.SeedColors(palette)
		log.WithField("colors", len(palette)).Debugf("seeded colors from %s palette", method)
	}

	t := &Trainer{
		opt:    opt,
		log:    log,
		target: target,
		camera: NewCamera(opt.FOV, target.W, target.H),
		field:  field,
		exec:   gsplat.NewContext(opt.Workers),
		diag:   NewDiagnostics(opt.Registerer),
	}
	t.adam = NewAdam(field.Parameters(), opt.LearningRate)
	log.WithFields(logrus.Fields{
		"points": opt.NumPoints,
		"width":  target.W,
		"height": target.H,
		"focal":  t.camera.Focal(),
		"tile":   opt.TileSize,
	}).Debug("trainer ready")
	return t, nil
}

func (t *Trainer) Field() *GaussianField     { return t.field }
func (t *Trainer) Camera() *Camera           { return t.camera }
func (t *Trainer) Optimizer() *Adam          { return t.adam }
func (t *Trainer) Diagnostics() *Diagnostics { return t.diag }
func (t *Trainer) History() []float64        { return t.history }
func (t *Trainer) Iteration() int            { return t.iter }
func (t *Trainer) Done() bool                { return t.state == stateDone }

// Rendered returns the image produced by the most recent iteration.
func (t *Trainer) Rendered() *gsplat.Image { return t.rendered }

// Close releases the operator context.
func (t *Trainer) Close() error {
	return t.exec.Close()
}

func (t *Trainer) projectInput() *gsplat.ProjectInput {
	means, scales, quats := t.field.ProjectionInputs()
	cx, cy := t.camera.PrincipalPoint()
	w, h := t.camera.ImageSize()
	f := t.camera.Focal()
	return &gsplat.ProjectInput{
		Means:     means,
		Scales:    scales,
		GlobScale: t.opt.GlobalScale,
		Quats:     quats,
		View:      t.camera.ViewMatrix(),
		Fx:        f,
		Fy:        f,
		Cx:        cx,
		Cy:        cy,
		H:         h,
		W:         w,
		TileSize:  t.opt.TileSize,
	}
}

// Render runs only the forward operators with the current parameters.
func (t *Trainer) Render() (*gsplat.Image, error) {
	proj, err := gsplat.Project(t.exec, t.projectInput())
	if err != nil {
		return nil, err
	}
	colors, opacities := t.field.Appearance()
	img, _, err := gsplat.Rasterize(t.exec, t.rasterInput(proj, colors, opacities))
	return img, err
}

func (t *Trainer) rasterInput(proj *gsplat.Projection, colors, opacities []float64) *gsplat.RasterizeInput {
	return &gsplat.RasterizeInput{
		Proj:       proj,
		Colors:     colors,
		Opacities:  opacities,
		H:          t.target.H,
		W:          t.target.W,
		TileSize:   t.opt.TileSize,
		Background: t.opt.Background,
	}
}

// Step runs one full iteration: project, rasterize, loss, backward and the
// optimizer update, strictly in that order. It returns the iteration's loss.
func (t *Trainer) Step() (float64, error) {
	if t.state == stateDone {
		return 0, errors.New("trainer: already done")
	}
	loss, img, err := t.forwardBackward()
	if err != nil {
		return 0, errors.Wrapf(err, "iteration %d", t.iter+1)
	}

	t.adam.Step()

	if t.opt.SaveImages && t.iter%t.opt.FrameStride == 0 {
		t.diag.capture(img.NRGBA())
	}
	t.iter++
	t.diag.endIteration(loss)
	if t.iter >= t.opt.Iterations {
		t.state = stateDone
	}
	return loss, nil
}

// forwardBackward leaves the loss gradient of the current parameters in
// every Param.Grad without updating anything.
func (t *Trainer) forwardBackward() (float64, *gsplat.Image, error) {
	pin := t.projectInput()
	start := time.Now()
	proj, err := gsplat.Project(t.exec, pin)
	t.diag.observe(PhaseProject, time.Since(start))
	if err != nil {
		return 0, nil, err
	}

	colors, opacities := t.field.Appearance()
	rin := t.rasterInput(proj, colors, opacities)
	start = time.Now()
	img, rstate, err := gsplat.Rasterize(t.exec, rin)
	t.diag.observe(PhaseRasterize, time.Since(start))
	if err != nil {
		return 0, nil, err
	}
	t.rendered = img

	loss, err := MSELoss(img, t.target)
	if err != nil {
		return 0, nil, err
	}
	t.history = append(t.history, loss)

	t.adam.ZeroGrad()
	start = time.Now()
	err = t.backward(pin, proj, rin, rstate, img, colors, opacities)
	t.diag.observe(PhaseBackward, time.Since(start))
	if err != nil {
		return 0, nil, err
	}
	return loss, img, nil
}

func (t *Trainer) backward(pin *gsplat.ProjectInput, proj *gsplat.Projection, rin *gsplat.RasterizeInput,
	rstate *gsplat.RasterState, img *gsplat.Image, colors, opacities []float64,
) error {
	dImg, err := MSELossGrad(img, t.target)
	if err != nil {
		return err
	}
	rg, err := gsplat.RasterizeBackward(t.exec, rin, rstate, dImg)
	if err != nil {
		return err
	}
	pg, err := gsplat.ProjectBackward(t.exec, pin, proj, rg.DXYs, rg.DConics)
	if err != nil {
		return err
	}
	t.field.AccumulateAppearanceGrad(colors, opacities, rg.DColors, rg.DOpacities)
	floats.Add(t.field.Means.Grad, pg.DMeans)
	floats.Add(t.field.Scales.Grad, pg.DScales)
	t.field.AccumulateQuatGrad(pg.DQuats)
	return nil
}

// Train iterates until the configured iteration count. ctx is only checked
// between iterations; an iteration in flight always completes.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	for t.state == stateIterating {
		if err := ctx.Err(); err != nil {
			return t.result(), errors.Wrapf(err, "stopped after %d iterations", t.iter)
		}
		loss, err := t.Step()
		if err != nil {
			return t.result(), err
		}
		t.log.Infof("Iteration %d/%d, Loss: %v", t.iter, t.opt.Iterations, loss)
	}
	for _, line := range t.diag.Summary() {
		t.log.Info(line)
	}
	return t.result(), nil
}

func (t *Trainer) result() *Result {
	r := &Result{
		Iterations: t.iter,
		Losses:     t.history,
		Timings:    t.diag.Timings(),
	}
	if len(t.history) > 0 {
		r.FinalLoss = t.history[len(t.history)-1]
	}
	return r
}
