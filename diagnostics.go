package splatfit

import (
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"

	"github.com/setanarut/splatfit/utils"
)

type Phase int

const (
	PhaseProject Phase = iota
	PhaseRasterize
	PhaseBackward
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseProject:
		return "project"
	case PhaseRasterize:
		return "rasterize"
	case PhaseBackward:
		return "backward"
	default:
		return "unknown"
	}
}

const (
	GIFName       = "training.gif"
	LossCurveName = "loss_curve.png"
	// GIF frame delay in 100ths of a second.
	GIFDelay = 5
)

type Metrics struct {
	PhaseSeconds *prometheus.HistogramVec
	Loss         prometheus.Gauge
	Iterations   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		PhaseSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "splatfit_phase_seconds",
				Help:    "Wall time of one training phase in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-4, 2, 16),
			},
			[]string{"phase"}, // project/rasterize/backward
		),
		Loss: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "splatfit_loss",
				Help: "Mean squared error of the most recent iteration",
			},
		),
		Iterations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "splatfit_iterations_total",
				Help: "Number of completed training iterations",
			},
		),
	}
}

// Timings are cumulative wall times per phase.
type Timings struct {
	Project   time.Duration
	Rasterize time.Duration
	Backward  time.Duration
}

// Diagnostics accumulates per-phase wall time, captured preview frames and
// optional prometheus metrics. Operator calls are synchronous, so a phase's
// wall time is simply the duration of its call.
type Diagnostics struct {
	totals     [numPhases]time.Duration
	iterations int
	frames     []*image.NRGBA
	metrics    *Metrics
}

func NewDiagnostics(reg prometheus.Registerer) *Diagnostics {
	d := &Diagnostics{}
	if reg != nil {
		d.metrics = NewMetrics(reg)
	}
	return d
}

func (d *Diagnostics) observe(p Phase, dt time.Duration) {
	d.totals[p] += dt
	if d.metrics != nil {
		d.metrics.PhaseSeconds.WithLabelValues(p.String()).Observe(dt.Seconds())
	}
}

func (d *Diagnostics) endIteration(loss float64) {
	d.iterations++
	if d.metrics != nil {
		d.metrics.Loss.Set(loss)
		d.metrics.Iterations.Inc()
	}
}

func (d *Diagnostics) capture(frame *image.NRGBA) {
	d.frames = append(d.frames, frame)
}

func (d *Diagnostics) Frames() []*image.NRGBA {
	return d.frames
}

func (d *Diagnostics) Iterations() int {
	return d.iterations
}

func (d *Diagnostics) Timings() Timings {
	return Timings{
		Project:   d.totals[PhaseProject],
		Rasterize: d.totals[PhaseRasterize],
		Backward:  d.totals[PhaseBackward],
	}
}

// Summary renders the cumulative and per-iteration timing report.
func (d *Diagnostics) Summary() []string {
	t := d.Timings()
	n := float64(max(d.iterations, 1))
	return []string{
		"Total(s):",
		fmt.Sprintf("Project: %.3f, Rasterize: %.3f, Backward: %.3f",
			t.Project.Seconds(), t.Rasterize.Seconds(), t.Backward.Seconds()),
		"Per step(s):",
		fmt.Sprintf("Project: %.5f, Rasterize: %.5f, Backward: %.5f",
			t.Project.Seconds()/n, t.Rasterize.Seconds()/n, t.Backward.Seconds()/n),
	}
}

// Export writes the captured frames as an animated GIF and the loss history
// as a curve into dir. It returns the written paths.
func (d *Diagnostics) Export(dir string, losses []float64) ([]string, error) {
	var written []string
	if len(d.frames) > 0 {
		p := filepath.Join(dir, GIFName)
		if err := utils.SaveGIF(d.frames, p, GIFDelay); err != nil {
			return written, errors.Wrap(err, "export frames")
		}
		written = append(written, p)
	}
	p := filepath.Join(dir, LossCurveName)
	if err := utils.PlotLossCurve(losses, p); err != nil {
		return written, errors.Wrap(err, "export loss curve")
	}
	written = append(written, p)
	return written, nil
}

// LossWindows returns the mean loss of the first and the last frac of the
// history, e.g. frac 0.1 compares the first and last 10% of iterations.
func LossWindows(losses []float64, frac float64) (first, last float64) {
	if len(losses) == 0 {
		return 0, 0
	}
	k := min(max(int(float64(len(losses))*frac), 1), len(losses))
	return stat.Mean(losses[:k], nil), stat.Mean(losses[len(losses)-k:], nil)
}
