package splatfit

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostics_Summary(t *testing.T) {
	d := NewDiagnostics(nil)
	for range 4 {
		d.observe(PhaseProject, 250*time.Millisecond)
		d.observe(PhaseRasterize, 500*time.Millisecond)
		d.observe(PhaseBackward, time.Second)
		d.endIteration(0.1)
	}
	assert.Equal(t, 4, d.Iterations())
	assert.Equal(t, Timings{Project: time.Second, Rasterize: 2 * time.Second, Backward: 4 * time.Second}, d.Timings())
	assert.Equal(t, []string{
		"Total(s):",
		"Project: 1.000, Rasterize: 2.000, Backward: 4.000",
		"Per step(s):",
		"Project: 0.25000, Rasterize: 0.50000, Backward: 1.00000",
	}, d.Summary())
}

func TestDiagnostics_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDiagnostics(reg)
	d.observe(PhaseProject, time.Millisecond)
	d.observe(PhaseBackward, time.Millisecond)
	d.endIteration(0.5)
	d.endIteration(0.25)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := map[string]int{}
	for i, f := range families {
		byName[f.GetName()] = i
	}
	require.Contains(t, byName, "splatfit_loss")
	require.Contains(t, byName, "splatfit_iterations_total")
	require.Contains(t, byName, "splatfit_phase_seconds")

	loss := families[byName["splatfit_loss"]].GetMetric()[0].GetGauge().GetValue()
	assert.Equal(t, 0.25, loss)
	iters := families[byName["splatfit_iterations_total"]].GetMetric()[0].GetCounter().GetValue()
	assert.Equal(t, 2.0, iters)
	assert.Len(t, families[byName["splatfit_phase_seconds"]].GetMetric(), 2)
}

func TestDiagnostics_Export(t *testing.T) {
	dir := t.TempDir()
	d := NewDiagnostics(nil)

	written, err := d.Export(dir, []float64{0.04, 0.02, 0.01})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, LossCurveName)}, written)

	for range 3 {
		d.capture(image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	}
	written, err = d.Export(dir, []float64{0.04, 0.02, 0.01})
	require.NoError(t, err)
	require.Len(t, written, 2)
	for _, p := range written {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, fi.Size(), int64(0))
	}

	_, err = d.Export(dir, nil)
	assert.Error(t, err)
}

func TestLossWindows(t *testing.T) {
	losses := make([]float64, 100)
	for i := range losses {
		losses[i] = float64(100 - i)
	}
	first, last := LossWindows(losses, 0.1)
	assert.InDelta(t, 95.5, first, 1e-12)
	assert.InDelta(t, 5.5, last, 1e-12)

	first, last = LossWindows([]float64{3}, 0.1)
	assert.Equal(t, 3.0, first)
	assert.Equal(t, 3.0, last)

	first, last = LossWindows(nil, 0.1)
	assert.Zero(t, first)
	assert.Zero(t, last)
}
