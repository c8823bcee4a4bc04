package splatfit

import (
	"context"
	"math"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/splatfit/gsplat"
)

func testOptions(n, iters int, lr float64) Options {
	log, _ := logtest.NewNullLogger()
	opt := DefaultOptions()
	opt.NumPoints = n
	opt.Iterations = iters
	opt.LearningRate = lr
	opt.Workers = 4
	opt.Logger = log
	return opt
}

func solidImage(w, h int, c colorful.Color) *gsplat.Image {
	img := gsplat.NewImage(w, h)
	img.Fill(c)
	return img
}

// gradientImage is a smooth two-tone target.
func gradientImage(w, h int) *gsplat.Image {
	img := gsplat.NewImage(w, h)
	for y := range h {
		for x := range w {
			img.Set(x, y, colorful.Color{
				R: float64(x) / float64(w-1),
				G: float64(y) / float64(h-1),
				B: 0.5,
			})
		}
	}
	return img
}

func TestNewTrainer_Rejects(t *testing.T) {
	_, err := NewTrainer(nil, testOptions(10, 10, 0.01))
	assert.Error(t, err)

	_, err = NewTrainer(gsplat.NewImage(8, 8), testOptions(0, 10, 0.01))
	assert.Error(t, err)

	_, err = NewTrainer(gsplat.NewImage(8, 8), testOptions(10, 10, -1))
	assert.Error(t, err)
}

func TestTrainer_HistoryAndFrames(t *testing.T) {
	opt := testOptions(20, 12, 0.01)
	opt.SaveImages = true
	tr, err := NewTrainer(gradientImage(32, 24), opt)
	require.NoError(t, err)
	defer tr.Close()

	res, err := tr.Train(context.Background())
	require.NoError(t, err)
	assert.True(t, tr.Done())
	assert.Equal(t, 12, res.Iterations)
	assert.Len(t, res.Losses, 12)
	assert.Equal(t, res.Losses[11], res.FinalLoss)
	// iterations 0, 5 and 10
	assert.Len(t, tr.Diagnostics().Frames(), 3)
	assert.Equal(t, 12, tr.Optimizer().Steps())
	assert.Equal(t, 12, tr.Diagnostics().Iterations())
	for _, l := range res.Losses {
		assert.GreaterOrEqual(t, l, 0.0)
	}

	_, err = tr.Step()
	assert.Error(t, err)
}

func TestTrainer_NoFramesWithoutSaveImages(t *testing.T) {
	tr, err := NewTrainer(gradientImage(16, 16), testOptions(5, 6, 0.01))
	require.NoError(t, err)
	defer tr.Close()
	_, err = tr.Train(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tr.Diagnostics().Frames())
}

func TestTrainer_LogsEveryIteration(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	opt := testOptions(5, 3, 0.01)
	opt.Logger = log
	tr, err := NewTrainer(gradientImage(16, 16), opt)
	require.NoError(t, err)
	defer tr.Close()
	_, err = tr.Train(context.Background())
	require.NoError(t, err)

	entries := hook.AllEntries()
	require.Len(t, entries, 3+4)
	assert.Regexp(t, `^Iteration 1/3, Loss: `, entries[0].Message)
	assert.Regexp(t, `^Iteration 3/3, Loss: `, entries[2].Message)
	assert.Equal(t, "Total(s):", entries[3].Message)
}

func TestTrainer_CancelBetweenIterations(t *testing.T) {
	tr, err := NewTrainer(gradientImage(16, 16), testOptions(10, 50, 0.01))
	require.NoError(t, err)
	defer tr.Close()

	for range 2 {
		_, err := tr.Step()
		require.NoError(t, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := tr.Train(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, res.Losses, 2)
	assert.False(t, tr.Done())
}

func TestTrainer_Deterministic(t *testing.T) {
	run := func() []float64 {
		tr, err := NewTrainer(gradientImage(24, 24), testOptions(30, 5, 0.02))
		require.NoError(t, err)
		defer tr.Close()
		res, err := tr.Train(context.Background())
		require.NoError(t, err)
		return res.Losses
	}
	assert.Equal(t, run(), run())
}

func TestTrainer_KMeansColorInit(t *testing.T) {
	opt := testOptions(16, 1, 0.01)
	opt.ColorInit = ColorInitKMeans
	opt.PaletteSize = 2
	tr, err := NewTrainer(gradientImage(32, 32), opt)
	require.NoError(t, err)
	defer tr.Close()

	colors, _ := tr.Field().Appearance()
	distinct := map[[3]float64]bool{}
	for i := 0; i < len(colors); i += 3 {
		distinct[[3]float64{colors[i], colors[i+1], colors[i+2]}] = true
		for c := range 3 {
			assert.InDelta(t, 0.5, colors[i+c], 0.49+1e-9)
		}
	}
	assert.NotEmpty(t, distinct)
	assert.LessOrEqual(t, len(distinct), opt.PaletteSize)
}

// The gradient left by one forward/backward pass matches central
// differences of Render followed by MSELoss, through every operator.
func TestTrainer_GradientMatchesFiniteDifferences(t *testing.T) {
	tr, err := NewTrainer(gradientImage(16, 16), testOptions(5, 1, 0.01))
	require.NoError(t, err)
	defer tr.Close()

	_, _, err = tr.forwardBackward()
	require.NoError(t, err)

	objective := func() float64 {
		img, err := tr.Render()
		require.NoError(t, err)
		l, err := MSELoss(img, tr.target)
		require.NoError(t, err)
		return l
	}

	const eps = 1e-6
	for _, p := range tr.Field().Parameters() {
		for k := range p.Data {
			orig := p.Data[k]
			p.Data[k] = orig + eps
			fp := objective()
			p.Data[k] = orig - eps
			fm := objective()
			p.Data[k] = orig
			num := (fp - fm) / (2 * eps)
			assert.InDelta(t, num, p.Grad[k], 1e-7+1e-4*math.Abs(num), "%s[%d]", p.Name, k)
		}
	}
}

func TestTrainer_LossDecreases(t *testing.T) {
	if testing.Short() {
		t.Skip("training run")
	}
	tr, err := NewTrainer(gradientImage(32, 32), testOptions(100, 150, 0.01))
	require.NoError(t, err)
	defer tr.Close()
	res, err := tr.Train(context.Background())
	require.NoError(t, err)

	first, last := LossWindows(res.Losses, 0.1)
	assert.Less(t, last, first)
}

func TestTrainer_FitsSolidRed(t *testing.T) {
	if testing.Short() {
		t.Skip("training run")
	}
	target := solidImage(64, 64, colorful.Color{R: 1, G: 0, B: 0})
	tr, err := NewTrainer(target, testOptions(50, 200, 0.05))
	require.NoError(t, err)
	defer tr.Close()
	res, err := tr.Train(context.Background())
	require.NoError(t, err)
	assert.Less(t, res.FinalLoss, 0.01)
}
