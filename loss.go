package splatfit

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/setanarut/splatfit/gsplat"
)

// MSELoss is the mean squared error over every pixel and channel.
func MSELoss(rendered, target *gsplat.Image) (float64, error) {
	if !rendered.SameSize(target) {
		return 0, errors.Errorf("loss: rendered %dx%d does not match target %dx%d", rendered.W, rendered.H, target.W, target.H)
	}
	if len(target.Pix) == 0 {
		return 0, nil
	}
	diff := make([]float64, len(target.Pix))
	floats.SubTo(diff, rendered.Pix, target.Pix)
	return floats.Dot(diff, diff) / float64(len(diff)), nil
}

// MSELossGrad returns dL/drendered = 2*(rendered-target)/n.
func MSELossGrad(rendered, target *gsplat.Image) (*gsplat.Image, error) {
	if !rendered.SameSize(target) {
		return nil, errors.Errorf("loss: rendered %dx%d does not match target %dx%d", rendered.W, rendered.H, target.W, target.H)
	}
	grad := gsplat.NewImage(target.W, target.H)
	if len(grad.Pix) == 0 {
		return grad, nil
	}
	floats.SubTo(grad.Pix, rendered.Pix, target.Pix)
	floats.Scale(2/float64(len(grad.Pix)), grad.Pix)
	return grad, nil
}
