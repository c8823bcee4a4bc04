package utils

import (
	"fmt"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	plotWidth  = 1000
	plotHeight = 600
	// Loss axis upper bound; larger values are clipped to the top edge.
	plotLossMax = 0.05
	plotMargin  = 70.0
	plotTicks   = 5
)

// PlotLossCurve draws losses against iteration index and saves a PNG.
func PlotLossCurve(losses []float64, path string) error {
	if len(losses) == 0 {
		return errors.New("empty loss history")
	}
	source, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return errors.Wrap(err, "load plot font")
	}
	defer func() { _ = source.Close() }()

	dc := gg.NewContext(plotWidth, plotHeight)
	defer func() { _ = dc.Close() }()
	dc.ClearWithColor(gg.White)

	x0, y0 := plotMargin, plotMargin
	x1, y1 := float64(plotWidth)-plotMargin/2, float64(plotHeight)-plotMargin
	n := max(len(losses)-1, 1)
	px := func(i int) float64 { return x0 + (x1-x0)*float64(i)/float64(n) }
	py := func(v float64) float64 {
		v = min(plotLossMax, max(0, v))
		return y1 - (y1-y0)*v/plotLossMax
	}

	// grid
	dc.SetLineWidth(1)
	dc.SetRGB(0.85, 0.85, 0.85)
	for k := range plotTicks + 1 {
		y := y0 + (y1-y0)*float64(k)/plotTicks
		x := x0 + (x1-x0)*float64(k)/plotTicks
		dc.DrawLine(x0, y, x1, y)
		dc.DrawLine(x, y0, x, y1)
	}
	if err := dc.Stroke(); err != nil {
		return err
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(x0, y0, x1-x0, y1-y0)
	if err := dc.Stroke(); err != nil {
		return err
	}

	// curve
	dc.SetRGB(0, 0, 1)
	dc.SetLineWidth(1.5)
	dc.MoveTo(px(0), py(losses[0]))
	for i := 1; i < len(losses); i++ {
		dc.LineTo(px(i), py(losses[i]))
	}
	if err := dc.Stroke(); err != nil {
		return err
	}

	// labels
	dc.SetRGB(0, 0, 0)
	dc.SetFont(source.Face(20))
	dc.DrawStringAnchored("Training Loss Curve", (x0+x1)/2, y0/2, 0.5, 0.5)
	dc.SetFont(source.Face(14))
	dc.DrawStringAnchored("Iteration", (x0+x1)/2, float64(plotHeight)-plotMargin/4, 0.5, 0)
	dc.DrawStringAnchored("Loss", plotMargin/4, (y0+y1)/2, 0, 0.5)
	for k := range plotTicks + 1 {
		v := plotLossMax * float64(k) / plotTicks
		dc.DrawStringAnchored(fmt.Sprintf("%.2f", v), x0-6, py(v), 1, 0.5)
		it := n * k / plotTicks
		dc.DrawStringAnchored(fmt.Sprintf("%d", it), px(it), y1+18, 0.5, 0.5)
	}

	// legend
	lx, ly := x1-160, y0+20
	dc.SetRGB(0, 0, 1)
	dc.SetLineWidth(1.5)
	dc.DrawLine(lx, ly, lx+30, ly)
	if err := dc.Stroke(); err != nil {
		return err
	}
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored("Training Loss", lx+38, ly, 0, 0.5)

	if err := dc.SavePNG(path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
