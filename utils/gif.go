package utils

import (
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"

	"github.com/pkg/errors"
)

// SaveGIF writes frames as a looping animated GIF. delay is in 100ths of a
// second per frame. Frames are dithered onto the Plan9 palette.
func SaveGIF(frames []*image.NRGBA, path string, delay int) error {
	if len(frames) == 0 {
		return errors.New("no frames to save")
	}
	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		LoopCount: 0,
	}
	for _, frame := range frames {
		pimg := image.NewPaletted(frame.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(pimg, pimg.Bounds(), frame, frame.Bounds().Min)
		out.Image = append(out.Image, pimg)
		out.Delay = append(out.Delay, delay)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gif.EncodeAll(f, out); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}
