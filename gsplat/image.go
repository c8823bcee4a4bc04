package gsplat

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Image is a float RGB image. Rendered images and targets share it.
type Image struct {
	W, H int
	Pix  []float64 // Interleaved RGB in [0,1], len = W*H*3
}

func NewImage(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]float64, w*h*3)}
}

func (im *Image) PixOffset(x, y int) int {
	return (y*im.W + x) * 3
}

func (im *Image) At(x, y int) colorful.Color {
	off := im.PixOffset(x, y)
	return colorful.Color{R: im.Pix[off], G: im.Pix[off+1], B: im.Pix[off+2]}
}

func (im *Image) Set(x, y int, c colorful.Color) {
	off := im.PixOffset(x, y)
	im.Pix[off] = c.R
	im.Pix[off+1] = c.G
	im.Pix[off+2] = c.B
}

func (im *Image) Fill(c colorful.Color) {
	for y := range im.H {
		for x := range im.W {
			im.Set(x, y, c)
		}
	}
}

func (im *Image) Clone() *Image {
	out := NewImage(im.W, im.H)
	copy(out.Pix, im.Pix)
	return out
}

func (im *Image) SameSize(other *Image) bool {
	return im.W == other.W && im.H == other.H && len(im.Pix) == len(other.Pix)
}

// FromImage converts any decoded image to [0,1] RGB, dropping alpha.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	for y := range out.H {
		for x := range out.W {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := out.PixOffset(x, y)
			out.Pix[off] = float64(r) / 65535.0
			out.Pix[off+1] = float64(g) / 65535.0
			out.Pix[off+2] = float64(bl) / 65535.0
		}
	}
	return out
}

// NRGBA quantizes to 8 bits per channel. Out of range values are clamped.
func (im *Image) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, im.W, im.H))
	for y := range im.H {
		for x := range im.W {
			r, g, b := im.At(x, y).Clamped().RGB255()
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out
}
