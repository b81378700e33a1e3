// Package render turns heat maps into images: colormap overlays on
// generated output, binary masks, and display-size upscaling.
package render

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/openfluke/daam/grid"
)

// Overlay composites a heat map over an image. The heat map is resampled
// to the image size and normalized; hot regions take the jet colormap,
// cold regions keep the underlying pixels. An empty heat map returns the
// image unchanged.
func Overlay(img image.Image, heat grid.Grid) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if heat.Empty() {
		xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
		return out
	}

	h := grid.Resize(heat, b.Dy(), b.Dx(), grid.Bicubic)
	// Bicubic ringing can undershoot zero; clamp so cold regions stay
	// exactly cold after normalization.
	h.Clamp(0, float32(math.Inf(1)))
	h.Normalize()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := h.At(y, x)
			hot := Jet(v)
			out.SetRGBA(x, y, color.RGBA{
				R: blend(uint8(r>>8), hot.R, v),
				G: blend(uint8(g>>8), hot.G, v),
				B: blend(uint8(bl>>8), hot.B, v),
				A: 255,
			})
		}
	}
	return out
}

func blend(base, over uint8, alpha float32) uint8 {
	return uint8((1-alpha)*float32(base) + alpha*float32(over) + 0.5)
}

// Mask renders the heat map as a binary mask at side x side pixels:
// white where the normalized value clears the threshold, black elsewhere.
func Mask(heat grid.Grid, threshold float32, side int) *image.Gray {
	h := grid.Expand(heat, side, grid.WithThreshold(threshold))
	img := image.NewGray(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			if h.At(y, x) > 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// GrayImage renders grid values directly as 8-bit grayscale, clamping to
// [0, 1]. Unlike Mask it does not normalize, so an all-ones grid stays
// white.
func GrayImage(g grid.Grid) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.W, g.H))
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			v := g.At(y, x)
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return img
}

// MaskGrid reads a mask image back into a binary grid: 1 where the pixel
// is brighter than mid-gray, 0 elsewhere.
func MaskGrid(img image.Image) grid.Grid {
	b := img.Bounds()
	g := grid.New(b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			lum, _, _, _ := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).RGBA()
			if lum > 0x7fff {
				g.Set(y, x, 1)
			}
		}
	}
	return g
}

// Upscale resizes an image to side x side pixels with Catmull-Rom
// interpolation for display.
func Upscale(img image.Image, side int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, side, side))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}
