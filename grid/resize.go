package grid

import "math"

// ResizeMode selects the interpolation kernel used by Resize.
type ResizeMode int

const (
	// Nearest picks the closest source cell. Fast, blocky.
	Nearest ResizeMode = iota
	// Bilinear blends the four surrounding cells. The default for
	// canonicalizing attention maps.
	Bilinear
	// Bicubic uses a 4x4 cubic convolution kernel (a = -0.75), matching
	// the usual framework default for display upsampling.
	Bicubic
)

// String returns the mode name for logs and config files.
func (m ResizeMode) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	case Bicubic:
		return "bicubic"
	default:
		return "unknown"
	}
}

// Resize resamples g to h rows by w columns and returns a new grid.
// Source coordinates use half-pixel centers, so constant fields stay
// constant and repeated up/down rounds stay stable. Resizing an empty
// grid yields a zero grid of the requested size.
func Resize(g Grid, h, w int, mode ResizeMode) Grid {
	if h <= 0 || w <= 0 {
		return Grid{}
	}
	out := New(h, w)
	if g.Empty() {
		return out
	}
	if g.H == h && g.W == w {
		copy(out.Data, g.Data)
		return out
	}

	scaleY := float64(g.H) / float64(h)
	scaleX := float64(g.W) / float64(w)

	switch mode {
	case Nearest:
		for y := 0; y < h; y++ {
			sy := clampIndex(int(math.Floor((float64(y)+0.5)*scaleY)), g.H)
			for x := 0; x < w; x++ {
				sx := clampIndex(int(math.Floor((float64(x)+0.5)*scaleX)), g.W)
				out.Data[y*w+x] = g.Data[sy*g.W+sx]
			}
		}
	case Bicubic:
		for y := 0; y < h; y++ {
			srcY := (float64(y)+0.5)*scaleY - 0.5
			baseY := int(math.Floor(srcY))
			fy := srcY - float64(baseY)
			var wy [4]float64
			cubicWeights(fy, &wy)
			for x := 0; x < w; x++ {
				srcX := (float64(x)+0.5)*scaleX - 0.5
				baseX := int(math.Floor(srcX))
				fx := srcX - float64(baseX)
				var wx [4]float64
				cubicWeights(fx, &wx)

				var acc float64
				for j := 0; j < 4; j++ {
					sy := clampIndex(baseY-1+j, g.H)
					row := sy * g.W
					var rowAcc float64
					for i := 0; i < 4; i++ {
						sx := clampIndex(baseX-1+i, g.W)
						rowAcc += wx[i] * float64(g.Data[row+sx])
					}
					acc += wy[j] * rowAcc
				}
				out.Data[y*w+x] = float32(acc)
			}
		}
	default: // Bilinear
		for y := 0; y < h; y++ {
			srcY := (float64(y)+0.5)*scaleY - 0.5
			y0 := int(math.Floor(srcY))
			fy := srcY - float64(y0)
			y1 := clampIndex(y0+1, g.H)
			y0 = clampIndex(y0, g.H)
			for x := 0; x < w; x++ {
				srcX := (float64(x)+0.5)*scaleX - 0.5
				x0 := int(math.Floor(srcX))
				fx := srcX - float64(x0)
				x1 := clampIndex(x0+1, g.W)
				x0 = clampIndex(x0, g.W)

				v00 := float64(g.Data[y0*g.W+x0])
				v01 := float64(g.Data[y0*g.W+x1])
				v10 := float64(g.Data[y1*g.W+x0])
				v11 := float64(g.Data[y1*g.W+x1])

				top := v00 + fx*(v01-v00)
				bot := v10 + fx*(v11-v10)
				out.Data[y*w+x] = float32(top + fy*(bot-top))
			}
		}
	}
	return out
}

// cubicWeights fills w with the 4-tap cubic convolution weights for
// fractional offset f in [0, 1). Taps cover source offsets -1..+2.
func cubicWeights(f float64, w *[4]float64) {
	w[0] = cubicKernel(f + 1)
	w[1] = cubicKernel(f)
	w[2] = cubicKernel(1 - f)
	w[3] = cubicKernel(2 - f)
}

// cubicKernel is the Keys cubic convolution kernel with a = -0.75.
func cubicKernel(t float64) float64 {
	const a = -0.75
	t = math.Abs(t)
	if t <= 1 {
		return (a+2)*t*t*t - (a+3)*t*t + 1
	}
	if t < 2 {
		return a * (t*t*t - 5*t*t + 8*t - 4)
	}
	return 0
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
