// Package grid provides 2D float32 weight grids and the resampling
// primitives used to bring attention maps of different native resolutions
// onto a common one. Grids are row-major and dense; the zero Grid is empty.
package grid

import (
	"fmt"
	"math"
)

// Grid is a dense 2D float32 field. Data is row-major, len(Data) == H*W.
// The struct is a cheap value; Data is shared between copies. Use Clone
// for an independent grid.
type Grid struct {
	H, W int
	Data []float32
}

// New creates a zero-filled grid of the given size.
func New(h, w int) Grid {
	if h <= 0 || w <= 0 {
		return Grid{}
	}
	return Grid{H: h, W: w, Data: make([]float32, h*w)}
}

// FromData wraps an existing row-major slice as a grid.
func FromData(h, w int, data []float32) (Grid, error) {
	if h <= 0 || w <= 0 {
		return Grid{}, fmt.Errorf("grid: invalid size %dx%d", h, w)
	}
	if len(data) != h*w {
		return Grid{}, fmt.Errorf("grid: data length %d does not match %dx%d", len(data), h, w)
	}
	return Grid{H: h, W: w, Data: data}, nil
}

// Empty reports whether the grid holds no cells.
func (g Grid) Empty() bool { return g.H == 0 || g.W == 0 }

// At returns the value at row y, column x.
func (g Grid) At(y, x int) float32 { return g.Data[y*g.W+x] }

// Set stores v at row y, column x.
func (g Grid) Set(y, x int, v float32) { g.Data[y*g.W+x] = v }

// Clone returns a deep copy.
func (g Grid) Clone() Grid {
	out := Grid{H: g.H, W: g.W, Data: make([]float32, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Fill sets every cell to v.
func (g Grid) Fill(v float32) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Add accumulates other into g cell-wise. Sizes must match.
func (g Grid) Add(other Grid) error {
	if g.H != other.H || g.W != other.W {
		return fmt.Errorf("grid: add size mismatch %dx%d vs %dx%d", g.H, g.W, other.H, other.W)
	}
	for i, v := range other.Data {
		g.Data[i] += v
	}
	return nil
}

// Scale multiplies every cell by f.
func (g Grid) Scale(f float32) {
	for i := range g.Data {
		g.Data[i] *= f
	}
}

// Sum returns the total mass of the grid.
func (g Grid) Sum() float64 {
	var s float64
	for _, v := range g.Data {
		s += float64(v)
	}
	return s
}

// MinMax returns the smallest and largest cell values.
// An empty grid reports (0, 0).
func (g Grid) MinMax() (min, max float32) {
	if len(g.Data) == 0 {
		return 0, 0
	}
	min, max = g.Data[0], g.Data[0]
	for _, v := range g.Data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Normalize rescales the grid into [0, 1] in place using min/max
// normalization with a small epsilon guard against flat grids.
func (g Grid) Normalize() {
	min, max := g.MinMax()
	span := max - min + 1e-8
	for i, v := range g.Data {
		g.Data[i] = (v - min) / span
	}
}

// Threshold binarizes the grid in place: cells strictly above t become 1,
// the rest become 0.
func (g Grid) Threshold(t float32) {
	for i, v := range g.Data {
		if v > t {
			g.Data[i] = 1
		} else {
			g.Data[i] = 0
		}
	}
}

// Clamp limits every cell to [lo, hi] in place.
func (g Grid) Clamp(lo, hi float32) {
	for i, v := range g.Data {
		if v < lo {
			g.Data[i] = lo
		} else if v > hi {
			g.Data[i] = hi
		}
	}
}

// Equal reports cell-wise equality within eps.
func Equal(a, b Grid, eps float32) bool {
	if a.H != b.H || a.W != b.W {
		return false
	}
	for i := range a.Data {
		if float32(math.Abs(float64(a.Data[i]-b.Data[i]))) > eps {
			return false
		}
	}
	return true
}
