package gpu

import (
	"log/slog"
	"sync"

	"github.com/openfluke/daam/grid"
)

// Pool caches one compiled Resampler per src/dst shape. Its Resample
// method matches the aggregator's resampler signature, so a pool can be
// plugged straight into a trace session. Any device failure falls back
// to the CPU resize for that call.
type Pool struct {
	mu    sync.Mutex
	items map[[4]int]*Resampler
	mode  grid.ResizeMode
}

// NewPool returns a pool compiling shaders for the given resize mode.
func NewPool(mode grid.ResizeMode) *Pool {
	return &Pool{
		items: make(map[[4]int]*Resampler),
		mode:  mode,
	}
}

// Resample resizes g to h x w on the device, compiling and caching a
// pipeline for the shape on first use.
func (p *Pool) Resample(g grid.Grid, h, w int) grid.Grid {
	if g.H == h && g.W == w {
		return g.Clone()
	}
	r, err := p.get(g.H, g.W, h, w)
	if err != nil {
		slog.Warn("gpu resample unavailable, using cpu", "error", err)
		return grid.Resize(g, h, w, p.mode)
	}
	out, err := r.Resample(g)
	if err != nil {
		slog.Warn("gpu resample failed, using cpu", "error", err)
		return grid.Resize(g, h, w, p.mode)
	}
	return out
}

func (p *Pool) get(srcH, srcW, dstH, dstW int) (*Resampler, error) {
	key := [4]int{srcH, srcW, dstH, dstW}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.items[key]; ok {
		return r, nil
	}
	r, err := NewResampler(ResamplerSpec{
		SrcH: srcH, SrcW: srcW,
		DstH: dstH, DstW: dstW,
		Mode: p.mode,
	})
	if err != nil {
		return nil, err
	}
	p.items[key] = r
	return r, nil
}

// Cleanup releases every cached pipeline. The pool can be reused after,
// compiling fresh pipelines on demand.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, r := range p.items {
		r.Cleanup()
		delete(p.items, key)
	}
}
