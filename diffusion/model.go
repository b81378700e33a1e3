// Package diffusion is a compact, deterministic latent diffusion sampler
// whose cross-attention blocks double as observation sites. It is the
// reference pipeline for attribution tracing: small enough to run in
// tests, real enough that the attention traffic has the shape of a
// production denoiser.
package diffusion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/openfluke/daam/daam"
	"github.com/openfluke/daam/grid"
	"github.com/openfluke/daam/tokenizer"
)

// ErrBusy is returned when a call needs the model idle but a generation
// is in flight.
var ErrBusy = errors.New("generation in progress")

// Model is a compact latent diffusion sampler with real cross-attention.
// It exists to produce faithful attention traffic: every block runs the
// full projection, softmax and value-sum math over a text conditioning
// sequence, at the resolutions and head counts its level specifies.
//
// Model satisfies the tracing interfaces, so a session can attach to it
// directly.
type Model struct {
	cfg    ModelConfig
	tok    *tokenizer.Tokenizer
	blocks []*CrossAttention

	// Per-level feature weights: lift maps a latent scalar into block
	// features, read collapses block output back to a scalar, pos is a
	// learned positional table [size*size*dim].
	lifts [][]float32
	reads [][]float32
	pos   [][]float32

	embedCache map[int][]float32

	running atomic.Bool

	stepMu     sync.Mutex
	stepNextID int
	stepFns    map[int]func(step int)
}

// New builds a model with the built-in reference tokenizer.
func New(mc ModelConfig) *Model {
	return NewWithTokenizer(mc, tokenizer.NewReference())
}

// NewWithTokenizer builds a model around an already loaded tokenizer.
func NewWithTokenizer(mc ModelConfig, tok *tokenizer.Tokenizer) *Model {
	mc = mc.withDefaults()
	m := &Model{
		cfg:        mc,
		tok:        tok,
		embedCache: make(map[int][]float32),
		stepFns:    make(map[int]func(int)),
	}
	rng := rand.New(rand.NewSource(mc.Seed))
	for depth, lc := range mc.Levels {
		blk := newCrossAttention(lc.Name+".attn", depth, lc, mc, rng)
		blk.busy = m.running.Load
		m.blocks = append(m.blocks, blk)
		m.lifts = append(m.lifts, initWeights(rng, blk.dim))
		m.reads = append(m.reads, initWeights(rng, blk.dim))
		m.pos = append(m.pos, initWeights(rng, lc.Size*lc.Size*blk.dim))
	}
	return m
}

// LatentSize returns the base resolution the sampler runs at.
func (m *Model) LatentSize() int { return m.cfg.LatentSize }

// ContextLength returns the key axis length prompts are padded to.
func (m *Model) ContextLength() int { return m.cfg.ContextLength }

// Sites returns the model's attention blocks in forward order.
func (m *Model) Sites() []*CrossAttention {
	out := make([]*CrossAttention, len(m.blocks))
	copy(out, m.blocks)
	return out
}

// AttentionSites exposes the blocks as generic observation sites.
func (m *Model) AttentionSites() []daam.Site {
	out := make([]daam.Site, len(m.blocks))
	for i, blk := range m.blocks {
		out[i] = blk
	}
	return out
}

// Tokenizer returns the tokenizer conditioning is encoded with.
func (m *Model) Tokenizer() daam.Tokenizer { return m.tok }

// OnStep registers a callback fired at the start of every denoising step
// with the zero-based step index. Registration is refused mid-generation.
func (m *Model) OnStep(fn func(step int)) (int, error) {
	if fn == nil {
		return 0, fmt.Errorf("on step: nil callback")
	}
	if m.running.Load() {
		return 0, fmt.Errorf("on step: %w", ErrBusy)
	}
	m.stepMu.Lock()
	defer m.stepMu.Unlock()
	id := m.stepNextID
	m.stepNextID++
	m.stepFns[id] = fn
	return id, nil
}

// DetachStep removes a step callback. Unknown handles are ignored.
func (m *Model) DetachStep(id int) {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()
	delete(m.stepFns, id)
}

func (m *Model) fireStep(step int) {
	m.stepMu.Lock()
	fns := make([]func(int), 0, len(m.stepFns))
	for _, fn := range m.stepFns {
		fns = append(fns, fn)
	}
	m.stepMu.Unlock()
	for _, fn := range fns {
		fn(step)
	}
}

// Result is one finished generation.
type Result struct {
	Image  *image.RGBA
	Latent grid.Grid
	Seed   int64
}

// Generate denoises a seeded latent under the prompt and returns the
// decoded image. The same Config always yields the same Result and the
// same attention traffic. Only one generation may run at a time.
func (m *Model) Generate(ctx context.Context, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if !m.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("generate: %w", ErrBusy)
	}
	defer m.running.Store(false)

	cond := m.encode(cfg.Prompt)
	guided := cfg.GuidanceScale > 1
	var uncond []float32
	if guided {
		uncond = m.encode(cfg.NegativePrompt)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	latent := grid.New(m.cfg.LatentSize, m.cfg.LatentSize)
	for i := range latent.Data {
		latent.Data[i] = float32(rng.NormFloat64())
	}

	sched := NewScheduler(cfg.Steps)
	for i := 0; i < cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		m.fireStep(i)
		if cfg.Progress != nil {
			cfg.Progress(i+1, cfg.Steps)
		}

		pred := m.predict(latent, cond, false)
		if guided {
			neg := m.predict(latent, uncond, true)
			for j := range pred.Data {
				pred.Data[j] = neg.Data[j] + cfg.GuidanceScale*(pred.Data[j]-neg.Data[j])
			}
		}
		sched.Step(latent, pred, i)
	}

	return &Result{
		Image:  decodeImage(latent, 8),
		Latent: latent,
		Seed:   cfg.Seed,
	}, nil
}

// predict runs every block over the current latent and folds their
// contributions into one noise prediction at the base resolution.
func (m *Model) predict(latent grid.Grid, cond []float32, uncond bool) grid.Grid {
	size := m.cfg.LatentSize
	keys := m.cfg.ContextLength
	pred := grid.New(size, size)
	for li, blk := range m.blocks {
		scaled := grid.Resize(latent, blk.size, blk.size, grid.Bilinear)

		feats := make([]float32, blk.size*blk.size*blk.dim)
		lift := m.lifts[li]
		pos := m.pos[li]
		for q := 0; q < blk.size*blk.size; q++ {
			v := scaled.Data[q]
			for d := 0; d < blk.dim; d++ {
				feats[q*blk.dim+d] = v*lift[d] + pos[q*blk.dim+d]
			}
		}

		out := blk.forward(feats, cond, keys, uncond)

		contrib := grid.New(blk.size, blk.size)
		read := m.reads[li]
		for q := 0; q < blk.size*blk.size; q++ {
			var sum float32
			for d := 0; d < blk.dim; d++ {
				sum += out[q*blk.dim+d] * read[d]
			}
			contrib.Data[q] = sum / float32(blk.dim)
		}

		back := grid.Resize(contrib, size, size, grid.Bilinear)
		pred.Add(back)
	}
	pred.Scale(1 / float32(len(m.blocks)))
	return pred
}

// encode turns a prompt into the conditioning sequence: padded token ids,
// each mapped through the seeded embedding table plus a sinusoidal
// position term.
func (m *Model) encode(prompt string) []float32 {
	ids := m.tok.EncodePadded(prompt, m.cfg.ContextLength)
	dim := m.cfg.EmbedDim
	cond := make([]float32, len(ids)*dim)
	for k, id := range ids {
		vec := m.embedFor(id)
		for d := 0; d < dim; d++ {
			cond[k*dim+d] = vec[d] + positionTerm(k, d, dim)
		}
	}
	return cond
}

// embedFor returns the embedding vector for one token id. Vectors are
// derived from the model seed and the id, so they are stable across
// processes without storing a table for the whole vocabulary.
func (m *Model) embedFor(id int) []float32 {
	if vec, ok := m.embedCache[id]; ok {
		return vec
	}
	rng := rand.New(rand.NewSource(m.cfg.Seed*1000003 + int64(id)*7919))
	vec := initWeights(rng, m.cfg.EmbedDim)
	m.embedCache[id] = vec
	return vec
}

func positionTerm(pos, d, dim int) float32 {
	angle := float64(pos) * math.Pow(10000, -float64(d)/float64(dim))
	if d%2 == 1 {
		return float32(math.Cos(angle)) * 0.1
	}
	return float32(math.Sin(angle)) * 0.1
}

// decodeImage maps the final latent through a fixed color ramp and
// upscales it by the given factor for display.
func decodeImage(latent grid.Grid, scale int) *image.RGBA {
	side := latent.H * scale
	up := grid.Resize(latent, side, side, grid.Bicubic)
	up.Normalize()
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			v := up.At(y, x)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(v * 255),
				G: uint8(v * v * 255),
				B: uint8((1 - v) * 255),
				A: 255,
			})
		}
	}
	return img
}
