package diffusion

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/openfluke/daam/daam"
)

// CrossAttention is one attention block of the denoiser: spatial latent
// queries attend over the text conditioning sequence. Each block is also
// an observation site, handing registered observers a copy of its
// post-softmax probabilities on every forward pass.
type CrossAttention struct {
	name    string
	depth   int
	size    int // spatial side length, queries = size*size
	heads   int
	headDim int
	dim     int // heads*headDim, feature width at this level

	// Projection weights, flat row-major [in*dim + out].
	qWeights []float32 // [dim][dim]
	kWeights []float32 // [embedDim][dim]
	vWeights []float32 // [embedDim][dim]
	oWeights []float32 // [dim][dim]
	embedDim int

	busy func() bool // reports whether a generation is in flight

	mu        sync.Mutex
	nextID    int
	observers map[int]daam.Observer
}

func newCrossAttention(name string, depth int, lc LevelConfig, mc ModelConfig, rng *rand.Rand) *CrossAttention {
	c := &CrossAttention{
		name:      name,
		depth:     depth,
		size:      lc.Size,
		heads:     lc.Heads,
		headDim:   mc.HeadDim,
		dim:       lc.Heads * mc.HeadDim,
		embedDim:  mc.EmbedDim,
		observers: make(map[int]daam.Observer),
	}
	c.qWeights = initWeights(rng, c.dim*c.dim)
	c.kWeights = initWeights(rng, c.embedDim*c.dim)
	c.vWeights = initWeights(rng, c.embedDim*c.dim)
	c.oWeights = initWeights(rng, c.dim*c.dim)
	return c
}

// initWeights draws n values in [-0.1, 0.1) from the model's seeded source.
func initWeights(rng *rand.Rand, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = (rng.Float32()*2 - 1) * 0.1
	}
	return w
}

// Name returns the block's identifier, e.g. "down_0.attn".
func (c *CrossAttention) Name() string { return c.name }

// Depth returns the block's position in forward order, starting at 0.
func (c *CrossAttention) Depth() int { return c.depth }

// Resolution returns the spatial shape of the block's query grid.
func (c *CrossAttention) Resolution() (h, w int) { return c.size, c.size }

// Heads returns the block's attention head count.
func (c *CrossAttention) Heads() int { return c.heads }

// Attach registers an observer and returns its handle. Attaching while a
// generation is running is refused.
func (c *CrossAttention) Attach(fn daam.Observer) (int, error) {
	if fn == nil {
		return 0, fmt.Errorf("attach %s: nil observer", c.name)
	}
	if c.busy != nil && c.busy() {
		return 0, fmt.Errorf("attach %s: %w", c.name, ErrBusy)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	return id, nil
}

// Detach removes a previously attached observer. Unknown handles are ignored.
func (c *CrossAttention) Detach(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, id)
}

// forward runs cross-attention over one latent feature map. latent is
// [size*size][dim] flat, cond is [keys][embedDim] flat. The returned slice
// is the projected attention output, same shape as latent.
//
// Observers see the probability tensor after softmax and before the value
// sum, so the capture cannot perturb the output.
func (c *CrossAttention) forward(latent, cond []float32, keys int, uncond bool) []float32 {
	queries := c.size * c.size

	// Q, K, V projections.
	q := make([]float32, queries*c.dim)
	for i := 0; i < queries; i++ {
		for out := 0; out < c.dim; out++ {
			var sum float32
			for in := 0; in < c.dim; in++ {
				sum += latent[i*c.dim+in] * c.qWeights[in*c.dim+out]
			}
			q[i*c.dim+out] = sum
		}
	}
	k := make([]float32, keys*c.dim)
	v := make([]float32, keys*c.dim)
	for i := 0; i < keys; i++ {
		for out := 0; out < c.dim; out++ {
			var ks, vs float32
			for in := 0; in < c.embedDim; in++ {
				ks += cond[i*c.embedDim+in] * c.kWeights[in*c.dim+out]
				vs += cond[i*c.embedDim+in] * c.vWeights[in*c.dim+out]
			}
			k[i*c.dim+out] = ks
			v[i*c.dim+out] = vs
		}
	}

	// Scaled scores per head, then softmax over the key axis.
	scale := float32(1.0 / math.Sqrt(float64(c.headDim)))
	probs := make([]float32, c.heads*queries*keys)
	for h := 0; h < c.heads; h++ {
		off := h * c.headDim
		for i := 0; i < queries; i++ {
			row := probs[h*queries*keys+i*keys : h*queries*keys+(i+1)*keys]
			for j := 0; j < keys; j++ {
				var dot float32
				for d := 0; d < c.headDim; d++ {
					dot += q[i*c.dim+off+d] * k[j*c.dim+off+d]
				}
				row[j] = dot * scale
			}
			softmaxInPlace(row)
		}
	}

	c.notify(probs, keys, uncond)

	// Weighted value sum, heads concatenated.
	attn := make([]float32, queries*c.dim)
	for h := 0; h < c.heads; h++ {
		off := h * c.headDim
		for i := 0; i < queries; i++ {
			for j := 0; j < keys; j++ {
				p := probs[h*queries*keys+i*keys+j]
				for d := 0; d < c.headDim; d++ {
					attn[i*c.dim+off+d] += p * v[j*c.dim+off+d]
				}
			}
		}
	}

	// Output projection.
	out := make([]float32, queries*c.dim)
	for i := 0; i < queries; i++ {
		for o := 0; o < c.dim; o++ {
			var sum float32
			for in := 0; in < c.dim; in++ {
				sum += attn[i*c.dim+in] * c.oWeights[in*c.dim+o]
			}
			out[i*c.dim+o] = sum
		}
	}
	return out
}

// notify fans the probability tensor out to observers. Each observer gets
// its own copy so a misbehaving one cannot corrupt the forward pass.
func (c *CrossAttention) notify(probs []float32, keys int, uncond bool) {
	c.mu.Lock()
	fns := make([]daam.Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		cp := make([]float32, len(probs))
		copy(cp, probs)
		fn(daam.Snapshot{
			Layer:         c.name,
			Heads:         c.heads,
			H:             c.size,
			W:             c.size,
			Keys:          keys,
			Unconditional: uncond,
			Probs:         cp,
		})
	}
}

// softmaxInPlace applies a max-stabilized softmax to row.
func softmaxInPlace(row []float32) {
	maxVal := row[0]
	for _, s := range row[1:] {
		if s > maxVal {
			maxVal = s
		}
	}
	var sum float32
	for i, s := range row {
		e := float32(math.Exp(float64(s - maxVal)))
		row[i] = e
		sum += e
	}
	for i := range row {
		row[i] /= sum
	}
}
