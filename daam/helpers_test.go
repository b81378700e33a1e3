package daam

import "strings"

// Test doubles shared by the package tests: a minimal pipeline exposing
// scriptable cross-attention sites, plus snapshot builders with known
// values.

type fakeSite struct {
	name      string
	depth     int
	h, w      int
	nextID    int
	observers map[int]Observer
	detached  int
	attachErr error
}

func newFakeSite(name string, depth, h, w int) *fakeSite {
	return &fakeSite{name: name, depth: depth, h: h, w: w, observers: map[int]Observer{}}
}

func (f *fakeSite) Name() string           { return f.name }
func (f *fakeSite) Depth() int             { return f.depth }
func (f *fakeSite) Resolution() (int, int) { return f.h, f.w }

func (f *fakeSite) Attach(o Observer) (int, error) {
	if f.attachErr != nil {
		return 0, f.attachErr
	}
	id := f.nextID
	f.nextID++
	f.observers[id] = o
	return id, nil
}

func (f *fakeSite) Detach(id int) {
	if _, ok := f.observers[id]; ok {
		delete(f.observers, id)
		f.detached++
	}
}

// emit fans a snapshot out to the attached observers, defaulting the layer
// name to the site's own.
func (f *fakeSite) emit(snap Snapshot) {
	if snap.Layer == "" {
		snap.Layer = f.name
	}
	for _, o := range f.observers {
		o(snap)
	}
}

// fakePipeline implements Pipeline, StepNotifier, and TokenizerSource.
type fakePipeline struct {
	sites []Site
	steps []func(int)
	tok   Tokenizer
}

func (p *fakePipeline) AttentionSites() []Site { return p.sites }
func (p *fakePipeline) Tokenizer() Tokenizer   { return p.tok }

func (p *fakePipeline) OnStep(fn func(int)) (int, error) {
	p.steps = append(p.steps, fn)
	return len(p.steps) - 1, nil
}

func (p *fakePipeline) DetachStep(id int) {
	if id >= 0 && id < len(p.steps) {
		p.steps[id] = nil
	}
}

// step announces a sampling-step boundary.
func (p *fakePipeline) step(i int) {
	for _, fn := range p.steps {
		if fn != nil {
			fn(i)
		}
	}
}

// barePipeline exposes sites and nothing else: no step boundaries, no
// tokenizer.
type barePipeline struct {
	sites []Site
}

func (p *barePipeline) AttentionSites() []Site { return p.sites }

// wordTokenizer splits on whitespace, one marked piece per word, so token
// positions line up 1:1 with words (plus the start special at 0).
type wordTokenizer struct{}

func (wordTokenizer) Tokenize(text string) []string {
	var pieces []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		pieces = append(pieces, f+"</w>")
	}
	return pieces
}

// flatSnap builds a single-head snapshot where every query position gives
// key k the probability fills[k].
func flatSnap(h, w int, fills []float32) Snapshot {
	keys := len(fills)
	probs := make([]float32, h*w*keys)
	for q := 0; q < h*w; q++ {
		copy(probs[q*keys:(q+1)*keys], fills)
	}
	return Snapshot{Heads: 1, H: h, W: w, Keys: keys, Probs: probs}
}

// headSnap stacks per-head fills into a multi-head snapshot.
func headSnap(h, w int, headFills [][]float32) Snapshot {
	keys := len(headFills[0])
	probs := make([]float32, 0, len(headFills)*h*w*keys)
	for _, fills := range headFills {
		one := flatSnap(h, w, fills)
		probs = append(probs, one.Probs...)
	}
	return Snapshot{Heads: len(headFills), H: h, W: w, Keys: keys, Probs: probs}
}

// recOf stamps a snapshot into a record for driving the aggregator directly.
func recOf(layer string, step int, snap Snapshot) AttentionRecord {
	return AttentionRecord{
		LayerID: layer,
		Step:    step,
		Heads:   snap.Heads,
		H:       snap.H,
		W:       snap.W,
		Keys:    snap.Keys,
		Weights: snap.Probs,
	}
}
