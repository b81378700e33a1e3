package daam

// Snapshot is the payload a cross-attention site hands its observers: the
// post-softmax attention probabilities of one forward pass through that site.
// Probs is laid out [Heads][H*W][Keys] flattened and must be a copy owned by
// the receiver; sites never hand out live model buffers.
type Snapshot struct {
	Layer         string
	Heads         int
	H, W          int
	Keys          int
	Unconditional bool
	Probs         []float32
}

// Observer receives snapshots from a site. Observers run inline on the
// pipeline's goroutine and must not mutate the snapshot.
type Observer func(Snapshot)

// Site is one cross-attention computation site inside a pipeline. Attach and
// Detach are only legal while the pipeline is idle.
type Site interface {
	// Name identifies the site, e.g. "down_0.attn".
	Name() string
	// Depth is the site's block index from the input, starting at 0.
	Depth() int
	// Resolution reports the site's native spatial grid. Zero means unknown.
	Resolution() (h, w int)
	// Attach registers an observer and returns its registration id.
	Attach(Observer) (int, error)
	// Detach removes a registration. Unknown ids are ignored.
	Detach(id int)
}

// Pipeline is the generative collaborator: anything that can enumerate its
// cross-attention sites. Implementations must be comparable (a pointer); the
// session uses identity to refuse nested traces.
type Pipeline interface {
	AttentionSites() []Site
}

// StepNotifier is implemented by pipelines that announce sampling-step
// boundaries. The session uses it to stamp records with a step index; without
// it every record carries step 0.
type StepNotifier interface {
	OnStep(func(step int)) (int, error)
	DetachStep(id int)
}

// Tokenizer is the slice of the tokenizer collaborator word alignment needs:
// prompt text to ordered sub-word pieces, end-of-word marks included.
type Tokenizer interface {
	Tokenize(text string) []string
}

// TokenizerSource is implemented by pipelines that carry their own tokenizer,
// saving callers the WithTokenizer option.
type TokenizerSource interface {
	Tokenizer() Tokenizer
}

// AttentionRecord is one captured attention distribution at a (layer, step)
// coordinate. Immutable once ingested; the aggregator owns the Weights
// backing array exclusively.
type AttentionRecord struct {
	LayerID string
	Step    int
	Heads   int
	H, W    int
	Keys    int
	Weights []float32 // [Heads][H*W][Keys] flattened
}

// valid reports whether the dimensions describe the Weights length.
func (r AttentionRecord) valid() bool {
	if r.Heads <= 0 || r.H <= 0 || r.W <= 0 || r.Keys <= 0 {
		return false
	}
	return len(r.Weights) == r.Heads*r.H*r.W*r.Keys
}

// head returns the [H*W][Keys] block for one head.
func (r AttentionRecord) head(h int) []float32 {
	stride := r.H * r.W * r.Keys
	return r.Weights[h*stride : (h+1)*stride]
}
