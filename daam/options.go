package daam

import (
	"fmt"
	"math"
	"regexp"

	"github.com/openfluke/daam/grid"
)

// DefaultCanonicalSize is the canonical resolution used when neither an
// option nor the pipeline's sites determine one, matching the 64x64 latent
// grid of common latent-diffusion models.
const DefaultCanonicalSize = 64

// Resampler converts a grid to the requested dimensions. The aggregator
// calls it once per key position per record to canonicalize resolutions.
type Resampler func(g grid.Grid, h, w int) grid.Grid

// ModeResampler adapts a grid resize mode into a Resampler.
func ModeResampler(mode grid.ResizeMode) Resampler {
	return func(g grid.Grid, h, w int) grid.Grid {
		return grid.Resize(g, h, w, mode)
	}
}

// AccumulationPolicy selects the moment the aggregate reports. The stored
// quantity is always the running sum over records; averaging divides once at
// materialization so results stay reproducible across query order.
type AccumulationPolicy int

const (
	// AccumulateSum reports the raw running sum of every record.
	AccumulateSum AccumulationPolicy = iota
	// AccumulateMeanPerStep divides the sum by the number of distinct
	// sampling steps observed.
	AccumulateMeanPerStep
	// AccumulateMeanPerLayer divides the sum by the number of distinct
	// layers observed.
	AccumulateMeanPerLayer
)

func (p AccumulationPolicy) String() string {
	switch p {
	case AccumulateMeanPerStep:
		return "mean-per-step"
	case AccumulateMeanPerLayer:
		return "mean-per-layer"
	default:
		return "sum"
	}
}

// HeadWeightPolicy computes combination weights for the heads of one record.
// Weights must have length record.Heads; the aggregator normalizes them to
// sum to one, so policies may return unnormalized scores.
type HeadWeightPolicy interface {
	Name() string
	Weights(rec AttentionRecord) []float32
}

// UniformHeads weighs every head equally, the plain mean.
func UniformHeads() HeadWeightPolicy { return uniformHeads{} }

type uniformHeads struct{}

func (uniformHeads) Name() string { return "uniform" }

func (uniformHeads) Weights(rec AttentionRecord) []float32 {
	w := make([]float32, rec.Heads)
	for i := range w {
		w[i] = 1
	}
	return w
}

// MassWeightedHeads weighs each head by its total attention mass off the
// first key position. The start-of-text key soaks up most probability in
// trained text encoders, so mass on the remaining keys tracks how much a
// head actually looks at the prompt. One reasonable choice among many;
// supply your own policy for a different statistic.
func MassWeightedHeads() HeadWeightPolicy { return massWeightedHeads{} }

type massWeightedHeads struct{}

func (massWeightedHeads) Name() string { return "mass-weighted" }

func (massWeightedHeads) Weights(rec AttentionRecord) []float32 {
	w := make([]float32, rec.Heads)
	for h := 0; h < rec.Heads; h++ {
		var mass float64
		block := rec.head(h)
		for q := 0; q < rec.H*rec.W; q++ {
			row := block[q*rec.Keys : (q+1)*rec.Keys]
			for k := 1; k < len(row); k++ {
				mass += float64(row[k])
			}
		}
		w[h] = float32(mass)
	}
	return w
}

type config struct {
	headPolicy   HeadWeightPolicy
	includes     []*regexp.Regexp
	excludes     []*regexp.Regexp
	minDepth     int
	maxDepth     int
	accumulation AccumulationPolicy
	canonical    int
	retain       bool
	resample     Resampler
	tokenizer    Tokenizer
}

func defaultConfig() config {
	return config{
		headPolicy: UniformHeads(),
		minDepth:   0,
		maxDepth:   math.MaxInt,
		resample:   ModeResampler(grid.Bilinear),
	}
}

// admits reports whether a site passes the configured filters.
func (c *config) admits(name string, depth int) bool {
	if depth < c.minDepth || depth > c.maxDepth {
		return false
	}
	for _, re := range c.excludes {
		if re.MatchString(name) {
			return false
		}
	}
	if len(c.includes) == 0 {
		return true
	}
	for _, re := range c.includes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Option configures a trace session at Open time.
type Option func(*config) error

// WithHeadWeights selects the head reduction policy. The default is
// UniformHeads.
func WithHeadWeights(p HeadWeightPolicy) Option {
	return func(c *config) error {
		c.headPolicy = p
		return nil
	}
}

// WithIncludeLayers restricts capture to sites whose name matches at least
// one of the patterns (Go regular expressions).
func WithIncludeLayers(patterns ...string) Option {
	return func(c *config) error {
		res, err := compilePatterns(patterns)
		if err != nil {
			return err
		}
		c.includes = append(c.includes, res...)
		return nil
	}
}

// WithExcludeLayers drops sites whose name matches any of the patterns.
func WithExcludeLayers(patterns ...string) Option {
	return func(c *config) error {
		res, err := compilePatterns(patterns)
		if err != nil {
			return err
		}
		c.excludes = append(c.excludes, res...)
		return nil
	}
}

// WithDepthRange restricts capture to sites whose depth lies in [min, max].
func WithDepthRange(min, max int) Option {
	return func(c *config) error {
		if min < 0 || max < min {
			return fmt.Errorf("%w: bad depth range [%d, %d]", ErrBadFilter, min, max)
		}
		c.minDepth, c.maxDepth = min, max
		return nil
	}
}

// WithAccumulation selects sum versus averaged accumulation.
func WithAccumulation(p AccumulationPolicy) Option {
	return func(c *config) error {
		c.accumulation = p
		return nil
	}
}

// WithCanonicalSize fixes the canonical resolution instead of deriving it
// from the largest site resolution.
func WithCanonicalSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("canonical size must be positive, got %d", n)
		}
		c.canonical = n
		return nil
	}
}

// WithRecordRetention keeps raw records after ingestion, enabling
// layer-selective recomputation at the cost of memory.
func WithRecordRetention() Option {
	return func(c *config) error {
		c.retain = true
		return nil
	}
}

// WithResampler overrides the bilinear default used to canonicalize
// captured resolutions.
func WithResampler(r Resampler) Option {
	return func(c *config) error {
		c.resample = r
		return nil
	}
}

// WithTokenizer supplies the tokenizer word queries align against. Pipelines
// implementing TokenizerSource provide one implicitly; this option wins when
// both are present.
func WithTokenizer(t Tokenizer) Option {
	return func(c *config) error {
		c.tokenizer = t
		return nil
	}
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadFilter, p, err)
		}
		res = append(res, re)
	}
	return res, nil
}
