package grid

// ExpandOption tweaks Expand behavior.
type ExpandOption func(*expandConfig)

type expandConfig struct {
	mode         ResizeMode
	absolute     bool
	hasThreshold bool
	threshold    float32
}

// Absolute keeps the raw accumulated magnitudes instead of min/max
// normalizing into [0, 1]. Useful when comparing maps across prompts.
func Absolute() ExpandOption {
	return func(c *expandConfig) { c.absolute = true }
}

// WithThreshold binarizes the expanded map: cells above t become 1.
// Applied after normalization (or after raw expansion in absolute mode).
func WithThreshold(t float32) ExpandOption {
	return func(c *expandConfig) {
		c.hasThreshold = true
		c.threshold = t
	}
}

// WithMode overrides the interpolation kernel (default Bicubic).
func WithMode(m ResizeMode) ExpandOption {
	return func(c *expandConfig) { c.mode = m }
}

// Expand upsamples a heat map to out x out for display: bicubic resize,
// then min/max normalization into [0, 1] unless Absolute is set, then an
// optional threshold. The input grid is not modified.
func Expand(g Grid, out int, opts ...ExpandOption) Grid {
	cfg := expandConfig{mode: Bicubic}
	for _, opt := range opts {
		opt(&cfg)
	}

	expanded := Resize(g, out, out, cfg.mode)
	if !cfg.absolute {
		expanded.Normalize()
	}
	if cfg.hasThreshold {
		expanded.Threshold(cfg.threshold)
	}
	return expanded
}
