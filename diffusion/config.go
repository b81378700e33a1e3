package diffusion

// Config holds the options for one generation call.
type Config struct {
	Prompt         string
	NegativePrompt string                // unconditional prompt for guidance, "" is valid
	Steps          int                   // denoising steps (default 20)
	GuidanceScale  float32               // classifier-free guidance when > 1 (default 1, off)
	Seed           int64                 // noise seed
	Progress       func(step, total int) // optional per-step callback
}

// withDefaults fills the zero values a caller left unset.
func (c Config) withDefaults() Config {
	if c.Steps <= 0 {
		c.Steps = 20
	}
	if c.GuidanceScale <= 0 {
		c.GuidanceScale = 1
	}
	return c
}

// LevelConfig describes one resolution level of the denoiser.
type LevelConfig struct {
	Name  string // block name, e.g. "down_0"
	Size  int    // spatial side length of the level's latent grid
	Heads int    // attention heads at this level
}

// ModelConfig describes the reference architecture. The zero value is
// usable: DefaultModelConfig fills it in.
type ModelConfig struct {
	LatentSize    int   // base latent resolution the sampler runs at
	EmbedDim      int   // text conditioning feature width
	HeadDim       int   // per-head feature width
	ContextLength int   // key axis length prompts are padded to
	Seed          int64 // weight initialization seed
	Levels        []LevelConfig
}

// DefaultModelConfig is the stock U-shaped layout: attention at the base
// resolution on the way down, at the bottleneck, and on the way back up,
// with head count growing as resolution shrinks.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		LatentSize:    16,
		EmbedDim:      32,
		HeadDim:       8,
		ContextLength: 32,
		Seed:          42,
		Levels: []LevelConfig{
			{Name: "down_0", Size: 16, Heads: 2},
			{Name: "down_1", Size: 8, Heads: 4},
			{Name: "mid", Size: 4, Heads: 8},
			{Name: "up_0", Size: 8, Heads: 4},
			{Name: "up_1", Size: 16, Heads: 2},
		},
	}
}

func (mc ModelConfig) withDefaults() ModelConfig {
	def := DefaultModelConfig()
	if mc.LatentSize <= 0 {
		mc.LatentSize = def.LatentSize
	}
	if mc.EmbedDim <= 0 {
		mc.EmbedDim = def.EmbedDim
	}
	if mc.HeadDim <= 0 {
		mc.HeadDim = def.HeadDim
	}
	if mc.ContextLength <= 0 {
		mc.ContextLength = def.ContextLength
	}
	if mc.Seed == 0 {
		mc.Seed = def.Seed
	}
	if len(mc.Levels) == 0 {
		mc.Levels = def.Levels
	}
	return mc
}
