package diffusion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/daam/daam"
)

// smallConfig keeps tests fast while preserving the multi-resolution,
// multi-head shape of the stock layout.
func smallConfig() ModelConfig {
	return ModelConfig{
		LatentSize:    8,
		EmbedDim:      8,
		HeadDim:       4,
		ContextLength: 8,
		Seed:          42,
		Levels: []LevelConfig{
			{Name: "down_0", Size: 8, Heads: 2},
			{Name: "mid", Size: 4, Heads: 4},
			{Name: "up_1", Size: 8, Heads: 2},
		},
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Prompt: "a dog runs", Steps: 2, Seed: 99}

	first, err := New(smallConfig()).Generate(context.Background(), cfg)
	require.NoError(t, err)
	second, err := New(smallConfig()).Generate(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Latent.Data, second.Latent.Data)
	assert.Equal(t, first.Image.Pix, second.Image.Pix)
}

func TestGenerateSeedChangesOutput(t *testing.T) {
	m := New(smallConfig())
	first, err := m.Generate(context.Background(), Config{Prompt: "a dog runs", Steps: 2, Seed: 1})
	require.NoError(t, err)
	second, err := m.Generate(context.Background(), Config{Prompt: "a dog runs", Steps: 2, Seed: 2})
	require.NoError(t, err)

	assert.NotEqual(t, first.Latent.Data, second.Latent.Data)
}

func TestGenerateDefaults(t *testing.T) {
	var total int
	cfg := Config{
		Prompt:   "a dog",
		Steps:    3,
		Progress: func(_, n int) { total = n },
	}
	res, err := New(smallConfig()).Generate(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, total)
	assert.Equal(t, 8, res.Latent.H)
	assert.Equal(t, 64, res.Image.Rect.Dx())
}

func TestProgressReportsEveryStep(t *testing.T) {
	var steps []int
	cfg := Config{
		Prompt:   "a dog",
		Steps:    4,
		Progress: func(step, total int) { steps = append(steps, step) },
	}
	_, err := New(smallConfig()).Generate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, steps)
}

func TestOnStepFiresZeroBased(t *testing.T) {
	m := New(smallConfig())
	var steps []int
	id, err := m.OnStep(func(step int) { steps = append(steps, step) })
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), Config{Prompt: "a dog", Steps: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, steps)

	m.DetachStep(id)
	_, err = m.Generate(context.Background(), Config{Prompt: "a dog", Steps: 2})
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestGenerateRejectsReentry(t *testing.T) {
	m := New(smallConfig())
	var nested error
	_, err := m.OnStep(func(int) {
		if nested == nil {
			_, nested = m.Generate(context.Background(), Config{Prompt: "x", Steps: 1})
		}
	})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), Config{Prompt: "a dog", Steps: 2})
	require.NoError(t, err)
	assert.ErrorIs(t, nested, ErrBusy)
}

func TestAttachRefusedMidGeneration(t *testing.T) {
	m := New(smallConfig())
	var attachErr, stepErr error
	done := false
	_, err := m.OnStep(func(int) {
		if done {
			return
		}
		done = true
		_, attachErr = m.Sites()[0].Attach(func(daam.Snapshot) {})
		_, stepErr = m.OnStep(func(int) {})
	})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), Config{Prompt: "a dog", Steps: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, attachErr, ErrBusy)
	assert.ErrorIs(t, stepErr, ErrBusy)
}

func TestGenerateHonorsContext(t *testing.T) {
	m := New(smallConfig())
	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.OnStep(func(step int) {
		if step == 1 {
			cancel()
		}
	})
	require.NoError(t, err)

	_, err = m.Generate(ctx, Config{Prompt: "a dog", Steps: 10})
	assert.ErrorIs(t, err, context.Canceled)

	// The model is usable again afterwards.
	res, genErr := m.Generate(context.Background(), Config{Prompt: "a dog", Steps: 1})
	require.NoError(t, genErr)
	assert.NotNil(t, res)
}

func TestSitesMatchLayout(t *testing.T) {
	m := New(smallConfig())
	sites := m.AttentionSites()
	require.Len(t, sites, 3)

	assert.Equal(t, "down_0.attn", sites[0].Name())
	assert.Equal(t, "mid.attn", sites[1].Name())
	assert.Equal(t, "up_1.attn", sites[2].Name())

	for i, s := range sites {
		assert.Equal(t, i, s.Depth())
	}
	h, w := sites[1].Resolution()
	assert.Equal(t, 4, h)
	assert.Equal(t, 4, w)

	assert.Equal(t, 2, m.Sites()[0].Heads())
	assert.Equal(t, 4, m.Sites()[1].Heads())
}

func TestSchedulerSchedule(t *testing.T) {
	s := NewScheduler(4)
	assert.InDeltaSlice(t, []float32{1, 0.75, 0.5, 0.25, 0}, s.Sigmas, 1e-6)
}

func TestDefaultModelConfigHasUShape(t *testing.T) {
	mc := DefaultModelConfig()
	require.Len(t, mc.Levels, 5)
	assert.Equal(t, mc.LatentSize, mc.Levels[0].Size)
	assert.Equal(t, mc.LatentSize, mc.Levels[len(mc.Levels)-1].Size)

	mid := mc.Levels[2]
	assert.Less(t, mid.Size, mc.LatentSize)
	assert.Greater(t, mid.Heads, mc.Levels[0].Heads)
}
