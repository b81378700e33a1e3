package daam

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/daam/grid"
	"github.com/openfluke/daam/tokenizer"
)

// Two steps, one layer, one head: step one puts all mass for "dog" on every
// query position, step two contributes nothing, so the summed aggregate for
// "dog" is exactly step one's grid.
func TestScenarioSecondStepContributesZero(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 4, 4)
	pipe := &fakePipeline{sites: []Site{site}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()

	// Key axis: start special, "a", "dog", "runs".
	pipe.step(0)
	site.emit(flatSnap(4, 4, []float32{0, 0, 1, 0}))
	pipe.step(1)
	site.emit(flatSnap(4, 4, []float32{0, 0, 0, 0}))

	heat := sess.HeatMap("a dog runs")
	dog, err := heat.WordHeatMap("dog")
	require.NoError(t, err)

	ones := grid.New(4, 4)
	ones.Fill(1)
	assert.Equal(t, ones.Data, dog.Data)
}

// Layers at different native resolutions must all land at one canonical
// resolution before summation.
func TestScenarioMixedResolutions(t *testing.T) {
	small := newFakeSite("down_0.attn", 0, 4, 4)
	large := newFakeSite("up_0.attn", 1, 8, 8)
	pipe := &fakePipeline{sites: []Site{small, large}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()

	small.emit(flatSnap(4, 4, []float32{0, 1}))
	large.emit(flatSnap(8, 8, []float32{0, 1}))

	heat := sess.HeatMap("dog")
	assert.Equal(t, 8, heat.Size())
	for i := 0; i < heat.TokenCount(); i++ {
		g := heat.TokenHeatMap(i)
		assert.Equal(t, 8, g.H)
		assert.Equal(t, 8, g.W)
	}
	// Both layers contribute flat unit mass at the dog position.
	dog, err := heat.WordHeatMap("dog")
	require.NoError(t, err)
	for _, v := range dog.Data {
		assert.InDelta(t, 2.0, v, 1e-5)
	}
}

// A word's heat map equals the sum of its token heat maps over exactly the
// span's indices.
func TestWordHeatMapLinearity(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 4, 4)
	pipe := &fakePipeline{sites: []Site{site}, tok: tokenizer.NewReference()}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()

	fills := make([]float32, 10)
	for k := range fills {
		fills[k] = float32(k) * 0.1
	}
	site.emit(flatSnap(4, 4, fills))

	heat := sess.HeatMap("a dog runs")
	span, err := heat.ResolveWord("dog", -1)
	require.NoError(t, err)
	assert.Equal(t, TokenSpan{Word: "dog", Start: 2, End: 5}, span)

	dog, err := heat.WordHeatMap("dog")
	require.NoError(t, err)

	manual := heat.TokenHeatMap(span.Start)
	for i := span.Start + 1; i < span.End; i++ {
		manual.Add(heat.TokenHeatMap(i))
	}
	assert.Equal(t, manual.Data, dog.Data)
}

func TestAmbiguousWordNeedsOccurrence(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 4, 4)
	pipe := &fakePipeline{sites: []Site{site}, tok: tokenizer.NewReference()}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()

	fills := make([]float32, 13)
	for k := range fills {
		fills[k] = float32(k)
	}
	site.emit(flatSnap(4, 4, fills))

	heat := sess.HeatMap("a dog and a cat")

	_, err = heat.WordHeatMap("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousWord))

	// Occurrences resolve in prompt order: "a dog and a cat" has "a" at
	// token positions 1 and 8.
	first, err := heat.WordHeatMapAt("a", 0)
	require.NoError(t, err)
	assert.Equal(t, heat.TokenHeatMap(1).Data, first.Data)

	second, err := heat.WordHeatMapAt("a", 1)
	require.NoError(t, err)
	assert.Equal(t, heat.TokenHeatMap(8).Data, second.Data)

	_, err = heat.WordHeatMapAt("a", 2)
	assert.True(t, errors.Is(err, ErrWordNotFound))

	_, err = heat.WordHeatMapAt("a", -1)
	assert.True(t, errors.Is(err, ErrWordNotFound))
}

func TestWordNotFound(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 4, 4)
	pipe := &fakePipeline{sites: []Site{site}, tok: tokenizer.NewReference()}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()
	site.emit(flatSnap(4, 4, []float32{1, 1, 1}))

	heat := sess.HeatMap("a dog runs")
	_, err = heat.WordHeatMap("cat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWordNotFound))
}

func TestWordQueriesNeedTokenizer(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 4, 4)
	pipe := &barePipeline{sites: []Site{site}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()
	site.emit(flatSnap(4, 4, []float32{1, 1}))

	heat := sess.HeatMap("a dog")
	_, err = heat.WordHeatMap("dog")
	assert.True(t, errors.Is(err, ErrNoTokenizer))

	// Token-level queries stay available.
	assert.Equal(t, 2, heat.TokenCount())
	assert.InDelta(t, 16.0, heat.TokenHeatMap(1).Sum(), 1e-5)
}

func TestPaddingPositionsRetained(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 2, 2)
	pipe := &fakePipeline{sites: []Site{site}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()

	// Key axis longer than the prompt: trailing padding keys carry mass
	// that word queries never touch but diagnostics can still read.
	site.emit(flatSnap(2, 2, []float32{0, 1, 0.5, 0.5}))

	heat := sess.HeatMap("dog")
	assert.Equal(t, 4, heat.TokenCount())
	assert.InDelta(t, 0.5*4, heat.TokenHeatMap(3).Sum(), 1e-5)

	dog, err := heat.WordHeatMap("dog")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, dog.Sum(), 1e-5)
}

func TestTermHeatMap(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 2, 2)
	pipe := &fakePipeline{sites: []Site{site}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()
	site.emit(flatSnap(2, 2, []float32{0, 1, 2, 3}))

	heat := sess.HeatMap("red car here")
	term, err := heat.TermHeatMap("red car")
	require.NoError(t, err)
	for _, v := range term.Data {
		assert.InDelta(t, 3.0, v, 1e-6)
	}

	_, err = heat.TermHeatMap("  ")
	assert.True(t, errors.Is(err, ErrWordNotFound))

	_, err = heat.TermHeatMap("red bike")
	assert.True(t, errors.Is(err, ErrWordNotFound))
}

func TestWordHeatMapsBatch(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 2, 2)
	pipe := &fakePipeline{sites: []Site{site}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()
	site.emit(flatSnap(2, 2, []float32{0, 1, 2}))

	heat := sess.HeatMap("a dog")
	maps, err := heat.WordHeatMaps("a", "dog")
	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.InDelta(t, 4.0, maps["a"].Sum(), 1e-6)
	assert.InDelta(t, 8.0, maps["dog"].Sum(), 1e-6)

	_, err = heat.WordHeatMaps("a", "cat")
	assert.Error(t, err)
}

func TestTokenHeatMapOutOfRange(t *testing.T) {
	heat := NewGlobalHeatMap("", 4, nil, nil)
	g := heat.TokenHeatMap(7)
	assert.Equal(t, 4, g.H)
	assert.Zero(t, g.Sum())

	g = heat.TokenHeatMap(-1)
	assert.Zero(t, g.Sum())
}

func TestSpanHeatMapIgnoresOutOfRangeIndices(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 2, 2)
	pipe := &fakePipeline{sites: []Site{site}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()
	site.emit(flatSnap(2, 2, []float32{0, 1}))

	heat := sess.HeatMap("dog")
	g := heat.SpanHeatMap(TokenSpan{Start: 1, End: 40})
	assert.InDelta(t, 4.0, g.Sum(), 1e-6)
}

// A heat map rebuilt from its exported parts answers queries identically,
// which is what experiment persistence relies on.
func TestRebuildFromParts(t *testing.T) {
	site := newFakeSite("mid.attn", 0, 4, 4)
	pipe := &fakePipeline{sites: []Site{site}, tok: wordTokenizer{}}

	sess, err := Open(pipe)
	require.NoError(t, err)
	defer sess.Close()
	site.emit(flatSnap(4, 4, []float32{0, 0.25, 0.75}))

	heat := sess.HeatMap("a dog")
	rebuilt := NewGlobalHeatMap(heat.Prompt(), heat.Size(), heat.Grids(), heat.Spans())

	want, err := heat.WordHeatMap("dog")
	require.NoError(t, err)
	got, err := rebuilt.WordHeatMap("dog")
	require.NoError(t, err)
	assert.Equal(t, want.Data, got.Data)
	assert.Equal(t, heat.Prompt(), rebuilt.Prompt())
}
