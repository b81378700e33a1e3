package daam

import (
	"fmt"
	"strings"

	"github.com/openfluke/daam/grid"
)

// GlobalHeatMap is the frozen, queryable aggregate of one trace: one
// canonical-resolution grid per key position, plus the word alignment for
// the prompt. Materialized by TraceSession.HeatMap; immutable afterward, so
// every query hands back fresh copies.
type GlobalHeatMap struct {
	prompt string
	size   int
	grids  []grid.Grid
	spans  []TokenSpan
}

// NewGlobalHeatMap assembles a heat map from its parts. Most callers obtain
// one from TraceSession.HeatMap; persistence layers use this to rebuild a
// loaded aggregate. A nil spans slice marks word queries unavailable (no
// tokenizer); an empty non-nil slice means an empty prompt.
func NewGlobalHeatMap(prompt string, size int, grids []grid.Grid, spans []TokenSpan) *GlobalHeatMap {
	if size <= 0 {
		size = DefaultCanonicalSize
	}
	return &GlobalHeatMap{prompt: prompt, size: size, grids: grids, spans: spans}
}

// Prompt returns the prompt text this map was materialized for.
func (m *GlobalHeatMap) Prompt() string { return m.prompt }

// Size returns the canonical side length of every returned grid.
func (m *GlobalHeatMap) Size() int { return m.size }

// TokenCount returns the number of key positions the trace recorded,
// specials and padding included.
func (m *GlobalHeatMap) TokenCount() int { return len(m.grids) }

// Spans returns a copy of the word alignment, nil when none is available.
func (m *GlobalHeatMap) Spans() []TokenSpan {
	if m.spans == nil {
		return nil
	}
	out := make([]TokenSpan, len(m.spans))
	copy(out, m.spans)
	return out
}

// Grids returns a deep copy of the per-token grids, padding positions
// included, for diagnostics and persistence.
func (m *GlobalHeatMap) Grids() []grid.Grid {
	out := make([]grid.Grid, len(m.grids))
	for i, g := range m.grids {
		out[i] = g.Clone()
	}
	return out
}

// TokenHeatMap returns the grid for one key position. Positions outside the
// captured range yield an all-zero grid, never an error, so probing an empty
// trace stays safe.
func (m *GlobalHeatMap) TokenHeatMap(i int) grid.Grid {
	if i < 0 || i >= len(m.grids) || m.grids[i].Empty() {
		return grid.New(m.size, m.size)
	}
	return m.grids[i].Clone()
}

// SpanHeatMap sums the token grids across a span's positions.
func (m *GlobalHeatMap) SpanHeatMap(span TokenSpan) grid.Grid {
	out := grid.New(m.size, m.size)
	for i := span.Start; i < span.End; i++ {
		if i >= 0 && i < len(m.grids) && !m.grids[i].Empty() {
			out.Add(m.grids[i])
		}
	}
	return out
}

// ResolveWord resolves a word to its span. A negative occurrence requires
// the word to appear exactly once; otherwise occurrence selects among the
// matches in prompt order, starting at zero.
func (m *GlobalHeatMap) ResolveWord(word string, occurrence int) (TokenSpan, error) {
	if m.spans == nil {
		return TokenSpan{}, fmt.Errorf("resolve %q: %w", word, ErrNoTokenizer)
	}
	matches := matchSpans(m.spans, word)
	switch {
	case len(matches) == 0:
		return TokenSpan{}, fmt.Errorf("resolve %q: %w", word, ErrWordNotFound)
	case occurrence < 0 && len(matches) > 1:
		return TokenSpan{}, fmt.Errorf("resolve %q (%d occurrences): %w", word, len(matches), ErrAmbiguousWord)
	case occurrence < 0:
		return matches[0], nil
	case occurrence >= len(matches):
		return TokenSpan{}, fmt.Errorf("resolve %q: occurrence %d of %d: %w", word, occurrence, len(matches), ErrWordNotFound)
	default:
		return matches[occurrence], nil
	}
}

// WordHeatMap returns the summed grid for a word occurring exactly once in
// the prompt. Repeated words need WordHeatMapAt.
func (m *GlobalHeatMap) WordHeatMap(word string) (grid.Grid, error) {
	span, err := m.ResolveWord(word, -1)
	if err != nil {
		return grid.Grid{}, err
	}
	return m.SpanHeatMap(span), nil
}

// WordHeatMapAt returns the grid for the nth occurrence of a word,
// zero-based.
func (m *GlobalHeatMap) WordHeatMapAt(word string, occurrence int) (grid.Grid, error) {
	if occurrence < 0 {
		return grid.Grid{}, fmt.Errorf("resolve %q: negative occurrence %d: %w", word, occurrence, ErrWordNotFound)
	}
	span, err := m.ResolveWord(word, occurrence)
	if err != nil {
		return grid.Grid{}, err
	}
	return m.SpanHeatMap(span), nil
}

// TermHeatMap sums the word heat maps of a whitespace-separated term, e.g.
// "red car". Every word must resolve unambiguously.
func (m *GlobalHeatMap) TermHeatMap(term string) (grid.Grid, error) {
	words := strings.Fields(term)
	if len(words) == 0 {
		return grid.Grid{}, fmt.Errorf("resolve empty term: %w", ErrWordNotFound)
	}
	out := grid.New(m.size, m.size)
	for _, w := range words {
		g, err := m.WordHeatMap(w)
		if err != nil {
			return grid.Grid{}, err
		}
		out.Add(g)
	}
	return out, nil
}

// WordHeatMaps resolves several words at once, as when walking the nouns of
// a caption. Fails on the first word that does not resolve.
func (m *GlobalHeatMap) WordHeatMaps(words ...string) (map[string]grid.Grid, error) {
	out := make(map[string]grid.Grid, len(words))
	for _, w := range words {
		g, err := m.WordHeatMap(w)
		if err != nil {
			return nil, err
		}
		out[w] = g
	}
	return out, nil
}
