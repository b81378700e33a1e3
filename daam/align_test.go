package daam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/daam/tokenizer"
)

func TestAlignWordsGroupsPieces(t *testing.T) {
	tok := tokenizer.NewReference()
	spans := AlignWords(tok, "a dog runs")

	require.Len(t, spans, 3)
	assert.Equal(t, TokenSpan{Word: "a", Start: 1, End: 2}, spans[0])
	assert.Equal(t, TokenSpan{Word: "dog", Start: 2, End: 5}, spans[1])
	assert.Equal(t, TokenSpan{Word: "runs", Start: 5, End: 9}, spans[2])
}

// Spans must tile the piece sequence exactly: contiguous, in order, and
// reassembling into the tokenizer's own pieces.
func TestAlignWordsRoundTrip(t *testing.T) {
	tok := tokenizer.NewReference()
	prompts := []string{
		"a dog runs",
		"A photo of a Dog, next to a cat!",
		"one",
		"the quick brown fox jumps over the lazy dog",
	}
	for _, prompt := range prompts {
		t.Run(prompt, func(t *testing.T) {
			pieces := tok.Tokenize(prompt)
			spans := AlignWords(tok, prompt)

			next := 1
			var rebuilt []string
			for _, s := range spans {
				require.Equal(t, next, s.Start, "spans must be contiguous")
				require.Greater(t, s.End, s.Start)
				var word strings.Builder
				for i := s.Start; i < s.End; i++ {
					piece := pieces[i-1]
					rebuilt = append(rebuilt, piece)
					word.WriteString(strings.TrimSuffix(piece, "</w>"))
				}
				assert.Equal(t, s.Word, word.String())
				next = s.End
			}
			assert.Equal(t, len(pieces)+1, next)
			assert.Equal(t, pieces, rebuilt)
		})
	}
}

func TestAlignWordsFirstSpanStartsAfterBOS(t *testing.T) {
	spans := AlignWords(tokenizer.NewReference(), "dog")
	require.NotEmpty(t, spans)
	assert.Equal(t, 1, spans[0].Start)
}

func TestAlignWordsEmptyPrompt(t *testing.T) {
	assert.Empty(t, AlignWords(tokenizer.NewReference(), ""))
}

func TestAlignWordsUnmarkedTokenizer(t *testing.T) {
	spans := AlignWords(plainTokenizer{}, "a dog")
	require.Len(t, spans, 2)
	assert.Equal(t, TokenSpan{Word: "a", Start: 1, End: 2}, spans[0])
	assert.Equal(t, TokenSpan{Word: "dog", Start: 2, End: 3}, spans[1])
}

// plainTokenizer emits pieces without end-of-word marks; alignment degrades
// to one span per piece.
type plainTokenizer struct{}

func (plainTokenizer) Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func TestMatchSpansCaseAndPunctuation(t *testing.T) {
	spans := AlignWords(tokenizer.NewReference(), "A photo of a Dog.")

	// Case-insensitive exact match.
	m := matchSpans(spans, "Dog")
	require.Len(t, m, 1)
	assert.Equal(t, "dog", m[0].Word)

	// Trailing punctuation on the query is tolerated.
	m = matchSpans(spans, "dog.")
	require.Len(t, m, 1)
	assert.Equal(t, "dog", m[0].Word)

	// Multi-occurrence returns every hit in prompt order.
	m = matchSpans(spans, "a")
	require.Len(t, m, 2)
	assert.Less(t, m[0].Start, m[1].Start)

	assert.Empty(t, matchSpans(spans, "cat"))
	assert.Empty(t, matchSpans(spans, ""))
}

func TestMatchSpansPromptSidePunctuation(t *testing.T) {
	// A tokenizer that keeps punctuation glued to the word.
	spans := []TokenSpan{{Word: "dog.", Start: 1, End: 2}}
	m := matchSpans(spans, "dog")
	require.Len(t, m, 1)
	assert.Equal(t, 1, m[0].Start)
}

func TestTokenSpanLen(t *testing.T) {
	assert.Equal(t, 3, TokenSpan{Start: 2, End: 5}.Len())
}
