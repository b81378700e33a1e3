package daam

import "strings"

// endOfWord is the mark CLIP-style tokenizers place on the closing piece of
// each word. Alignment groups pieces on it.
const endOfWord = "</w>"

// TokenSpan maps one word of the prompt to the contiguous run of token
// positions holding its sub-word pieces, [Start, End) over the encoded
// sequence. The indices already account for the start-of-text special at
// position 0.
type TokenSpan struct {
	Word  string `json:"word"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Len returns the number of token positions in the span.
func (s TokenSpan) Len() int { return s.End - s.Start }

// AlignWords tokenizes the prompt and groups consecutive sub-word pieces
// into one span per word. Pieces accumulate until one carries the
// end-of-word mark; tokenizations without marks degrade to one span per
// piece. Concatenating the pieces of all spans in order reproduces the
// tokenization exactly.
func AlignWords(tok Tokenizer, prompt string) []TokenSpan {
	pieces := tok.Tokenize(prompt)
	marked := false
	for _, p := range pieces {
		if strings.HasSuffix(p, endOfWord) {
			marked = true
			break
		}
	}

	var spans []TokenSpan
	var word strings.Builder
	start := 0
	for i, p := range pieces {
		word.WriteString(strings.TrimSuffix(p, endOfWord))
		if !marked || strings.HasSuffix(p, endOfWord) {
			spans = append(spans, TokenSpan{Word: word.String(), Start: start + 1, End: i + 2})
			word.Reset()
			start = i + 1
		}
	}
	if word.Len() > 0 {
		// A truncated tokenization can leave the last word unmarked.
		spans = append(spans, TokenSpan{Word: word.String(), Start: start + 1, End: len(pieces) + 1})
	}
	return spans
}

// matchSpans resolves a queried word against the aligned spans,
// case-insensitively, retrying with trailing punctuation stripped from
// whichever side carries it. Returns every occurrence in prompt order.
func matchSpans(spans []TokenSpan, word string) []TokenSpan {
	needle := strings.ToLower(strings.TrimSpace(word))
	if needle == "" {
		return nil
	}
	if out := collectSpans(spans, needle); len(out) > 0 {
		return out
	}
	stripped := strings.TrimRight(needle, ".,!?")
	if stripped != needle && stripped != "" {
		if out := collectSpans(spans, stripped); len(out) > 0 {
			return out
		}
	}
	if stripped == "" {
		return nil
	}
	var out []TokenSpan
	for _, s := range spans {
		if strings.TrimRight(strings.ToLower(s.Word), ".,!?") == stripped {
			out = append(out, s)
		}
	}
	return out
}

func collectSpans(spans []TokenSpan, needle string) []TokenSpan {
	var out []TokenSpan
	for _, s := range spans {
		if strings.ToLower(s.Word) == needle {
			out = append(out, s)
		}
	}
	return out
}
