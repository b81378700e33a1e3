// Package tokenizer implements a lowercasing byte-pair tokenizer in the CLIP
// text-encoder style. Every piece that closes a word carries the EndOfWord
// mark, so downstream consumers can group sub-word pieces back into the words
// they came from.
package tokenizer

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	// EndOfWord marks the final piece of each word.
	EndOfWord = "</w>"
	// StartToken and EndToken bracket every encoded sequence.
	StartToken = "<|startoftext|>"
	EndToken   = "<|endoftext|>"
	// PadToken fills encoded sequences up to a fixed context length. Real
	// CLIP vocabularies reuse EndToken for padding; the reference vocabulary
	// keeps it distinct.
	PadToken = "<|pad|>"
)

// wordPattern splits cleaned text into words, single digits, and punctuation
// runs, keeping common English contractions whole. Matches the CLIP
// pre-tokenizer minus its case-insensitive flag; input is lowercased first.
var wordPattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d|\p{L}+|\p{N}|[^\s\p{L}\p{N}]+`)

// MergePair is one learned merge rule. Lower rank merges apply first.
type MergePair struct {
	First  string
	Second string
	Rank   int
}

// Tokenizer holds a vocabulary and merge table. The zero value is not usable;
// construct with New, NewReference, or LoadFile.
type Tokenizer struct {
	Vocab   map[string]int
	reverse map[int]string
	ranks   map[[2]string]int

	bosID int
	eosID int
	padID int

	// lazy vocabularies assign ids on first sight (reference mode only).
	lazy bool
	mu   sync.Mutex
}

// New builds a tokenizer from an explicit vocabulary and ordered merge list.
// The special tokens are added to the vocabulary if absent.
func New(vocab map[string]int, merges []MergePair) *Tokenizer {
	t := &Tokenizer{
		Vocab:   make(map[string]int, len(vocab)+3),
		reverse: make(map[int]string, len(vocab)+3),
		ranks:   make(map[[2]string]int, len(merges)),
	}
	next := 0
	for tok, id := range vocab {
		t.Vocab[tok] = id
		t.reverse[id] = tok
		if id >= next {
			next = id + 1
		}
	}
	for _, tok := range []string{StartToken, EndToken} {
		if _, ok := t.Vocab[tok]; !ok {
			t.Vocab[tok] = next
			t.reverse[next] = tok
			next++
		}
	}
	t.bosID = t.Vocab[StartToken]
	t.eosID = t.Vocab[EndToken]
	t.padID = t.eosID
	if id, ok := t.Vocab[PadToken]; ok {
		t.padID = id
	}
	for _, m := range merges {
		t.ranks[[2]string{m.First, m.Second}] = m.Rank
	}
	return t
}

// NewReference builds a character-level tokenizer with no merge table. Every
// multi-character word splits into one piece per character, which makes it a
// convenient fixture for exercising sub-word grouping. Ids are assigned in
// encounter order after the three specials (pad=0, start=1, end=2).
func NewReference() *Tokenizer {
	t := New(map[string]int{
		PadToken:   0,
		StartToken: 1,
		EndToken:   2,
	}, nil)
	t.lazy = true
	return t
}

// Tokenize splits text into BPE piece strings, end-of-word marks included.
// No specials, no ids; this is the view word alignment consumes.
func (t *Tokenizer) Tokenize(text string) []string {
	var pieces []string
	for _, word := range splitWords(text) {
		pieces = append(pieces, t.bpe(word)...)
	}
	return pieces
}

// Encode converts text to ids, bracketed by the start and end specials.
func (t *Tokenizer) Encode(text string) []int {
	pieces := t.Tokenize(text)
	ids := make([]int, 0, len(pieces)+2)
	ids = append(ids, t.bosID)
	for _, p := range pieces {
		ids = append(ids, t.id(p))
	}
	return append(ids, t.eosID)
}

// EncodePadded encodes text and fixes the sequence length to n, truncating
// long prompts (the end special always survives) and padding short ones.
func (t *Tokenizer) EncodePadded(text string, n int) []int {
	ids := t.Encode(text)
	if len(ids) > n {
		ids = ids[:n]
		ids[n-1] = t.eosID
		return ids
	}
	for len(ids) < n {
		ids = append(ids, t.padID)
	}
	return ids
}

// Decode reassembles text from ids, dropping specials and padding.
func (t *Tokenizer) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		if id == t.bosID || id == t.eosID || id == t.padID {
			continue
		}
		tok, ok := t.IDToToken(id)
		if !ok {
			continue
		}
		b.WriteString(tok)
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), EndOfWord, " "))
}

// BOS returns the start-of-text id.
func (t *Tokenizer) BOS() int { return t.bosID }

// EOS returns the end-of-text id.
func (t *Tokenizer) EOS() int { return t.eosID }

// Pad returns the padding id.
func (t *Tokenizer) Pad() int { return t.padID }

// VocabSize returns the number of known tokens.
func (t *Tokenizer) VocabSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Vocab)
}

// TokenToID looks up a piece string.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.Vocab[token]
	return id, ok
}

// IDToToken looks up a piece by id.
func (t *Tokenizer) IDToToken(id int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok, ok := t.reverse[id]
	return tok, ok
}

// id resolves a piece to its id. Lazy vocabularies grow on miss; fixed
// vocabularies fall back to the end special, which doubles as unknown.
func (t *Tokenizer) id(piece string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.Vocab[piece]; ok {
		return id
	}
	if !t.lazy {
		return t.eosID
	}
	id := len(t.Vocab)
	for {
		if _, taken := t.reverse[id]; !taken {
			break
		}
		id++
	}
	t.Vocab[piece] = id
	t.reverse[id] = piece
	return id
}

// bpe splits one pre-tokenized word into pieces by greedily applying the
// lowest-rank adjacent merge until none applies.
func (t *Tokenizer) bpe(word string) []string {
	pieces := splitChars(word)
	if len(pieces) == 0 {
		return nil
	}
	pieces[len(pieces)-1] += EndOfWord
	for len(pieces) > 1 {
		best := -1
		bestRank := math.MaxInt
		for i := 0; i < len(pieces)-1; i++ {
			if r, ok := t.ranks[[2]string{pieces[i], pieces[i+1]}]; ok && r < bestRank {
				bestRank = r
				best = i
			}
		}
		if best < 0 {
			break
		}
		pieces = mergeAt(pieces, pieces[best], pieces[best+1])
	}
	return pieces
}

// mergeAt joins every adjacent occurrence of the pair in one pass.
func mergeAt(pieces []string, first, second string) []string {
	out := pieces[:0]
	for i := 0; i < len(pieces); {
		if i < len(pieces)-1 && pieces[i] == first && pieces[i+1] == second {
			out = append(out, first+second)
			i += 2
		} else {
			out = append(out, pieces[i])
			i++
		}
	}
	return out
}

// splitWords lowercases, collapses whitespace, and applies the word pattern.
func splitWords(text string) []string {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return nil
	}
	return wordPattern.FindAllString(text, -1)
}

// splitChars splits a word into single-rune strings, passing invalid bytes
// through one at a time.
func splitChars(word string) []string {
	chars := make([]string, 0, len(word))
	for len(word) > 0 {
		_, size := utf8.DecodeRuneInString(word)
		if size == 0 {
			size = 1
		}
		chars = append(chars, word[:size])
		word = word[size:]
	}
	return chars
}
