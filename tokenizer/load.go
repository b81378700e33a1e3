package tokenizer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// fileSchema mirrors the parts of a HuggingFace tokenizer.json file a CLIP
// text encoder needs: the BPE vocabulary, the ordered merge list, and any
// added special tokens.
type fileSchema struct {
	Model struct {
		Type   string         `json:"type"`
		Vocab  map[string]int `json:"vocab"`
		Merges []string       `json:"merges"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoadFile loads a tokenizer from a HuggingFace tokenizer.json file.
func LoadFile(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes loads a tokenizer from tokenizer.json contents.
func LoadBytes(data []byte) (*Tokenizer, error) {
	var schema fileSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse tokenizer JSON: %w", err)
	}
	if len(schema.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer JSON has no vocabulary")
	}

	merges := make([]MergePair, 0, len(schema.Model.Merges))
	for i, m := range schema.Model.Merges {
		parts := strings.SplitN(m, " ", 2)
		if len(parts) != 2 {
			continue
		}
		merges = append(merges, MergePair{First: parts[0], Second: parts[1], Rank: i})
	}

	// Fold added tokens in before construction so the specials resolve to
	// the ids the file assigns them.
	vocab := schema.Model.Vocab
	for _, added := range schema.AddedTokens {
		if _, ok := vocab[added.Content]; !ok {
			vocab[added.Content] = added.ID
		}
	}
	return New(vocab, merges), nil
}
