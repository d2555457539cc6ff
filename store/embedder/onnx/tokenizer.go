package onnx

import (
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

// Special token IDs of the uncased BERT vocabulary.
const (
	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Tokenizer performs BERT-style WordPiece tokenization.
type Tokenizer struct {
	vocab map[string]int
}

// LoadTokenizer reads the vocabulary from a Hugging Face tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewTokenizer(parsed.Model.Vocab), nil
}

// NewTokenizer creates a tokenizer over vocab.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// Tokenize converts text to token IDs, without [CLS] and [SEP].
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, unkTokenID)
			}
		}
	}
	return tokens
}

// wordPieces splits word greedily into the longest known prefixes.
// Continuations carry the "##" prefix.
func (t *Tokenizer) wordPieces(word string) []string {
	var pieces []string
	for start := 0; start < len(word); {
		end := len(word)
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				break
			}
		}
		if end == start {
			pieces = append(pieces, "[UNK]")
			start++
			continue
		}
		start = end
	}
	return pieces
}

// encode builds the fixed-length model inputs for text.
func (t *Tokenizer) encode(text string, maxLen int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	inputIDs = make([]int64, maxLen)
	attentionMask = make([]int64, maxLen)
	tokenTypeIDs = make([]int64, maxLen)

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1
	for i, id := range tokens {
		inputIDs[i+1] = id
		attentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	inputIDs[end] = sepTokenID
	attentionMask[end] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// meanPool averages token embeddings over attended positions.
func meanPool(hidden []float32, mask []int64, seqLen, dims int) []float32 {
	out := make([]float32, dims)
	var attended float32
	for i := 0; i < seqLen; i++ {
		if mask[i] == 0 {
			continue
		}
		attended++
		offset := i * dims
		for j := 0; j < dims; j++ {
			out[j] += hidden[offset+j]
		}
	}
	if attended == 0 {
		return out
	}
	for j := range out {
		out[j] /= attended
	}
	return out
}
