package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() map[string]int {
	return map[string]int{
		"[UNK]": unkTokenID, "[CLS]": clsTokenID, "[SEP]": sepTokenID,
		"process": 2000, "pay": 2001, "##ment": 2002, "card": 2003,
	}
}

func TestTokenize_WordPiece(t *testing.T) {
	tok := NewTokenizer(testVocab())

	assert.Equal(t, []int64{2000, 2001, 2002, 2003}, tok.Tokenize("Process payment, card!"))
	assert.Equal(t, []int64{unkTokenID}, tok.Tokenize("z"))
}

func TestEncode_AddsSpecialTokensAndTruncates(t *testing.T) {
	tok := NewTokenizer(testVocab())

	ids, mask, types := tok.encode("pay card card card card", 4)
	assert.Equal(t, []int64{clsTokenID, 2001, 2003, sepTokenID}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)
	assert.Equal(t, []int64{0, 0, 0, 0}, types)

	ids, mask, _ = tok.encode("card", 5)
	assert.Equal(t, []int64{clsTokenID, 2003, sepTokenID, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 0, 0}, mask)
}

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	out := meanPool(hidden, []int64{1, 1, 0}, 3, 2)
	assert.Equal(t, []float32{2, 3}, out)
}

func TestLoadTokenizer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{"pay":1,"##ment":2}}}`), 0o600))

	tok, err := LoadTokenizer(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, tok.Tokenize("payment"))

	require.NoError(t, os.WriteFile(path, []byte(`{"model":{}}`), 0o600))
	_, err = LoadTokenizer(path)
	assert.Error(t, err)

	_, err = LoadTokenizer(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
