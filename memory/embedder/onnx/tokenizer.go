package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special token IDs of the BERT uncased vocabulary.
const (
	clsTokenID = 101
	sepTokenID = 102
	unkTokenID = 100
)

// Tokenizer handles BERT-style WordPiece tokenization.
type Tokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

// LoadTokenizer reads the vocabulary from a HuggingFace tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewTokenizer(tokenizerData.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer over vocab. Special tokens fall back to
// the BERT uncased IDs when the vocabulary does not name them.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	lookup := func(token string, fallback int) int {
		if id, ok := vocab[token]; ok {
			return id
		}
		return fallback
	}
	return &Tokenizer{
		vocab:    vocab,
		clsToken: lookup("[CLS]", clsTokenID),
		sepToken: lookup("[SEP]", sepTokenID),
		unkToken: lookup("[UNK]", unkTokenID),
	}
}

// Tokenize converts text to token IDs without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.wordPiece(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

// Encode returns input IDs and attention mask padded to maxLen, framed by
// [CLS] and [SEP].
func (t *Tokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}
	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)

	ids[0], mask[0] = int64(t.clsToken), 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = int64(t.sepToken), 1
	return ids, mask
}

// splitWords splits on whitespace and isolates punctuation, as BERT's basic
// tokenizer does.
func splitWords(text string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPiece splits word into the longest vocabulary prefixes, marking
// continuations with "##".
func (t *Tokenizer) wordPiece(word string) []string {
	var pieces []string
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := false
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				pieces = append(pieces, sub)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			// BERT maps the whole word to [UNK] when any piece is unknown.
			return []string{"[UNK]"}
		}
	}
	return pieces
}
