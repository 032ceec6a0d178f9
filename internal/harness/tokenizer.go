package harness

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens with a tiktoken encoding. A nil Tokenizer counts
// nothing; callers report token metrics as unavailable instead.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the encoding for the model, falling back to cl100k_base
// for models tiktoken does not know.
func NewTokenizer(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer: %w", err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Count(text string) int {
	if t == nil {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// TokenizerFor applies the selection rules: an explicit tokenizer_type wins,
// and without one only OpenAI-style bases (empty or containing "openai.com")
// get a tokenizer. Callers treat any error as "token metrics unavailable",
// not as a fatal condition.
func TokenizerFor(model, apiBase, tokenizerType string) (*Tokenizer, error) {
	switch tokenizerType {
	case "tiktoken":
		return NewTokenizer(model)
	case "":
		if apiBase == "" || strings.Contains(apiBase, "openai.com") {
			return NewTokenizer(model)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported tokenizer type %q (only tiktoken is supported)", tokenizerType)
	}
}
