package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tiktoken is a BPE encoder backed by pkoukk/tiktoken-go. The encoding data
// may be downloaded on first use, so initialization is lazy.
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Tiktoken{encoding: encoding}
}

func (t *Tiktoken) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tiktoken) Encode(text string, maxLen int, truncate bool) (*Encoding, error) {
	if err := t.init(); err != nil {
		return nil, err
	}
	tokens := t.enc.Encode(text, nil, nil)
	if truncate && maxLen > 0 && len(tokens) > maxLen {
		tokens = tokens[:maxLen]
	}

	ids := make([]int64, len(tokens))
	mask := make([]int64, len(tokens))
	for i, tok := range tokens {
		ids[i] = int64(tok)
		mask[i] = 1
	}
	return &Encoding{IDs: ids, Mask: mask}, nil
}

func (t *Tiktoken) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
