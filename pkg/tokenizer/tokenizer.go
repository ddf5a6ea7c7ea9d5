// Package tokenizer provides the narrow encoding capability the batching
// core depends on: raw text in, token ids and an attention mask out.
package tokenizer

// Encoding is the tokenized form of one input, already truncated to the
// maximum sequence length when truncation is enabled.
type Encoding struct {
	IDs  []int64
	Mask []int64
}

// Encoder turns raw text into token-id sequences up to maxLen tokens.
// Implementations must be safe for concurrent use.
type Encoder interface {
	// Encode tokenizes text. When truncate is true the result is capped at
	// maxLen tokens; otherwise the full sequence is returned and the caller
	// decides whether it fits.
	Encode(text string, maxLen int, truncate bool) (*Encoding, error)

	// CountTokens returns the token count of text without truncation.
	CountTokens(text string) (int, error)

	// Name identifies the encoder in logs and metrics.
	Name() string
}
