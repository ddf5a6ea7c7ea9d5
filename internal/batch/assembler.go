// Package batch converts a cut of variable-length tokenized inputs into the
// rectangular tensors a model backend consumes.
package batch

import (
	"github.com/doublewordai/arbiter/internal/errors"
	"github.com/doublewordai/arbiter/pkg/tokenizer"
)

// padTokenID is the id used to right-pad short rows; its attention mask is 0
// so the model ignores padding positions.
const padTokenID = 0

// Input is the dense, row-major tensor pair for one forward pass. Every row
// has identical length: the longest surviving sequence in the batch, capped
// at the configured maximum. Owned exclusively by its in-flight batch.
type Input struct {
	IDs  [][]int64
	Mask [][]int64
}

func (in *Input) Rows() int {
	return len(in.IDs)
}

func (in *Input) Cols() int {
	if len(in.IDs) == 0 {
		return 0
	}
	return len(in.IDs[0])
}

// Batch is an immutable assembled batch. RowToIndex maps tensor row to the
// position of the originating request in the cut slice; it is the only way
// results are matched back to completion handles.
type Batch struct {
	Input      *Input
	RowToIndex []int
}

// ItemError reports a per-item assembly failure. The failed item is excluded
// from the batch; its batch-mates are unaffected.
type ItemError struct {
	Index int
	Err   error
}

type Assembler struct {
	encoder  tokenizer.Encoder
	maxLen   int
	truncate bool
}

func NewAssembler(encoder tokenizer.Encoder, maxLen int, truncate bool) *Assembler {
	return &Assembler{encoder: encoder, maxLen: maxLen, truncate: truncate}
}

// Assemble tokenizes every text and stacks the survivors into padded
// tensors. Tokenization failures come back as ItemErrors; a batch with zero
// surviving rows has a nil Input.
func (a *Assembler) Assemble(texts []string) (*Batch, []ItemError) {
	encodings := make([]*tokenizer.Encoding, 0, len(texts))
	rowToIndex := make([]int, 0, len(texts))
	var itemErrs []ItemError

	width := 0
	for i, text := range texts {
		enc, err := a.encoder.Encode(text, a.maxLen, a.truncate)
		if err != nil {
			itemErrs = append(itemErrs, ItemError{Index: i, Err: &errors.TokenizationError{ErrorMsg: err.Error()}})
			continue
		}
		if !a.truncate && len(enc.IDs) > a.maxLen {
			// Submission normally rejects these up front; an encoder that
			// produces more tokens than the submit-time count is still
			// confined to its own slot.
			itemErrs = append(itemErrs, ItemError{Index: i, Err: &errors.InputTooLongError{Tokens: len(enc.IDs), MaxTokens: a.maxLen}})
			continue
		}
		if len(enc.IDs) > width {
			width = len(enc.IDs)
		}
		encodings = append(encodings, enc)
		rowToIndex = append(rowToIndex, i)
	}

	if len(encodings) == 0 {
		return &Batch{RowToIndex: rowToIndex}, itemErrs
	}

	input := &Input{
		IDs:  make([][]int64, len(encodings)),
		Mask: make([][]int64, len(encodings)),
	}
	for row, enc := range encodings {
		ids := make([]int64, width)
		mask := make([]int64, width)
		copy(ids, enc.IDs)
		copy(mask, enc.Mask)
		for col := len(enc.IDs); col < width; col++ {
			ids[col] = padTokenID
		}
		input.IDs[row] = ids
		input.Mask[row] = mask
	}

	return &Batch{Input: input, RowToIndex: rowToIndex}, itemErrs
}

// Rows returns the number of tensor rows in the batch.
func (b *Batch) Rows() int {
	if b.Input == nil {
		return 0
	}
	return b.Input.Rows()
}
