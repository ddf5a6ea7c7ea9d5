package errors

import "fmt"

// Failure kinds, used as metric tags and for caller-side dispatch.
const (
	KindBadRequest   = "bad-request"
	KindQueueFull    = "queue-full"
	KindInputTooLong = "input-too-long"
	KindTokenization = "tokenization"
	KindBackend      = "backend"
)

// BadRequestError is a transport-level validation failure, reported before
// any input reaches the scheduler.
type BadRequestError struct {
	ErrorMsg string
}

func (e *BadRequestError) Error() string { return e.ErrorMsg }

func (e *BadRequestError) Kind() string { return KindBadRequest }

// QueueFullError is returned synchronously from Submit when the pending
// queue has reached its configured capacity. Recoverable by caller backoff.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("pending queue full (capacity %d)", e.Capacity)
}

func (e *QueueFullError) Kind() string { return KindQueueFull }

// InputTooLongError is returned synchronously from Submit when truncation is
// disabled and the input does not fit the maximum sequence length.
type InputTooLongError struct {
	Tokens    int
	MaxTokens int
}

func (e *InputTooLongError) Error() string {
	return fmt.Sprintf("input is %d tokens, max sequence length is %d and truncation is disabled", e.Tokens, e.MaxTokens)
}

func (e *InputTooLongError) Kind() string { return KindInputTooLong }

// TokenizationError is a per-request failure detected during batch assembly.
// It never affects other members of the same batch.
type TokenizationError struct {
	ErrorMsg string
}

func (e *TokenizationError) Error() string { return e.ErrorMsg }

func (e *TokenizationError) Kind() string { return KindTokenization }

// BackendError is a failure of the shared forward pass. It is fatal to the
// whole in-flight batch and is broadcast to every member request.
type BackendError struct {
	ErrorMsg string
	Cause    error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.ErrorMsg, e.Cause)
	}
	return e.ErrorMsg
}

func (e *BackendError) Unwrap() error { return e.Cause }

func (e *BackendError) Kind() string { return KindBackend }

// Kinder is implemented by every failure type in the taxonomy.
type Kinder interface {
	error
	Kind() string
}

// KindOf returns the taxonomy kind of err, or "unknown" for errors that
// originate outside the pipeline (e.g. a cancelled caller context).
func KindOf(err error) string {
	if k, ok := err.(Kinder); ok {
		return k.Kind()
	}
	return "unknown"
}
