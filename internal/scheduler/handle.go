package scheduler

import (
	"context"
	"sync"

	"github.com/doublewordai/arbiter/internal/backend"
)

type outcome struct {
	result *backend.Result
	err    error
}

// Handle is the completion primitive for one submitted request. Exactly one
// outcome is ever delivered through it; the buffered channel plus sync.Once
// make the invariant structural rather than a protocol the scheduler has to
// honor. An abandoned handle leaks nothing: the buffered outcome is simply
// never read.
type Handle struct {
	ch   chan outcome
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{ch: make(chan outcome, 1)}
}

// resolve delivers the outcome. Calls after the first are no-ops.
func (h *Handle) resolve(result *backend.Result, err error) {
	h.once.Do(func() {
		h.ch <- outcome{result: result, err: err}
	})
}

// Wait blocks until the outcome is delivered or the caller's context ends.
// Abandoning the wait does not cancel the compute: once a request is cut
// into a batch it rides the shared forward pass to completion.
func (h *Handle) Wait(ctx context.Context) (*backend.Result, error) {
	select {
	case o := <-h.ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
