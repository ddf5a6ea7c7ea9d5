// Package scheduler owns the micro-batching core: it turns an unbounded
// stream of concurrent submissions into a bounded stream of batches and
// guarantees every admitted request exactly one outcome.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/doublewordai/arbiter/internal/backend"
	"github.com/doublewordai/arbiter/internal/batch"
	arbitererrors "github.com/doublewordai/arbiter/internal/errors"
	"github.com/doublewordai/arbiter/internal/model"
	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/doublewordai/arbiter/pkg/metrics"
	"github.com/doublewordai/arbiter/pkg/tokenizer"
	"github.com/google/uuid"
)

var ErrSchedulerClosed = errors.New("scheduler closed")

// Config is read by the scheduler on every tick and is immutable after
// startup.
type Config struct {
	MaxBatchSize  int
	Tick          time.Duration
	QueueCapacity int
	MaxSeqLength  int
	Truncate      bool
}

func ConfigFromApp(appConfigs *configs.AppConfigs) Config {
	cfg := appConfigs.Configs
	return Config{
		MaxBatchSize:  cfg.BatchSize,
		Tick:          time.Duration(cfg.TickDurationMs) * time.Millisecond,
		QueueCapacity: cfg.QueueCapacity,
		MaxSeqLength:  cfg.MaxSeqLength,
		Truncate:      cfg.TruncateInputs,
	}
}

// request is owned by the scheduler from admission until it is cut into a
// batch; the handle's read side stays with the caller.
type request struct {
	id          string
	text        string
	ctx         context.Context
	handle      *Handle
	submittedAt time.Time
}

type Scheduler struct {
	cfg       Config
	encoder   tokenizer.Encoder
	assembler *batch.Assembler
	backend   backend.Backend
	handle    *model.Handle

	mu      sync.Mutex
	pending *pendingQueue
	closed  bool

	// wake fires when the queue reaches the batch-size cap; capacity 1 so a
	// burst of submissions collapses into one cut signal.
	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}
}

func New(cfg Config, encoder tokenizer.Encoder, be backend.Backend, handle *model.Handle) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		encoder:   encoder,
		assembler: batch.NewAssembler(encoder, cfg.MaxSeqLength, cfg.Truncate),
		backend:   be,
		handle:    handle,
		pending:   newPendingQueue(cfg.QueueCapacity),
		wake:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the run loop. It returns immediately.
func (s *Scheduler) Start() {
	go s.run()
	logger.Info(fmt.Sprintf("Scheduler started: batch size %d, tick %s, queue capacity %d, backend %s",
		s.cfg.MaxBatchSize, s.cfg.Tick, s.cfg.QueueCapacity, s.backend.Name()))
}

// Submit admits one request and returns its completion handle. It fails
// synchronously with QueueFullError under backpressure and, when truncation
// is disabled, with InputTooLongError for inputs that cannot fit a batch
// row. Submission never blocks on batch execution.
func (s *Scheduler) Submit(ctx context.Context, text string) (*Handle, error) {
	if !s.cfg.Truncate {
		tokens, err := s.encoder.CountTokens(text)
		if err != nil {
			return nil, &arbitererrors.TokenizationError{ErrorMsg: err.Error()}
		}
		if tokens > s.cfg.MaxSeqLength {
			metrics.Count("arbiter.scheduler.submit.rejected", 1, []string{"kind:" + arbitererrors.KindInputTooLong})
			return nil, &arbitererrors.InputTooLongError{Tokens: tokens, MaxTokens: s.cfg.MaxSeqLength}
		}
	}

	req := &request{
		id:          uuid.NewString(),
		text:        text,
		ctx:         ctx,
		handle:      newHandle(),
		submittedAt: time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	admitted := s.pending.enqueue(req)
	depth := s.pending.size()
	s.mu.Unlock()

	if !admitted {
		metrics.Count("arbiter.scheduler.submit.rejected", 1, []string{"kind:" + arbitererrors.KindQueueFull})
		return nil, &arbitererrors.QueueFullError{Capacity: s.cfg.QueueCapacity}
	}

	metrics.Count("arbiter.scheduler.submit.total", 1, nil)
	if depth >= s.cfg.MaxBatchSize {
		s.signalWake()
	}
	return req.handle, nil
}

// Classify submits text and waits for the outcome, the single-call inbound
// capability used by the transport layer.
func (s *Scheduler) Classify(ctx context.Context, text string) (*backend.Result, error) {
	h, err := s.Submit(ctx, text)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Close stops admission, drains the remaining queue through the backend and
// waits for the run loop to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closing)
	<-s.done
}

// run is the single consumer of the pending queue. One batch is in flight at
// a time: a tick that fires while a batch is executing is simply picked up
// late, which defers the next cut until the backend is free.
func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			for {
				reqs := s.take()
				if len(reqs) == 0 {
					logger.Info("Scheduler drained, run loop exiting")
					return
				}
				s.processBatch(reqs)
			}
		case <-s.wake:
			s.processBatch(s.take())
			s.rearm()
		case <-ticker.C:
			s.processBatch(s.take())
			s.rearm()
		}
	}
}

// take removes the oldest requests up to the batch-size cap. Requests whose
// caller has already gone away are resolved with the context error here,
// before batching, which is the withdrawal point the caller-side timeout
// relies on.
func (s *Scheduler) take() []*request {
	s.mu.Lock()
	reqs := s.pending.drain(s.cfg.MaxBatchSize)
	depth := s.pending.size()
	s.mu.Unlock()

	metrics.Gauge("arbiter.scheduler.queue.depth", float64(depth), nil)

	live := reqs[:0]
	for _, req := range reqs {
		if err := req.ctx.Err(); err != nil {
			req.handle.resolve(nil, err)
			metrics.Count("arbiter.scheduler.request.withdrawn", 1, nil)
			continue
		}
		live = append(live, req)
	}
	return live
}

// rearm schedules another immediate cut when a burst left the queue at or
// beyond the batch-size cap.
func (s *Scheduler) rearm() {
	s.mu.Lock()
	depth := s.pending.size()
	s.mu.Unlock()
	if depth >= s.cfg.MaxBatchSize {
		s.signalWake()
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) processBatch(reqs []*request) {
	if len(reqs) == 0 {
		return
	}
	batchStart := time.Now()

	texts := make([]string, len(reqs))
	for i, req := range reqs {
		texts[i] = req.text
	}

	b, itemErrs := s.assembler.Assemble(texts)
	for _, itemErr := range itemErrs {
		reqs[itemErr.Index].handle.resolve(nil, itemErr.Err)
		metrics.Count("arbiter.scheduler.failure.total", 1, []string{"kind:" + arbitererrors.KindOf(itemErr.Err)})
	}
	if b.Rows() == 0 {
		return
	}

	metrics.Histogram("arbiter.scheduler.batch.size", float64(b.Rows()), nil)

	logits, err := s.backend.Infer(context.Background(), b.Input)
	if err != nil {
		s.broadcastFailure(b, reqs, err)
		return
	}
	if len(logits) != b.Rows() {
		s.broadcastFailure(b, reqs, &arbitererrors.BackendError{
			ErrorMsg: fmt.Sprintf("backend returned %d rows for a %d row batch", len(logits), b.Rows()),
		})
		return
	}

	results := backend.Decode(logits, s.handle)
	for row := range results {
		req := reqs[b.RowToIndex[row]]
		req.handle.resolve(&results[row], nil)
		metrics.Timing("arbiter.scheduler.request.wait", time.Since(req.submittedAt), nil)
	}

	metrics.Timing("arbiter.scheduler.batch.latency", time.Since(batchStart), nil)
}

// broadcastFailure delivers a backend-level failure to every request still in
// the batch. Partial success within one forward pass is not attempted.
func (s *Scheduler) broadcastFailure(b *batch.Batch, reqs []*request, err error) {
	var backendErr *arbitererrors.BackendError
	if !errors.As(err, &backendErr) {
		backendErr = &arbitererrors.BackendError{ErrorMsg: "forward pass failed", Cause: err}
	}

	logger.Error(fmt.Sprintf("Batch of %d failed, failing every member request", b.Rows()), backendErr)
	for _, idx := range b.RowToIndex {
		reqs[idx].handle.resolve(nil, backendErr)
	}
	metrics.Count("arbiter.scheduler.failure.total", int64(b.Rows()), []string{"kind:" + arbitererrors.KindBackend})
}
