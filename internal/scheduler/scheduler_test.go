package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/doublewordai/arbiter/internal/batch"
	arbitererrors "github.com/doublewordai/arbiter/internal/errors"
	"github.com/doublewordai/arbiter/internal/model"
	"github.com/doublewordai/arbiter/pkg/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEncoder tokenizes on whitespace; texts containing "FAIL" cannot be
// tokenized at all.
type wordEncoder struct{}

func (wordEncoder) Encode(text string, maxLen int, truncate bool) (*tokenizer.Encoding, error) {
	if strings.Contains(text, "FAIL") {
		return nil, fmt.Errorf("cannot tokenize %q", text)
	}
	words := strings.Fields(text)
	if truncate && len(words) > maxLen {
		words = words[:maxLen]
	}
	ids := make([]int64, len(words))
	mask := make([]int64, len(words))
	for i := range words {
		ids[i] = int64(i + 1)
		mask[i] = 1
	}
	return &tokenizer.Encoding{IDs: ids, Mask: mask}, nil
}

func (wordEncoder) CountTokens(text string) (int, error) {
	if strings.Contains(text, "FAIL") {
		return 0, fmt.Errorf("cannot tokenize %q", text)
	}
	return len(strings.Fields(text)), nil
}

func (wordEncoder) Name() string { return "word" }

// recordingBackend captures every batch it is handed and answers with
// two-class logits preferring class 1 for every row.
type recordingBackend struct {
	mu      sync.Mutex
	batches []*batch.Input
	failErr error
	block   chan struct{} // when non-nil, Infer waits on it
}

func (rb *recordingBackend) Infer(ctx context.Context, input *batch.Input) ([][]float32, error) {
	if rb.block != nil {
		<-rb.block
	}
	rb.mu.Lock()
	rb.batches = append(rb.batches, input)
	failErr := rb.failErr
	rb.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	logits := make([][]float32, input.Rows())
	for i := range logits {
		logits[i] = []float32{0.0, 1.0}
	}
	return logits, nil
}

func (rb *recordingBackend) Name() string { return "recording" }

func (rb *recordingBackend) batchSizes() []int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	sizes := make([]int, len(rb.batches))
	for i, b := range rb.batches {
		sizes[i] = b.Rows()
	}
	return sizes
}

func testConfig() Config {
	return Config{
		MaxBatchSize:  8,
		Tick:          50 * time.Millisecond,
		QueueCapacity: 1024,
		MaxSeqLength:  512,
		Truncate:      true,
	}
}

func testHandle() *model.Handle {
	return model.NewStaticHandle("test-model", map[int]string{0: "No Claim", 1: "Claim"})
}

func startScheduler(t *testing.T, cfg Config, rb *recordingBackend) *Scheduler {
	t.Helper()
	s := New(cfg, wordEncoder{}, rb, testHandle())
	s.Start()
	t.Cleanup(s.Close)
	return s
}

func TestSubmit_EveryRequestGetsExactlyOneOutcome(t *testing.T) {
	rb := &recordingBackend{}
	s := startScheduler(t, testConfig(), rb)

	const n = 100
	var wg sync.WaitGroup
	outcomes := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.Classify(context.Background(), fmt.Sprintf("input number %d", i))
			if err == nil && result == nil {
				err = fmt.Errorf("nil result without error")
			}
			outcomes <- err
		}(i)
	}
	wg.Wait()
	close(outcomes)

	count := 0
	for err := range outcomes {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, n, count)
}

func TestBatchCut_SizeTriggerFiresBeforeTick(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 4
	cfg.Tick = time.Hour // the timer must not be what cuts this batch
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	handles := make([]*Handle, 4)
	for i := range handles {
		h, err := s.Submit(context.Background(), fmt.Sprintf("text %d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range handles {
		result, err := h.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Claim", result.Label)
	}
	assert.Equal(t, []int{4}, rb.batchSizes())
}

func TestBatchCut_TickTriggerForPartialBatch(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 8
	cfg.Tick = 20 * time.Millisecond
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	h, err := s.Submit(context.Background(), "a single request")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := h.Wait(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.LabelID)
	assert.Equal(t, []int{1}, rb.batchSizes())
}

func TestBatchCut_OversizedBurstSplitsInAdmissionOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 3
	cfg.Tick = 20 * time.Millisecond
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	handles := make([]*Handle, 7)
	for i := range handles {
		h, err := s.Submit(context.Background(), fmt.Sprintf("text %d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range handles {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}

	sizes := rb.batchSizes()
	total := 0
	for _, size := range sizes {
		assert.LessOrEqual(t, size, 3)
		total += size
	}
	assert.Equal(t, 7, total)
}

func TestBackendFailure_BroadcastToWholeBatch(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 3
	cfg.Tick = time.Hour
	rb := &recordingBackend{failErr: &arbitererrors.BackendError{ErrorMsg: "device error"}}
	s := startScheduler(t, cfg, rb)

	handles := make([]*Handle, 3)
	for i := range handles {
		h, err := s.Submit(context.Background(), fmt.Sprintf("text %d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range handles {
		result, err := h.Wait(ctx)
		assert.Nil(t, result)
		var backendErr *arbitererrors.BackendError
		require.ErrorAs(t, err, &backendErr)
	}
}

func TestMalformedInput_DoesNotFailBatchMates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 3
	cfg.Tick = time.Hour
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	good1, err := s.Submit(context.Background(), "perfectly fine")
	require.NoError(t, err)
	bad, err := s.Submit(context.Background(), "FAIL")
	require.NoError(t, err)
	good2, err := s.Submit(context.Background(), "also fine")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := good1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Claim", result.Label)

	_, err = bad.Wait(ctx)
	var tokErr *arbitererrors.TokenizationError
	require.ErrorAs(t, err, &tokErr)

	result, err = good2.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Claim", result.Label)

	// the malformed request occupied a slot but not a tensor row
	assert.Equal(t, []int{2}, rb.batchSizes())
}

func TestSubmit_QueueFullIsSynchronous(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 100 // no size trigger
	cfg.Tick = time.Hour   // no tick trigger while we fill the queue
	cfg.QueueCapacity = 5
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	handles := make([]*Handle, 5)
	for i := range handles {
		h, err := s.Submit(context.Background(), fmt.Sprintf("queued %d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	_, err := s.Submit(context.Background(), "one too many")
	var queueFull *arbitererrors.QueueFullError
	require.ErrorAs(t, err, &queueFull)
	assert.Equal(t, 5, queueFull.Capacity)

	// already-queued requests still complete once the scheduler drains
	s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range handles {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}
}

func TestSubmit_InputTooLongWhenTruncationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Truncate = false
	cfg.MaxSeqLength = 3
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	_, err := s.Submit(context.Background(), "one two three four")

	var tooLong *arbitererrors.InputTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 4, tooLong.Tokens)
	assert.Equal(t, 3, tooLong.MaxTokens)
}

func TestSubmit_LongInputAcceptedWhenTruncationEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Truncate = true
	cfg.MaxSeqLength = 3
	cfg.Tick = 20 * time.Millisecond
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	result, err := s.Classify(context.Background(), "one two three four five")

	require.NoError(t, err)
	assert.Equal(t, "Claim", result.Label)
	require.Len(t, rb.batches, 1)
	assert.Equal(t, 3, rb.batches[0].Cols())
}

func TestTake_WithdrawsCancelledRequests(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	cfg.Tick = time.Hour
	rb := &recordingBackend{}
	s := startScheduler(t, cfg, rb)

	cancelledCtx, cancel := context.WithCancel(context.Background())
	withdrawn, err := s.Submit(cancelledCtx, "will be withdrawn")
	require.NoError(t, err)
	cancel() // caller goes away before the cut

	kept, err := s.Submit(context.Background(), "stays in")
	require.NoError(t, err)

	ctx, cancelWait := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelWait()

	_, err = withdrawn.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	result, err := kept.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Claim", result.Label)

	// the withdrawn request never reached the backend
	assert.Equal(t, []int{1}, rb.batchSizes())
}

func TestClose_DrainsRemainingRequests(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 4
	cfg.Tick = time.Hour
	rb := &recordingBackend{}
	s := New(cfg, wordEncoder{}, rb, testHandle())
	s.Start()

	handles := make([]*Handle, 3)
	for i := range handles {
		h, err := s.Submit(context.Background(), fmt.Sprintf("pending %d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range handles {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}

	_, err := s.Submit(context.Background(), "after close")
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestSubmit_AccumulatesWhileBatchInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	cfg.Tick = time.Hour
	rb := &recordingBackend{block: make(chan struct{})}
	s := startScheduler(t, cfg, rb)

	first, err := s.Submit(context.Background(), "first a")
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), "first b")
	require.NoError(t, err)

	// the first batch is now blocked inside the backend; submissions must
	// still be admitted for the next cut
	third, err := s.Submit(context.Background(), "second a")
	require.NoError(t, err)
	fourth, err := s.Submit(context.Background(), "second b")
	require.NoError(t, err)

	close(rb.block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, h := range []*Handle{first, second, third, fourth} {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{2, 2}, rb.batchSizes())
}

func TestHandle_WaitReturnsOnCallerContext(t *testing.T) {
	h := newHandle()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the outcome can still be delivered and discarded without leaking
	h.resolve(nil, &arbitererrors.BackendError{ErrorMsg: "late"})
}
