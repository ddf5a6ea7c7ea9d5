package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/doublewordai/arbiter/internal/backend"
	arbitererrors "github.com/doublewordai/arbiter/internal/errors"
	"github.com/doublewordai/arbiter/pkg/resultcache"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine classifies by text content: "positive ..." is class 1,
// anything containing "REJECT" fails with the configured error. Calls arrive
// concurrently from the handler's fan-out.
type fakeEngine struct {
	rejectWith error
	calls      atomic.Int32
}

func (f *fakeEngine) Classify(ctx context.Context, text string) (*backend.Result, error) {
	f.calls.Add(1)
	if strings.Contains(text, "REJECT") {
		return nil, f.rejectWith
	}
	if strings.HasPrefix(text, "positive") {
		return &backend.Result{LabelID: 1, Label: "POSITIVE", Score: 0.9, Probs: []float64{0.1, 0.9}, NumClasses: 2}, nil
	}
	return &backend.Result{LabelID: 0, Label: "NEGATIVE", Score: 0.8, Probs: []float64{0.8, 0.2}, NumClasses: 2}, nil
}

func newTestRouter(engine Engine, cache resultcache.Cache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(engine, cache, "default-model")
	router.POST("/classify", handler.Classify)
	return router
}

func postClassify(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/classify", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestClassify_HappyPath(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, resultcache.Noop{})

	recorder := postClassify(t, router, ClassificationRequest{
		Model: "my-model",
		Input: []string{"positive text", "negative text"},
	})

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp ClassificationResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))

	assert.True(t, strings.HasPrefix(resp.ID, "classify-"))
	assert.NotContains(t, resp.ID[len("classify-"):], "-")
	assert.Equal(t, "list", resp.Object)
	assert.Equal(t, "my-model", resp.Model)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 0, resp.Data[0].Index)
	assert.Equal(t, "POSITIVE", resp.Data[0].Label)
	assert.Equal(t, 1, resp.Data[1].Index)
	assert.Equal(t, "NEGATIVE", resp.Data[1].Label)
	assert.Equal(t, resp.Usage.PromptTokens, resp.Usage.TotalTokens)
	assert.Equal(t, 0, resp.Usage.CompletionTokens)
}

func TestClassify_DefaultModelNameWhenOmitted(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, resultcache.Noop{})

	recorder := postClassify(t, router, ClassificationRequest{Input: []string{"some text"}})

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp ClassificationResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "default-model", resp.Model)
}

func TestClassify_EmptyInputRejected(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, resultcache.Noop{})

	recorder := postClassify(t, router, ClassificationRequest{Model: "m", Input: []string{}})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestClassify_MalformedBodyRejected(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, resultcache.Noop{})

	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader("{not json"))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestClassify_QueueFullMapsTo429(t *testing.T) {
	engine := &fakeEngine{rejectWith: &arbitererrors.QueueFullError{Capacity: 8}}
	router := newTestRouter(engine, resultcache.Noop{})

	recorder := postClassify(t, router, ClassificationRequest{Model: "m", Input: []string{"REJECT"}})

	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
}

func TestClassify_InputTooLongMapsTo400(t *testing.T) {
	engine := &fakeEngine{rejectWith: &arbitererrors.InputTooLongError{Tokens: 600, MaxTokens: 512}}
	router := newTestRouter(engine, resultcache.Noop{})

	recorder := postClassify(t, router, ClassificationRequest{Model: "m", Input: []string{"REJECT"}})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestClassify_BackendErrorMapsTo500(t *testing.T) {
	engine := &fakeEngine{rejectWith: &arbitererrors.BackendError{ErrorMsg: "device error"}}
	router := newTestRouter(engine, resultcache.Noop{})

	recorder := postClassify(t, router, ClassificationRequest{Model: "m", Input: []string{"REJECT", "fine"}})

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "device error")
}

func TestClassify_CacheHitSkipsEngine(t *testing.T) {
	engine := &fakeEngine{}
	cache := resultcache.NewV1(1024*1024, 60)
	router := newTestRouter(engine, cache)

	first := postClassify(t, router, ClassificationRequest{Model: "m", Input: []string{"positive repeat"}})
	require.Equal(t, http.StatusOK, first.Code)
	callsAfterFirst := engine.calls.Load()

	second := postClassify(t, router, ClassificationRequest{Model: "m", Input: []string{"positive repeat"}})
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, callsAfterFirst, engine.calls.Load(), "second request should be served from cache")
}
