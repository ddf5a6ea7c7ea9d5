// Package classify exposes the batching engine over HTTP. Each input text in
// a request is submitted to the scheduler individually and concurrently, so
// unrelated callers' inputs interleave into shared batches.
package classify

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	extKafka "github.com/doublewordai/arbiter/handlers/external/kafka"
	"github.com/doublewordai/arbiter/internal/backend"
	arbitererrors "github.com/doublewordai/arbiter/internal/errors"
	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/doublewordai/arbiter/pkg/metrics"
	"github.com/doublewordai/arbiter/pkg/resultcache"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Engine is the inbound capability of the batching core.
type Engine interface {
	Classify(ctx context.Context, text string) (*backend.Result, error)
}

type Handler struct {
	engine       Engine
	cache        resultcache.Cache
	defaultModel string
}

func NewHandler(engine Engine, cache resultcache.Cache, defaultModel string) *Handler {
	return &Handler{engine: engine, cache: cache, defaultModel: defaultModel}
}

// Classify handles POST /classify.
func (h *Handler) Classify(c *gin.Context) {
	startTime := time.Now()
	metrics.Count("arbiter.classify.request.total", 1, nil)

	var req ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if err := ValidateClassificationRequest(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = h.defaultModel
	}

	results := make([]*backend.Result, len(req.Input))
	g, ctx := errgroup.WithContext(c.Request.Context())
	for i, text := range req.Input {
		g.Go(func() error {
			result, err := h.classifyOne(ctx, text)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	responseID := newResponseID()
	if err := g.Wait(); err != nil {
		status, kind := statusForError(err)
		logger.Error(fmt.Sprintf("Classification request %s failed", responseID), err)
		metrics.Count("arbiter.classify.request.failed", 1, []string{"kind:" + kind})
		go extKafka.MaybePublishAuditRecord(&extKafka.AuditRecord{
			RequestID: responseID,
			Model:     modelName,
			Failure:   kind,
			CreatedAt: time.Now().Unix(),
		})
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}

	response := buildResponse(responseID, modelName, req.Input, results)
	go publishAuditRecords(responseID, modelName, results)

	metrics.Timing("arbiter.classify.request.latency", time.Since(startTime), nil)
	metrics.Count("arbiter.classify.request.input.size", int64(len(req.Input)), nil)
	c.JSON(http.StatusOK, response)
}

func (h *Handler) classifyOne(ctx context.Context, text string) (*backend.Result, error) {
	if result, ok := h.cache.Get(text); ok {
		return result, nil
	}
	result, err := h.engine.Classify(ctx, text)
	if err != nil {
		return nil, err
	}
	h.cache.Set(text, result)
	return result, nil
}

func buildResponse(responseID, modelName string, inputs []string, results []*backend.Result) *ClassificationResponse {
	data := make([]ClassificationData, len(results))
	promptTokens := 0
	for i, result := range results {
		data[i] = ClassificationData{
			Index:      i,
			Label:      result.Label,
			Probs:      result.Probs,
			NumClasses: result.NumClasses,
		}
		// rough token estimate, four characters per token
		promptTokens += len(inputs[i]) / 4
	}

	return &ClassificationResponse{
		ID:      responseID,
		Object:  "list",
		Created: time.Now().Unix(),
		Model:   modelName,
		Data:    data,
		Usage: Usage{
			PromptTokens:     promptTokens,
			TotalTokens:      promptTokens,
			CompletionTokens: 0,
		},
	}
}

func publishAuditRecords(responseID, modelName string, results []*backend.Result) {
	now := time.Now().Unix()
	for _, result := range results {
		extKafka.MaybePublishAuditRecord(&extKafka.AuditRecord{
			RequestID: responseID,
			Model:     modelName,
			Label:     result.Label,
			Score:     result.Score,
			CreatedAt: now,
		})
	}
}

func newResponseID() string {
	return "classify-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func statusForError(err error) (int, string) {
	var badRequest *arbitererrors.BadRequestError
	var queueFull *arbitererrors.QueueFullError
	var tooLong *arbitererrors.InputTooLongError
	var tokenization *arbitererrors.TokenizationError
	var backendErr *arbitererrors.BackendError

	switch {
	case stderrors.As(err, &badRequest), stderrors.As(err, &tooLong):
		return http.StatusBadRequest, arbitererrors.KindOf(err)
	case stderrors.As(err, &tokenization):
		return http.StatusUnprocessableEntity, arbitererrors.KindTokenization
	case stderrors.As(err, &queueFull):
		return http.StatusTooManyRequests, arbitererrors.KindQueueFull
	case stderrors.As(err, &backendErr):
		return http.StatusInternalServerError, arbitererrors.KindBackend
	default:
		return http.StatusInternalServerError, "unknown"
	}
}
