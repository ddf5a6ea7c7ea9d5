package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/doublewordai/arbiter/internal/batch"
	arbitererrors "github.com/doublewordai/arbiter/internal/errors"
	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/doublewordai/arbiter/pkg/metrics"
)

var (
	defaultDialTimeout      = 30000 // in milliseconds
	defaultKeepAliveTimeout = 30000 // in milliseconds
	maxIdleConns            = 100
	maxIdleConnsPerHost     = 100
)

// inferRequest is the wire shape sent to the model server's /infer endpoint.
type inferRequest struct {
	InputIDs      [][]int64 `json:"input_ids"`
	AttentionMask [][]int64 `json:"attention_mask"`
}

type inferResponse struct {
	Logits [][]float32 `json:"logits"`
	Error  string      `json:"error,omitempty"`
}

// HTTPBackend talks to a remote model server that executes the forward pass
// on its own device. Device placement is the server's concern; this client
// only ships tensors and collects logits.
type HTTPBackend struct {
	client  *http.Client
	baseURL string
}

func NewHTTPBackend(appConfigs *configs.AppConfigs) *HTTPBackend {
	cfg := appConfigs.Configs

	transporter := http.DefaultTransport.(*http.Transport).Clone()
	transporter.DialContext = (&net.Dialer{
		Timeout:   time.Duration(defaultDialTimeout) * time.Millisecond,
		KeepAlive: time.Duration(defaultKeepAliveTimeout) * time.Millisecond,
	}).DialContext
	transporter.MaxIdleConns = maxIdleConns
	transporter.MaxIdleConnsPerHost = maxIdleConnsPerHost

	return &HTTPBackend{
		client: &http.Client{
			Transport: transporter,
			Timeout:   time.Duration(cfg.BackendDeadlineMs) * time.Millisecond,
		},
		baseURL: fmt.Sprintf("http://%s:%d", cfg.BackendHost, cfg.BackendPort),
	}
}

func (b *HTTPBackend) Infer(ctx context.Context, input *batch.Input) ([][]float32, error) {
	body, err := json.Marshal(inferRequest{InputIDs: input.IDs, AttentionMask: input.Mask})
	if err != nil {
		return nil, &arbitererrors.BackendError{ErrorMsg: "failed to encode model server request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, &arbitererrors.BackendError{ErrorMsg: "failed to build model server request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	response, err := b.client.Do(req)
	if err != nil {
		metrics.Count("arbiter.backend.request.failed", 1, nil)
		return nil, &arbitererrors.BackendError{ErrorMsg: "model server call failed", Cause: err}
	}
	defer response.Body.Close()
	metrics.Timing("arbiter.backend.request.latency", time.Since(startTime), []string{fmt.Sprintf("status:%d", response.StatusCode)})

	var result inferResponse
	decodeErr := json.NewDecoder(response.Body).Decode(&result)
	if response.StatusCode >= http.StatusBadRequest {
		msg := result.Error
		if msg == "" {
			msg = response.Status
		}
		return nil, &arbitererrors.BackendError{ErrorMsg: fmt.Sprintf("model server returned %s", msg)}
	}
	if decodeErr != nil {
		return nil, &arbitererrors.BackendError{ErrorMsg: "failed to decode model server response", Cause: decodeErr}
	}
	if len(result.Logits) != input.Rows() {
		return nil, &arbitererrors.BackendError{
			ErrorMsg: fmt.Sprintf("model server returned %d rows for a %d row batch", len(result.Logits), input.Rows()),
		}
	}
	return result.Logits, nil
}

func (b *HTTPBackend) Name() string {
	return "http[" + b.baseURL + "]"
}
