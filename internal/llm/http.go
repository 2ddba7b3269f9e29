package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 4 << 20

// PostJSON posts body as JSON to url and returns the raw response body and status.
// Rate limits and 5xx answers wrap common.ErrUnavailable; other non-2xx answers wrap
// common.ErrInvalidInput so callers can tell a retryable provider from a bad request.
func PostJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("llm.http.request", "req_id", reqID, "url", url, "content_length", len(bs))

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("llm.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("llm.http.body_close_error", "req_id", reqID, "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", common.ErrUnavailable, err)
	}

	logger.Debug("llm.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode/100 == 2:
		return raw, resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return raw, resp.StatusCode, fmt.Errorf("%w: provider status %d", common.ErrUnavailable, resp.StatusCode)
	default:
		return raw, resp.StatusCode, fmt.Errorf("%w: provider status %d", common.ErrInvalidInput, resp.StatusCode)
	}
}
