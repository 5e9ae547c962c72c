// Package webhook performs the engine's outbound HTTP calls: webhook
// actions, WEBHOOK_CALL and API_INTEGRATION nodes.
//
// The contract is deliberately small: bounded timeout, at most one retry
// after a network-class failure, success defined by the status code, and
// a capped response excerpt. Callers template the body before calling;
// this package never touches collected data.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a call when the request does not set its own.
const DefaultTimeout = 30 * time.Second

// maxBodyExcerpt caps how much of the response body is surfaced.
const maxBodyExcerpt = 1000

// retryWait is the pause before the single network-error retry.
const retryWait = time.Second

// Request describes one outbound call.
type Request struct {
	// URL is the target endpoint. Required.
	URL string

	// Method is one of GET, POST, PUT, DELETE. Defaults to POST.
	Method string

	// Headers are added to the request. Content-Type defaults to
	// application/json when a body is present.
	Headers map[string]string

	// Body is JSON-encoded as the request payload. String values are
	// expected to be templated by the caller already.
	Body map[string]any

	// TimeoutSeconds bounds the call. Zero means DefaultTimeout.
	TimeoutSeconds int

	// RetryOnFail enables one additional attempt after a 1-second wait,
	// only for network-class errors, never for HTTP status failures.
	RetryOnFail bool
}

// Result is the outcome of a call. Success is true iff the HTTP status
// was below 400.
type Result struct {
	Success     bool   `json:"success"`
	StatusCode  int    `json:"status_code,omitempty"`
	BodyExcerpt string `json:"body_excerpt,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Client performs webhook calls over a shared connection pool.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a Client. A nil httpClient uses a default pool; the
// per-call timeout comes from the request, not the pool.
func NewClient(httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient, log: log}
}

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodDelete: true,
}

// Call executes the request. The surrounding step's ctx bounds the call
// in addition to the request timeout, so step deadlines abort in-flight
// webhooks.
func (c *Client) Call(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.URL) == "" {
		return Result{Error: "url is required"}
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	if !allowedMethods[method] {
		return Result{Error: fmt.Sprintf("unsupported HTTP method: %s", method)}
	}

	timeout := DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, netErr := c.attempt(callCtx, method, req)
	if netErr == nil {
		return res
	}

	if req.RetryOnFail && isNetworkError(netErr) {
		c.log.Warn().Err(netErr).Str("url", req.URL).Msg("webhook failed, retrying once")
		select {
		case <-time.After(retryWait):
		case <-ctx.Done():
			return Result{Error: ctx.Err().Error()}
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, timeout)
		defer retryCancel()
		res, netErr = c.attempt(retryCtx, method, req)
		if netErr == nil {
			return res
		}
	}

	return Result{Error: netErr.Error()}
}

// attempt performs one HTTP exchange. A non-nil error means the call
// never produced a response (network-class failure); HTTP status
// failures are reported through the Result.
func (c *Client) attempt(ctx context.Context, method string, req Request) (Result, error) {
	var body io.Reader
	hasBody := len(req.Body) > 0 && method != http.MethodGet
	if hasBody {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return Result{}, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	if hasBody {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	excerpt, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
	if err != nil {
		excerpt = nil
	}

	res := Result{
		Success:     resp.StatusCode < 400,
		StatusCode:  resp.StatusCode,
		BodyExcerpt: string(excerpt),
	}
	if !res.Success {
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res, nil
}

// isNetworkError reports whether err is a connection or timeout failure,
// the only class eligible for retry.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// url.Error wraps transport failures; unwrap and re-check.
	if unwrapped := errors.Unwrap(err); unwrapped != nil && unwrapped != err {
		return isNetworkError(unwrapped)
	}
	return false
}
