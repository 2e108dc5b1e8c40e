package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"location-hub/internal/general/logger"
)

const (
	putAttempts = 3
	putBackoff  = 500 * time.Millisecond
)

// BackendError reports a non-success response or transport failure from
// the persistence backend. It is logged by the gateway and never surfaced
// to the originating client.
type BackendError struct {
	Path   string
	Status int
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend put %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("backend put %s: status %d", e.Path, e.Status)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Client writes arbitrary JSON values to hierarchical paths on the
// persistence backend, authorized through the token cache. A backend
// outage degrades to "tracking still works in-process, persistence lags or
// drops"; writes carry a bounded timeout and a small fixed-backoff retry.
type Client struct {
	baseURL string
	tokens  *TokenCache
	httpc   *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string, tokens *TokenCache, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpc:   &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// Put writes value at path, retrying transport failures and non-2xx
// responses up to putAttempts times with a fixed backoff.
func (c *Client) Put(ctx context.Context, path string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return &BackendError{Path: path, Err: fmt.Errorf("encode value: %w", err)}
	}

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var lastErr error
	for attempt := 1; attempt <= putAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(putBackoff):
			case <-ctx.Done():
				return &BackendError{Path: path, Err: ctx.Err()}
			}
		}

		lastErr = c.putOnce(ctx, target, path, body)
		if lastErr == nil {
			return nil
		}

		c.log.Debug(ctx, "backend_put_retry", "Backend write failed, will retry", map[string]any{
			"path":    path,
			"attempt": attempt,
			"reason":  lastErr.Error(),
		})
	}

	return lastErr
}

func (c *Client) putOnce(ctx context.Context, target, path string, body []byte) error {
	token, err := c.tokens.Bearer(ctx)
	if err != nil {
		// Auth failures are their own taxonomy class; do not wrap them
		// as backend errors.
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return &BackendError{Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &BackendError{Path: path, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &BackendError{Path: path, Status: resp.StatusCode}
	}

	return nil
}
