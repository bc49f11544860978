// Package hostrpc is the outbound RPC surface toward the host process that
// embeds or supervises the orchestrator.
package hostrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Host is the set of calls the orchestrator makes back to its host.
type Host interface {
	// Debug forwards diagnostic values. Implementations may drop them when
	// debugging is disabled.
	Debug(ctx context.Context, items ...any)

	// ReportError forwards a non-fatal error together with a kind tag
	// ("sandbox", "protocol", "timeout", ...). Reporting never fails the run.
	ReportError(ctx context.Context, err error, kind string)

	// Flush asks the host to drain any buffered output before the run is
	// declared finished.
	Flush(ctx context.Context) error

	// FinishRun tells the host the run reached its terminal state.
	FinishRun(ctx context.Context) error
}

// Nop is a Host that does nothing. Useful for tests and headless runs.
type Nop struct{}

func (Nop) Debug(ctx context.Context, items ...any)                {}
func (Nop) ReportError(ctx context.Context, err error, kind string) {}
func (Nop) Flush(ctx context.Context) error                        { return nil }
func (Nop) FinishRun(ctx context.Context) error                    { return nil }

// Client talks to a host over HTTP, posting JSON to {base}/rpc/*.
type Client struct {
	base  string
	debug bool
	http  *http.Client
}

// NewClient creates a Client for the given base URL. With debug false,
// Debug calls are dropped client-side.
func NewClient(base string, debug bool) *Client {
	return &Client{
		base:  base,
		debug: debug,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("host returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

func (c *Client) Debug(ctx context.Context, items ...any) {
	if !c.debug {
		return
	}
	// Best effort; debug output never surfaces as an error.
	_ = c.post(ctx, "/rpc/debug", map[string]any{"items": items})
}

func (c *Client) ReportError(ctx context.Context, err error, kind string) {
	_ = c.post(ctx, "/rpc/error", map[string]string{
		"error": err.Error(),
		"kind":  kind,
	})
}

func (c *Client) Flush(ctx context.Context) error {
	return c.post(ctx, "/rpc/flush", struct{}{})
}

func (c *Client) FinishRun(ctx context.Context) error {
	return c.post(ctx, "/rpc/finish", struct{}{})
}
