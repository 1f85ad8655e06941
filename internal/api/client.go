// Package api is the HTTP client for the desk server's authoritative state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/repository"
	"github.com/hashicorp/go-retryablehttp"
)

var _ repository.Backend = (*Client)(nil)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// Client fetches and submits records over HTTP. Reads go through a
// retrying client (network errors, 429 and 5xx, honoring Retry-After);
// submits are sent once because they are not idempotent.
type Client struct {
	baseURL string
	token   string
	reads   *retryablehttp.Client
	writes  *http.Client
	logger  *slog.Logger
}

// NewClient creates a client.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	reads := retryablehttp.NewClient()
	reads.HTTPClient = httpClient
	reads.RetryMax = opts.MaxRetries
	reads.RetryWaitMin = opts.BaseDelay
	reads.RetryWaitMax = opts.MaxDelay
	reads.Backoff = cappedBackoff
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler
	reads.Logger = opts.Logger

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(opts.Token),
		reads:   reads,
		writes:  httpClient,
		logger:  opts.Logger,
	}
}

type submitRequest struct {
	Content   string `json:"content"`
	ClientRef string `json:"clientRef,omitempty"`
}

// List returns the authoritative records of a scope.
func (c *Client) List(ctx context.Context, s scope.Scope) ([]entity.Record, error) {
	path, err := listPath(s)
	if err != nil {
		return nil, err
	}
	var out []entity.Record
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Scope = s
	}
	return out, nil
}

// Submit creates a comment or chat message. clientRef is echoed back by
// servers that support correlation.
func (c *Client) Submit(ctx context.Context, s scope.Scope, content, clientRef string) (entity.Record, error) {
	if s.Kind != scope.KindTicket && s.Kind != scope.KindChat {
		return entity.Record{}, fmt.Errorf("%w: cannot submit to %s", ErrUnsupportedScope, s)
	}
	path, err := listPath(s)
	if err != nil {
		return entity.Record{}, err
	}
	var out entity.Record
	if err := c.doJSON(ctx, http.MethodPost, path, submitRequest{Content: content, ClientRef: clientRef}, &out, false); err != nil {
		return entity.Record{}, err
	}
	out.Scope = s
	return out, nil
}

func listPath(s scope.Scope) (string, error) {
	switch {
	case s.IsGlobal():
		return "/api/tickets", nil
	case s.Kind == scope.KindTicket && s.ID > 0:
		return fmt.Sprintf("/api/tickets/%d/comments", s.ID), nil
	case s.Kind == scope.KindChat && s.ID > 0:
		return fmt.Sprintf("/api/chats/%d/messages", s.ID), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScope, s)
	}
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any, retry bool) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	var resp *http.Response
	if retry {
		req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyBytes)
		if err != nil {
			return err
		}
		c.setHeaders(req.Header, body != nil)
		resp, err = c.reads.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, requestPath, err)
		}
	} else {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		c.setHeaders(req.Header, body != nil)
		resp, err = c.writes.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, requestPath, err)
		}
	}

	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response: %w", readErr)
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decoding %s %s: %w", method, requestPath, err)
		}
		return nil
	}

	var errPayload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	c.logger.Debug("request rejected", "method", method, "path", requestPath, "status", resp.StatusCode)
	return &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Message}
}

func (c *Client) setHeaders(h http.Header, hasBody bool) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	h.Set("Accept", "application/json")
	if hasBody {
		h.Set("Content-Type", "application/json")
	}
}

// cappedBackoff is retryablehttp's exponential backoff with Retry-After
// support, clamped so a server-supplied delay never exceeds max.
func cappedBackoff(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
	delay := retryablehttp.DefaultBackoff(min, max, attempt, resp)
	if delay > max {
		return max
	}
	return delay
}
