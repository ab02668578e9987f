package jobs

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

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
)

// DefaultJobType is submitted when the caller does not name one.
const DefaultJobType = "text_generation"

const maxResponseSize = 1 << 20

// DefaultInput is the job input used when none is supplied.
func DefaultInput() map[string]any {
	return map[string]any{
		"prompt":     "Test generation from Dashboard",
		"max_tokens": 60,
	}
}

// JobRequest is the body posted to the backend jobs endpoint.
type JobRequest struct {
	JobType   string         `json:"job_type"`
	InputData map[string]any `json:"input_data"`
}

// BackendUser is the body posted to the backend users endpoint.
type BackendUser struct {
	ClerkID string `json:"clerk_id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
}

// Client calls the job backend over HTTP and WebSocket.
type Client struct {
	cfg    Config
	http   *http.Client
	dialer *websocket.Dialer
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the frame timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a job backend client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("jobs"))
	return c
}

// Trigger submits a job and returns the backend's response body. A body that
// is not JSON is wrapped as {"message": <text>}. Non-2xx responses are
// returned as *BackendError.
func (c *Client) Trigger(ctx context.Context, token, jobType string, input map[string]any) (json.RawMessage, error) {
	if jobType == "" {
		jobType = DefaultJobType
	}
	if len(input) == 0 {
		input = DefaultInput()
	}

	status, body, err := c.post(ctx, "/api/v1/jobs/", token, JobRequest{JobType: jobType, InputData: input})
	if err != nil {
		return nil, err
	}

	c.log.DebugContext(ctx, "job backend responded",
		slog.String("job_type", jobType),
		logger.StatusCode(status),
	)

	if status < 200 || status >= 300 {
		return nil, &BackendError{Status: status, Message: string(body)}
	}

	if json.Valid(body) && len(bytes.TrimSpace(body)) > 0 {
		return json.RawMessage(body), nil
	}
	wrapped, err := json.Marshal(map[string]string{"message": string(body)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode backend response: %w", err)
	}
	return wrapped, nil
}

// EnsureBackendUser registers the user with the backend. The backend treats
// repeated calls as no-ops. Failures are logged and never returned.
func (c *Client) EnsureBackendUser(ctx context.Context, token string, user BackendUser) {
	if token == "" || user.ClerkID == "" {
		return
	}

	status, body, err := c.post(ctx, "/api/v1/users/", token, user)
	if err != nil {
		c.log.WarnContext(ctx, "backend user ensure failed",
			logger.UserID(user.ClerkID),
			logger.Error(err),
		)
		return
	}
	if status < 200 || status >= 300 {
		c.log.WarnContext(ctx, "backend user ensure rejected",
			logger.UserID(user.ClerkID),
			logger.StatusCode(status),
			slog.String("body", string(body)),
		)
	}
}

func (c *Client) post(ctx context.Context, path, token string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.apiBase()+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read backend response: %w", err)
	}
	return resp.StatusCode, body, nil
}
