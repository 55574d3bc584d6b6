// Package client is a Go client for the RAG chat HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

// ErrStillProcessing is returned by Await when the job has not resolved
// within the maximum wait. The job keeps running; poll again later.
var ErrStillProcessing = errors.New("still processing, try later")

// Defaults for Await.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 2 * time.Minute
)

// Client talks to one server on behalf of one session.
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token of an existing session.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPolling sets the Await interval and its upper bound.
func WithPolling(interval, maxWait time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if maxWait > 0 {
			c.maxWait = maxWait
		}
	}
}

// New creates a client for the server at baseURL (e.g. http://localhost:3001).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 5 * time.Minute},
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current session token.
func (c *Client) Token() string { return c.token }

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NewSession creates an anonymous session and adopts its token.
func (c *Client) NewSession(ctx context.Context) (*domain.Session, error) {
	var sess domain.Session
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/session", "application/json", nil, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.token = sess.Token
	return &sess, nil
}

// ChatInput is one turn sent to the server.
type ChatInput struct {
	ChatID        string           `json:"id,omitempty"`
	Messages      []domain.Message `json:"messages"`
	SelectedFiles []string         `json:"selected_files,omitempty"`
	Async         *bool            `json:"async,omitempty"`
}

// ChatOutput is either an inline answer or a job to await.
type ChatOutput struct {
	ChatID   string             `json:"chat_id"`
	Response string             `json:"response,omitempty"`
	Sources  []domain.SourceRef `json:"sources,omitempty"`
	JobID    string             `json:"job_id,omitempty"`
}

// Chat sends one turn. When the server runs it in the background the
// output carries a JobID and no Response.
func (c *Client) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	var out ChatOutput
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/chat", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return &out, nil
}

// Poll reads the status of a job once.
func (c *Client) Poll(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	var st domain.JobStatus
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/chat/jobs/"+url.PathEscape(jobID), "", nil, &st); err != nil {
		return nil, fmt.Errorf("poll job: %w", err)
	}
	return &st, nil
}

// Await polls a job at a fixed pace until it resolves. It gives up with
// ErrStillProcessing after the configured maximum wait.
func (c *Client) Await(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			return nil, awaitErr(ctx, err)
		}
		st, err := c.Poll(waitCtx, jobID)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, awaitErr(ctx, err)
			}
			return nil, err
		}
		if st.State.Terminal() {
			return st, nil
		}
	}
}

// awaitErr reports the caller's cancellation as is and anything else
// caused by the wait bound as ErrStillProcessing.
func awaitErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return err
	}
	return ErrStillProcessing
}

// Upload stores a document for the session.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*UploadOutput, error) {
	var out UploadOutput
	path := "/api/v1/files/upload?filename=" + url.QueryEscape(filename)
	if _, err := c.do(ctx, http.MethodPost, path, "application/octet-stream", bytes.NewReader(data), &out); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	return &out, nil
}

// UploadOutput reports where an upload was stored and how it was split.
type UploadOutput struct {
	Pathname  string `json:"pathname"`
	Fragments int    `json:"fragments"`
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
