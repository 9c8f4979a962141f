// Package github implements the remote replication side of the task store:
// a minimal contents-API client and an optimistic-concurrency sync service.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// ErrNotFound marks a missing remote file or repository. First-time pushes
// treat it as "no cursor yet", not as a failure.
var ErrNotFound = errors.New("remote resource not found")

// APIError is any non-2xx response other than a revision conflict.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// ConflictError reports a conditional write rejected because the remote
// revision no longer matches the sha the client sent.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s: remote content changed", e.Path)
}

// Client talks to the GitHub contents API. Content is UTF-8 text,
// base64-encoded for transport.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL overrides the API endpoint, used by tests and GHE setups.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient creates a client authenticating with the given bearer token.
func NewClient(token string, opts ClientOptions) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "github_client"),
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return &ConflictError{Path: path}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func apiMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// FileContents is the decoded result of a contents GET.
type FileContents struct {
	SHA     string
	Content []byte
}

// Contents fetches a file's revision sha and decoded content.
func (c *Client) Contents(ctx context.Context, owner, repo, path string) (*FileContents, error) {
	var body struct {
		SHA      string `json:"sha"`
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	url := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path)
	if err := c.do(ctx, http.MethodGet, url, nil, &body); err != nil {
		return nil, err
	}
	// The API wraps base64 content across lines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", path, err)
	}
	return &FileContents{SHA: body.SHA, Content: raw}, nil
}

// PutOptions carries a conditional write. SHA empty means first-time
// creation; otherwise the write is rejected with a ConflictError when the
// remote revision differs.
type PutOptions struct {
	Message string
	Content []byte
	SHA     string
	Branch  string
}

// PutContents issues a conditional write and returns the new revision sha.
func (c *Client) PutContents(ctx context.Context, owner, repo, path string, opts PutOptions) (string, error) {
	payload := map[string]any{
		"message": opts.Message,
		"content": base64.StdEncoding.EncodeToString(opts.Content),
	}
	if opts.SHA != "" {
		payload["sha"] = opts.SHA
	}
	if opts.Branch != "" {
		payload["branch"] = opts.Branch
	}
	var body struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	url := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path)
	if err := c.do(ctx, http.MethodPut, url, payload, &body); err != nil {
		return "", err
	}
	return body.Content.SHA, nil
}

// RepoExists checks whether the target repository is reachable.
func (c *Client) RepoExists(ctx context.Context, owner, repo string) (bool, error) {
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateRepo creates a repository for the authenticated user.
func (c *Client) CreateRepo(ctx context.Context, name string, private bool) error {
	payload := map[string]any{
		"name":        name,
		"private":     private,
		"description": "taskdock replicated task store",
		"auto_init":   true,
	}
	return c.do(ctx, http.MethodPost, "/user/repos", payload, nil)
}

// User returns the login of the authenticated identity.
func (c *Client) User(ctx context.Context) (string, error) {
	var body struct {
		Login string `json:"login"`
	}
	if err := c.do(ctx, http.MethodGet, "/user", nil, &body); err != nil {
		return "", err
	}
	return body.Login, nil
}
