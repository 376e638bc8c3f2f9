// ABOUTME: REST client for the hosted agent service (threads, messages, runs)
// ABOUTME: One Client is shared across sessions; it is safe for concurrent use

package agentsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIVersion is sent as the api-version query parameter.
const DefaultAPIVersion = "v1"

// listPageSize is the page size used when listing messages.
const listPageSize = 100

// TokenSource supplies bearer tokens for requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	// Endpoint is the project endpoint, e.g. https://example.services.ai.azure.com/api/projects/demo
	Endpoint   string
	APIVersion string
	Tokens     TokenSource
	// HTTPClient defaults to a client with a pooled transport and RequestTimeout.
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// Wait configures CreateAndProcessRun.
	Wait   WaiterConfig
	Logger *slog.Logger
}

// Client talks to the agent service.
type Client struct {
	endpoint   string
	apiVersion string
	tokens     TokenSource
	http       *http.Client
	waiter     *Waiter
	logger     *slog.Logger
}

// New creates a Client. The endpoint must already carry a scheme; see NormalizeEndpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("agent service endpoint is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("agent service token source is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	c := &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     cfg.Tokens,
		http:       httpClient,
		logger:     cfg.Logger.With("component", "agentsvc"),
	}
	if cfg.Wait.Logger == nil {
		cfg.Wait.Logger = c.logger
	}
	c.waiter = NewWaiter(c, cfg.Wait)
	return c, nil
}

// NormalizeEndpoint trims the endpoint, prepends https:// when the scheme is
// missing and rejects anything that is not an https URL with a host.
func NormalizeEndpoint(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("endpoint is empty")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("endpoint %q must use https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", raw)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// CreateThread creates an empty thread.
func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", nil, struct{}{}, &thread); err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	return &thread, nil
}

// CreateThreadAndRun creates a thread seeded with messages and starts a run on it.
// The returned run carries the new thread's id.
func (c *Client) CreateThreadAndRun(ctx context.Context, agentID string, messages []MessageOptions) (*Run, error) {
	req := createThreadAndRunRequest{
		AgentID: agentID,
		Thread:  threadOptions{Messages: messages},
	}
	var run Run
	if err := c.do(ctx, http.MethodPost, "/threads/runs", nil, req, &run); err != nil {
		return nil, fmt.Errorf("creating thread and run: %w", err)
	}
	return &run, nil
}

// CreateMessage appends a text message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID string, role Role, content string) (*Message, error) {
	var msg Message
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, nil, createMessageRequest{Role: role, Content: content}, &msg); err != nil {
		return nil, fmt.Errorf("creating message on thread %s: %w", threadID, err)
	}
	return &msg, nil
}

// CreateRun starts a run of agentID over the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, agentID string) (*Run, error) {
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, nil, createRunRequest{AgentID: agentID}, &run); err != nil {
		return nil, fmt.Errorf("creating run on thread %s: %w", threadID, err)
	}
	if run.ThreadID == "" {
		run.ThreadID = threadID
	}
	return &run, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &run); err != nil {
		return nil, fmt.Errorf("getting run %s: %w", runID, err)
	}
	return &run, nil
}

// CreateAndProcessRun starts a run and returns it once it is terminal.
func (c *Client) CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*Run, error) {
	run, err := c.CreateRun(ctx, threadID, agentID)
	if err != nil {
		return nil, err
	}
	return c.waiter.Wait(ctx, run)
}

// ListMessages returns every message on the thread in the given order,
// following pagination until the service reports no more pages.
func (c *Client) ListMessages(ctx context.Context, threadID string, order SortOrder) ([]*Message, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	var out []*Message
	after := ""
	for {
		q := url.Values{}
		q.Set("order", string(order))
		q.Set("limit", strconv.Itoa(listPageSize))
		if after != "" {
			q.Set("after", after)
		}

		var page messageList
		if err := c.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
			return nil, fmt.Errorf("listing messages on thread %s: %w", threadID, err)
		}
		out = append(out, page.Data...)

		if !page.HasMore || page.LastID == "" || page.LastID == after {
			return out, nil
		}
		after = page.LastID
	}
}

// LastByRole picks the last message in msgs authored by role.
func LastByRole(msgs []*Message, role Role) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == role {
			return msgs[i]
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	target := c.endpoint + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "coven-relay")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquiring token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody apiErrorBody
		if json.Unmarshal(data, &errBody) == nil && errBody.Error.Message != "" {
			apiErr.Code = errBody.Error.Code
			apiErr.Message = errBody.Error.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		c.logger.Debug("agent service error", "method", method, "path", path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
