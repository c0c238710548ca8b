// Package api is the HTTP client for the paged history and message
// endpoints.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tOgg1/agentsync/internal/models"
	"github.com/tOgg1/agentsync/internal/timeline"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

// ErrUnauthorized reports a 401 response.
var ErrUnauthorized = errors.New("api: unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Client implements timeline.Fetcher over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ timeline.Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

// New creates a client for baseURL. An empty token sends no Authorization
// header.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTimeline fetches one page of an agent's timeline.
func (c *Client) FetchTimeline(ctx context.Context, agentID string, query timeline.Query) (*timeline.Page, error) {
	params := url.Values{}
	if query.Direction != "" {
		params.Set("direction", string(query.Direction))
	}
	if query.Cursor != "" {
		params.Set("cursor", query.Cursor)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	path := agentPath(agentID, "timeline")
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page timeline.Page
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch %s timeline: %w", query.Direction, err)
	}
	return &page, nil
}

type sendResponse struct {
	Event *models.TimelineEvent `json:"event"`
}

// SendMessage posts a message and returns the confirmed event.
func (c *Client) SendMessage(ctx context.Context, agentID string, req timeline.SendRequest) (*models.TimelineEvent, error) {
	var resp sendResponse
	if err := c.doJSON(ctx, http.MethodPost, agentPath(agentID, "messages"), req, &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.Event == nil {
		return nil, errors.New("send message: response has no event")
	}
	return resp.Event, nil
}

type processingResponse struct {
	ProcessingActive bool                       `json:"processing_active"`
	Processing       *models.ProcessingSnapshot `json:"processing_snapshot,omitempty"`
}

// FetchProcessing fetches the agent's processing snapshot.
func (c *Client) FetchProcessing(ctx context.Context, agentID string) (*models.ProcessingSnapshot, error) {
	var resp processingResponse
	if err := c.doJSON(ctx, http.MethodGet, agentPath(agentID, "processing"), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch processing: %w", err)
	}
	if resp.Processing != nil {
		return resp.Processing, nil
	}
	return &models.ProcessingSnapshot{Active: resp.ProcessingActive}, nil
}

func agentPath(agentID, resource string) string {
	return "/agents/" + url.PathEscape(agentID) + "/" + resource
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeStatusError(resp)
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = sonic.Unmarshal(data, &payload)
	switch {
	case payload.Error != "":
		return &StatusError{StatusCode: resp.StatusCode, Message: payload.Error}
	case payload.Message != "":
		return &StatusError{StatusCode: resp.StatusCode, Message: payload.Message}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: resp.Status}
}
