// Package trello is a thin client for the slice of the Trello REST API this
// service needs: webhook lifecycle and board/list lookups for mapping
// validation.
package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/boardcast/internal/retry"
)

var (
	// ErrUnauthorized means the API key/token pair was rejected. Terminal.
	ErrUnauthorized = errors.New("trello: unauthorized")

	// ErrNotFound means the board, list, or webhook does not exist.
	ErrNotFound = errors.New("trello: not found")

	// ErrUnavailable covers rate limits, 5xx responses, and network
	// failures. Retryable with backoff.
	ErrUnavailable = errors.New("trello: unavailable")
)

// Webhook is Trello's representation of a callback subscription.
type Webhook struct {
	ID          string `json:"id"`
	IDModel     string `json:"idModel"`
	CallbackURL string `json:"callbackURL"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// Board is the subset of board fields used for mapping validation.
type Board struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShortURL string `json:"shortUrl"`
	Closed   bool   `json:"closed"`
}

// List is the subset of list fields used for mapping validation.
type List struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IDBoard string `json:"idBoard"`
	Closed  bool   `json:"closed"`
}

// Client talks to the Trello REST API with key/token auth, a bounded
// per-call timeout, and a client-side rate limit (Trello allows 100
// requests per 10 seconds per token).
type Client struct {
	baseURL    string
	key        string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Trello API client. baseURL defaults to the public API
// when empty; timeout defaults to 5s when zero.
func NewClient(baseURL, key, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.trello.com/1"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		key:        key,
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
	}
}

// CreateWebhook registers a callback for all activity on the board.
func (c *Client) CreateWebhook(ctx context.Context, boardID, callbackURL string) (*Webhook, error) {
	payload := map[string]string{
		"idModel":     boardID,
		"callbackURL": callbackURL,
		"description": "boardcast board subscription",
	}

	var webhook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks/", nil, payload, &webhook); err != nil {
		return nil, fmt.Errorf("failed to create webhook for board %s: %w", boardID, err)
	}

	return &webhook, nil
}

// DeleteWebhook removes a webhook by its Trello id. Deleting a webhook that
// is already gone is not an error.
func (c *Client) DeleteWebhook(ctx context.Context, webhookID string) error {
	err := c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(webhookID), nil, nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete webhook %s: %w", webhookID, err)
	}
	return nil
}

// ListWebhooks returns every webhook registered for the configured token.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var webhooks []Webhook
	path := "/tokens/" + url.PathEscape(c.token) + "/webhooks"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &webhooks); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return webhooks, nil
}

// GetBoard fetches a board by id.
func (c *Client) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	var board Board
	query := url.Values{"fields": {"id,name,shortUrl,closed"}}
	if err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID), query, nil, &board); err != nil {
		return nil, fmt.Errorf("failed to get board %s: %w", boardID, err)
	}
	return &board, nil
}

// GetList fetches a list by id. The caller checks IDBoard to confirm the
// list belongs to the intended board.
func (c *Client) GetList(ctx context.Context, listID string) (*List, error) {
	var list List
	query := url.Values{"fields": {"id,name,idBoard,closed"}}
	if err := c.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID), query, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", listID, err)
	}
	return &list, nil
}

// do performs one authenticated API call. Every call waits for the rate
// limiter, carries the client timeout, and maps response statuses onto the
// package error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if query == nil {
		query = url.Values{}
	}
	query.Set("key", c.key)
	query.Set("token", c.token)
	fullURL := c.baseURL + path + "?" + query.Encode()

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retry.Retryable{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &retry.Retryable{Err: fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func classifyStatus(status int, body []byte) error {
	preview := string(body)
	if len(preview) > 200 {
		preview = preview[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &retry.Terminal{Err: fmt.Errorf("%w: status %d: %s", ErrUnauthorized, status, preview)}
	case status == http.StatusNotFound:
		return &retry.Terminal{Err: fmt.Errorf("%w: status %d", ErrNotFound, status)}
	case status == http.StatusTooManyRequests || status >= 500:
		return &retry.Retryable{Err: fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, preview)}
	default:
		return &retry.Terminal{Err: fmt.Errorf("trello: unexpected status %d: %s", status, preview)}
	}
}
