// ABOUTME: HTTP implementation of Backend speaking the REST envelope API
// ABOUTME: Adds bearer auth, client-side rate limiting, and envelope decoding

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/alumni-dm/internal/chat"
)

// RESTOptions tunes the REST client.
type RESTOptions struct {
	// Timeout bounds each HTTP request. Zero means 15s.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// REST talks to the backend over HTTP.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Backend = (*REST)(nil)

// NewREST creates a client for the API rooted at baseURL.
func NewREST(baseURL, token string, opts RESTOptions, logger *slog.Logger) *REST {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    client,
		limiter: limiter,
		logger:  logger.With("component", "rest"),
	}
}

// GetOrCreateConversation calls POST /api/conversations.
func (c *REST) GetOrCreateConversation(ctx context.Context, userID string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", map[string]string{"userId": userID}, &conv)
	return conv, err
}

// ListConversations calls GET /api/conversations.
func (c *REST) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	return convs, nil
}

// ListMessages calls GET /api/conversations/{id}/messages.
func (c *REST) ListMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

// SendMessage calls POST /api/conversations/{id}/messages.
func (c *REST) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	var msg chat.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg)
	return msg, err
}

// DeleteMessage calls DELETE /api/messages/{id}.
func (c *REST) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

// MarkConversationRead calls POST /api/conversations/{id}/read.
func (c *REST) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// do performs one request and decodes the envelope's data into out.
func (c *REST) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %w", ErrRequestFailed, err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	var env Envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}

	if !env.Success || resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding data: %w", ErrRequestFailed, err)
	}
	return nil
}
