// ABOUTME: The backend operations the messaging client consumes, and their error taxonomy
// ABOUTME: Every response is a {success, data, message} envelope; success=false is an APIError

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/alumni-dm/internal/chat"
)

// ErrRequestFailed matches every backend failure, whether the transport
// failed or the backend answered with success=false.
var ErrRequestFailed = errors.New("backend request failed")

// DefaultHistoryLimit is used when ListMessages is called with a non-positive limit.
const DefaultHistoryLimit = 50

// Backend is the set of REST-shaped operations the messaging subsystem uses.
// All calls act on behalf of the session's viewer.
type Backend interface {
	GetOrCreateConversation(ctx context.Context, userID string) (chat.Conversation, error)
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Envelope is the wire shape of every response.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

// APIError is a failure reported by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (status %d)", e.Status)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
}

// Is makes every APIError match ErrRequestFailed.
func (e *APIError) Is(target error) bool {
	return target == ErrRequestFailed
}

func notFound(what string) error {
	return &APIError{Status: http.StatusNotFound, Message: what + " not found"}
}

func badRequest(msg string) error {
	return &APIError{Status: http.StatusBadRequest, Message: msg}
}

func forbidden(msg string) error {
	return &APIError{Status: http.StatusForbidden, Message: msg}
}
