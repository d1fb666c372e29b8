// ABOUTME: Request context helpers carrying the authenticated viewer
// ABOUTME: Provides WithViewer/FromContext for propagating identity via context

package auth

import (
	"context"

	"github.com/2389/alumni-dm/internal/chat"
)

// viewerContextKey is the key type for storing the viewer in context.Context.
type viewerContextKey struct{}

// WithViewer returns a new context carrying the authenticated viewer.
func WithViewer(ctx context.Context, viewer chat.User) context.Context {
	return context.WithValue(ctx, viewerContextKey{}, viewer)
}

// FromContext retrieves the viewer from the context.
func FromContext(ctx context.Context) (chat.User, bool) {
	viewer, ok := ctx.Value(viewerContextKey{}).(chat.User)
	return viewer, ok
}
