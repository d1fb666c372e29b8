// ABOUTME: Generic optimistic-mutation ledger: Apply returns a token, Confirm or Rollback settles it
// ABOUTME: Settling is idempotent so racing confirm/rollback paths cannot double-apply

package optimistic

import (
	"container/list"
	"sync"
)

// Token identifies one pending optimistic mutation.
type Token string

// Tracker records optimistic mutations that are visible locally but not yet
// acknowledged by the server. Only the holder of a token can settle the
// mutation, and each mutation settles exactly once.
type Tracker[T any] struct {
	mu       sync.Mutex
	pending  map[Token]*list.Element
	order    *list.List // of *entry[T], oldest first
	newToken func(T) Token
}

type entry[T any] struct {
	token Token
	value T
}

// New creates a tracker. tokenFor derives the token from the applied value,
// so the caller can settle a mutation by the id it already holds.
func New[T any](tokenFor func(T) Token) *Tracker[T] {
	return &Tracker[T]{
		pending:  make(map[Token]*list.Element),
		order:    list.New(),
		newToken: tokenFor,
	}
}

// Apply registers v as pending and returns its token. Applying a value whose
// token is already pending replaces it in place.
func (t *Tracker[T]) Apply(v T) Token {
	tok := t.newToken(v)

	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.pending[tok]; ok {
		elem.Value.(*entry[T]).value = v
		return tok
	}
	t.pending[tok] = t.order.PushBack(&entry[T]{token: tok, value: v})
	return tok
}

// Confirm settles a mutation the server accepted. It returns the pending
// value and false if the token was unknown or already settled.
func (t *Tracker[T]) Confirm(tok Token) (T, bool) {
	return t.settle(tok)
}

// Rollback settles a mutation the server rejected. It returns the pending
// value so the caller can undo it, and false if the token was already settled.
func (t *Tracker[T]) Rollback(tok Token) (T, bool) {
	return t.settle(tok)
}

func (t *Tracker[T]) settle(tok Token) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.pending[tok]
	if !ok {
		var zero T
		return zero, false
	}
	delete(t.pending, tok)
	t.order.Remove(elem)
	return elem.Value.(*entry[T]).value, true
}

// IsPending reports whether tok has not been settled.
func (t *Tracker[T]) IsPending(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[tok]
	return ok
}

// Pending returns the unsettled values in the order they were applied.
func (t *Tracker[T]) Pending() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]T, 0, t.order.Len())
	for e := t.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*entry[T]).value)
	}
	return out
}

// Len returns the number of unsettled mutations.
func (t *Tracker[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
