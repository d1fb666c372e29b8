// ABOUTME: Thread-safe in-memory Store for the message cache
// ABOUTME: Size-bounded; evicts the least recently written conversation in O(1)

package msgcache

import (
	"container/list"
	"context"
	"sync"
)

// memoryEntry stores the record and its list element.
type memoryEntry struct {
	record  Record
	element *list.Element
}

// MemoryStore keeps records in a map with a doubly-linked list tracking
// write order (oldest at front) for eviction.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   *list.List
	maxSize int
}

// NewMemoryStore creates a store holding at most maxSize conversations.
// A non-positive maxSize means unbounded.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns a copy of the record for key.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(entry.record), nil
}

// Set replaces the record for key, evicting the oldest written key when full.
func (s *MemoryStore) Set(_ context.Context, key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.entries[key]; exists {
		entry.record = copyRecord(rec)
		s.order.MoveToBack(entry.element)
		return nil
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.order.PushBack(key)
	s.entries[key] = &memoryEntry{
		record:  copyRecord(rec),
		element: elem,
	}
	return nil
}

// Delete removes the record for key. Missing keys are not an error.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		s.order.Remove(entry.element)
		delete(s.entries, key)
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// evictOldest removes the least recently written entry. Must be called with mu held.
func (s *MemoryStore) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.entries, key)
}

func copyRecord(rec Record) Record {
	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	return Record{Data: data, StoredAt: rec.StoredAt}
}
