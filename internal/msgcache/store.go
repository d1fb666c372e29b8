// ABOUTME: Key-value store abstraction behind the message cache
// ABOUTME: Records carry raw payload bytes plus the time they were stored

package msgcache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Store.Get when no record exists for a key.
var ErrNotFound = errors.New("cache record not found")

// Record is what a Store persists for one conversation.
type Record struct {
	Data     []byte
	StoredAt time.Time
}

// Store is the injectable persistence layer for the cache. Set replaces any
// existing record for the key.
type Store interface {
	Get(ctx context.Context, key string) (Record, error)
	Set(ctx context.Context, key string, rec Record) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Driver names accepted by OpenStore.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverMemory  = "memory"
	DriverNone    = "none"
)

// OpenStore builds the Store for a configured driver. DriverNone returns a
// nil Store, which disables caching.
func OpenStore(driver, path string, maxEntries int) (Store, error) {
	switch driver {
	case DriverSQLite, DriverSQLite3:
		return NewSQLiteStore(driver, path)
	case DriverMemory:
		return NewMemoryStore(maxEntries), nil
	case DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", driver)
	}
}
