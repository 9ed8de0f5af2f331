package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("key not found")
	ErrClosed      = errors.New("store closed")
	ErrInvalidKey  = errors.New("invalid key")
	ErrUnavailable = errors.New("store unavailable")
)

// Operation represents the type of change to a key.
type Operation int

const (
	// OpPut indicates a key was created or updated.
	OpPut Operation = iota
	// OpDelete indicates a key was deleted.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// KeyValue represents a key-value entry with metadata.
type KeyValue struct {
	// Key is the entry key.
	Key string

	// Value is the entry value. Nil for deletes.
	Value []byte

	// Revision is a version number, monotonic per backend.
	Revision uint64

	// Operation indicates the type of change.
	Operation Operation

	// Origin is the ID of the view that wrote the entry.
	// Empty when the writer is unknown.
	Origin string

	// Modified is when the entry was last written.
	Modified time.Time
}

// StateStore is a durable key-value store shared by every view of the
// same profile. Writes from one view are observable by the others
// through Watch.
type StateStore interface {
	// ID identifies this view. Entries it writes carry it as Origin.
	ID() string

	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// GetKeyValue retrieves the full KeyValue entry.
	// Returns ErrNotFound if the key does not exist.
	GetKeyValue(key string) (*KeyValue, error)

	// Put stores a value.
	Put(key string, value []byte) error

	// Delete removes a key.
	// Returns nil if the key does not exist.
	Delete(key string) error

	// Keys returns all keys matching a pattern.
	// Pattern supports * wildcard at the end (e.g., "tasks.*").
	Keys(pattern string) ([]string, error)

	// Watch reports changes to keys matching a pattern, including
	// changes made by this view. The channel is closed when ctx is
	// done or the store closes.
	Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error)

	// Close shuts down the view and releases resources.
	Close() error
}

// ValidateKey checks if a key is valid. Keys double as file names in
// FileStore, so path separators are rejected.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " /\\") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "tasks.*" matches "tasks.archive").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

// watcher is a single Watch registration shared by the backends.
type watcher struct {
	pattern string
	ch      chan *KeyValue
	closed  bool
}

// watchBuffer is the channel capacity of each watcher. When it is full
// the oldest notification is discarded, so the newest always arrives.
const watchBuffer = 64

func newWatcher(pattern string) *watcher {
	return &watcher{
		pattern: pattern,
		ch:      make(chan *KeyValue, watchBuffer),
	}
}

// offer delivers kv without blocking. Caller holds the owning lock.
func (w *watcher) offer(kv *KeyValue) {
	if w.closed || !MatchPattern(w.pattern, kv.Key) {
		return
	}
	sendLatest(w.ch, kv)
}

// sendLatest queues kv, evicting the oldest queued entry when ch is
// full. The caller must be the only sender on ch.
func sendLatest(ch chan *KeyValue, kv *KeyValue) {
	for {
		select {
		case ch <- kv:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// close closes the channel once. Caller holds the owning lock.
func (w *watcher) close() {
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
