package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// memoryBackend holds the data shared by all views of a MemoryStore.
type memoryBackend struct {
	mu       sync.RWMutex
	data     map[string]*entry
	watchers map[*watcher]*MemoryStore
	revision uint64
}

type entry struct {
	value    []byte
	revision uint64
	origin   string
	modified time.Time
}

// MemoryStore implements StateStore using in-memory storage.
// Views created with View share data and change notifications, the
// way open tabs of one browser profile share local storage.
type MemoryStore struct {
	backend *memoryBackend
	id      string
	closed  atomic.Bool
	done    chan struct{}
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backend: &memoryBackend{
			data:     make(map[string]*entry),
			watchers: make(map[*watcher]*MemoryStore),
		},
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
}

// View returns another handle onto the same data with its own ID.
// Closing a view only releases that view's watchers.
func (s *MemoryStore) View() *MemoryStore {
	return &MemoryStore{
		backend: s.backend,
		id:      uuid.NewString(),
		done:    make(chan struct{}),
	}
}

// ID returns the view identifier.
func (s *MemoryStore) ID() string {
	return s.id
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	kv, err := s.GetKeyValue(key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue retrieves the full KeyValue entry.
func (s *MemoryStore) GetKeyValue(key string) (*KeyValue, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	b := s.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	return &KeyValue{
		Key:       key,
		Value:     copyBytes(e.value),
		Revision:  e.revision,
		Operation: OpPut,
		Origin:    e.origin,
		Modified:  e.modified,
	}, nil
}

// Put stores a value and notifies watchers of every view.
func (s *MemoryStore) Put(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	b.revision++
	e := &entry{
		value:    copyBytes(value),
		revision: b.revision,
		origin:   s.id,
		modified: time.Now(),
	}
	if e.value == nil {
		e.value = []byte{}
	}
	b.data[key] = e

	b.notifyLocked(&KeyValue{
		Key:       key,
		Value:     copyBytes(e.value),
		Revision:  e.revision,
		Operation: OpPut,
		Origin:    s.id,
		Modified:  e.modified,
	})
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	b.revision++
	b.notifyLocked(&KeyValue{
		Key:       key,
		Revision:  b.revision,
		Operation: OpDelete,
		Origin:    s.id,
		Modified:  time.Now(),
	})
	return nil
}

// Keys returns all keys matching a pattern.
func (s *MemoryStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	b := s.backend
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.data {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch watches for changes to keys matching a pattern.
func (s *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := newWatcher(pattern)
	b := s.backend
	b.mu.Lock()
	b.watchers[w] = s
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		b.mu.Lock()
		delete(b.watchers, w)
		w.close()
		b.mu.Unlock()
	}()

	return w.ch, nil
}

// notifyLocked sends kv to matching watchers. Caller holds b.mu.
func (b *memoryBackend) notifyLocked(kv *KeyValue) {
	for w := range b.watchers {
		w.offer(kv)
	}
}

// Close shuts down this view and closes its watchers. Other views of
// the same data keep working.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	for w, owner := range b.watchers {
		if owner == s {
			w.close()
			delete(b.watchers, w)
		}
	}
	return nil
}
