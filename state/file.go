package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// fileExt is appended to every key to form its file name.
const fileExt = ".json"

// FileStore implements StateStore with one file per key in a profile
// directory. Any number of processes may open the same directory; each
// one observes the others' writes through fsnotify.
type FileStore struct {
	dir    string
	id     string
	closed atomic.Bool

	mu       sync.Mutex
	watchers []*watcher
	fsw      *fsnotify.Watcher
	done     chan struct{}
	loopDone chan struct{}
}

// envelope is the on-disk form of an entry.
type envelope struct {
	Origin   string    `json:"origin"`
	Revision uint64    `json:"revision"`
	Modified time.Time `json:"modified"`
	Value    string    `json:"value"`
}

// NewFileStore opens (creating if needed) a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch store dir: %w", err)
	}

	s := &FileStore{
		dir:      dir,
		id:       uuid.NewString(),
		fsw:      fsw,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.eventLoop()
	return s, nil
}

// ID returns the view identifier.
func (s *FileStore) ID() string {
	return s.id
}

// Dir returns the profile directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// keyFromPath maps a file name back to a key. Hidden files are
// in-flight temporaries and never map to a key.
func keyFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key := strings.TrimSuffix(name, fileExt)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// Get retrieves a value by key.
func (s *FileStore) Get(key string) ([]byte, error) {
	kv, err := s.GetKeyValue(key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue retrieves the full KeyValue entry.
func (s *FileStore) GetKeyValue(key string) (*KeyValue, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.read(key)
}

func (s *FileStore) read(key string) (*KeyValue, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	return &KeyValue{
		Key:       key,
		Value:     []byte(env.Value),
		Revision:  env.Revision,
		Operation: OpPut,
		Origin:    env.Origin,
		Modified:  env.Modified,
	}, nil
}

// Put writes the value to a temporary file and renames it into place
// so readers never see a partial write.
func (s *FileStore) Put(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	now := time.Now()
	data, err := json.Marshal(envelope{
		Origin:   s.id,
		Revision: uint64(now.UnixNano()),
		Modified: now.UTC(),
		Value:    string(value),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (s *FileStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys matching a pattern.
func (s *FileStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := keyFromPath(e.Name())
		if ok && MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch watches for changes to keys matching a pattern.
func (s *FileStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := newWatcher(pattern)
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.removeWatcher(w)
	}()

	return w.ch, nil
}

func (s *FileStore) removeWatcher(target *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.watchers {
		if w == target {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
	target.close()
}

// eventLoop turns file system events into KeyValue notifications.
func (s *FileStore) eventLoop() {
	defer close(s.loopDone)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case _, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			// Overflow or transient watch errors; the next event for
			// the key carries the full value anyway.
		}
	}
}

func (s *FileStore) handleEvent(ev fsnotify.Event) {
	key, ok := keyFromPath(ev.Name)
	if !ok {
		return
	}

	var kv *KeyValue
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		got, err := s.read(key)
		if err != nil {
			// Vanished or half-written by a foreign writer; a later
			// event will carry the settled contents.
			return
		}
		kv = got
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kv = &KeyValue{
			Key:       key,
			Operation: OpDelete,
			Modified:  time.Now(),
		}
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watchers {
		w.offer(kv)
	}
}

// Close stops the file watcher and closes all watch channels.
func (s *FileStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)
	err := s.fsw.Close()
	<-s.loopDone

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watchers {
		w.close()
	}
	s.watchers = nil
	return err
}
