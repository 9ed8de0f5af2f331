package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements StateStore using a NATS JetStream KV bucket.
// Every process (or view) with its own NATSStore on the same bucket
// sees the others' writes through Watch.
type NATSStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config NATSStoreConfig
	id     string
	closed atomic.Bool

	// Recent revisions written by this view.
	ownMu   sync.Mutex
	ownRevs map[uint64]struct{}
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32

	// Timeout bounds each KV round trip.
	// Default: 5s
	Timeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "hourglass",
		History:      1,
		MaxValueSize: 1024 * 1024, // 1MB
		Timeout:      5 * time.Second,
	}
}

// NewNATSStore creates a new NATS JetStream KV store.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	defaults := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = defaults.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = defaults.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		conn:    cfg.Conn,
		js:      js,
		kv:      kv,
		config:  cfg,
		id:      uuid.NewString(),
		ownRevs: make(map[uint64]struct{}),
	}, nil
}

// ID returns the view identifier.
func (s *NATSStore) ID() string {
	return s.id
}

func (s *NATSStore) timeout() time.Duration {
	if s.config.Timeout > 0 {
		return s.config.Timeout
	}
	return DefaultNATSStoreConfig().Timeout
}

// Get retrieves a value by key.
func (s *NATSStore) Get(key string) ([]byte, error) {
	kv, err := s.GetKeyValue(key)
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// GetKeyValue retrieves the full KeyValue entry.
func (s *NATSStore) GetKeyValue(key string) (*KeyValue, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}

	return s.fromEntry(entry), nil
}

// fromEntry converts a NATS entry, tagging revisions this view wrote.
func (s *NATSStore) fromEntry(entry jetstream.KeyValueEntry) *KeyValue {
	kv := &KeyValue{
		Key:       entry.Key(),
		Value:     entry.Value(),
		Revision:  entry.Revision(),
		Operation: opFromNATS(entry.Operation()),
		Modified:  entry.Created(), // NATS KV uses Created for last modified
	}
	if s.isOwn(entry.Revision()) {
		kv.Origin = s.id
	}
	return kv
}

// opFromNATS converts NATS operation to our Operation type.
func opFromNATS(op jetstream.KeyValueOp) Operation {
	switch op {
	case jetstream.KeyValuePut:
		return OpPut
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return OpDelete
	default:
		return OpPut
	}
}

// natsPattern converts a trailing-* pattern to a NATS subject filter.
func natsPattern(pattern string) string {
	if pattern == "*" {
		return ">"
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.TrimSuffix(pattern, "*") + ">"
	}
	return pattern
}

// ownWindow bounds how many recent own revisions are remembered.
const ownWindow = 1024

func (s *NATSStore) rememberOwn(rev uint64) {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()

	s.ownRevs[rev] = struct{}{}
	if len(s.ownRevs) > ownWindow && rev > ownWindow {
		for r := range s.ownRevs {
			if r <= rev-ownWindow {
				delete(s.ownRevs, r)
			}
		}
	}
}

func (s *NATSStore) isOwn(rev uint64) bool {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	_, ok := s.ownRevs[rev]
	return ok
}

// Put stores a value.
func (s *NATSStore) Put(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()

	rev, err := s.kv.Put(ctx, key, value)
	if err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	s.rememberOwn(rev)
	return nil
}

// Delete removes a key.
func (s *NATSStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()

	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Keys returns all keys matching a pattern.
func (s *NATSStore) Keys(pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*s.timeout())
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch watches for changes to keys matching a pattern. Only updates
// after the call are reported.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	filter := natsPattern(pattern)

	var kw jetstream.KeyWatcher
	var err error
	if filter == ">" {
		kw, err = s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	} else {
		kw, err = s.kv.Watch(ctx, filter, jetstream.UpdatesOnly())
	}
	if err != nil {
		return nil, fmt.Errorf("kv watch: %w", err)
	}

	ch := make(chan *KeyValue, watchBuffer)
	go s.watchLoop(ctx, kw, ch, pattern)
	return ch, nil
}

// watchLoop processes watch updates until ctx ends or the store closes.
func (s *NATSStore) watchLoop(ctx context.Context, kw jetstream.KeyWatcher, ch chan *KeyValue, pattern string) {
	defer close(ch)
	defer kw.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-kw.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue // Initial sync complete marker
			}
			if !MatchPattern(pattern, entry.Key()) {
				continue
			}

			sendLatest(ch, s.fromEntry(entry))
		}

		if s.closed.Load() {
			return
		}
	}
}

// Close marks the store closed. The NATS connection belongs to the
// caller and stays open.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}
