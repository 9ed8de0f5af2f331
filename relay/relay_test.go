package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/hourglass/bus"
	"github.com/vinayprograms/hourglass/clock"
	"github.com/vinayprograms/hourglass/logging"
	"github.com/vinayprograms/hourglass/state"
	"github.com/vinayprograms/hourglass/tasks"
)

type countingSink struct {
	mu      sync.Mutex
	added   int
	removed int
}

func (s *countingSink) AddGrain() {
	s.mu.Lock()
	s.added++
	s.mu.Unlock()
}

func (s *countingSink) RemoveGrain() {
	s.mu.Lock()
	s.removed++
	s.mu.Unlock()
}

func (s *countingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.added, s.removed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newStore(t *testing.T) *tasks.Store {
	t.Helper()
	s := tasks.NewStore(tasks.StoreConfig{State: state.NewMemoryStore(), Logger: logging.Discard()})
	t.Cleanup(func() { s.Close() })
	return s
}

// startFollow runs Follow until the test ends.
func startFollow(t *testing.T, b bus.MessageBus, prefix string, sink GrainSink, opts ...FollowOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	opts = append(opts, NotifyReady(ready), WithLogger(logging.Discard()))
	go func() {
		defer close(done)
		Follow(ctx, b, prefix, sink, opts...)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("Follow never became ready")
	}
}

// === Events ===

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"archived", `{"type":"archived","taskId":"a","at":1}`, false},
		{"unarchived", `{"type":"unarchived","taskId":"a","at":1}`, false},
		{"unknown type", `{"type":"deleted","taskId":"a","at":1}`, true},
		{"missing task", `{"type":"archived","at":1}`, true},
		{"not json", `archived`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEvent([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeEvent err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("office", EventArchived); got != "office.archived" {
		t.Errorf("Subject = %q", got)
	}
}

// === Publisher ===

func TestPublisher_PublishesArchiveEvents(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	store := newStore(t)

	sub, err := b.Subscribe("office.*")
	if err != nil {
		t.Fatal(err)
	}

	clk := clock.Fake(time.Unix(1700000000, 0))
	pub, err := NewPublisher(store, b, PublisherConfig{Prefix: "office", Origin: "desk-1", Clock: clk, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	task := store.AddTask("x")
	store.ArchiveTask(task.ID)
	store.UnarchiveTask(task.ID)

	want := []struct {
		subject string
		typ     string
	}{
		{"office.archived", EventArchived},
		{"office.unarchived", EventUnarchived},
	}
	for _, w := range want {
		select {
		case msg := <-sub.Messages():
			if msg.Subject != w.subject {
				t.Errorf("subject = %q, want %q", msg.Subject, w.subject)
			}
			var e Event
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if e.Type != w.typ || e.TaskID != task.ID || e.At != 1700000000 || e.Origin != "desk-1" {
				t.Errorf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", w.subject)
		}
	}
}

func TestPublisher_Close(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	store := newStore(t)
	sub, _ := b.Subscribe("hourglass.*")

	pub, err := NewPublisher(store, b, PublisherConfig{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if pub.Origin() == "" {
		t.Error("Origin should default to a generated id")
	}
	pub.Close()
	pub.Close()

	task := store.AddTask("x")
	store.ArchiveTask(task.ID)
	select {
	case msg := <-sub.Messages():
		t.Errorf("published after Close: %s", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublisher_ClosedBusDoesNotPanic(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	store := newStore(t)
	pub, err := NewPublisher(store, b, PublisherConfig{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	b.Close()

	task := store.AddTask("x")
	store.ArchiveTask(task.ID)
	if len(store.ArchivedTasks()) != 1 {
		t.Error("archive should succeed even when the bus is closed")
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	store := newStore(t)

	if _, err := NewPublisher(nil, b, PublisherConfig{}); err == nil {
		t.Error("nil source should fail")
	}
	if _, err := NewPublisher(store, nil, PublisherConfig{}); err == nil {
		t.Error("nil bus should fail")
	}
	if _, err := NewPublisher(store, b, PublisherConfig{Prefix: "a.*"}); err == nil {
		t.Error("wildcard prefix should fail")
	}
}

// === Follow ===

func TestFollow_DrivesSink(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sink := &countingSink{}
	startFollow(t, b, "office", sink)

	publish := func(e Event) {
		data, _ := json.Marshal(e)
		if err := b.Publish(Subject("office", e.Type), data); err != nil {
			t.Fatal(err)
		}
	}
	publish(Event{Type: EventArchived, TaskID: "a"})
	publish(Event{Type: EventArchived, TaskID: "b"})
	publish(Event{Type: EventUnarchived, TaskID: "a"})
	b.Publish("office.archived", []byte("garbage"))
	b.Publish("elsewhere.archived", []byte(`{"type":"archived","taskId":"z"}`))

	waitFor(t, "sink to see events", func() bool {
		added, removed := sink.counts()
		return added == 2 && removed == 1
	})
}

func TestFollow_RoundTrip(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	store := newStore(t)

	pub, err := NewPublisher(store, b, PublisherConfig{Prefix: "desk", Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	remote := &countingSink{}
	startFollow(t, b, "desk", remote)

	a := store.AddTask("a")
	c := store.AddTask("c")
	store.ArchiveTask(a.ID)
	store.ArchiveTask(c.ID)
	store.UnarchiveTask(a.ID)

	waitFor(t, "remote sink to follow the store", func() bool {
		added, removed := remote.counts()
		return added == 2 && removed == 1
	})
}

func TestFollow_IgnoreOrigin(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	store := newStore(t)

	pub, err := NewPublisher(store, b, PublisherConfig{Origin: "self", Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	sink := &countingSink{}
	startFollow(t, b, DefaultPrefix, sink, IgnoreOrigin("self"))

	task := store.AddTask("x")
	store.ArchiveTask(task.ID)

	data, _ := json.Marshal(Event{Type: EventArchived, TaskID: "other", Origin: "peer"})
	b.Publish(Subject(DefaultPrefix, EventArchived), data)

	waitFor(t, "peer event", func() bool {
		added, _ := sink.counts()
		return added == 1
	})
	time.Sleep(20 * time.Millisecond)
	if added, _ := sink.counts(); added != 1 {
		t.Errorf("added = %d, own events should be skipped", added)
	}
}

func TestFollow_ContextCancel(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Follow(ctx, b, "x", &countingSink{}, WithLogger(logging.Discard())) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Follow = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}

func TestFollow_BusClosed(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- Follow(context.Background(), b, "x", &countingSink{}, NotifyReady(ready), WithLogger(logging.Discard()))
	}()
	<-ready
	b.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Follow = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after bus close")
	}

	if err := Follow(context.Background(), b, "x", &countingSink{}, WithLogger(logging.Discard())); err == nil {
		t.Error("Follow on a closed bus should fail")
	}
}
