package bus

import (
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// --- Unit Tests ---

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.URL != nats.DefaultURL {
		t.Errorf("URL = %q, want %q", cfg.URL, nats.DefaultURL)
	}
	if cfg.Name != "hourglass" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("MaxReconnects = %d, want -1", cfg.MaxReconnects)
	}
	if cfg.BufferSize != 256 {
		t.Errorf("BufferSize = %d, want 256", cfg.BufferSize)
	}
}

func TestBuildNATSOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  NATSConfig
		want int
	}{
		{"base", NATSConfig{}, 3},
		{"named", NATSConfig{Name: "n"}, 4},
		{"token", NATSConfig{Name: "n", Token: "t"}, 5},
		{"user", NATSConfig{User: "u", Password: "p"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(buildNATSOptions(tt.cfg)); got != tt.want {
				t.Errorf("options = %d, want %d", got, tt.want)
			}
		})
	}
}

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	bus.Close()

	return url
}

// --- Integration Tests ---

func TestNATSBus_PubSub(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}
	defer bus.Close()

	sub, err := bus.Subscribe("hourglass.test.*")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.Publish("hourglass.test.archived", []byte("hello nats")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "hello nats" {
			t.Errorf("data = %q, want %q", msg.Data, "hello nats")
		}
		if msg.Subject != "hourglass.test.archived" {
			t.Errorf("subject = %q", msg.Subject)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestNATSBus_SharedConnection(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	conn, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer conn.Close()

	bus := NewNATSBusFromConn(conn, cfg)
	if bus.Conn() != conn {
		t.Error("Conn() should return the shared connection")
	}
	bus.Close()
	if conn.IsClosed() {
		t.Error("closing a bus built from a shared connection closed it")
	}
}

func TestNATSBus_Unsubscribe(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}
	defer bus.Close()

	sub, _ := bus.Subscribe("hourglass.test.unsub")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed")
	}
}

func TestNATSBus_ClosedConnection(t *testing.T) {
	url := getNATSURL(t)

	cfg := DefaultNATSConfig()
	cfg.URL = url
	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Fatalf("NewNATSBus error: %v", err)
	}
	bus.Close()

	if err := bus.Publish("hourglass.test", nil); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := bus.Subscribe("hourglass.test"); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
}
