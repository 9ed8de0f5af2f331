package theme

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vinayprograms/hourglass/logging"
	"github.com/vinayprograms/hourglass/state"
)

func TestThemes(t *testing.T) {
	got := Themes()
	want := []Theme{Terminal, Dark, Light}
	if len(got) != len(want) {
		t.Fatalf("Themes() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Themes()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	got[0] = "mutated"
	if Themes()[0] != Terminal {
		t.Error("Themes() should return a copy")
	}
}

func TestTheme_Valid(t *testing.T) {
	tests := []struct {
		theme Theme
		want  bool
	}{
		{Terminal, true},
		{Dark, true},
		{Light, true},
		{"", false},
		{"Dark", false},
		{"solarized", false},
	}
	for _, tt := range tests {
		if got := tt.theme.Valid(); got != tt.want {
			t.Errorf("Theme(%q).Valid() = %v, want %v", tt.theme, got, tt.want)
		}
	}
}

func TestStore_Load(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		put    bool
		want   Theme
	}{
		{"absent", "", false, Terminal},
		{"dark", "dark", true, Dark},
		{"light", "light", true, Light},
		{"invalid", "neon", true, Terminal},
		{"empty", "", true, Terminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := state.NewMemoryStore()
			if tt.put {
				if err := mem.Put(Key, []byte(tt.stored)); err != nil {
					t.Fatal(err)
				}
			}
			s := NewStore(mem, logging.Discard())
			if got := s.Theme(); got != tt.want {
				t.Errorf("Theme() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStore_LoadFromClosedStore(t *testing.T) {
	mem := state.NewMemoryStore()
	mem.Put(Key, []byte("dark"))
	mem.Close()

	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	s := NewStore(mem, logger)
	if s.Theme() != Terminal {
		t.Errorf("Theme() = %s, want default", s.Theme())
	}
	if !strings.Contains(buf.String(), "code=UNAVAILABLE") {
		t.Errorf("expected UNAVAILABLE in log, got %q", buf.String())
	}
}

func TestStore_SetTheme(t *testing.T) {
	mem := state.NewMemoryStore()
	s := NewStore(mem, logging.Discard())

	s.SetTheme(Light)
	if !s.IsLight() || s.IsDark() || s.IsTerminal() {
		t.Errorf("flags wrong after SetTheme(light): %s", s.Theme())
	}
	data, err := mem.Get(Key)
	if err != nil || string(data) != "light" {
		t.Errorf("persisted = %q, %v; want light", data, err)
	}

	reopened := NewStore(mem, logging.Discard())
	if reopened.Theme() != Light {
		t.Errorf("reopened Theme() = %s, want light", reopened.Theme())
	}
}

func TestStore_SetInvalidTheme(t *testing.T) {
	mem := state.NewMemoryStore()
	s := NewStore(mem, logging.Discard())
	s.SetTheme(Dark)
	s.SetTheme("neon")

	if s.Theme() != Dark {
		t.Errorf("Theme() = %s, want dark", s.Theme())
	}
	data, _ := mem.Get(Key)
	if string(data) != "dark" {
		t.Errorf("persisted = %q, want dark", data)
	}
}

func TestStore_NilState(t *testing.T) {
	s := NewStore(nil, nil)
	if !s.IsTerminal() {
		t.Error("nil state should default to terminal")
	}
	s.SetTheme(Dark)
	if !s.IsDark() {
		t.Error("SetTheme should apply in memory without a backing store")
	}
	if len(s.Themes()) != 3 {
		t.Error("Themes() should list three themes")
	}
}
