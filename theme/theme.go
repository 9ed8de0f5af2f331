// Package theme stores the user's display theme preference.
package theme

import (
	"errors"
	"sync"

	herrors "github.com/vinayprograms/hourglass/errors"
	"github.com/vinayprograms/hourglass/logging"
	"github.com/vinayprograms/hourglass/state"
)

// Theme is a display theme name.
type Theme string

const (
	Terminal Theme = "terminal"
	Dark     Theme = "dark"
	Light    Theme = "light"
)

// Default is used when nothing valid is stored.
const Default = Terminal

// Key is the backing-store key holding the theme.
const Key = "theme"

var valid = []Theme{Terminal, Dark, Light}

// Themes returns the valid themes in display order.
func Themes() []Theme {
	out := make([]Theme, len(valid))
	copy(out, valid)
	return out
}

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	for _, v := range valid {
		if t == v {
			return true
		}
	}
	return false
}

// Store holds the current theme and persists changes.
type Store struct {
	mu     sync.RWMutex
	theme  Theme
	state  state.StateStore
	logger *logging.Logger
}

// NewStore loads the stored theme. A nil state keeps the preference in
// memory only.
func NewStore(st state.StateStore, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.New()
	}
	s := &Store{
		theme:  Default,
		state:  st,
		logger: logger.WithComponent("theme"),
	}
	s.theme = s.load()
	return s
}

func (s *Store) load() Theme {
	if s.state == nil {
		return Default
	}
	data, err := s.state.Get(Key)
	if errors.Is(err, state.ErrNotFound) {
		return Default
	}
	if err != nil {
		s.logger.StorageFailure("load", classify(err, "read theme").Fields())
		return Default
	}
	t := Theme(data)
	if !t.Valid() {
		s.logger.StorageFailure("load", herrors.Corruption("stored theme is not a known theme",
			herrors.WithKey(Key), herrors.WithMetadata("value", string(data))).Fields())
		return Default
	}
	return t
}

// Theme returns the current theme.
func (s *Store) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// IsTerminal reports whether the terminal theme is active.
func (s *Store) IsTerminal() bool { return s.Theme() == Terminal }

// IsDark reports whether the dark theme is active.
func (s *Store) IsDark() bool { return s.Theme() == Dark }

// IsLight reports whether the light theme is active.
func (s *Store) IsLight() bool { return s.Theme() == Light }

// Themes returns the valid themes.
func (s *Store) Themes() []Theme {
	return Themes()
}

// SetTheme switches and persists the theme. Unknown themes are ignored.
func (s *Store) SetTheme(t Theme) {
	if !t.Valid() {
		s.logger.Warn("ignoring unknown theme", herrors.InvalidInput("unknown theme",
			herrors.WithMetadata("theme", string(t))).Fields())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = t

	if s.state == nil {
		return
	}
	if err := s.state.Put(Key, []byte(t)); err != nil {
		s.logger.StorageFailure("save", classify(err, "write theme").Fields())
	}
}

func classify(err error, msg string) *herrors.Error {
	if errors.Is(err, state.ErrClosed) || errors.Is(err, state.ErrUnavailable) {
		return herrors.WrapWithCode(err, herrors.ErrCodeUnavailable, msg, herrors.WithKey(Key))
	}
	return herrors.Wrap(err, msg, herrors.WithKey(Key))
}
