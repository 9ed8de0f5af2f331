// Package config loads hourglass settings from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/hourglass/bus"
	"github.com/vinayprograms/hourglass/hourglass"
	"github.com/vinayprograms/hourglass/logging"
	"github.com/vinayprograms/hourglass/state"
	"github.com/vinayprograms/hourglass/tasks"
)

// EnvConfigPath names an explicit config file. It takes priority over
// the standard locations.
const EnvConfigPath = "HOURGLASS_CONFIG"

// EnvNATSToken supplies the NATS token when the file leaves it empty.
const EnvNATSToken = "HOURGLASS_NATS_TOKEN"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendNATS   = "nats"
)

// Config is the full hourglass configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Storage StorageConfig `toml:"storage"`
	Glass   GlassConfig   `toml:"glass"`
	Relay   RelayConfig   `toml:"relay"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	Backend string     `toml:"backend"`
	Dir     string     `toml:"dir"` // file backend profile directory
	Key     string     `toml:"key"` // key holding the task list
	NATS    NATSConfig `toml:"nats"`
}

// NATSConfig configures the NATS KV backend.
type NATSConfig struct {
	URL     string   `toml:"url"`
	Bucket  string   `toml:"bucket"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// GlassConfig sets the hourglass geometry and frame timings.
type GlassConfig struct {
	MaxGrains   int      `toml:"max_grains"`
	Rows        int      `toml:"rows"`
	FallFrame   Duration `toml:"fall_frame"`
	BounceFrame Duration `toml:"bounce_frame"`
	SettleFrame Duration `toml:"settle_frame"`
	QueueDelay  Duration `toml:"queue_delay"`
}

// RelayConfig enables publishing archive events to a bus.
type RelayConfig struct {
	Enabled       bool   `toml:"enabled"`
	SubjectPrefix string `toml:"subject_prefix"`
	NATSURL       string `toml:"nats_url"` // empty = in-process bus
}

// Duration is a time.Duration written as a string ("60ms") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			Backend: BackendFile,
			Dir:     defaultDataDir(),
			Key:     tasks.DefaultKey,
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Bucket:  state.DefaultNATSStoreConfig().Bucket,
				Timeout: Duration{5 * time.Second},
			},
		},
		Glass: GlassConfig{
			MaxGrains:   hourglass.DefaultMaxGrains,
			Rows:        hourglass.DefaultRows,
			FallFrame:   Duration{hourglass.DefaultFallFrame},
			BounceFrame: Duration{hourglass.DefaultBounceFrame},
			SettleFrame: Duration{hourglass.DefaultSettleFrame},
			QueueDelay:  Duration{hourglass.DefaultQueueDelay},
		},
		Relay: RelayConfig{
			SubjectPrefix: "hourglass",
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "hourglass", "data")
	}
	return ".hourglass"
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{}

	// 1. Explicit override
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}

	// 2. Current directory
	paths = append(paths, "hourglass.toml")

	// 3. ~/.config/hourglass/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hourglass", "config.toml"))
	}

	return paths
}

// Load reads the first config file found in StandardPaths. With no file
// it returns Default and an empty path.
func Load() (Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, "", cfg.Validate()
}

// LoadFile reads path over the defaults and validates the result.
// Unknown keys are an error.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Storage.NATS.Token == "" {
		c.Storage.NATS.Token = os.Getenv(EnvNATSToken)
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendNATS:
	case BackendFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir: required for the file backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want memory, file or nats)", c.Storage.Backend)
	}
	if err := state.ValidateKey(c.Storage.Key); err != nil {
		return fmt.Errorf("storage.key: %w", err)
	}
	if c.Storage.Backend == BackendNATS {
		if c.Storage.NATS.URL == "" {
			return fmt.Errorf("storage.nats.url: required for the nats backend")
		}
		if c.Storage.NATS.Timeout.Duration <= 0 {
			return fmt.Errorf("storage.nats.timeout: must be positive")
		}
	}

	g := c.Glass
	if g.MaxGrains <= 0 {
		return fmt.Errorf("glass.max_grains: must be positive")
	}
	if g.Rows <= 0 {
		return fmt.Errorf("glass.rows: must be positive")
	}
	frames := []struct {
		name string
		d    Duration
	}{
		{"fall_frame", g.FallFrame},
		{"bounce_frame", g.BounceFrame},
		{"settle_frame", g.SettleFrame},
		{"queue_delay", g.QueueDelay},
	}
	for _, f := range frames {
		if f.d.Duration <= 0 {
			return fmt.Errorf("glass.%s: must be positive", f.name)
		}
	}

	if c.Relay.Enabled {
		if err := bus.ValidatePublishSubject(c.Relay.SubjectPrefix + ".archived"); err != nil {
			return fmt.Errorf("relay.subject_prefix: %w", err)
		}
	}
	return nil
}
