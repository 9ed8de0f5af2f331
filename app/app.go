// Package app assembles an hourglass host from configuration: backing
// store, task store, theme, glass, and the optional event relay.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/hourglass/bus"
	"github.com/vinayprograms/hourglass/clock"
	"github.com/vinayprograms/hourglass/config"
	herrors "github.com/vinayprograms/hourglass/errors"
	"github.com/vinayprograms/hourglass/hourglass"
	"github.com/vinayprograms/hourglass/logging"
	"github.com/vinayprograms/hourglass/relay"
	"github.com/vinayprograms/hourglass/shutdown"
	"github.com/vinayprograms/hourglass/state"
	"github.com/vinayprograms/hourglass/tasks"
	"github.com/vinayprograms/hourglass/theme"
)

// Option customizes New.
type Option func(*options)

type options struct {
	state  state.StateStore
	clock  clock.Clock
	logger *logging.Logger
	bus    bus.MessageBus
}

// WithState uses st instead of opening the configured backend. The app
// does not close it.
func WithState(st state.StateStore) Option {
	return func(o *options) { o.state = st }
}

// WithClock sets the clock for timestamps and animation.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. The configured level is not applied.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBus sets the relay bus. The app does not close it.
func WithBus(b bus.MessageBus) Option {
	return func(o *options) { o.bus = b }
}

// App is a wired hourglass host.
type App struct {
	cfg    config.Config
	logger *logging.Logger
	clock  clock.Clock

	state     state.StateStore
	bus       bus.MessageBus
	tasks     *tasks.Store
	theme     *theme.Store
	glass     *hourglass.Glass
	publisher *relay.Publisher

	coord    *shutdown.Coordinator
	backends []func() error

	mu       sync.Mutex
	closeErr error
	closed   bool
}

// New opens the configured backend and wires the components. The glass
// starts filled to the number of archived tasks; every later archive
// animates one grain in and every unarchive removes one.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, herrors.WrapWithCode(err, herrors.ErrCodeInvalidInput, "invalid configuration")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.logger == nil {
		o.logger = logging.New()
		level, _ := logging.ParseLevel(cfg.Log.Level)
		o.logger.SetLevel(level)
	}

	a := &App{
		cfg:    cfg,
		logger: o.logger.WithComponent("app"),
		clock:  o.clock,
		coord: shutdown.NewCoordinator(shutdown.Config{
			ContinueOnError: true,
			Logger:          o.logger.WithComponent("shutdown"),
		}),
	}

	// Owned backends close after the stores: relay bus, backing store,
	// then the NATS connection.
	a.coord.RegisterFuncWithPhase("backends", func(context.Context) error {
		var errs []error
		for _, closeFn := range a.backends {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, shutdown.PhaseBackends)

	var conn *nats.Conn
	a.state = o.state
	if a.state == nil {
		st, c, err := openState(cfg)
		if err != nil {
			return nil, err
		}
		a.state, conn = st, c
		a.backends = append(a.backends, st.Close)
		if conn != nil {
			a.backends = append(a.backends, func() error {
				conn.Close()
				return nil
			})
		}
	}

	a.tasks = tasks.NewStore(tasks.StoreConfig{
		State:  a.state,
		Key:    cfg.Storage.Key,
		Clock:  o.clock,
		Logger: o.logger,
	})
	a.coord.RegisterWithPhase("tasks", shutdown.Closer(a.tasks.Close), shutdown.PhaseStores)

	a.theme = theme.NewStore(a.state, o.logger)

	a.glass = hourglass.New(hourglass.Config{
		MaxGrains:   cfg.Glass.MaxGrains,
		Rows:        cfg.Glass.Rows,
		FallFrame:   cfg.Glass.FallFrame.Duration,
		BounceFrame: cfg.Glass.BounceFrame.Duration,
		SettleFrame: cfg.Glass.SettleFrame.Duration,
		QueueDelay:  cfg.Glass.QueueDelay.Duration,
		Clock:       o.clock,
		Logger:      o.logger,
	})
	a.glass.SetInitialCount(len(a.tasks.ArchivedTasks()))
	unsubArchive := a.tasks.OnArchive(func(string) { a.glass.AddGrain() })
	unsubUnarchive := a.tasks.OnUnarchive(func(string) { a.glass.RemoveGrain() })
	a.coord.RegisterFuncWithPhase("hourglass", func(context.Context) error {
		unsubArchive()
		unsubUnarchive()
		a.glass.Close()
		return nil
	}, shutdown.PhaseGlass)

	if cfg.Relay.Enabled {
		if err := a.startRelay(o.bus, conn); err != nil {
			a.Close(context.Background())
			return nil, err
		}
	}

	a.logger.Info("started", map[string]interface{}{
		"backend":  a.backendName(o.state != nil),
		"archived": a.glass.GrainCount(),
		"tasks":    a.tasks.Len(),
		"relay":    cfg.Relay.Enabled,
	})
	return a, nil
}

func (a *App) backendName(injected bool) string {
	if injected {
		return "injected"
	}
	return a.cfg.Storage.Backend
}

// openState opens the configured backend. For NATS it also returns the
// connection so the relay can share it.
func openState(cfg config.Config) (state.StateStore, *nats.Conn, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return state.NewMemoryStore(), nil, nil

	case config.BackendFile:
		st, err := state.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, herrors.WrapWithCode(err, herrors.ErrCodeUnavailable, "open file store",
				herrors.WithMetadata("dir", cfg.Storage.Dir))
		}
		return st, nil, nil

	case config.BackendNATS:
		nc := cfg.Storage.NATS
		conn, err := bus.Connect(bus.NATSConfig{
			URL:            nc.URL,
			Name:           "hourglass",
			Token:          nc.Token,
			MaxReconnects:  -1,
			ReconnectWait:  bus.DefaultNATSConfig().ReconnectWait,
			ConnectTimeout: nc.Timeout.Duration,
		})
		if err != nil {
			return nil, nil, herrors.WrapWithCode(err, herrors.ErrCodeNetworkErr, "connect to nats",
				herrors.WithMetadata("url", nc.URL))
		}
		st, err := state.NewNATSStore(state.NATSStoreConfig{
			Conn:    conn,
			Bucket:  nc.Bucket,
			Timeout: nc.Timeout.Duration,
		})
		if err != nil {
			conn.Close()
			return nil, nil, herrors.WrapWithCode(err, herrors.ErrCodeUnavailable, "open nats kv store",
				herrors.WithMetadata("bucket", nc.Bucket))
		}
		return st, conn, nil
	}
	return nil, nil, herrors.Newf(herrors.ErrCodeUnsupported, "unknown storage backend %q", cfg.Storage.Backend)
}

// startRelay picks a bus and starts publishing archive events. An
// injected bus wins, then relay.nats_url, then the storage connection,
// and finally an in-process bus.
func (a *App) startRelay(injected bus.MessageBus, conn *nats.Conn) error {
	b := injected
	switch {
	case b != nil:
	case a.cfg.Relay.NATSURL != "":
		cfg := bus.DefaultNATSConfig()
		cfg.URL = a.cfg.Relay.NATSURL
		cfg.Token = a.cfg.Storage.NATS.Token
		nb, err := bus.NewNATSBus(cfg)
		if err != nil {
			return herrors.WrapWithCode(err, herrors.ErrCodeNetworkErr, "connect relay bus",
				herrors.WithMetadata("url", a.cfg.Relay.NATSURL))
		}
		b = nb
		a.backends = append([]func() error{nb.Close}, a.backends...)
	case conn != nil:
		b = bus.NewNATSBusFromConn(conn, bus.DefaultNATSConfig())
	default:
		mb := bus.NewMemoryBus(bus.DefaultConfig())
		b = mb
		a.backends = append([]func() error{mb.Close}, a.backends...)
	}
	a.bus = b

	pub, err := relay.NewPublisher(a.tasks, b, relay.PublisherConfig{
		Prefix: a.cfg.Relay.SubjectPrefix,
		Clock:  a.clock,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.publisher = pub
	a.coord.RegisterWithPhase("relay", shutdown.Closer(pub.Close), shutdown.PhaseRelay)
	return nil
}

// Tasks returns the task store.
func (a *App) Tasks() *tasks.Store { return a.tasks }

// Glass returns the hourglass.
func (a *App) Glass() *hourglass.Glass { return a.glass }

// Theme returns the theme store.
func (a *App) Theme() *theme.Store { return a.theme }

// Bus returns the relay bus, or nil when the relay is disabled.
func (a *App) Bus() bus.MessageBus { return a.bus }

// Follow drives this app's glass from archive events published by other
// hosts on the relay bus, skipping this host's own events. It blocks
// until ctx is done.
func (a *App) Follow(ctx context.Context, opts ...relay.FollowOption) error {
	if a.bus == nil || a.publisher == nil {
		return herrors.New(herrors.ErrCodeUnavailable, "relay is disabled")
	}
	opts = append([]relay.FollowOption{
		relay.WithLogger(a.logger),
		relay.IgnoreOrigin(a.publisher.Origin()),
	}, opts...)
	return relay.Follow(ctx, a.bus, a.cfg.Relay.SubjectPrefix, a.glass, opts...)
}

// Close shuts components down in phase order: relay, glass, stores,
// backends. Later calls return the first call's result.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return a.closeErr
	}
	a.closed = true

	err := a.coord.Shutdown(ctx)
	if errors.Is(err, shutdown.ErrAlreadyShutdown) {
		err = a.coord.Err()
	}
	a.closeErr = err
	return err
}
