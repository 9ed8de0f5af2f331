package relay

import (
	"context"

	"github.com/vinayprograms/hourglass/bus"
	herrors "github.com/vinayprograms/hourglass/errors"
	"github.com/vinayprograms/hourglass/logging"
)

// FollowOption configures Follow.
type FollowOption func(*followConfig)

type followConfig struct {
	logger       *logging.Logger
	ignoreOrigin string
	ready        chan<- struct{}
}

// WithLogger sets the logger for malformed events.
func WithLogger(l *logging.Logger) FollowOption {
	return func(c *followConfig) { c.logger = l }
}

// IgnoreOrigin skips events published with the given origin, so a host
// that both publishes and follows does not count its own archives twice.
func IgnoreOrigin(origin string) FollowOption {
	return func(c *followConfig) { c.ignoreOrigin = origin }
}

// NotifyReady closes ch once the subscription is active.
func NotifyReady(ch chan<- struct{}) FollowOption {
	return func(c *followConfig) { c.ready = ch }
}

// Follow consumes archive events under prefix and applies them to sink
// until ctx is done or the subscription ends. It returns ctx.Err() on
// cancellation and nil when the bus closes the subscription.
func Follow(ctx context.Context, b bus.MessageBus, prefix string, sink GrainSink, opts ...FollowOption) error {
	cfg := followConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.New()
	}
	logger := cfg.logger.WithComponent("relay")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	sub, err := b.Subscribe(prefix + ".*")
	if err != nil {
		return herrors.Wrap(err, "subscribe to relay events", herrors.WithMetadata("prefix", prefix))
	}
	defer sub.Unsubscribe()

	if cfg.ready != nil {
		close(cfg.ready)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			event, err := decodeEvent(msg.Data)
			if err != nil {
				logger.Warn("dropping malformed event", herrors.WrapWithCode(err, herrors.ErrCodeCorruption,
					"decode relay event", herrors.WithMetadata("subject", msg.Subject)).Fields())
				continue
			}
			if cfg.ignoreOrigin != "" && event.Origin == cfg.ignoreOrigin {
				continue
			}
			switch event.Type {
			case EventArchived:
				sink.AddGrain()
			case EventUnarchived:
				sink.RemoveGrain()
			}
		}
	}
}
