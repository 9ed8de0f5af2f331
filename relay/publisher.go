package relay

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/hourglass/bus"
	"github.com/vinayprograms/hourglass/clock"
	herrors "github.com/vinayprograms/hourglass/errors"
	"github.com/vinayprograms/hourglass/logging"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Prefix for event subjects. Default "hourglass".
	Prefix string

	// Origin tags published events. Default: a random UUID.
	Origin string

	Clock  clock.Clock
	Logger *logging.Logger
}

// Publisher publishes a task store's archive events to a bus.
type Publisher struct {
	bus    bus.MessageBus
	prefix string
	origin string
	clock  clock.Clock
	logger *logging.Logger

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// NewPublisher subscribes to src and publishes every archive transition.
func NewPublisher(src ArchiveSource, b bus.MessageBus, cfg PublisherConfig) (*Publisher, error) {
	if src == nil || b == nil {
		return nil, herrors.InvalidInput("relay publisher needs a source and a bus")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if err := bus.ValidatePublishSubject(Subject(cfg.Prefix, EventArchived)); err != nil {
		return nil, herrors.WrapWithCode(err, herrors.ErrCodeInvalidInput, "invalid relay prefix",
			herrors.WithMetadata("prefix", cfg.Prefix))
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	p := &Publisher{
		bus:    b,
		prefix: cfg.Prefix,
		origin: cfg.Origin,
		clock:  cfg.Clock,
		logger: cfg.Logger.WithComponent("relay"),
	}
	p.unsubs = []func(){
		src.OnArchive(func(id string) { p.publish(EventArchived, id) }),
		src.OnUnarchive(func(id string) { p.publish(EventUnarchived, id) }),
	}
	return p, nil
}

// Origin returns the tag carried by this publisher's events.
func (p *Publisher) Origin() string {
	return p.origin
}

func (p *Publisher) publish(eventType, taskID string) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	data, err := encodeEvent(Event{
		Type:   eventType,
		TaskID: taskID,
		At:     p.clock.Now().UTC().Unix(),
		Origin: p.origin,
	})
	if err != nil {
		p.logger.Error("encode event", herrors.Wrap(err, "encode relay event", herrors.WithTaskID(taskID)).Fields())
		return
	}

	subject := Subject(p.prefix, eventType)
	if err := p.bus.Publish(subject, data); err != nil {
		code := herrors.ErrCodeNetworkErr
		if errors.Is(err, bus.ErrClosed) {
			code = herrors.ErrCodeUnavailable
		}
		p.logger.Warn("publish failed", herrors.WrapWithCode(err, code, "publish relay event",
			herrors.WithTaskID(taskID), herrors.WithMetadata("subject", subject)).Fields())
		return
	}
	p.logger.Debug("published", map[string]interface{}{
		"subject": subject,
		"task_id": taskID,
	})
}

// Close stops publishing and releases the store subscriptions.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return nil
}
