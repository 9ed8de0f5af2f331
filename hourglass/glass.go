package hourglass

import (
	"math"
	"sync"
	"time"

	"github.com/vinayprograms/hourglass/clock"
	"github.com/vinayprograms/hourglass/logging"
)

// Default geometry and frame timings.
const (
	DefaultMaxGrains   = 52
	DefaultRows        = 8
	DefaultFallFrame   = 60 * time.Millisecond
	DefaultBounceFrame = 80 * time.Millisecond
	DefaultSettleFrame = 100 * time.Millisecond
	DefaultQueueDelay  = 100 * time.Millisecond
)

// Phase is the animation phase of the grain in flight.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseFalling
	PhaseBouncing
	PhaseSettling
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseFalling:
		return "falling"
	case PhaseBouncing:
		return "bouncing"
	case PhaseSettling:
		return "settling"
	default:
		return "none"
	}
}

// Config configures a Glass. Zero values take the defaults.
type Config struct {
	MaxGrains   int
	Rows        int // fillable rows in the bottom chamber
	FallFrame   time.Duration
	BounceFrame time.Duration
	SettleFrame time.Duration
	QueueDelay  time.Duration
	Clock       clock.Clock
	Logger      *logging.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxGrains <= 0 {
		c.MaxGrains = DefaultMaxGrains
	}
	if c.Rows <= 0 {
		c.Rows = DefaultRows
	}
	if c.FallFrame <= 0 {
		c.FallFrame = DefaultFallFrame
	}
	if c.BounceFrame <= 0 {
		c.BounceFrame = DefaultBounceFrame
	}
	if c.SettleFrame <= 0 {
		c.SettleFrame = DefaultSettleFrame
	}
	if c.QueueDelay <= 0 {
		c.QueueDelay = DefaultQueueDelay
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = logging.New()
	}
	return c
}

// Snapshot is a consistent copy of the glass state.
type Snapshot struct {
	GrainCount      int
	PendingGrains   int
	IsAnimating     bool
	Phase           Phase
	FallingPosition int // -1 when no grain is falling
	TargetRow       int
	BounceOffset    int // 1 while bounced up
	SettleHighlight bool
	FillPercentage  float64
}

// Glass is the animation state machine. All methods are safe for
// concurrent use.
type Glass struct {
	cfg    Config
	logger *logging.Logger

	mu              sync.Mutex
	grainCount      int
	pendingGrains   int
	isAnimating     bool
	phase           Phase
	fallingPosition int
	targetRow       int
	bounceOffset    int
	settleHighlight bool

	// generation invalidates ticks armed before a reset.
	generation uint64
	timer      *clock.Timer
	closed     bool

	subsMu  sync.Mutex
	subsSeq uint64
	subs    []subscriber
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// New creates an empty, idle glass.
func New(cfg Config) *Glass {
	cfg = cfg.withDefaults()
	return &Glass{
		cfg:             cfg,
		logger:          cfg.Logger.WithComponent("hourglass"),
		fallingPosition: -1,
	}
}

// MaxGrains returns the grain capacity.
func (g *Glass) MaxGrains() int {
	return g.cfg.MaxGrains
}

// Rows returns the number of fillable rows.
func (g *Glass) Rows() int {
	return g.cfg.Rows
}

// --- Operations ---

// SetInitialCount sets the grain count without animating, clearing any
// in-flight run and queued grains.
func (g *Glass) SetInitialCount(n int) {
	g.mu.Lock()
	if n < 0 {
		n = 0
	}
	g.grainCount = min(n, g.cfg.MaxGrains)
	g.pendingGrains = 0
	g.resetTransientLocked()
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.emit(snap)
}

// AddGrain queues one grain and starts animating if idle. It returns
// immediately. A saturated glass with nothing queued ignores the call.
func (g *Glass) AddGrain() {
	g.mu.Lock()
	if g.closed || (g.grainCount >= g.cfg.MaxGrains && g.pendingGrains == 0) {
		g.mu.Unlock()
		return
	}
	g.pendingGrains++
	if !g.isAnimating {
		g.startRunLocked()
	}
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.emit(snap)
}

// RemoveGrain drops one settled grain, floored at zero. Queued and
// in-flight grains are untouched.
func (g *Glass) RemoveGrain() {
	g.mu.Lock()
	if g.grainCount == 0 {
		g.mu.Unlock()
		return
	}
	g.grainCount--
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.emit(snap)
}

// Close stops the armed timer. Later ticks are ignored.
func (g *Glass) Close() {
	g.mu.Lock()
	g.closed = true
	g.generation++
	g.timer.Stop()
	g.timer = nil
	g.mu.Unlock()

	g.subsMu.Lock()
	g.subs = nil
	g.subsMu.Unlock()
}

// --- State machine ---

func (g *Glass) resetTransientLocked() {
	g.generation++
	g.timer.Stop()
	g.timer = nil
	g.isAnimating = false
	g.phase = PhaseNone
	g.fallingPosition = -1
	g.targetRow = 0
	g.bounceOffset = 0
	g.settleHighlight = false
}

// startRunLocked begins a falling run, or goes idle when saturated.
func (g *Glass) startRunLocked() {
	if g.grainCount >= g.cfg.MaxGrains {
		g.isAnimating = false
		g.setPhaseLocked(PhaseNone)
		return
	}

	g.isAnimating = true
	g.fallingPosition = 0
	filled := int(math.Ceil(float64(g.grainCount) / float64(g.cfg.MaxGrains) * float64(g.cfg.Rows)))
	g.targetRow = g.cfg.Rows - filled
	g.setPhaseLocked(PhaseFalling)
	g.scheduleLocked(g.cfg.FallFrame, g.fallLocked)
}

func (g *Glass) fallLocked() {
	if g.fallingPosition < g.targetRow {
		g.fallingPosition++
		g.scheduleLocked(g.cfg.FallFrame, g.fallLocked)
		return
	}
	g.bounceOffset = 1
	g.setPhaseLocked(PhaseBouncing)
	g.scheduleLocked(g.cfg.BounceFrame, g.bounceLocked)
}

func (g *Glass) bounceLocked() {
	g.bounceOffset = 0
	g.settleHighlight = true
	g.setPhaseLocked(PhaseSettling)
	g.scheduleLocked(g.cfg.SettleFrame, g.settleLocked)
}

func (g *Glass) settleLocked() {
	g.settleHighlight = false
	g.fallingPosition = -1
	g.grainCount = min(g.grainCount+1, g.cfg.MaxGrains)
	g.pendingGrains = max(0, g.pendingGrains-1)
	g.setPhaseLocked(PhaseNone)

	if g.pendingGrains > 0 && g.grainCount < g.cfg.MaxGrains {
		g.scheduleLocked(g.cfg.QueueDelay, g.startRunLocked)
		return
	}
	g.isAnimating = false
}

func (g *Glass) setPhaseLocked(p Phase) {
	if g.phase != p {
		g.logger.PhaseChange(g.phase.String(), p.String(), g.grainCount, g.pendingGrains)
	}
	g.phase = p
}

// scheduleLocked arms the single timer to run step after d. A tick from
// an older generation is discarded.
func (g *Glass) scheduleLocked(d time.Duration, step func()) {
	gen := g.generation
	g.timer = g.cfg.Clock.AfterFunc(d, func() {
		g.mu.Lock()
		if g.closed || gen != g.generation {
			g.mu.Unlock()
			return
		}
		g.timer = nil
		step()
		snap := g.snapshotLocked()
		g.mu.Unlock()

		g.emit(snap)
	})
}

// --- Reads ---

// GrainCount returns the number of settled grains.
func (g *Glass) GrainCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grainCount
}

// PendingGrains returns the number of queued grains, including the one
// in flight.
func (g *Glass) PendingGrains() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pendingGrains
}

// IsAnimating reports whether a run is in flight or queued to start.
func (g *Glass) IsAnimating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isAnimating
}

// Phase returns the current animation phase.
func (g *Glass) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// FallingPosition returns the falling cursor row, or -1.
func (g *Glass) FallingPosition() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fallingPosition
}

// BounceOffset returns 1 while the grain is bounced up, else 0.
func (g *Glass) BounceOffset() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bounceOffset
}

// SettleHighlight reports whether the grain has just settled.
func (g *Glass) SettleHighlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settleHighlight
}

// FillPercentage returns grainCount/MaxGrains capped at 1.
func (g *Glass) FillPercentage() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fillLocked()
}

func (g *Glass) fillLocked() float64 {
	return math.Min(float64(g.grainCount)/float64(g.cfg.MaxGrains), 1)
}

// Snapshot returns all state fields read under one lock.
func (g *Glass) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Glass) snapshotLocked() Snapshot {
	return Snapshot{
		GrainCount:      g.grainCount,
		PendingGrains:   g.pendingGrains,
		IsAnimating:     g.isAnimating,
		Phase:           g.phase,
		FallingPosition: g.fallingPosition,
		TargetRow:       g.targetRow,
		BounceOffset:    g.bounceOffset,
		SettleHighlight: g.settleHighlight,
		FillPercentage:  g.fillLocked(),
	}
}

// --- Observers ---

// OnChange registers fn to receive a snapshot after every state change.
// The returned function removes the registration.
func (g *Glass) OnChange(fn func(Snapshot)) func() {
	g.subsMu.Lock()
	g.subsSeq++
	id := g.subsSeq
	g.subs = append(g.subs, subscriber{id: id, fn: fn})
	g.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.subsMu.Lock()
			defer g.subsMu.Unlock()
			for i, s := range g.subs {
				if s.id == id {
					g.subs = append(g.subs[:i:i], g.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (g *Glass) emit(snap Snapshot) {
	g.subsMu.Lock()
	fns := make([]func(Snapshot), len(g.subs))
	for i, s := range g.subs {
		fns[i] = s.fn
	}
	g.subsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
