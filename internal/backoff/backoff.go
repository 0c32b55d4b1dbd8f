// Package backoff tracks the reconnect penalty of a client connection.
//
// Every connection-affecting outcome is classified. Recoverable and terminal
// failures raise the penalty level by one, capped at the end of the lookup
// table; a successful CONNACK drops it back to zero. While the level is above
// zero a decay timer lowers it one step at a time, provided the latest
// outcome is not a failure. The logic layer reports confirmed writes, so a
// penalty decays while a connection attempt carries traffic.
//
// The reconnect delay is a lookup into a non-decreasing table indexed by the
// penalty level. Jitter may be enabled to spread reconnect storms.
package backoff

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Class is the backoff classification of an outcome.
type Class uint8

const (
	// None marks outcomes that do not affect the penalty.
	None Class = iota

	// Recoverable marks transient failures that are retried after a delay.
	Recoverable

	// Terminal marks authoritative rejections that must not be retried.
	Terminal
)

func (c Class) String() string {
	switch c {
	case None:
		return "none"
	case Recoverable:
		return "recoverable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Default tables, in ticks.
var (
	DefaultLUT      = []scheduler.Tick{0, 2, 4, 8, 16, 32, 64, 128, 256, 512}
	DefaultDecayLUT = []scheduler.Tick{4, 4, 8, 16, 30, 30, 30, 30, 30, 30}
)

var (
	// ErrInvalidTables is returned by Configure for unusable lookup tables.
	ErrInvalidTables = errors.New("backoff: invalid lookup tables")

	// ErrReleased is returned after Release.
	ErrReleased = errors.New("backoff: controller released")
)

// Logger is the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithJitter enables randomised delays. intN must return a value in [0, n);
// nil selects math/rand/v2.
func WithJitter(intN func(n int) int) Option {
	return func(c *Controller) {
		c.jitter = true
		if intN != nil {
			c.intN = intN
		}
	}
}

// Classify maps an outcome to its backoff class.
func Classify(code status.Code) Class {
	switch code {
	case status.ConnectionResetByPeer,
		status.UnacceptableProtocolVersion,
		status.IdentifierRejected,
		status.BadUsernameOrPassword,
		status.NotAuthorized:
		return Terminal
	case status.OK, status.Written:
		return None
	default:
		return Recoverable
	}
}

// Controller holds the penalty state for one connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Timer handles run on the
//     scheduler goroutine.
type Controller struct {
	mu sync.Mutex

	sched  *scheduler.Scheduler
	lut    []scheduler.Tick
	decay  []scheduler.Tick
	level  int
	class  Class
	jitter bool
	intN   func(n int) int

	decayTimer     *scheduler.Timer
	reconnectTimer *scheduler.Timer
	released       bool

	logger Logger
}

// New creates a controller with the default tables.
func New(sched *scheduler.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		sched:  sched,
		lut:    DefaultLUT,
		decay:  DefaultDecayLUT,
		intN:   rand.IntN,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure replaces the lookup tables. Both tables must have the same
// non-zero length and the delay table must be non-decreasing.
// The penalty level is clamped to the new table.
func (c *Controller) Configure(lut, decay []scheduler.Tick) error {
	if len(lut) == 0 || len(lut) != len(decay) {
		return fmt.Errorf("%w: lengths %d and %d", ErrInvalidTables, len(lut), len(decay))
	}
	for i := 1; i < len(lut); i++ {
		if lut[i] < lut[i-1] {
			return fmt.Errorf("%w: delay table decreases at index %d", ErrInvalidTables, i)
		}
	}
	for i, d := range decay {
		if d <= 0 {
			return fmt.Errorf("%w: decay period at index %d must be positive", ErrInvalidTables, i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lut = append([]scheduler.Tick(nil), lut...)
	c.decay = append([]scheduler.Tick(nil), decay...)
	if c.level > len(c.lut)-1 {
		c.level = len(c.lut) - 1
	}
	return nil
}

// OnOutcome records an outcome and returns its class.
func (c *Controller) OnOutcome(code status.Code) Class {
	class := Classify(code)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return class
	}
	c.class = class

	switch {
	case class == Recoverable || class == Terminal:
		if c.level < len(c.lut)-1 {
			c.level++
		}
		c.restartDecayLocked()
		c.logger.Debug("backoff penalty increased", "level", c.level, "status", code.String(), "class", class.String())
	case code == status.OK:
		c.level = 0
		c.cancelDecayLocked()
	}
	return class
}

// Delay returns the reconnect delay for the current level.
func (c *Controller) Delay() scheduler.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayLocked()
}

func (c *Controller) delayLocked() scheduler.Tick {
	base := c.lut[c.level]
	if !c.jitter {
		return base
	}

	// base + rand(0..prev) - max(prev/2, 1), never below lut[0]
	var full scheduler.Tick
	if c.level > 0 {
		full = c.lut[c.level-1]
	}
	half := full / 2
	if half < 1 {
		half = 1
	}
	r := scheduler.Tick(c.intN(int(full) + 1))
	d := base + r - half
	if d < c.lut[0] {
		d = c.lut[0]
	}
	return d
}

// ScheduleReconnect arms a one-shot reconnect timer with the current delay.
// An earlier pending reconnect is replaced.
func (c *Controller) ScheduleReconnect(h scheduler.Handle) error {
	if h == nil {
		return scheduler.ErrUnsetHandle
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return ErrReleased
	}
	if c.reconnectTimer != nil {
		_ = c.sched.Cancel(c.reconnectTimer)
		c.reconnectTimer = nil
	}

	delay := c.delayLocked()
	var timer *scheduler.Timer
	timer, err := c.sched.ScheduleIn(delay, func() error {
		c.mu.Lock()
		if c.reconnectTimer == timer {
			c.reconnectTimer = nil
		}
		c.mu.Unlock()
		return h()
	})
	if err != nil {
		return fmt.Errorf("backoff: scheduling reconnect: %w", err)
	}
	c.reconnectTimer = timer
	c.logger.Debug("reconnect scheduled", "delay", int64(delay), "level", c.level)
	return nil
}

// ReconnectPending reports whether a reconnect timer is armed.
func (c *Controller) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}

// CancelPending cancels an armed reconnect timer.
func (c *Controller) CancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnectTimer != nil {
		_ = c.sched.Cancel(c.reconnectTimer)
		c.reconnectTimer = nil
	}
}

// Reset drops the penalty to zero and cancels every timer.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.level = 0
	c.class = None
	c.cancelDecayLocked()
	if c.reconnectTimer != nil {
		_ = c.sched.Cancel(c.reconnectTimer)
		c.reconnectTimer = nil
	}
}

// Release resets the controller and refuses further reconnect scheduling.
func (c *Controller) Release() {
	c.Reset()

	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}

// Level returns the current penalty level.
func (c *Controller) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// LastClass returns the class of the most recent outcome.
func (c *Controller) LastClass() Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.class
}

func (c *Controller) restartDecayLocked() {
	period := c.decay[c.level]
	if c.decayTimer != nil {
		if err := c.sched.Restart(c.decayTimer, period); err == nil {
			return
		}
	}
	timer, err := c.sched.ScheduleIn(period, c.cooldown)
	if err != nil {
		c.logger.Debug("backoff: decay timer not armed", "error", err)
		c.decayTimer = nil
		return
	}
	c.decayTimer = timer
}

func (c *Controller) cancelDecayLocked() {
	if c.decayTimer != nil {
		_ = c.sched.Cancel(c.decayTimer)
		c.decayTimer = nil
	}
}

// cooldown runs when the decay period elapses.
func (c *Controller) cooldown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.decayTimer = nil
	if c.class == None && c.level > 0 {
		c.level--
		c.logger.Debug("backoff penalty decreased", "level", c.level)
	}
	if c.level > 0 && !c.released {
		c.restartDecayLocked()
	}
	return nil
}
