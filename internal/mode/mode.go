package mode

import (
	"log/slog"
	"sync"
)

// Mode is the effective operating mode.
type Mode string

const (
	Online  Mode = "online"
	Offline Mode = "offline"
)

// State is an immutable view of the controller's inputs.
type State struct {
	OfflineModeEnabled bool `json:"offlineMode"`
	IsOnline           bool `json:"online"`
}

// Effective returns Offline when the operator chose offline mode or the
// device has no connectivity, otherwise Online.
func (s State) Effective() Mode {
	if s.OfflineModeEnabled || !s.IsOnline {
		return Offline
	}
	return Online
}

// Listener is called after every change with the previous and new state.
// Listeners run synchronously on the goroutine that made the change and
// must not call back into the controller's setters.
type Listener func(prev, next State)

// Controller holds the operator's offline-mode switch and the observed
// connectivity flag.
//
// Thread-safety: all methods are safe for concurrent use.
type Controller struct {
	mu        sync.RWMutex
	state     State
	listeners []Listener
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInitialState sets the starting state. Default: online, offline mode
// off.
func WithInitialState(s State) Option {
	return func(c *Controller) {
		c.state = s
	}
}

// New creates a Controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		state:  State{IsOnline: true},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Effective returns the current effective mode.
func (c *Controller) Effective() Mode {
	return c.Snapshot().Effective()
}

// SetOfflineMode records the operator's choice.
func (c *Controller) SetOfflineMode(enabled bool) State {
	return c.update(func(s *State) { s.OfflineModeEnabled = enabled })
}

// SetOnline records observed connectivity.
func (c *Controller) SetOnline(online bool) State {
	return c.update(func(s *State) { s.IsOnline = online })
}

// Subscribe registers l for state changes. Setting a flag to its current
// value is not a change.
func (c *Controller) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) update(fn func(*State)) State {
	c.mu.Lock()
	prev := c.state
	fn(&c.state)
	next := c.state
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	if prev == next {
		return next
	}

	c.logger.Info("mode changed",
		"offline_mode", next.OfflineModeEnabled,
		"online", next.IsOnline,
		"effective", next.Effective(),
	)
	for _, l := range listeners {
		l(prev, next)
	}
	return next
}
