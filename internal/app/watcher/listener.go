package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jjlawren/plexwatch/internal/app/router"
	"github.com/jjlawren/plexwatch/internal/app/tracker"
	"github.com/jjlawren/plexwatch/internal/infra/transport"
)

// Config configures a Listener.
type Config struct {
	// Target resolves the streaming endpoint. Required.
	Target Target

	// Callback receives connection-state signals and forwarded
	// notifications. Required.
	Callback Callback

	// Subscriptions is the set of notification types to forward. Empty
	// means router.DefaultSubscriptions.
	Subscriptions []string

	// Opener opens the underlying transport. Defaults to the websocket
	// transport; callers may supply their own (tests do).
	Opener transport.Opener

	// Heartbeat is the transport ping interval. Defaults to
	// transport.DefaultHeartbeat.
	Heartbeat time.Duration

	// InsecureSkipVerify disables TLS certificate validation.
	InsecureSkipVerify bool
}

// Listener owns one logical notification stream. Listen drives connection
// cycles until stopped; Close may be called from any goroutine at any time.
type Listener struct {
	machine *machine

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewListener creates a listener from cfg.
func NewListener(cfg Config) (*Listener, error) {
	if cfg.Target == nil {
		return nil, errors.New("target is required")
	}
	if cfg.Callback == nil {
		return nil, errors.New("callback is required")
	}

	opener := cfg.Opener
	if opener == nil {
		opener = transport.Websocket{}
	}

	tr := tracker.New()
	m := &machine{
		target:   cfg.Target,
		opener:   opener,
		tracker:  tr,
		callback: cfg.Callback,
		opts: transport.Options{
			Heartbeat:          cfg.Heartbeat,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		backoffBase:   defaultBackoffBase,
		backoffMax:    defaultBackoffMax,
		retryCeiling:  defaultRetryCeiling,
		gracefulPause: defaultGracefulPause,
	}
	m.router = router.New(cfg.Subscriptions, tr, func(eventType string, data any) {
		cfg.Callback(eventType, data, nil)
	})

	return &Listener{machine: m}, nil
}

// Listen connects and keeps reconnecting until the state is Stopped, then
// returns. Connection-lifecycle errors surface through the state callback,
// never out of Listen. Calling Listen again after a clean stop restarts the
// cycle from Starting.
func (l *Listener) Listen(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.machine.reset()
	l.mu.Unlock()

	defer func() {
		cancel()
		l.mu.Lock()
		l.cancel = nil
		l.running = false
		l.mu.Unlock()
	}()

	for l.machine.State() != StateStopped {
		if runCtx.Err() != nil {
			l.machine.transition(StateStopped, nil)
			return
		}
		l.machine.run(runCtx)
	}
}

// Close requests a stop. Any blocked connect, read or retry delay unblocks
// promptly and Listen returns after its Stopped transition. Closing an
// already stopped or never started listener is a no-op.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		return
	}
	if l.machine.State() != StateStopped {
		l.machine.transition(StateStopped, nil)
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	return l.machine.State()
}
