package watcher

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/jjlawren/plexwatch/internal/app/router"
	"github.com/jjlawren/plexwatch/internal/app/tracker"
	"github.com/jjlawren/plexwatch/internal/infra/transport"
)

// Terminal error reasons reported with the Stopped transition. Reasons keep
// these sentinels on the unwrap chain, so callers match them with errors.Is.
var (
	ErrUnauthorized   = errors.New("authorization failure")
	ErrTooManyRetries = errors.New("too many retries")
	ErrUnknown        = errors.New("unknown")
)

// Retry policy.
const (
	defaultBackoffBase  = 30 * time.Second
	defaultBackoffMax   = 5 * time.Minute
	defaultRetryCeiling = 5
	// defaultGracefulPause is the courtesy pause after a clean stream end,
	// not a failure delay.
	defaultGracefulPause = 5 * time.Second
)

// Target resolves the streaming endpoint. Implemented by plex.Server.
type Target interface {
	WebsocketURL() (string, error)
	Header() http.Header
}

// machine drives one connection cycle at a time. All transitions and
// callbacks happen on the goroutine running run; only State is read from
// other goroutines.
type machine struct {
	target   Target
	opener   transport.Opener
	opts     transport.Options
	router   *router.Router
	tracker  *tracker.Tracker
	callback Callback

	backoffBase   time.Duration
	backoffMax    time.Duration
	retryCeiling  int
	gracefulPause time.Duration

	failedAttempts int

	mu    sync.RWMutex
	state State
}

// State returns the current connection state.
func (m *machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition changes state and notifies the callback. State mutation and
// notification stay together so observers always see them as one step.
// reason is attached only to the transition caused by that error.
func (m *machine) transition(newState State, reason error) {
	m.mu.Lock()
	m.state = newState
	m.mu.Unlock()

	if reason != nil {
		zlog.Debug().Msgf("watcher: state %s: %v", newState, reason)
	} else {
		zlog.Debug().Msgf("watcher: state %s", newState)
	}
	m.callback(SignalConnectionState, newState, reason)
}

// reset prepares the machine for a fresh listen cycle.
func (m *machine) reset() {
	m.mu.Lock()
	m.state = StateStarting
	m.mu.Unlock()
	m.failedAttempts = 0
}

// run performs one connection cycle: open the transport, read messages until
// the stream ends, classify the ending and schedule the next step. The outer
// listen loop keeps calling run until the state is Stopped.
func (m *machine) run(ctx context.Context) {
	m.transition(StateStarting, nil)

	uri, err := m.target.WebsocketURL()
	if err != nil {
		m.transition(StateStopped, errors.Wrap(errors.Join(ErrUnknown, err), "resolving endpoint"))
		return
	}

	opts := m.opts
	opts.Header = m.target.Header()

	stream, err := m.opener.Open(ctx, uri, opts)
	if err != nil {
		m.classifyConnectError(ctx, err)
		return
	}
	defer stream.Close()

	// Session keys may be recycled after a server restart, so tracked
	// sessions never survive the connection that observed them.
	defer m.tracker.Clear()

	m.failedAttempts = 0
	m.transition(StateConnected, nil)

	for {
		frame, err := stream.Read()
		if err != nil {
			m.classifyReadError(ctx, err)
			return
		}
		m.router.Route(frame)
	}
}

func (m *machine) classifyConnectError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		m.transition(StateStopped, nil)
	case errors.Is(err, transport.ErrUnauthorized):
		// Credential rejections never recover on their own.
		m.transition(StateStopped, errors.Join(ErrUnauthorized, err))
	case errors.Is(err, transport.ErrConnection):
		m.retryTransient(ctx, err)
	default:
		m.transition(StateStopped, errors.Join(ErrUnknown, err))
	}
}

func (m *machine) classifyReadError(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		m.transition(StateStopped, nil)
	case errors.Is(err, io.EOF):
		// Clean stream end. Pause briefly before reconnecting.
		m.transition(StateDisconnected, nil)
		if m.wait(ctx, m.gracefulPause) != nil {
			m.transition(StateStopped, nil)
		}
	case errors.Is(err, transport.ErrConnection):
		m.retryTransient(ctx, err)
	default:
		m.transition(StateStopped, errors.Join(ErrUnknown, err))
	}
}

// retryTransient applies the backoff policy to a transient connection
// failure, stopping permanently once the retry ceiling is reached.
func (m *machine) retryTransient(ctx context.Context, err error) {
	m.failedAttempts++
	if m.failedAttempts >= m.retryCeiling {
		zlog.Error().Msgf("watcher: giving up after %d consecutive failures: %v", m.failedAttempts, err)
		m.transition(StateStopped, errors.Join(ErrTooManyRetries, err))
		return
	}

	delay := backoffDelay(m.failedAttempts, m.backoffBase, m.backoffMax)
	zlog.Error().Msgf("watcher: connection failed, retrying in %s: %v", delay, err)

	m.transition(StateDisconnected, err)
	if m.wait(ctx, delay) != nil {
		m.transition(StateStopped, nil)
	}
}

// wait sleeps for d or until the context is cancelled.
func (m *machine) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay returns the delay before retry attempt n (1-based):
// base, 2*base, 4*base, ... capped at limit.
func backoffDelay(n int, base, limit time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base << (n - 1)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}
