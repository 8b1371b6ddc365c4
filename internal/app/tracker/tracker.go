// Package tracker decides which playback updates are significant enough to
// surface, holding the per-session state needed to tell real changes from
// routine progress noise.
package tracker

import (
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/jjlawren/plexwatch/internal/domain/session"
)

// Update is one observation of a playback session, extracted from a
// "playing" notification.
type Update struct {
	SessionID string
	State     session.PlayState
	MediaKey  string
	Position  int64 // milliseconds
}

// Tracker filters playback updates by significance. It is owned by the
// connection run loop and accessed from that goroutine only, so it carries
// no lock.
type Tracker struct {
	sessions map[string]*session.Session
	now      func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// Evaluate reports whether the update is significant and records the
// observation either way.
func (t *Tracker) Evaluate(u Update) bool {
	return t.evaluateAt(u, t.now())
}

func (t *Tracker) evaluateAt(u Update, now time.Time) bool {
	if u.SessionID == "" {
		// Malformed or irrelevant payload, filtered noise.
		return false
	}

	known, ok := t.sessions[u.SessionID]
	if !ok {
		t.sessions[u.SessionID] = session.New(u.SessionID, u.State, u.MediaKey, u.Position, now)
		zlog.Debug().Msgf("tracker: new session: id=%s state=%s media=%s", u.SessionID, u.State, u.MediaKey)
		return true
	}

	if u.State == session.StateStopped {
		// Sessions end when stopped.
		delete(t.sessions, u.SessionID)
		zlog.Debug().Msgf("tracker: session ended: id=%s", u.SessionID)
		return true
	}

	significant := false

	// Buffering is transient, never significant on its own, but the stored
	// observation is still refreshed below.
	if u.State != session.StateBuffering {
		switch {
		case known.MediaKey != u.MediaKey || known.State != u.State:
			zlog.Debug().Msgf("tracker: state/media changed: id=%s state=%s media=%s", u.SessionID, u.State, u.MediaKey)
			significant = true
		case u.State == session.StatePlaying && known.SignificantPositionChange(now, u.Position):
			zlog.Debug().Msgf("tracker: seek detected: id=%s position=%d", u.SessionID, u.Position)
			significant = true
		}
	}

	known.Update(u.State, u.MediaKey, u.Position, now)

	return significant
}

// Clear drops every tracked session. Called whenever the connection drops:
// the server may recycle session keys after a restart, so stale entries must
// not survive a reconnect.
func (t *Tracker) Clear() {
	if len(t.sessions) > 0 {
		zlog.Debug().Msgf("tracker: clearing %d tracked sessions", len(t.sessions))
	}
	t.sessions = make(map[string]*session.Session)
}

// Count returns the number of tracked sessions.
func (t *Tracker) Count() int {
	return len(t.sessions)
}
