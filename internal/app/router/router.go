// Package router classifies decoded server notifications and routes them to
// the event callback, filtering "playing" updates through the session tracker.
package router

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/jjlawren/plexwatch/internal/app/tracker"
	"github.com/jjlawren/plexwatch/internal/domain/session"
)

// Notification types with routing rules of their own.
const (
	// TypePlaying carries playback session updates and is filtered for
	// significance before being forwarded.
	TypePlaying = "playing"

	// TypeStateChange fires when client devices connect or disconnect.
	// It is always forwarded, subscription set or not.
	TypeStateChange = "update.statechange"
)

// DefaultSubscriptions is the subscription set used when the caller supplies
// none.
var DefaultSubscriptions = []string{TypePlaying}

// envelope is the outer shape of every websocket text frame from the server.
type envelope struct {
	NotificationContainer map[string]any `json:"NotificationContainer"`
}

// playSessionState is the first entry of a "playing" notification. Only
// index 0 of the list is consulted.
type playSessionState struct {
	SessionKey string `mapstructure:"sessionKey"`
	State      string `mapstructure:"state"`
	Key        string `mapstructure:"key"`
	ViewOffset int64  `mapstructure:"viewOffset"`
}

type playingContainer struct {
	PlaySessionStateNotification []playSessionState `mapstructure:"PlaySessionStateNotification"`
}

// Router routes one decoded message at a time. Like the tracker it is owned
// by the connection run loop, so it carries no lock.
type Router struct {
	subscriptions map[string]struct{}
	tracker       *tracker.Tracker
	forward       func(eventType string, data any)
}

// New creates a router forwarding matching notifications through forward.
// An empty subscription list falls back to DefaultSubscriptions.
func New(subscriptions []string, tr *tracker.Tracker, forward func(eventType string, data any)) *Router {
	if len(subscriptions) == 0 {
		subscriptions = DefaultSubscriptions
	}
	subs := make(map[string]struct{}, len(subscriptions))
	for _, s := range subscriptions {
		subs[s] = struct{}{}
	}
	return &Router{
		subscriptions: subs,
		tracker:       tr,
		forward:       forward,
	}
}

// Route decodes one raw text frame and dispatches it. Malformed frames are
// dropped as noise, never fatal.
func (r *Router) Route(frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		zlog.Debug().Msgf("router: dropping undecodable frame: %v", err)
		return
	}
	if env.NotificationContainer == nil {
		zlog.Debug().Msg("router: dropping frame without notification container")
		return
	}

	msgType, ok := env.NotificationContainer["type"].(string)
	if !ok {
		zlog.Debug().Msg("router: dropping notification without type")
		return
	}

	// Client connect/disconnect signals must never be suppressed.
	if msgType == TypeStateChange {
		zlog.Debug().Msg("router: client device change detected")
		r.forward(msgType, env.NotificationContainer)
		return
	}

	if _, ok := r.subscriptions[msgType]; !ok {
		return
	}

	if msgType == TypePlaying {
		r.routePlaying(env.NotificationContainer)
		return
	}

	// Any other subscribed type is forwarded uninspected.
	r.forward(msgType, env.NotificationContainer)
}

func (r *Router) routePlaying(container map[string]any) {
	update, ok := decodePlaying(container)
	if !ok {
		return
	}
	if r.tracker.Evaluate(update) {
		r.forward(TypePlaying, container)
	}
}

// decodePlaying extracts the first play session state from the container.
// The server is loose about field types (sessionKey arrives as a number or a
// string depending on version), so decoding is weakly typed.
func decodePlaying(container map[string]any) (tracker.Update, bool) {
	var pc playingContainer
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &pc,
	})
	if err != nil {
		return tracker.Update{}, false
	}
	if err := dec.Decode(container); err != nil {
		zlog.Debug().Msgf("router: dropping malformed playing notification: %v", err)
		return tracker.Update{}, false
	}
	if len(pc.PlaySessionStateNotification) == 0 {
		zlog.Debug().Msg("router: dropping playing notification without session state")
		return tracker.Update{}, false
	}

	first := pc.PlaySessionStateNotification[0]
	return tracker.Update{
		SessionID: first.SessionKey,
		State:     session.PlayState(first.State),
		MediaKey:  first.Key,
		Position:  first.ViewOffset,
	}, true
}
