// Package session provides the playback Session domain entity.
package session

import "time"

// PlayState is the playback state reported by the Plex server.
type PlayState string

const (
	StatePlaying   PlayState = "playing"
	StatePaused    PlayState = "paused"
	StateBuffering PlayState = "buffering"
	StateStopped   PlayState = "stopped"
)

// SeekThreshold is the tolerated drift between wall-clock time and playback
// position before a position change is treated as a seek.
const SeekThreshold = 5 * time.Second

// Session represents one active playback session on the Plex server.
type Session struct {
	ID         string    // Session key assigned by the server
	State      PlayState // Last observed playback state
	MediaKey   string    // Key of the media item being played
	Position   int64     // Playback offset in milliseconds
	ObservedAt time.Time // Time of the last update
}

// New creates a session from its first observation.
func New(id string, state PlayState, mediaKey string, position int64, observedAt time.Time) *Session {
	return &Session{
		ID:         id,
		State:      state,
		MediaKey:   mediaKey,
		Position:   position,
		ObservedAt: observedAt,
	}
}

// SignificantPositionChange reports whether the new position indicates a seek.
// During uninterrupted playback the wall clock and the playback position
// advance together; a mismatch larger than SeekThreshold means the playhead
// jumped. This is a heuristic, small drift near the threshold is tolerated.
func (s *Session) SignificantPositionChange(now time.Time, position int64) bool {
	wallDelta := now.Sub(s.ObservedAt).Seconds()
	posDelta := float64(position-s.Position) / 1000

	diff := wallDelta - posDelta
	if diff < 0 {
		diff = -diff
	}
	return diff > SeekThreshold.Seconds()
}

// Update overwrites the stored observation. Called on every relevant update,
// significant or not, so drift never accumulates.
func (s *Session) Update(state PlayState, mediaKey string, position int64, observedAt time.Time) {
	s.State = state
	s.MediaKey = mediaKey
	s.Position = position
	s.ObservedAt = observedAt
}
