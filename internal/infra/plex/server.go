// Package plex resolves the websocket notification endpoint of a Plex
// Media Server.
package plex

import (
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// notificationsPath is the well-known Plex websocket endpoint.
const notificationsPath = "/:/websockets/notifications"

// Server is a handle to one Plex Media Server.
type Server struct {
	baseURL  *url.URL
	token    string
	clientID string
}

// NewServer creates a handle from the server's base URL and an access token.
// The base URL uses the http or https scheme, e.g. "https://plex.local:32400".
func NewServer(rawURL, token string) (*Server, error) {
	if rawURL == "" {
		return nil, errors.New("server URL is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse server URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("server URL has no host")
	}

	return &Server{
		baseURL:  u,
		token:    token,
		clientID: uuid.New().String(),
	}, nil
}

// WebsocketURL returns the streaming endpoint with the access token attached.
func (s *Server) WebsocketURL() (string, error) {
	u := *s.baseURL
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = notificationsPath

	q := u.Query()
	if s.token != "" {
		q.Set("X-Plex-Token", s.token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Header returns the identification headers Plex expects on the handshake.
func (s *Server) Header() http.Header {
	h := http.Header{}
	h.Set("X-Plex-Client-Identifier", s.clientID)
	h.Set("X-Plex-Product", "plexwatch")
	return h
}
