// Package transport opens websocket notification streams.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	// ErrUnauthorized marks handshake rejections caused by bad credentials.
	ErrUnauthorized = errors.New("websocket authorization rejected")
	// ErrConnection marks transient network failures worth retrying.
	ErrConnection = errors.New("websocket connection failed")
)

const (
	// DefaultHeartbeat is the ping interval used when none is configured.
	DefaultHeartbeat = 15 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Options configures one stream.
type Options struct {
	Heartbeat          time.Duration // Ping interval; pongs extend the read deadline
	InsecureSkipVerify bool          // Skip TLS certificate validation
	Header             http.Header   // Extra handshake headers
}

// Stream is one open notification stream. Read yields text payloads until
// the stream ends: io.EOF on close, the context error after cancellation,
// an error matching ErrConnection on network failure. Sentinels sit on the
// unwrap chain, so plain errors.Is finds them.
type Stream interface {
	Read() ([]byte, error)
	Close() error
}

// Opener opens streams to an endpoint. Satisfied by Websocket and by test
// doubles.
type Opener interface {
	Open(ctx context.Context, uri string, opts Options) (Stream, error)
}

// Websocket opens streams over gorilla/websocket.
type Websocket struct{}

// Open dials the endpoint and starts heartbeating. Cancelling ctx aborts an
// in-flight dial and unblocks any pending Read on the returned stream.
func (Websocket) Open(ctx context.Context, uri string, opts Options) (Stream, error) {
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := dialer.DialContext(ctx, uri, opts.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(errors.Join(ErrUnauthorized, err), "handshake rejected with status %d", resp.StatusCode)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.Join(ErrConnection, err), "dial failed")
	}

	s := &stream{
		conn: conn,
		ctx:  ctx,
		done: make(chan struct{}),
	}

	// Missed pongs surface as read deadline timeouts.
	pongWait := 2 * heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.watchContext()
	go s.pingLoop(heartbeat)

	return s, nil
}

type stream struct {
	conn *websocket.Conn
	ctx  context.Context

	closeOnce sync.Once
	done      chan struct{}
}

// Read returns the next text payload. Non-text frames are skipped.
func (s *stream) Read() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			return nil, classifyReadError(err)
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close releases the connection. Safe to call more than once; only the first
// call does anything.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(writeTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
		close(s.done)
	})
	return err
}

// watchContext closes the connection when the context is cancelled so a
// blocked Read unblocks promptly.
func (s *stream) watchContext() {
	select {
	case <-s.ctx.Done():
		_ = s.Close()
	case <-s.done:
	}
}

// pingLoop keeps the connection alive. The server answers with pongs, which
// extend the read deadline via the pong handler.
func (s *stream) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				zlog.Debug().Msgf("transport: ping failed: %v", err)
				return
			}
		}
	}
}

// classifyReadError sorts stream-ending read errors into the retry taxonomy:
// close frames and EOFs end the stream (io.EOF), network-level failures are
// transient (ErrConnection), anything else passes through for the caller to
// treat as unexpected.
func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Wrap(errors.Join(ErrConnection, err), "read failed")
	}

	return errors.Wrap(err, "read failed")
}
