package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// wsURL rewrites an httptest server URL to the websocket scheme.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestOpen_ReadsTextFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"a":1}`)))
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"b":2}`)))

		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}))
	defer srv.Close()

	stream, err := Websocket{}.Open(context.Background(), wsURL(srv), Options{})
	require.NoError(t, err)
	defer stream.Close()

	data, err := stream.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	// The binary frame in between is skipped.
	data, err = stream.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(data))

	_, err = stream.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpen_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "401", status: http.StatusUnauthorized},
		{name: "403", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "invalid token", tt.status)
			}))
			defer srv.Close()

			_, err := Websocket{}.Open(context.Background(), wsURL(srv), Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnauthorized)
			assert.NotErrorIs(t, err, ErrConnection)
		})
	}
}

func TestOpen_DialFailureIsTransient(t *testing.T) {
	// Grab a port nothing listens on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = Websocket{}.Open(context.Background(), "ws://"+addr, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Websocket{}.Open(ctx, "ws://127.0.0.1:9", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRead_UnblocksOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open without sending anything.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := Websocket{}.Open(ctx, wsURL(srv), Options{})
	require.NoError(t, err)
	defer stream.Close()

	readErr := make(chan error, 1)
	go func() {
		_, err := stream.Read()
		readErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after cancellation")
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream, err := Websocket{}.Open(context.Background(), wsURL(srv), Options{})
	require.NoError(t, err)

	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
}

func TestClassifyReadError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name:     "normal closure",
			err:      &websocket.CloseError{Code: websocket.CloseNormalClosure},
			expected: io.EOF,
		},
		{
			name:     "going away",
			err:      &websocket.CloseError{Code: websocket.CloseGoingAway},
			expected: io.EOF,
		},
		{
			name:     "unexpected eof",
			err:      io.ErrUnexpectedEOF,
			expected: io.EOF,
		},
		{
			name:     "network timeout",
			err:      &net.OpError{Op: "read", Err: errors.New("i/o timeout")},
			expected: ErrConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyReadError(tt.err), tt.expected)
		})
	}
}

func TestClassifyReadError_UnknownPassesThrough(t *testing.T) {
	err := classifyReadError(errors.New("protocol violation"))
	assert.NotErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrConnection)
}
