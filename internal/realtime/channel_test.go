package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatdesk/internal/domain"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRunDispatchesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteJSON(domain.PushFrame{Type: domain.FrameNewSession, Session: &domain.Session{ID: "s1"}})
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]string{"no": "type"})
		conn.WriteJSON(domain.PushFrame{Type: domain.FrameVisitorTyping, SessionID: "s1"})

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	frames := make(chan domain.PushFrame, 8)
	ch := New(Config{URL: wsURL(srv)}, Handlers{
		OnFrame: func(f domain.PushFrame) { frames <- f },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	var got []domain.PushFrame
	for len(got) < 2 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}

	assert.Equal(t, domain.FrameNewSession, got[0].Type)
	assert.Equal(t, "s1", got[0].Session.ID)
	assert.Equal(t, domain.FrameVisitorTyping, got[1].Type)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:0"}, Handlers{}, zerolog.Nop())

	assert.False(t, ch.Connected())
	err := ch.Send(domain.OutboundTyping{Type: "typing"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSendWhileConnected(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, raw, err := conn.ReadMessage()
		if err == nil {
			received <- raw
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	states := make(chan bool, 4)
	ch := New(Config{URL: wsURL(srv)}, Handlers{
		OnState: func(up bool) { states <- up },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	select {
	case up := <-states:
		assert.True(t, up)
	case <-time.After(3 * time.Second):
		t.Fatal("never connected")
	}

	require.NoError(t, ch.Send(domain.OutboundMessage{Type: "message", Content: "hi", MessageType: domain.MessageText}))
	select {
	case raw := <-received:
		assert.Contains(t, string(raw), `"content":"hi"`)
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestReconnectTriggersResync(t *testing.T) {
	var conns int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns++
		if conns == 1 {
			// Drop the first connection immediately to force a reconnect.
			conn.Close()
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

	resyncs := make(chan struct{}, 2)
	ch := New(Config{
		URL:            wsURL(srv),
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, Handlers{
		OnResync: func(context.Context) { resyncs <- struct{}{} },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx)

	select {
	case <-resyncs:
	case <-time.After(5 * time.Second):
		t.Fatal("resync never fired after reconnect")
	}
}

func TestRetryCeiling(t *testing.T) {
	ch := New(Config{
		URL:            "ws://127.0.0.1:1", // nothing listens here
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRetries:     3,
	}, Handlers{}, zerolog.Nop())

	err := ch.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrRetryExhausted)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	ch := New(Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 400 * time.Millisecond}, Handlers{}, zerolog.Nop())

	for attempt := 1; attempt <= 8; attempt++ {
		d := ch.backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d", attempt)
		assert.LessOrEqual(t, d, 400*time.Millisecond, "attempt %d", attempt)
	}
	// Later attempts sit at the ceiling's jitter band.
	d := ch.backoff(8)
	assert.GreaterOrEqual(t, d, 200*time.Millisecond)
}
