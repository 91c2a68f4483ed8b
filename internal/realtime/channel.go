package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatdesk/internal/domain"
	"chatdesk/internal/metrics"
)

// Config controls one realtime channel connection.
type Config struct {
	// URL is the ws(s) endpoint for this identity
	// (.../api/ws/agent/{agentID} or .../api/ws/visitor/{sessionID}).
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// MaxRetries bounds consecutive failed dial attempts before Run gives up
	// with domain.ErrRetryExhausted. Zero retries forever.
	MaxRetries int
}

// Handlers receive channel events. All callbacks run on the channel's read
// goroutine; handlers must not block.
type Handlers struct {
	// OnFrame is invoked for every decoded inbound frame, including types the
	// consumer does not know; unknown tags are the consumer's to ignore.
	OnFrame func(domain.PushFrame)
	// OnState is invoked when the connection opens or closes.
	OnState func(connected bool)
	// OnResync is invoked after every successful reconnect (not the first
	// connect) so the consumer can pull state that pushes may have missed.
	OnResync func(ctx context.Context)
}

// Channel owns one bidirectional streaming connection per identity and
// demultiplexes inbound frames by their type tag.
type Channel struct {
	cfg      Config
	handlers Handlers
	log      zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a channel; Run must be called to connect.
func New(cfg Config, handlers Handlers, log zerolog.Logger) *Channel {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Channel{
		cfg:      cfg,
		handlers: handlers,
		log:      log.With().Str("component", "realtime").Logger(),
	}
}

// Connected reports whether the connection is currently open. Sends while
// disconnected are dropped, never queued.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes one outbound frame. Returns domain.ErrNotConnected while the
// channel is down.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		metrics.IncMessageDropped()
		return domain.ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		metrics.IncMessageDropped()
		return fmt.Errorf("failed to write frame: %w", err)
	}
	metrics.IncMessageSent()
	return nil
}

// Run dials and reads until ctx is cancelled, reconnecting with exponential
// backoff and jitter. Returns domain.ErrRetryExhausted once MaxRetries
// consecutive dials fail.
func (c *Channel) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	attempt := 0
	everConnected := false

	for {
		conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			if c.cfg.MaxRetries > 0 && attempt > c.cfg.MaxRetries {
				c.log.Error().Int("attempts", attempt-1).Msg("reconnect ceiling reached")
				return domain.ErrRetryExhausted
			}
			delay := c.backoff(attempt)
			c.log.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempt).Msg("dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		metrics.SetConnected(true)
		c.log.Info().Str("url", c.cfg.URL).Msg("channel connected")
		if c.handlers.OnState != nil {
			c.handlers.OnState(true)
		}
		if everConnected {
			metrics.IncReconnect()
			if c.handlers.OnResync != nil {
				c.handlers.OnResync(ctx)
			}
		}
		everConnected = true

		c.readUntilClosed(ctx, conn)

		c.setConn(nil)
		metrics.SetConnected(false)
		c.log.Info().Msg("channel disconnected")
		if c.handlers.OnState != nil {
			c.handlers.OnState(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = conn != nil
	c.mu.Unlock()
}

// readUntilClosed consumes inbound frames in arrival order until the
// connection drops or ctx is cancelled.
func (c *Channel) readUntilClosed(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		var frame domain.PushFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			// Malformed frames are ignored rather than fatal.
			c.log.Debug().Err(err).Msg("discarding malformed frame")
			continue
		}

		metrics.IncFrame(string(frame.Type))
		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(frame)
		}
	}
}

func (c *Channel) backoff(attempt int) time.Duration {
	d := c.cfg.InitialBackoff
	for i := 1; i < attempt && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	// Half fixed, half jitter, so herds of clients spread out.
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half))
}
