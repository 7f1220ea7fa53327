// Package livefeed consumes the platform's live update socket and forwards
// its two signals (reconnected, item received) to a Handler.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	models "conversa/internal/domain/models/discussion"
)

// Handler receives the feed signals. The cache implements it.
type Handler interface {
	// OnReconnected is called after every successful connection but the first
	OnReconnected()
	// OnItemReceived is called once per item, in feed order
	OnItemReceived(env models.Envelope)
}

// Config configures the feed client
type Config struct {
	URL          string
	DiscussionID string
	Token        string
	Header       http.Header

	// ReconnectInterval is the minimum spacing between connection attempts
	ReconnectInterval time.Duration
	// PingInterval keeps idle connections alive; zero disables pings
	PingInterval time.Duration
}

// Client maintains the feed connection until its context ends
type Client struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	logger  *slog.Logger

	connects atomic.Int64
	items    atomic.Int64
}

// New creates a feed client delivering to handler
func New(cfg Config, handler Handler, logger *slog.Logger) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		logger:  logger,
	}
}

// Connections returns how many connections were established so far
func (c *Client) Connections() int64 {
	return c.connects.Load()
}

// Items returns how many items were delivered so far
func (c *Client) Items() int64 {
	return c.items.Load()
}

// Run connects and reconnects until ctx is cancelled. Connection attempts are
// paced by ReconnectInterval.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("live feed stopped")
			return nil
		}
		c.logger.Warn("live feed disconnected", "error", err, "url", c.cfg.URL)
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	if err := c.handshake(conn); err != nil {
		return err
	}

	n := c.connects.Add(1)
	c.logger.Info("live feed connected", "url", c.cfg.URL, "connection", n)
	if n > 1 {
		c.handler.OnReconnected()
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	defer func() {
		close(done)
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepAlive(ctx, conn, done)
	}()

	for {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}

		envs, err := DecodeFrame(payload)
		if err != nil {
			c.logger.Warn("undecodable feed frame", "error", err, "size", len(payload))
			continue
		}
		for _, env := range envs {
			c.items.Add(1)
			c.handler.OnItemReceived(env)
		}
	}
}

// handshake authenticates and subscribes to the discussion
func (c *Client) handshake(conn *websocket.Conn) error {
	if c.cfg.Token != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("token:"+c.cfg.Token)); err != nil {
			return fmt.Errorf("send token: %w", err)
		}
	}
	if c.cfg.DiscussionID != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("discussion:"+c.cfg.DiscussionID)); err != nil {
			return fmt.Errorf("send discussion: %w", err)
		}
	}
	return nil
}

// keepAlive pings until the session ends and closes the connection when ctx
// is cancelled so that the blocked read returns
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-tick:
			deadline := time.Now().Add(c.cfg.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("feed ping failed", "error", err)
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-done:
			return
		}
	}
}

// DecodeFrame splits a feed frame into envelopes. A frame is either a JSON
// array of items or a single item object; elements without an identity are
// skipped.
func DecodeFrame(payload []byte) ([]models.Envelope, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		var single json.RawMessage
		if err2 := json.Unmarshal(payload, &single); err2 != nil || len(single) == 0 || single[0] != '{' {
			return nil, errors.Join(errors.New("frame is neither an array nor an object"), err)
		}
		raws = []json.RawMessage{single}
	}

	envs := make([]models.Envelope, 0, len(raws))
	for _, raw := range raws {
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if env.ID == "" || env.Type == "" {
			continue
		}
		env.Raw = raw
		envs = append(envs, env)
	}
	return envs, nil
}
