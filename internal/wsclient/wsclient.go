// Package wsclient consumes a book's progress stream over WebSocket with
// automatic reconnection. Connection loss is handled with capped exponential
// backoff; when the budget runs out the caller is told to fall back to
// polling the progress endpoint.
package wsclient

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/fable/internal/events"
)

// ErrFallbackToPoll is returned when reconnection attempts are exhausted and
// the caller should poll the progress endpoint instead.
var ErrFallbackToPoll = errors.New("progress stream unavailable, fall back to polling")

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Config tunes the client.
type Config struct {
	// URL is the full WebSocket endpoint (ws://host/ws/{book_id}).
	URL string

	// Dialer establishes connections. Defaults to a gorilla-backed dialer.
	Dialer Dialer

	// MaxAttempts bounds consecutive failed connection attempts before
	// giving up (default 5). A successful connection resets the count.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; subsequent delays
	// double up to MaxDelay (defaults 1s and 30s).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	Logger *slog.Logger
}

// Client consumes one book's progress stream.
type Client struct {
	cfg   Config
	state atomic.Value // State
}

// New creates a progress stream client.
func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = &GorillaDialer{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{cfg: cfg}
	c.state.Store(StateDisconnected)
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.state.Load().(State)
}

// Watch consumes the stream until a terminal event arrives, the context is
// cancelled, or the reconnection budget is exhausted. Every decoded event is
// passed to handler in arrival order; pings are consumed internally.
func (c *Client) Watch(ctx context.Context, handler func(events.Event)) error {
	attempts := 0

	for {
		if attempts > 0 {
			c.state.Store(StateReconnecting)
			if attempts >= c.cfg.MaxAttempts {
				c.state.Store(StateFailed)
				return ErrFallbackToPoll
			}
			delay := backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, attempts)
			c.cfg.Logger.Debug("reconnecting to progress stream", "attempt", attempts, "delay", delay)
			select {
			case <-ctx.Done():
				c.state.Store(StateDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
		} else {
			c.state.Store(StateConnecting)
		}

		conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				c.state.Store(StateDisconnected)
				return ctx.Err()
			}
			attempts++
			continue
		}

		c.state.Store(StateConnected)
		terminal, delivered, readErr := c.consume(ctx, conn, handler)
		_ = conn.Close()

		if terminal {
			c.state.Store(StateDisconnected)
			return nil
		}
		if ctx.Err() != nil {
			c.state.Store(StateDisconnected)
			return ctx.Err()
		}
		if readErr != nil {
			c.cfg.Logger.Debug("progress stream dropped", "error", readErr)
		}
		// A connection that delivered events earns a fresh budget.
		if delivered > 0 {
			attempts = 0
		}
		attempts++
	}
}

// consume reads one connection until it drops or a terminal event arrives.
func (c *Client) consume(ctx context.Context, conn Conn, handler func(events.Event)) (terminal bool, delivered int, err error) {
	done := make(chan struct{})
	defer close(done)

	// Close the connection on context cancellation to unblock ReadMessage.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return false, delivered, err
		}

		ev, err := events.Decode(data)
		if err != nil {
			c.cfg.Logger.Warn("skipping undecodable event", "error", err)
			continue
		}
		if ev.EventType() == events.TypePing {
			continue
		}

		handler(ev)
		delivered++
		if events.Terminal(ev) {
			return true, delivered, nil
		}
	}
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
