package websocket

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	ws "nhooyr.io/websocket"
)

// Conn is the browser side of a bridged session. It pings the peer on an
// interval and drops the connection when a pong does not arrive in time.
//
// Pongs are only processed while something is reading from the connection;
// the bridge pump provides that reader.
type Conn struct {
	inner  *ws.Conn
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// WrapConn starts keepalive on an accepted connection.
func WrapConn(ctx context.Context, c *ws.Conn, options ...Option) *Conn {
	opts := applyOptions(options)
	ctx, cancel := context.WithCancel(ctx)
	conn := &Conn{
		inner:  c,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go conn.keepalive(ctx)
	return conn
}

// Inner returns the wrapped connection.
func (c *Conn) Inner() *ws.Conn {
	return c.inner
}

// Done is closed once keepalive has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close stops keepalive and performs the close handshake.
// Calls after the first are no-ops.
func (c *Conn) Close(code ws.StatusCode, reason string) error {
	return c.CloseWithContext(context.Background(), code, reason)
}

// CloseWithContext is Close bounded by ctx while waiting for keepalive to stop.
func (c *Conn) CloseWithContext(ctx context.Context, code ws.StatusCode, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return c.inner.Close(code, reason)
}

// ForceClose drops the connection without a close frame.
func (c *Conn) ForceClose() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	c.inner.CloseNow()
}

func (c *Conn) keepalive(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.opts.PongTimeout)
			err := c.inner.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.opts.Logger.Warn("pong timeout, closing websocket", slog.String("error", err.Error()))
			c.inner.CloseNow()
			return
		}
	}
}
