package websocket

import (
	"log/slog"
	"time"
)

const (
	// DefaultPingInterval is the default interval between pings sent to the browser.
	DefaultPingInterval = 5 * time.Second
	// DefaultPongTimeout is the maximum time to wait for a pong reply.
	DefaultPongTimeout = 10 * time.Second
	// DefaultReadLimit caps a single message relayed in either direction.
	DefaultReadLimit int64 = 16 << 20
)

// Options configures keepalive and relaying for a bridged session.
type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadLimit    int64
	Logger       *slog.Logger
}

// Option is a functional option for configuring a WebSocket connection.
type Option func(*Options)

// WithPingInterval sets the interval between pings.
func WithPingInterval(d time.Duration) Option {
	return func(o *Options) { o.PingInterval = d }
}

// WithPongTimeout sets the maximum time to wait for a pong reply.
func WithPongTimeout(d time.Duration) Option {
	return func(o *Options) { o.PongTimeout = d }
}

// WithReadLimit sets the largest message accepted from either peer.
func WithReadLimit(n int64) Option {
	return func(o *Options) { o.ReadLimit = n }
}

// WithLogger sets the logger for the connection.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func applyOptions(opts []Option) Options {
	o := Options{
		PingInterval: DefaultPingInterval,
		PongTimeout:  DefaultPongTimeout,
		ReadLimit:    DefaultReadLimit,
		Logger:       slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	return o
}
