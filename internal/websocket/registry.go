package websocket

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ws "nhooyr.io/websocket"
)

const shutdownReason = "dev server shutting down"

// Session is one bridged browser connection.
type Session struct {
	Conn     *Conn
	Rule     string // context of the proxy rule that matched
	Upstream string
	Opened   time.Time
}

// Gauge tracks the number of open sessions. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSessionGauge keeps g in step with the registered session count.
func WithSessionGauge(g Gauge) RegistryOption {
	return func(r *Registry) { r.gauge = g }
}

// Registry tracks live bridged sessions so they can be listed and closed
// with 1001 when the dev server stops.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Conn]Session
	gauge    Gauge
	log      *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions: make(map[*Conn]Session),
		log:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a session. Registering the same Conn twice is a no-op.
func (r *Registry) Register(s Session) {
	if s.Opened.IsZero() {
		s.Opened = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.Conn]; ok {
		return
	}
	r.sessions[s.Conn] = s
	if r.gauge != nil {
		r.gauge.Inc()
	}
}

// Unregister removes the session for c, if any.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[c]; !ok {
		return
	}
	delete(r.sessions, c)
	if r.gauge != nil {
		r.gauge.Dec()
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the live sessions, oldest first.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}

// CloseAll sends 1001 going-away to every session and waits until they
// are closed or ctx expires. It returns how many were still closing when
// ctx ran out.
func (r *Registry) CloseAll(ctx context.Context) int {
	sessions := r.Sessions()
	if len(sessions) == 0 {
		return 0
	}

	perRule := make(map[string]int)
	for _, s := range sessions {
		perRule[s.Rule]++
	}
	r.log.Info("closing websocket sessions", "count", len(sessions), "rules", perRule)

	var closed atomic.Int32
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Conn.CloseWithContext(ctx, ws.StatusGoingAway, shutdownReason)
			closed.Add(1)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("websocket sessions closed")
		return 0
	case <-ctx.Done():
		stuck := len(sessions) - int(closed.Load())
		r.log.Warn("shutdown deadline reached before all websocket sessions closed", "remaining", stuck)
		return stuck
	}
}
