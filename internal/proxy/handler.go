// Package proxy forwards requests matched by the routing table to their
// upstream targets and hands everything else to the next handler.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"sync/atomic"
	"time"

	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/routes"
	"github.com/rathix/devserver/internal/websocket"
)

type routeKey struct{}

// Handler routes requests through an atomically swappable table.
type Handler struct {
	table   atomic.Pointer[routes.Table]
	next    http.Handler
	rp      *httputil.ReverseProxy
	ws      *websocket.Proxy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithNext sets the handler for requests no rule matches. Default is 404.
func WithNext(next http.Handler) Option {
	return func(h *Handler) { h.next = next }
}

// WithWebSocket sets the proxy used for upgrade requests on ws rules.
func WithWebSocket(p *websocket.Proxy) Option {
	return func(h *Handler) { h.ws = p }
}

// WithMetrics records per-rule request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTransport overrides the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(h *Handler) { h.rp.Transport = rt }
}

// New creates a Handler serving table. If logger is nil, a no-op logger is used.
func New(table *routes.Table, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Handler{
		next:   http.NotFoundHandler(),
		logger: logger,
	}
	h.rp = &httputil.ReverseProxy{
		Rewrite:      h.rewrite,
		Transport:    newTransport(),
		ErrorHandler: h.upstreamError,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.ws == nil {
		var ropts []websocket.RegistryOption
		if h.metrics != nil {
			ropts = append(ropts, websocket.WithSessionGauge(h.metrics.WSSessions))
		}
		h.ws = websocket.NewProxy(websocket.NewRegistry(logger, ropts...), websocket.WithLogger(logger))
	}
	h.table.Store(table)
	return h
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Table returns the table currently in use.
func (h *Handler) Table() *routes.Table {
	return h.table.Load()
}

// Swap installs a new table for subsequent requests. Requests already
// routed finish against the table they matched.
func (h *Handler) Swap(t *routes.Table) {
	h.table.Store(t)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := h.Table().Match(r.URL.EscapedPath())
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}

	if websocket.IsUpgrade(r) {
		if !route.Rule.WS {
			h.metrics.ObserveProxy(route.Context(), http.StatusBadRequest, 0)
			websocket.RejectUpgrade(w, http.StatusBadRequest,
				fmt.Sprintf("websocket upgrade not enabled for %s", route.Context()))
			return
		}
		h.serveWebSocket(w, r, route)
		return
	}

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	ctx := context.WithValue(r.Context(), routeKey{}, route)
	h.rp.ServeHTTP(sw, r.WithContext(ctx))
	h.metrics.ObserveProxy(route.Context(), sw.status, time.Since(start))
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	route := pr.In.Context().Value(routeKey{}).(*routes.Route)
	pr.Out.URL = route.Forward(pr.In.URL.EscapedPath(), pr.In.URL.RawQuery)
	pr.SetXForwarded()
	if route.Rule.ChangeOrigin {
		pr.Out.Host = ""
	} else {
		pr.Out.Host = pr.In.Host
	}
	h.logger.Debug("proxying request",
		"rule", route.Context(),
		"from", pr.In.URL.Path,
		"to", pr.Out.URL.String(),
	)
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, route *routes.Route) {
	up := websocket.Upstream{
		URL:    route.Forward(r.URL.EscapedPath(), r.URL.RawQuery),
		Header: forwardedHeaders(r),
		Rule:   route.Context(),
	}
	if !route.Rule.ChangeOrigin {
		up.Host = r.Host
	}

	start := time.Now()
	err := h.ws.Serve(w, r, up)
	var de *websocket.DialError
	if errors.As(err, &de) {
		h.logger.Warn("websocket upstream unavailable",
			"rule", route.Context(),
			"target", up.URL.String(),
			"error", de.Err,
		)
		h.metrics.ObserveProxy(route.Context(), http.StatusBadGateway, time.Since(start))
		websocket.RejectUpgrade(w, http.StatusBadGateway, "upstream websocket unavailable")
		return
	}
	h.metrics.ObserveProxy(route.Context(), http.StatusSwitchingProtocols, time.Since(start))
	if err != nil {
		h.logger.Debug("websocket session ended", "rule", route.Context(), "error", err)
	}
}
