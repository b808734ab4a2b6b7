package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/health"
	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/proxy"
	"github.com/rathix/devserver/internal/routes"
	"github.com/rathix/devserver/internal/server"
	"github.com/rathix/devserver/internal/websocket"
)

// app wires the components for one process lifetime.
type app struct {
	cfg       *config.Config
	overrides config.Overrides
	logger    *slog.Logger

	metrics  *metrics.Metrics
	checker  *health.Checker
	registry *websocket.Registry
	proxy    *proxy.Handler
	handler  http.Handler
}

func newApp(cfg *config.Config, overrides config.Overrides, logger *slog.Logger) (*app, error) {
	table, err := routes.Compile(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy table: %w", err)
	}

	m := metrics.New()
	registry := websocket.NewRegistry(logger, websocket.WithSessionGauge(m.WSSessions))
	wsProxy := websocket.NewProxy(registry,
		websocket.WithPingInterval(cfg.PingInterval()),
		websocket.WithPongTimeout(cfg.PongTimeout()),
		websocket.WithReadLimit(cfg.WebSocket.MaxMessageBytes),
		websocket.WithLogger(logger),
	)

	static := server.NewBasePathHandler(cfg.Base, server.NewSPAHandler(cfg.Root, logger))
	p := proxy.New(table, logger,
		proxy.WithNext(static),
		proxy.WithWebSocket(wsProxy),
		proxy.WithMetrics(m),
	)

	checker := health.NewChecker(cfg.Targets(), cfg.Health.Path, cfg.HealthInterval(), cfg.HealthTimeout(), m, logger)

	return &app{
		cfg:       cfg,
		overrides: overrides,
		logger:    logger,
		metrics:   m,
		checker:   checker,
		registry:  registry,
		proxy:     p,
		handler: server.NewRouter(p, server.Endpoints{
			Status:  checker,
			Metrics: m.Handler(),
		}, logger),
	}, nil
}

// reload is the config watcher callback. It swaps the proxy table and
// reconfigures health probing; the listener and static settings stay as
// they were at startup.
func (a *app) reload(next *config.Config, errs []error) {
	for _, e := range errs {
		if next == nil {
			a.logger.Error("Config reload parse failed, keeping last good config", "error", e)
		} else {
			a.logger.Warn("Config reload validation warning", "error", e)
		}
	}
	if next == nil {
		a.metrics.ConfigReloaded("invalid")
		return
	}
	if err := a.overrides.Apply(next); err != nil {
		a.logger.Error("Config reload rejected", "error", err)
		a.metrics.ConfigReloaded("rejected")
		return
	}

	table, err := routes.Compile(next.Proxy)
	if err != nil {
		a.logger.Error("Config reload rejected, keeping last good proxy table", "error", err)
		a.metrics.ConfigReloaded("rejected")
		return
	}

	if config.ListenerChanged(a.cfg, next) || next.Root != a.cfg.Root || next.Base != a.cfg.Base {
		a.logger.Warn("Listener and static settings need a restart to change",
			"host", a.cfg.Host, "port", a.cfg.Port, "root", a.cfg.Root, "base", a.cfg.Base)
		next.Host, next.Port, next.StrictPort = a.cfg.Host, a.cfg.Port, a.cfg.StrictPort
		next.Root, next.Base = a.cfg.Root, a.cfg.Base
	}

	a.proxy.Swap(table)
	a.checker.Configure(next.Health.Path, next.HealthInterval(), next.HealthTimeout())
	a.checker.SetTargets(next.Targets())
	a.cfg = next
	a.metrics.ConfigReloaded("applied")
	a.logger.Info("Config reloaded", "rules", table.Len())
}
