package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Status is the last known state of an upstream.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnreachable Status = "unreachable"
)

const maxSnippetLen = 256

// Upstream is the probe result for one proxy target.
type Upstream struct {
	Target          string     `json:"target"`
	URL             string     `json:"url"`
	Status          Status     `json:"status"`
	HTTPCode        *int       `json:"httpCode,omitempty"`
	LatencyMs       int64      `json:"latencyMs"`
	Error           *string    `json:"error,omitempty"`
	LastChecked     *time.Time `json:"lastChecked,omitempty"`
	LastStateChange *time.Time `json:"lastStateChange,omitempty"`
}

// Recorder receives probe outcomes, typically for metrics.
type Recorder interface {
	SetUpstream(target string, up bool, latency time.Duration)
	ForgetUpstream(target string)
}

// Checker periodically probes every distinct proxy target.
type Checker struct {
	client   *resty.Client
	recorder Recorder
	logger   *slog.Logger
	reset    chan struct{}

	mu       sync.RWMutex
	path     string
	interval time.Duration
	timeout  time.Duration
	targets  []string
	results  map[string]Upstream
}

// NewChecker creates a checker probing target+path. If logger is nil, a
// no-op logger is used.
func NewChecker(targets []string, path string, interval, timeout time.Duration, recorder Recorder, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Checker{
		client:   resty.New().SetHeader("User-Agent", "devserver-health"),
		recorder: recorder,
		logger:   logger,
		reset:    make(chan struct{}, 1),
		path:     path,
		interval: interval,
		timeout:  timeout,
		results:  make(map[string]Upstream),
	}
	c.SetTargets(targets)
	return c
}

// SetTargets replaces the probed targets. Results for targets that remain
// are kept; results for dropped targets are forgotten.
func (c *Checker) SetTargets(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		keep[t] = struct{}{}
		if _, ok := c.results[t]; !ok {
			c.results[t] = Upstream{Target: t, URL: probeURL(t, c.path), Status: StatusUnknown}
		}
	}
	for t := range c.results {
		if _, ok := keep[t]; !ok {
			delete(c.results, t)
			if c.recorder != nil {
				c.recorder.ForgetUpstream(t)
			}
		}
	}
	c.targets = append([]string(nil), targets...)
}

// Configure changes the probe path, interval and timeout. A running Run
// picks up the new interval on its next tick.
func (c *Checker) Configure(path string, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = c.currentInterval()
	}
	c.mu.Lock()
	changed := interval != c.interval
	c.path, c.interval, c.timeout = path, interval, timeout
	for t, u := range c.results {
		u.URL = probeURL(t, path)
		c.results[t] = u
	}
	c.mu.Unlock()

	if changed {
		select {
		case c.reset <- struct{}{}:
		default:
		}
	}
}

// Run probes immediately, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.reset:
			ticker.Reset(c.currentInterval())
		case <-ticker.C:
			// select picks randomly when both are ready.
			if ctx.Err() != nil {
				return
			}
			c.CheckAll(ctx)
		}
	}
}

func (c *Checker) currentInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// CheckAll runs one probe cycle across all targets concurrently. Probes cut
// short by ctx are discarded so the previous result stands.
func (c *Checker) CheckAll(ctx context.Context) {
	c.mu.RLock()
	targets := append([]string(nil), c.targets...)
	path, timeout := c.path, c.timeout
	c.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.probe(ctx, probeURL(target, path), timeout)
			if ctx.Err() != nil {
				return
			}
			c.record(target, res)
		}()
	}
	wg.Wait()
}

// Snapshot returns results in target order.
func (c *Checker) Snapshot() []Upstream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Upstream, 0, len(c.targets))
	for _, t := range c.targets {
		out = append(out, c.results[t])
	}
	return out
}

// ServeHTTP writes the snapshot as JSON.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Upstreams []Upstream `json:"upstreams"`
	}{Upstreams: c.Snapshot()})
}

type probeResult struct {
	status   Status
	httpCode *int
	latency  time.Duration
	snippet  *string
}

func (c *Checker) probe(ctx context.Context, url string, timeout time.Duration) probeResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		msg := err.Error()
		res := probeResult{status: StatusUnreachable, snippet: &msg}
		if resp != nil {
			res.latency = resp.Time()
		}
		return res
	}

	code := resp.StatusCode()
	res := probeResult{
		status:   classify(code),
		httpCode: &code,
		latency:  resp.Time(),
	}
	if res.status != StatusHealthy {
		res.snippet = snippet(resp.String())
	}
	return res
}

func (c *Checker) record(target string, res probeResult) {
	c.mu.Lock()
	prev, ok := c.results[target]
	if !ok {
		// Target was removed while the probe was in flight.
		c.mu.Unlock()
		return
	}
	now := time.Now()
	next := prev
	next.Status = res.status
	next.HTTPCode = res.httpCode
	next.LatencyMs = res.latency.Milliseconds()
	next.Error = res.snippet
	next.LastChecked = &now
	if res.status != prev.Status {
		next.LastStateChange = &now
	}
	c.results[target] = next
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.SetUpstream(target, res.status == StatusHealthy, res.latency)
	}

	if res.status != prev.Status {
		args := []any{"target", target, "from", string(prev.Status), "to", string(res.status)}
		if res.snippet != nil {
			args = append(args, "error", *res.snippet)
		}
		if res.status == StatusHealthy {
			c.logger.Info("upstream health changed", args...)
		} else {
			c.logger.Warn("upstream health changed", args...)
		}
	}
	c.logger.Debug("upstream probe completed", "target", target, "status", string(res.status), "latencyMs", next.LatencyMs)
}

func probeURL(target, path string) string {
	return strings.TrimSuffix(target, "/") + path
}

func classify(code int) Status {
	if code >= 200 && code <= 299 {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// snippet returns the first line of body, truncated to maxSnippetLen.
func snippet(body string) *string {
	if len(body) > maxSnippetLen {
		body = body[:maxSnippetLen]
	}
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[:idx]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	return &body
}
