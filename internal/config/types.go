package config

import "time"

// Config is the dev server configuration. The zero value is not usable;
// start from Default.
type Config struct {
	Host       string          `yaml:"host"       json:"host"`
	Port       int             `yaml:"port"       json:"port"`
	StrictPort *bool           `yaml:"strictPort" json:"strictPort"`
	Root       string          `yaml:"root"       json:"root"`
	Base       string          `yaml:"base"       json:"base"`
	Proxy      []ProxyRule     `yaml:"proxy"      json:"proxy"`
	Health     HealthConfig    `yaml:"health"     json:"health"`
	WebSocket  WebSocketConfig `yaml:"websocket"  json:"websocket"`
}

// ProxyRule forwards requests whose path matches Context to Target.
// A Context beginning with '^' is treated as a regular expression,
// anything else as a plain path prefix.
type ProxyRule struct {
	Context      string        `yaml:"context"      json:"context"`
	Target       string        `yaml:"target"       json:"target"`
	ChangeOrigin bool          `yaml:"changeOrigin" json:"changeOrigin"`
	Rewrite      []PathRewrite `yaml:"rewrite"      json:"rewrite"`
	WS           bool          `yaml:"ws"           json:"ws"`
}

// PathRewrite replaces the first match of Pattern in the request path
// with Replace. Only the first matching entry of a rule applies.
type PathRewrite struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Replace string `yaml:"replace" json:"replace"`
}

// HealthConfig controls upstream health probing.
type HealthConfig struct {
	Interval string `yaml:"interval" json:"interval"`
	Timeout  string `yaml:"timeout"  json:"timeout"`
	Path     string `yaml:"path"     json:"path"`
}

// WebSocketConfig controls bridged WebSocket sessions.
type WebSocketConfig struct {
	PingInterval    string `yaml:"pingInterval"    json:"pingInterval"`
	PongTimeout     string `yaml:"pongTimeout"     json:"pongTimeout"`
	MaxMessageBytes int64  `yaml:"maxMessageBytes" json:"maxMessageBytes"`
}

// Strict reports whether the listener must fail instead of picking
// another port.
func (c *Config) Strict() bool {
	return c.StrictPort == nil || *c.StrictPort
}

// HealthInterval returns the parsed probe interval, falling back to the default.
func (c *Config) HealthInterval() time.Duration {
	return parseDurationOr(c.Health.Interval, defaultHealthInterval)
}

// HealthTimeout returns the parsed probe timeout, falling back to the default.
func (c *Config) HealthTimeout() time.Duration {
	return parseDurationOr(c.Health.Timeout, defaultHealthTimeout)
}

// PingInterval returns the WebSocket keepalive interval.
func (c *Config) PingInterval() time.Duration {
	return parseDurationOr(c.WebSocket.PingInterval, defaultPingInterval)
}

// PongTimeout returns the WebSocket pong deadline.
func (c *Config) PongTimeout() time.Duration {
	return parseDurationOr(c.WebSocket.PongTimeout, defaultPongTimeout)
}

// Targets returns the distinct proxy targets in rule order.
func (c *Config) Targets() []string {
	seen := make(map[string]struct{}, len(c.Proxy))
	out := make([]string, 0, len(c.Proxy))
	for _, r := range c.Proxy {
		if _, ok := seen[r.Target]; ok {
			continue
		}
		seen[r.Target] = struct{}{}
		out = append(out, r.Target)
	}
	return out
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
