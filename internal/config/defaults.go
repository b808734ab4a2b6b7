package config

import "time"

const (
	DefaultHost = "localhost"
	DefaultPort = 3000

	// BackendTarget is the Flask API the front end talks to.
	BackendTarget = "http://localhost:5002"

	defaultRoot            = "dist"
	defaultBase            = "/"
	defaultHealthPath      = "/health"
	defaultHealthInterval  = 10 * time.Second
	defaultHealthTimeout   = 3 * time.Second
	defaultPingInterval    = 5 * time.Second
	defaultPongTimeout     = 10 * time.Second
	defaultMaxMessageBytes = 16 << 20
)

// Default returns the built-in configuration: port 3000 with strict
// binding and the two backend rules. The summarize rule is listed first
// since /api would otherwise shadow it.
func Default() *Config {
	strict := true
	return &Config{
		Host:       DefaultHost,
		Port:       DefaultPort,
		StrictPort: &strict,
		Root:       defaultRoot,
		Base:       defaultBase,
		Proxy: []ProxyRule{
			{
				Context:      "/api/summarize",
				Target:       BackendTarget,
				ChangeOrigin: true,
				Rewrite: []PathRewrite{
					{Pattern: `^/api/summarize$`, Replace: "/summarize"},
					{Pattern: `^/api/summarize`, Replace: ""},
				},
				WS: true,
			},
			{
				Context:      "/api",
				Target:       BackendTarget,
				ChangeOrigin: true,
				Rewrite: []PathRewrite{
					{Pattern: `^/api`, Replace: ""},
				},
			},
		},
		Health: HealthConfig{
			Interval: defaultHealthInterval.String(),
			Timeout:  defaultHealthTimeout.String(),
			Path:     defaultHealthPath,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    defaultPingInterval.String(),
			PongTimeout:     defaultPongTimeout.String(),
			MaxMessageBytes: defaultMaxMessageBytes,
		},
	}
}
