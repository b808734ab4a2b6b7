package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devserver.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_PortIsStrict3000(t *testing.T) {
	cfg := Default()
	if cfg.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Port)
	}
	if !cfg.Strict() {
		t.Error("expected strictPort to be true")
	}
}

func TestDefault_RuleOrderAndFlags(t *testing.T) {
	cfg := Default()
	if len(cfg.Proxy) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(cfg.Proxy))
	}

	summarize, api := cfg.Proxy[0], cfg.Proxy[1]
	if summarize.Context != "/api/summarize" || api.Context != "/api" {
		t.Fatalf("rule order = [%q %q], want [/api/summarize /api]", summarize.Context, api.Context)
	}
	for _, r := range cfg.Proxy {
		if r.Target != "http://localhost:5002" {
			t.Errorf("%s target = %q", r.Context, r.Target)
		}
		if !r.ChangeOrigin {
			t.Errorf("%s: expected changeOrigin", r.Context)
		}
		if err := r.Validate(); err != nil {
			t.Errorf("%s: default rule invalid: %v", r.Context, err)
		}
	}
	if !summarize.WS {
		t.Error("/api/summarize should allow websocket upgrades")
	}
	if api.WS {
		t.Error("/api should not allow websocket upgrades")
	}
}

func TestDefault_ReturnsFreshCopy(t *testing.T) {
	a := Default()
	a.Proxy[0].Target = "http://elsewhere"
	*a.StrictPort = false

	b := Default()
	if b.Proxy[0].Target != BackendTarget || !b.Strict() {
		t.Error("Default must not share state between calls")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, errs := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if cfg.Port != DefaultPort || len(cfg.Proxy) != 2 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_EmptyFileReturnsDefaults(t *testing.T) {
	cfg, errs := Load(writeTempConfig(t, "  \n\t\n"))
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	cfg, errs := Load(writeTempConfig(t, "port: [oops"))
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "parse") {
		t.Errorf("expected one parse error, got %v", errs)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
host: 0.0.0.0
port: 4000
strictPort: false
root: public
health:
  interval: 30s
  path: healthz
`)
	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 4000 || cfg.Root != "public" {
		t.Errorf("unexpected listener settings: %+v", cfg)
	}
	if cfg.Strict() {
		t.Error("expected strictPort false from file")
	}
	if cfg.Health.Path != "/healthz" {
		t.Errorf("health path = %q, want /healthz", cfg.Health.Path)
	}
	if got := cfg.HealthInterval().String(); got != "30s" {
		t.Errorf("health interval = %s, want 30s", got)
	}
	// Untouched fields keep defaults.
	if cfg.Health.Timeout != defaultHealthTimeout.String() {
		t.Errorf("health timeout = %q, want default", cfg.Health.Timeout)
	}
	if len(cfg.Proxy) != 2 {
		t.Errorf("expected default rules to survive, got %d", len(cfg.Proxy))
	}
}

func TestLoad_ProxyListReplacesDefaultsInOrder(t *testing.T) {
	path := writeTempConfig(t, `
proxy:
  - context: /api/v2
    target: http://localhost:6000
    ws: true
  - context: ^/v\d+/
    target: https://example.test/base
  - context: /api
    target: http://localhost:5002
    changeOrigin: true
    rewrite:
      - pattern: ^/api
        replace: ""
`)
	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	want := []string{"/api/v2", `^/v\d+/`, "/api"}
	if len(cfg.Proxy) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(cfg.Proxy))
	}
	for i, ctx := range want {
		if cfg.Proxy[i].Context != ctx {
			t.Errorf("proxy[%d] = %q, want %q", i, cfg.Proxy[i].Context, ctx)
		}
	}
	if !cfg.Proxy[0].WS || cfg.Proxy[0].ChangeOrigin {
		t.Errorf("proxy[0] flags = %+v", cfg.Proxy[0])
	}
	if len(cfg.Proxy[2].Rewrite) != 1 || cfg.Proxy[2].Rewrite[0].Replace != "" {
		t.Errorf("proxy[2] rewrite = %+v", cfg.Proxy[2].Rewrite)
	}
}

func TestLoad_InvalidRulesStripped(t *testing.T) {
	path := writeTempConfig(t, `
proxy:
  - context: ""
    target: http://localhost:1
  - context: /a
    target: ftp://localhost
  - context: /b
    target: http://localhost:2
    rewrite:
      - pattern: "("
  - context: ^(
    target: http://localhost:3
  - context: /ok
    target: http://localhost:4
  - context: /ok
    target: http://localhost:5
  - context: relative
    target: http://localhost:6
`)
	cfg, errs := Load(path)
	if cfg == nil {
		t.Fatal("expected partial config")
	}
	if len(cfg.Proxy) != 1 || cfg.Proxy[0].Target != "http://localhost:4" {
		t.Errorf("expected only first /ok rule, got %+v", cfg.Proxy)
	}
	if len(errs) != 6 {
		t.Fatalf("expected 6 validation errors, got %d: %v", len(errs), errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInvalidRule) {
			t.Errorf("error %v does not wrap ErrInvalidRule", err)
		}
	}
	if !strings.Contains(errs[4].Error(), "duplicate") {
		t.Errorf("expected duplicate error, got %v", errs[4])
	}
}

func TestLoad_PortOutOfRangeKeepsDefault(t *testing.T) {
	cfg, errs := Load(writeTempConfig(t, "port: 70000\n"))
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
}

func TestLoad_UnreadablePath(t *testing.T) {
	cfg, errs := Load(t.TempDir())
	if cfg != nil {
		t.Errorf("expected nil config for directory path, got %+v", cfg)
	}
	if len(errs) == 0 {
		t.Error("expected read error")
	}
}

func TestConfig_Targets(t *testing.T) {
	cfg := Default()
	cfg.Proxy = append(cfg.Proxy, ProxyRule{Context: "/auth", Target: "http://localhost:7000"})

	got := cfg.Targets()
	if len(got) != 2 || got[0] != BackendTarget || got[1] != "http://localhost:7000" {
		t.Errorf("Targets() = %v", got)
	}
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := &Config{Health: HealthConfig{Interval: "nonsense", Timeout: "-1s"}}
	if cfg.HealthInterval() != defaultHealthInterval {
		t.Errorf("interval = %s, want default", cfg.HealthInterval())
	}
	if cfg.HealthTimeout() != defaultHealthTimeout {
		t.Errorf("timeout = %s, want default", cfg.HealthTimeout())
	}
	if cfg.PingInterval() != defaultPingInterval || cfg.PongTimeout() != defaultPongTimeout {
		t.Error("expected websocket defaults")
	}
}
