package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/server"
)

// Version is injected at build time using ldflags.
var Version = "(unknown)"

const shutdownTimeout = 10 * time.Second

// options holds everything read from flags and the environment.
type options struct {
	ShowVersion bool
	ConfigFile  string
	LogFormat   string
	LogLevel    string
	Overrides   config.Overrides
}

// envOptions are the process-level settings that live outside the config file.
type envOptions struct {
	ConfigFile string `env:"CONFIG" envDefault:"devserver.yaml"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	// Quick check for version flag before full config loading
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("devserver version %s\n", Version)
			return
		}
	}

	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadOptions parses flags and environment variables with precedence:
// Flag > Env > config file > Default.
func loadOptions(args []string) (options, error) {
	var e envOptions
	if err := env.ParseWithOptions(&e, env.Options{Prefix: config.EnvPrefix}); err != nil {
		return options{}, fmt.Errorf("error reading environment: %w", err)
	}
	envOverrides, err := config.OverridesFromEnv()
	if err != nil {
		return options{}, err
	}

	fs := flag.NewFlagSet("devserver", flag.ContinueOnError)

	opts := options{}
	fs.BoolVar(&opts.ShowVersion, "version", false, "print version and exit")
	fs.StringVar(&opts.ConfigFile, "config", e.ConfigFile, "path to YAML config file")
	fs.StringVar(&opts.LogFormat, "log-format", e.LogFormat, "log format (json or text)")
	fs.StringVar(&opts.LogLevel, "log-level", e.LogLevel, "log level (debug, info, warn, error)")

	host := fs.String("host", config.DefaultHost, "interface to bind")
	port := fs.Int("port", config.DefaultPort, "port to bind")
	strict := fs.Bool("strict-port", true, "fail instead of trying the next free port")
	root := fs.String("root", "dist", "directory of the built front end")
	base := fs.String("base", "/", "public base path of the front end")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	// Only flags given on the command line override the env and the file.
	var flagOverrides config.Overrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			flagOverrides.Host = host
		case "port":
			flagOverrides.Port = port
		case "strict-port":
			flagOverrides.StrictPort = strict
		case "root":
			flagOverrides.Root = root
		case "base":
			flagOverrides.Base = base
		}
	})
	opts.Overrides = envOverrides.Merge(flagOverrides)

	if opts.LogFormat != "json" && opts.LogFormat != "text" {
		return options{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", opts.LogFormat)
	}
	if _, err := parseLevel(opts.LogLevel); err != nil {
		return options{}, err
	}

	return opts, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q: %w", s, err)
	}
	return level, nil
}

func setupLogger(format, level string) *slog.Logger {
	return setupLoggerWithWriter(format, level, os.Stdout)
}

func setupLoggerWithWriter(format, level string, writer io.Writer) *slog.Logger {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}
	return slog.New(handler)
}

// loadConfig reads the config file and applies env and flag overrides.
// A file that cannot be parsed is reported and the defaults are used.
func loadConfig(opts options, logger *slog.Logger) (*config.Config, error) {
	cfg, errs := config.Load(opts.ConfigFile)
	for _, e := range errs {
		if cfg == nil {
			logger.Error("Config parse failed, continuing with defaults", "file", opts.ConfigFile, "error", e)
		} else {
			logger.Warn("Config validation warning", "file", opts.ConfigFile, "error", e)
		}
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := opts.Overrides.Apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid override: %w", err)
	}
	return cfg, nil
}

// run starts the server and handles graceful shutdown.
func run(ctx context.Context, opts options) error {
	logger := setupLogger(opts.LogFormat, opts.LogLevel)
	slog.SetDefault(logger)

	slog.Info("Starting devserver", "version", Version)

	cfg, err := loadConfig(opts, logger)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, opts.Overrides, logger)
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go a.checker.Run(bgCtx)

	configWatcher := config.NewWatcher(opts.ConfigFile, a.reload, logger)
	go func() {
		if err := configWatcher.Run(bgCtx); err != nil && bgCtx.Err() == nil {
			slog.Warn("config watcher stopped with error", "error", err)
		}
	}()

	ln, err := server.Listen(ctx, cfg.Host, cfg.Port, cfg.Strict(), logger)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	// Channel to catch server errors
	serverError := make(chan error, 1)
	go func() {
		slog.Info("Listening (HTTP)", "url", "http://"+ln.Addr().String(), "root", cfg.Root, "base", cfg.Base)
		for _, r := range a.proxy.Table().Routes() {
			slog.Info("Proxy rule", "context", r.Context(), "target", r.Rule.Target, "ws", r.Rule.WS, "changeOrigin", r.Rule.ChangeOrigin)
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError <- err
		}
	}()

	// Wait for interruption or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")

		bgCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked connections are invisible to Shutdown.
		a.registry.CloseAll(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	case err := <-serverError:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
