package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
)

// ErrPortInUse is returned when the requested port is already bound and
// strict mode forbids trying another one.
var ErrPortInUse = errors.New("port already in use")

// fallbackPorts is how many ports above the requested one are tried when
// strict mode is off.
const fallbackPorts = 20

// Listen binds host:port. With strict set, a busy port is an error wrapping
// ErrPortInUse. Otherwise the next free port in port+1..port+20 is used and
// the substitution is logged. Port 0 asks the kernel for any free port.
func Listen(ctx context.Context, host string, port int, strict bool, logger *slog.Logger) (net.Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, fmt.Errorf("listen on %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
	}
	if strict || port == 0 {
		return nil, fmt.Errorf("port %d on %s: %w", port, host, ErrPortInUse)
	}

	for p := port + 1; p <= port+fallbackPorts && p <= 65535; p++ {
		ln, err = lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			logger.Warn("port in use, trying another one", "requested", port, "using", p)
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %s: %w", net.JoinHostPort(host, strconv.Itoa(p)), err)
		}
	}
	return nil, fmt.Errorf("ports %d-%d on %s: %w", port, port+fallbackPorts, host, ErrPortInUse)
}
