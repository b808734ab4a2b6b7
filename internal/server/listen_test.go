package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
)

func occupy(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy a port: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestListenStrictPortInUse(t *testing.T) {
	_, port := occupy(t)

	ln, err := Listen(context.Background(), "127.0.0.1", port, true, nil)
	if err == nil {
		ln.Close()
		t.Fatal("expected error for occupied port in strict mode")
	}
	if !errors.Is(err, ErrPortInUse) {
		t.Errorf("expected ErrPortInUse, got %v", err)
	}
	if !strings.Contains(err.Error(), strconv.Itoa(port)) {
		t.Errorf("expected error to name port %d, got %q", port, err.Error())
	}
}

func TestListenNonStrictFallsBack(t *testing.T) {
	_, port := occupy(t)
	if port+fallbackPorts > 65535 {
		t.Skip("ephemeral port too close to the top of the range")
	}

	ln, err := Listen(context.Background(), "127.0.0.1", port, false, nil)
	if err != nil {
		t.Fatalf("expected fallback listener, got %v", err)
	}
	defer ln.Close()

	got := ln.Addr().(*net.TCPAddr).Port
	if got <= port || got > port+fallbackPorts {
		t.Errorf("expected port in (%d, %d], got %d", port, port+fallbackPorts, got)
	}
}

func TestListenFreePort(t *testing.T) {
	ln, port := occupy(t)
	ln.Close()

	got, err := Listen(context.Background(), "127.0.0.1", port, true, nil)
	if err != nil {
		t.Fatalf("expected to bind freed port %d, got %v", port, err)
	}
	defer got.Close()

	if p := got.Addr().(*net.TCPAddr).Port; p != port {
		t.Errorf("expected port %d, got %d", port, p)
	}
}

func TestListenEphemeral(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1", 0, true, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if ln.Addr().(*net.TCPAddr).Port == 0 {
		t.Error("expected kernel-assigned port")
	}
}
