package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rathix/devserver/internal/routes"
)

// ErrorBody is the JSON body written when the upstream cannot answer.
type ErrorBody struct {
	Error  string `json:"error"`
	Rule   string `json:"rule,omitempty"`
	Target string `json:"target,omitempty"`
}

func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	route, _ := r.Context().Value(routeKey{}).(*routes.Route)
	var rule, target string
	if route != nil {
		rule, target = route.Context(), route.Rule.Target
	}

	if errors.Is(err, context.Canceled) {
		h.logger.Debug("client went away before upstream answered", "rule", rule, "path", r.URL.Path)
		return
	}

	status := http.StatusBadGateway
	msg := "upstream unavailable"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		status = http.StatusGatewayTimeout
		msg = "upstream timed out"
	}

	h.logger.Warn("proxy error",
		"rule", rule,
		"target", target,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: msg, Rule: rule, Target: target})
}

// forwardedHeaders builds X-Forwarded-* for requests that bypass
// httputil.ReverseProxy.
func forwardedHeaders(r *http.Request) http.Header {
	h := http.Header{}
	ip := clientIP(r)
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		ip = prior + ", " + ip
	}
	h.Set("X-Forwarded-For", ip)
	h.Set("X-Forwarded-Host", r.Host)
	h.Set("X-Forwarded-Proto", scheme(r))
	return h
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return ip
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
