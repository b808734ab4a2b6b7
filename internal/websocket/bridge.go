package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	ws "nhooyr.io/websocket"
)

const dialTimeout = 10 * time.Second

// Headers owned by the handshake itself; the dialer writes its own.
var handshakeHeaders = map[string]struct{}{
	"Connection":               {},
	"Upgrade":                  {},
	"Host":                     {},
	"Keep-Alive":               {},
	"Proxy-Connection":         {},
	"Proxy-Authorization":      {},
	"Te":                       {},
	"Trailer":                  {},
	"Transfer-Encoding":        {},
	"Content-Length":           {},
	"Sec-Websocket-Key":        {},
	"Sec-Websocket-Version":    {},
	"Sec-Websocket-Extensions": {},
	"Sec-Websocket-Protocol":   {},
	"Sec-Websocket-Accept":     {},
}

// Upstream describes where a browser session is relayed to.
type Upstream struct {
	// URL is the http(s) or ws(s) address to dial.
	URL *url.URL
	// Host, when set, is sent as the Host header instead of URL.Host.
	Host string
	// Header is added to the forwarded browser headers.
	Header http.Header
	// Rule labels the session in the registry.
	Rule string
}

// DialError means the upstream refused or could not be reached.
// Nothing has been written to the browser when it is returned.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream websocket dial failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream websocket dial failed: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Proxy relays WebSocket sessions between browsers and upstream servers.
type Proxy struct {
	registry  *Registry
	opts      []Option
	options   Options
	transport http.RoundTripper
}

// NewProxy creates a Proxy that registers every session with registry.
func NewProxy(registry *Registry, opts ...Option) *Proxy {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ForceAttemptHTTP2 = false
	return &Proxy{
		registry:  registry,
		opts:      opts,
		options:   applyOptions(opts),
		transport: t,
	}
}

// Serve dials the upstream first so the browser is only upgraded once the
// upstream has accepted, then relays messages until either side closes.
// It blocks for the lifetime of the session.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, up Upstream) error {
	dialCtx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()

	client := &http.Client{Transport: hostTransport{host: up.Host, next: p.transport}}
	upstream, resp, err := ws.Dial(dialCtx, wsURL(up.URL), &ws.DialOptions{
		HTTPClient:   client,
		HTTPHeader:   forwardHeaders(r.Header, up.Header),
		Subprotocols: Subprotocols(r),
	})
	if err != nil {
		de := &DialError{Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return de
	}
	upstream.SetReadLimit(p.options.ReadLimit)

	browser, err := Accept(w, r, upstream.Subprotocol())
	if err != nil {
		_ = upstream.Close(ws.StatusInternalError, "browser upgrade failed")
		return fmt.Errorf("accept browser websocket: %w", err)
	}
	browser.SetReadLimit(p.options.ReadLimit)

	conn := WrapConn(r.Context(), browser, p.opts...)
	if p.registry != nil {
		p.registry.Register(Session{Conn: conn, Rule: up.Rule, Upstream: up.URL.String()})
		defer p.registry.Unregister(conn)
	}

	p.options.Logger.Debug("websocket session opened", "rule", up.Rule, "path", r.URL.Path, "upstream", up.URL.String())
	err = Bridge(r.Context(), conn, upstream)
	p.options.Logger.Debug("websocket session closed", "path", r.URL.Path, "error", err)
	return err
}

type pumpResult struct {
	fromBrowser bool
	err         error
}

// Bridge copies messages in both directions. When one side ends, its close
// status is passed on to the other. A normal or going-away closure
// returns nil.
func Bridge(ctx context.Context, browser *Conn, upstream *ws.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan pumpResult, 2)
	go func() { results <- pumpResult{fromBrowser: true, err: relay(ctx, upstream, browser.Inner())} }()
	go func() { results <- pumpResult{fromBrowser: false, err: relay(ctx, browser.Inner(), upstream)} }()

	first := <-results
	code, reason := closeStatus(first.err)
	if first.fromBrowser {
		_ = upstream.Close(code, reason)
		browser.ForceClose()
	} else {
		_ = browser.Close(code, reason)
		upstream.CloseNow()
	}
	cancel()
	<-results

	if code == ws.StatusNormalClosure || code == ws.StatusGoingAway {
		return nil
	}
	return first.err
}

func relay(ctx context.Context, dst, src *ws.Conn) error {
	for {
		typ, rd, err := src.Reader(ctx)
		if err != nil {
			return err
		}
		wr, err := dst.Writer(ctx, typ)
		if err != nil {
			return err
		}
		if _, err := io.Copy(wr, rd); err != nil {
			_ = wr.Close()
			return err
		}
		if err := wr.Close(); err != nil {
			return err
		}
	}
}

func closeStatus(err error) (ws.StatusCode, string) {
	var ce ws.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case ws.StatusNoStatusRcvd:
			return ws.StatusNormalClosure, ""
		case ws.StatusAbnormalClosure, ws.StatusTLSHandshake:
			return ws.StatusGoingAway, ""
		}
		return ce.Code, ce.Reason
	}
	return ws.StatusGoingAway, "peer went away"
}

func wsURL(u *url.URL) string {
	c := *u
	switch c.Scheme {
	case "http":
		c.Scheme = "ws"
	case "https":
		c.Scheme = "wss"
	}
	return c.String()
}

func forwardHeaders(in, extra http.Header) http.Header {
	out := make(http.Header, len(in)+len(extra))
	for k, vs := range in {
		if _, skip := handshakeHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	return out
}

type hostTransport struct {
	host string
	next http.RoundTripper
}

func (t hostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.host != "" {
		req = req.Clone(req.Context())
		req.Host = t.host
	}
	return t.next.RoundTrip(req)
}
