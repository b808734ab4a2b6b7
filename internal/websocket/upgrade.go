package websocket

import (
	"encoding/json"
	"net/http"
	"strings"

	ws "nhooyr.io/websocket"
)

// UpgradeError is the JSON body written when an upgrade is refused.
type UpgradeError struct {
	Error string `json:"error"`
}

// IsUpgrade reports whether r asks to switch to the WebSocket protocol.
func IsUpgrade(r *http.Request) bool {
	return headerContainsToken(r.Header, "Connection", "upgrade") &&
		headerContainsToken(r.Header, "Upgrade", "websocket")
}

// RejectUpgrade writes a JSON error with the given status.
func RejectUpgrade(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(UpgradeError{Error: msg})
}

// Accept upgrades the browser connection. Origin checks are skipped since
// the dev server answers whatever page the developer loaded.
func Accept(w http.ResponseWriter, r *http.Request, subprotocol string) (*ws.Conn, error) {
	opts := &ws.AcceptOptions{InsecureSkipVerify: true}
	if subprotocol != "" {
		opts.Subprotocols = []string{subprotocol}
	}
	return ws.Accept(w, r, opts)
}

// Subprotocols returns the protocols offered in Sec-WebSocket-Protocol.
func Subprotocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
