package mcp

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// AuthMiddleware guards the MCP endpoint with a static key taken from
// "Authorization: Bearer <key>", a bare Authorization value or X-API-Key.
// Failures are reported as JSON-RPC errors so MCP clients can surface
// them. An empty apiKey disables the check.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		if got == "" {
			auth := r.Header.Get("Authorization")
			got = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
		switch {
		case got == "":
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentcore-mcp"`)
			rpcError(w, http.StatusUnauthorized, "missing API key")
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			rpcError(w, http.StatusForbidden, "invalid API key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// rpcError writes a JSON-RPC 2.0 error with a null id.
func rpcError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error":   map[string]any{"code": -32001, "message": msg},
	})
}
