// Package proxy forwards requests from the local listener to the survey
// gateway. Tools on the agent's machine can talk to localhost and reach the
// backend without knowing its origin; upstream failures surface as a JSON
// 503 instead of a hung connection.
package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Handler is a reverse proxy for the gateway origin.
type Handler struct {
	proxy *httputil.ReverseProxy
	log   *slog.Logger
}

// New creates a proxy handler forwarding to the given backend origin.
func New(backend *url.URL, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	rp := httputil.NewSingleHostReverseProxy(backend)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("gateway unreachable", "method", r.Method, "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"gateway unreachable"}`))
	}
	return &Handler{proxy: rp, log: log}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.proxy.ServeHTTP(w, r)
}
