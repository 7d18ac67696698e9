package api

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"saferoute/pkg/logging"
	"saferoute/pkg/version"
)

// NewServer creates and configures the HTTP server.
func NewServer(addr string, authH *AuthHandler, sessionH *SessionHandler, stats *StatsHandler) *http.Server {
	mux := http.NewServeMux()

	// 1. Health & Version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Stats
	mux.Handle("GET /api/stats", stats)

	// 3. Identity
	mux.HandleFunc("POST /api/auth/signup", authH.HandleSignUp)
	mux.HandleFunc("POST /api/auth/signin", authH.HandleSignIn)
	mux.HandleFunc("POST /api/auth/signout", authH.HandleSignOut)

	// 4. Session
	mux.HandleFunc("GET /api/session", sessionH.HandleGet)
	mux.HandleFunc("POST /api/session/route", sessionH.HandleSubmitRoute)
	mux.HandleFunc("POST /api/session/dismiss", sessionH.HandleDismiss)
	mux.HandleFunc("POST /api/session/reset", sessionH.HandleReset)
	mux.HandleFunc("GET /api/session/events", sessionH.HandleEvents)
	mux.HandleFunc("GET /api/session/story/segments/{index}/audio", sessionH.HandleSegmentAudio)

	return &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
