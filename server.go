package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanuiwon/voicebridge/internal/bridge"
	"github.com/hanuiwon/voicebridge/internal/config"
)

// Server is the HTTP surface of the bridge: the capture WebSocket endpoint
// plus health and metrics.
type Server struct {
	config  *config.Config
	bridge  *bridge.Bridge
	version *VersionChecker
	started time.Time
}

// NewServer returns a new Server for the given config and bridge.
func NewServer(cfg *config.Config, b *bridge.Bridge) *Server {
	return &Server{
		config:  cfg,
		bridge:  b,
		version: NewVersionChecker(),
		started: time.Now(),
	}
}

// SetupRoutes returns an [http.Handler] configured with all routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.bridge.HandleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status         string      `json:"status"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	ActiveSessions int         `json:"active_sessions"`
	Version        VersionInfo `json:"version"`
}

// handleHealth reports process health for LAN monitoring.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		ActiveSessions: s.bridge.ActiveSessions(),
		Version:        s.version.Info(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	slog.Info("starting bridge server", "addr", addr)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.SetupRoutes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
