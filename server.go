package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/server"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

// wsSendBuffer is the outgoing message backlog per WebSocket client.
const wsSendBuffer = 64

// detectorService is the detector surface used by the HTTP server.
type detectorService interface {
	server.Detector
	Subscribe() (<-chan types.LiveEvent, func())
}

// ServerOptions holds the collaborators of the HTTP server.
type ServerOptions struct {
	Detector        detectorService
	Commands        *server.CommandHandler
	Metrics         http.Handler // Prometheus exposition handler
	Releases        *ReleaseWatcher
	EventLogPath    string
	FFmpegAvailable bool
}

// Server is an HTTP server that exposes the speech detector.
type Server struct {
	config          *config.Config
	detector        detectorService
	commands        *server.CommandHandler
	metrics         http.Handler
	releases        *ReleaseWatcher
	eventLogPath    string
	ffmpegAvailable bool
}

// NewServer returns a new Server configured with the provided config and collaborators.
func NewServer(cfg *config.Config, opts ServerOptions) *Server {
	releases := opts.Releases
	if releases == nil {
		releases = NewReleaseWatcher(releaseFeedURL, nil)
	}
	return &Server{
		config:          cfg,
		detector:        opts.Detector,
		commands:        opts.Commands,
		metrics:         opts.Metrics,
		releases:        releases,
		eventLogPath:    opts.EventLogPath,
		ffmpegAvailable: opts.FFmpegAvailable,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Create buffered send channel for thread-safe writes.
	// Only the writer goroutine writes to the connection, preventing race conditions.
	send := make(chan any, wsSendBuffer)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	live, cancel := s.detector.Subscribe()
	defer cancel()

	// Writer goroutine - sole writer to the connection
	go s.runWebSocketWriter(conn, send, done)

	// Reader goroutine - handles incoming commands
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate, live)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until the reader finishes. send is never closed so late async results are dropped.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop forwards live detector events and periodic status.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}, live <-chan types.LiveEvent) {
	statusTicker := time.NewTicker(types.StatusInterval)
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case ev, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			if !trySend(ev) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		}
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Platform:        runtime.GOOS,
		Detector:        s.detector.Status(),
		Stats:           s.detector.Stats(),
		Settings:        s.detector.Settings(),
		Devices:         s.deviceList(),
		Version:         s.releases.Info(),
	}
}

// deviceList returns the capture devices, never nil.
func (s *Server) deviceList() []audio.Device {
	if devices := s.detector.Devices(); devices != nil {
		return devices
	}
	return []audio.Device{}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	// API key protected routes
	mux.HandleFunc("GET /api/stats", s.apiKeyAuth(s.handleStats))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleEvents))
	mux.HandleFunc("POST /api/speech/force-end", s.apiKeyAuth(s.handleForceEnd))
	mux.HandleFunc("GET /ws", s.apiKeyAuth(s.handleWebSocket))

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

// apiKeyAuth returns middleware for API key authentication. The key is read
// from the X-API-Key header, or from the key query parameter for browsers
// that cannot set headers on WebSocket requests.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins listening for HTTP requests and returns the server for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting web server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("web server error", "error", err)
		}
	}()

	return srv
}
