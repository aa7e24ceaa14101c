package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// ReadinessCheck reports whether a dependency (usually the store) can serve.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	metrics metrics.Recorder

	ready     atomic.Bool
	readiness ReadinessCheck

	router chi.Router
	srv    *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, rec metrics.Recorder) *Server {
	if rec == nil {
		rec = metrics.Noop{}
	}
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		metrics: rec,
		router:  chi.NewRouter(),
	}

	s.router.Use(
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log, s.metrics),
	)
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		// Other timeouts stay zero: /ws connections are long-lived.
	}

	return s
}

// Router returns the root router for mounting the API and the gateway.
// It must only be used during startup before Serve is called.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReadinessCheck installs fn as an extra /readyz condition.
func (s *Server) SetReadinessCheck(fn ReadinessCheck) {
	s.readiness = fn
}

// MountMetrics serves h at /metrics, guarded by key when it is enabled.
func (s *Server) MountMetrics(h http.Handler, key auth.APIKey) {
	if !key.Enabled() {
		s.router.Method(http.MethodGet, "/metrics", h)
		return
	}
	s.router.Method(http.MethodGet, "/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := key.VerifyRequest(r); err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.ServeHTTP(w, r)
	}))
}

// OriginPolicy returns the CORS and Origin middleware for browser-facing
// routes.
func (s *Server) OriginPolicy() func(http.Handler) http.Handler {
	return originMiddleware(origin.Policy{AllowedOrigins: s.cfg.AllowedOrigins})
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		if s.readiness != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.readiness(ctx); err != nil {
				s.log.Warn("readiness check failed", "err", err)
				WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": "store unavailable"})
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// WriteError writes the {"success":false,"message":...} envelope used by
// every JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{"success": false, "message": message})
}
