package main

import (
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
)

// minJWTSecretBytes is the HS256 key length below which a secret is
// considered guessable.
const minJWTSecretBytes = 32

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode != config.ModeProd {
		return
	}

	if len(cfg.JWTSecret) < minJWTSecretBytes {
		logger.Warn("startup security warning: JWT_SECRET is shorter than 32 bytes while --mode=prod",
			"warning_code", "jwt_secret_short",
			"jwt_secret_bytes", len(cfg.JWTSecret),
			"mode", cfg.Mode,
		)
	}

	if backend, err := store.ParseBackend(cfg.DatabaseURL); err == nil && backend == store.BackendMemory {
		logger.Warn("startup security warning: DATABASE_URL=memory: while --mode=prod (accounts and history are lost on restart)",
			"warning_code", "memory_store_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MetricsAPIKey == "" {
		logger.Warn("startup security warning: METRICS_API_KEY is unset while --mode=prod (/metrics is public)",
			"warning_code", "metrics_unprotected_in_prod",
			"mode", cfg.Mode,
		)
	}

	if !cfg.SessionCookieSecure {
		logger.Warn("startup security warning: SESSION_COOKIE_SECURE=false while --mode=prod (session cookie is sent over plain HTTP)",
			"warning_code", "session_cookie_insecure_in_prod",
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
