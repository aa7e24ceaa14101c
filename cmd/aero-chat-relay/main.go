package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/api"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/gateway"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/relay"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

const storeOpenTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-chat-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"database_backend", databaseBackend(cfg.DatabaseURL),
		"call_mode", cfg.CallMode,
		"ws_max_message_bytes", cfg.WSMaxMessageBytes,
		"ws_max_messages_per_second", cfg.WSMaxMessagesPerSecond,
		"session_send_queue_bytes", cfg.SessionSendQueueBytes,
		"identity_cache_size", cfg.IdentityCacheSize,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"turn_rest_realm", cfg.TURNREST.Realm,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE configuration; /readyz and /webrtc/ice will report unavailable", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("aero-chat-relay exited", "err", err)
		os.Exit(1)
	}
}

// app is the fully wired relay, ready to serve.
type app struct {
	store        store.Store
	srv          *httpserver.Server
	ws           *gateway.Server
	loginLimiter *ratelimit.Keyed
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	openCtx, cancelOpen := context.WithTimeout(ctx, storeOpenTimeout)
	st, err := store.Open(openCtx, cfg.DatabaseURL, store.Options{})
	cancelOpen()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, st.Close())
		}
	}()

	backing := st
	if cfg.IdentityCacheSize > 0 {
		cached, cacheErr := store.WithIdentityCache(st, cfg.IdentityCacheSize)
		if cacheErr != nil {
			return nil, fmt.Errorf("identity cache: %w", cacheErr)
		}
		backing = cached
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewCollector(reg)

	accounts, err := auth.NewAccounts(backing, auth.Hasher{Cost: cfg.BcryptCost})
	if err != nil {
		return nil, fmt.Errorf("configure accounts: %w", err)
	}
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL, nil)

	core, err := relay.New(relay.Config{
		Users:          backing,
		Messages:       backing,
		Metrics:        rec,
		Logger:         logger.With("component", "relay"),
		SendQueueBytes: cfg.SessionSendQueueBytes,
		CallMode:       relay.CallMode(cfg.CallMode),
		RingTimeout:    cfg.CallRingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("configure relay: %w", err)
	}

	var turn *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turn, err = turnrest.NewGenerator(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            cfg.TURNREST.TTL(),
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("configure turn rest: %w", err)
		}
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, rec)
	srv.SetReadinessCheck(backing.Ping)
	srv.MountMetrics(metrics.Handler(reg), auth.APIKey{Expected: cfg.MetricsAPIKey})

	ws, err := gateway.New(gateway.Config{
		Relay:                core,
		Tokens:               tokens,
		CookieName:           cfg.SessionCookieName,
		Origins:              origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
		MaxMessageBytes:      cfg.WSMaxMessageBytes,
		MaxMessagesPerSecond: cfg.WSMaxMessagesPerSecond,
		IdleTimeout:          cfg.WSIdleTimeout,
		PingInterval:         cfg.WSPingInterval,
		Metrics:              rec,
		Logger:               logger.With("component", "gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("configure websocket gateway: %w", err)
	}
	srv.Router().Get("/ws", ws.ServeHTTP)

	loginLimiter := ratelimit.NewKeyed(ratelimit.PerMinute(cfg.LoginRatePerMinute), cfg.LoginBurst, 0, nil)
	rest, err := api.New(api.Config{
		Accounts:     accounts,
		Tokens:       tokens,
		Store:        backing,
		Presence:     core.Registry(),
		Notifier:     core,
		CookieName:   cfg.SessionCookieName,
		CookieSecure: cfg.SessionCookieSecure,
		SessionTTL:   cfg.SessionTTL,
		LoginLimiter: loginLimiter,
		OriginPolicy: srv.OriginPolicy(),
		ICEServers:   cfg.ICEServers,
		ICEError:     cfg.ICEConfigError(),
		TURN:         turn,
		Logger:       logger.With("component", "api"),
	})
	if err != nil {
		return nil, fmt.Errorf("configure rest api: %w", err)
	}
	srv.Router().Mount("/", rest.Handler())

	return &app{store: st, srv: srv, ws: ws, loginLimiter: loginLimiter}, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.store.Close())
	}()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.loginLimiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		return shutdown(cfg.ShutdownTimeout, a.ws, a.srv, logger)
	})
	return g.Wait()
}

// shutdown closes WebSocket sessions first so peers see CloseGoingAway, then
// drains the HTTP server.
func shutdown(timeout time.Duration, ws *gateway.Server, srv *httpserver.Server, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if wsErr := ws.Shutdown(ctx); wsErr != nil {
		logger.Warn("websocket sessions did not close before the shutdown deadline", "err", wsErr, "open", ws.Len())
		err = multierr.Append(err, fmt.Errorf("gateway shutdown: %w", wsErr))
	}
	if httpErr := srv.Shutdown(ctx); httpErr != nil {
		err = multierr.Append(err, fmt.Errorf("http shutdown: %w", httpErr))
		err = multierr.Append(err, srv.Close())
	}
	return err
}

func databaseBackend(databaseURL string) string {
	backend, err := store.ParseBackend(databaseURL)
	if err != nil {
		return "invalid"
	}
	return string(backend)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
