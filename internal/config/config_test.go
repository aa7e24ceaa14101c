package config

import (
	"errors"
	"flag"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(lookupMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.DatabaseURL != DefaultDatabaseURL {
		t.Fatalf("databaseURL=%q, want %q", cfg.DatabaseURL, DefaultDatabaseURL)
	}
	if cfg.JWTSecret != DefaultJWTSecret {
		t.Fatalf("jwtSecret=%q, want dev default", cfg.JWTSecret)
	}
	if cfg.SessionCookieSecure {
		t.Fatal("SessionCookieSecure=true, want false in dev")
	}
	if cfg.SessionCookieName != DefaultSessionCookieName {
		t.Fatalf("SessionCookieName=%q, want %q", cfg.SessionCookieName, DefaultSessionCookieName)
	}
	if cfg.CallMode != CallModePermissive {
		t.Fatalf("CallMode=%q, want %q", cfg.CallMode, CallModePermissive)
	}
	if cfg.WSMaxMessageBytes != DefaultWSMaxMessageBytes {
		t.Fatalf("WSMaxMessageBytes=%d, want %d", cfg.WSMaxMessageBytes, DefaultWSMaxMessageBytes)
	}
	if cfg.WSPingInterval != DefaultWSPingInterval || cfg.WSIdleTimeout != DefaultWSIdleTimeout {
		t.Fatalf("ws timings=%v/%v", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
	if cfg.SessionSendQueueBytes != DefaultSessionSendQueueBytes {
		t.Fatalf("SessionSendQueueBytes=%d, want %d", cfg.SessionSendQueueBytes, DefaultSessionSendQueueBytes)
	}
	if cfg.IdentityCacheSize != DefaultIdentityCacheSize {
		t.Fatalf("IdentityCacheSize=%d, want %d", cfg.IdentityCacheSize, DefaultIdentityCacheSize)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatal("TURN REST enabled without a shared secret")
	}
	if len(cfg.AllowedOrigins) != 0 || len(cfg.ICEServers) != 0 {
		t.Fatalf("origins=%v ice=%v, want empty", cfg.AllowedOrigins, cfg.ICEServers)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v", cfg.ICEConfigError())
	}
}

func TestProdModeDefaults(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode:      "production",
		envVarJWTSecret: "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want json", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
	if !cfg.SessionCookieSecure {
		t.Fatal("SessionCookieSecure=false, want true in prod")
	}
}

func TestProdModeRequiresJWTSecret(t *testing.T) {
	for _, secret := range []string{"", DefaultJWTSecret} {
		_, err := load(lookupMap(map[string]string{
			envVarMode:      "prod",
			envVarJWTSecret: secret,
		}), nil)
		if err == nil || !strings.Contains(err.Error(), envVarJWTSecret) {
			t.Fatalf("secret %q: err=%v, want %s error", secret, err, envVarJWTSecret)
		}
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:  "0.0.0.0:9000",
		envVarLogLevel:    "warn",
		envVarDatabaseURL: "memory:",
		envVarCallMode:    "strict",
	}), []string{
		"--listen-addr", "127.0.0.1:9100",
		"--log-format", "json",
		"--call-ring-timeout", "10s",
		"--session-cookie-secure",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9100" {
		t.Fatalf("listenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("logLevel=%v, want warn", cfg.LogLevel)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want json", cfg.LogFormat)
	}
	if cfg.DatabaseURL != "memory:" {
		t.Fatalf("databaseURL=%q, want memory:", cfg.DatabaseURL)
	}
	if cfg.CallMode != CallModeStrict || cfg.CallRingTimeout != 10*time.Second {
		t.Fatalf("call=%q/%v", cfg.CallMode, cfg.CallRingTimeout)
	}
	if !cfg.SessionCookieSecure {
		t.Fatal("SessionCookieSecure=false, want flag value")
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "https://chat.example.com:443, http://localhost:5173",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://chat.example.com", "http://localhost:5173"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d]=%q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}

	if _, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "chat.example.com"}), nil); err == nil {
		t.Fatal("expected error for origin without scheme")
	}
	if _, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "*,https://a.example"}), nil); !errors.Is(err, errWildcardMixed) {
		t.Fatalf("err=%v, want %v", err, errWildcardMixed)
	}
}

func TestValidationErrorsNameEnvAndFlag(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "ping not below idle",
			env:  map[string]string{envVarWSPingInterval: "60s", envVarWSIdleTimeout: "60s"},
			want: "--ws-ping-interval",
		},
		{
			name: "bcrypt cost out of range",
			env:  map[string]string{envVarBcryptCost: "2"},
			want: envVarBcryptCost,
		},
		{
			name: "unknown call mode",
			env:  map[string]string{envVarCallMode: "lenient"},
			want: "--call-mode",
		},
		{
			name: "queue smaller than a frame",
			env:  map[string]string{envVarSessionSendQueueBytes: "1024"},
			want: envVarSessionSendQueueBytes,
		},
		{
			name: "bad cookie name",
			env:  map[string]string{envVarSessionCookieName: "bad name"},
			want: "--session-cookie-name",
		},
		{
			name: "turn rest prefix with colon",
			env:  map[string]string{envVarTURNRESTSharedSecret: "x", envVarTURNRESTUsernamePrefix: "a:b"},
			want: envVarTURNRESTUsernamePrefix,
		},
		{
			name: "unparsable duration",
			env:  map[string]string{envVarSessionTTL: "forever"},
			want: envVarSessionTTL,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), nil)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestICEConfigErrorDoesNotFailLoad(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatal("expected ICEConfigError for TURN urls without credentials")
	}

	cfg, err = load(lookupMap(map[string]string{
		envTurnURLs:                "turn:turn.example.com:3478",
		envVarTURNRESTSharedSecret: "shared",
		envVarTURNRESTTTLSeconds:   "600",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil with TURN REST", cfg.ICEConfigError())
	}
	if cfg.TURNREST.TTL() != 10*time.Minute {
		t.Fatalf("TURNREST.TTL=%v, want 10m", cfg.TURNREST.TTL())
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%v, want one TURN entry", cfg.ICEServers)
	}
}

func TestHelpFlag(t *testing.T) {
	_, err := load(lookupMap(nil), []string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err=%v, want flag.ErrHelp", err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
