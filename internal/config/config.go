package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/origin"
)

const (
	envVarListenAddr      = "AERO_CHAT_RELAY_LISTEN_ADDR"
	envVarMode            = "AERO_CHAT_RELAY_MODE"
	envVarLogFormat       = "AERO_CHAT_RELAY_LOG_FORMAT"
	envVarLogLevel        = "AERO_CHAT_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_CHAT_RELAY_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarDatabaseURL     = "DATABASE_URL"

	envVarJWTSecret           = "JWT_SECRET"
	envVarSessionTTL          = "SESSION_TTL"
	envVarSessionCookieName   = "SESSION_COOKIE_NAME"
	envVarSessionCookieSecure = "SESSION_COOKIE_SECURE"
	envVarBcryptCost          = "BCRYPT_COST"
	envVarLoginRatePerMinute  = "LOGIN_RATE_PER_MINUTE"
	envVarLoginBurst          = "LOGIN_BURST"

	// WebSocket hardening.
	envVarWSMaxMessageBytes      = "WS_MAX_MESSAGE_BYTES"
	envVarWSMaxMessagesPerSecond = "WS_MAX_MESSAGES_PER_SECOND"
	envVarWSIdleTimeout          = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval         = "WS_PING_INTERVAL"
	envVarSessionSendQueueBytes  = "SESSION_SEND_QUEUE_BYTES"
	envVarCallMode               = "CALL_MODE"
	envVarCallRingTimeout        = "CALL_RING_TIMEOUT"
	envVarIdentityCacheSize      = "IDENTITY_CACHE_SIZE"
	envVarMetricsAPIKey          = "METRICS_API_KEY"
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr  = "127.0.0.1:8080"
	DefaultMode        = ModeDev
	DefaultShutdown    = 15 * time.Second
	DefaultDatabaseURL = "sqlite://aero-chat.db"

	// DefaultJWTSecret is only accepted in dev mode.
	DefaultJWTSecret         = "aero-chat-relay-dev-secret"
	DefaultSessionTTL        = 24 * time.Hour
	DefaultSessionCookieName = "aero_chat_session"
	DefaultBcryptCost        = bcrypt.DefaultCost

	DefaultLoginRatePerMinute = 10
	DefaultLoginBurst         = 5

	DefaultWSMaxMessageBytes      = 64 * 1024
	DefaultWSMaxMessagesPerSecond = 50
	DefaultWSIdleTimeout          = 60 * time.Second
	DefaultWSPingInterval         = 20 * time.Second
	DefaultSessionSendQueueBytes  = 1 << 20

	DefaultCallMode        = CallModePermissive
	DefaultCallRingTimeout = 45 * time.Second

	DefaultIdentityCacheSize = 4096

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "aero-chat"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type CallMode string

const (
	CallModePermissive CallMode = "permissive"
	CallModeStrict     CallMode = "strict"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

func (c TurnRESTConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	DatabaseURL     string

	// Accounts and sessions.
	JWTSecret           string
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool
	BcryptCost          int
	LoginRatePerMinute  int
	LoginBurst          int

	// WebSocket gateway.
	WSMaxMessageBytes      int64
	WSMaxMessagesPerSecond int
	WSIdleTimeout          time.Duration
	WSPingInterval         time.Duration
	SessionSendQueueBytes  int

	CallMode        CallMode
	CallRingTimeout time.Duration

	// IdentityCacheSize <= 0 disables the user lookup cache.
	IdentityCacheSize int

	// MetricsAPIKey guards /metrics when set.
	MetricsAPIKey string

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. Load does not
// fail on it; /readyz and /webrtc/ice surface it instead.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	databaseURL := envOrDefault(lookup, envVarDatabaseURL, DefaultDatabaseURL)
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	sessionCookieName := envOrDefault(lookup, envVarSessionCookieName, DefaultSessionCookieName)
	callModeStr := envOrDefault(lookup, envVarCallMode, string(DefaultCallMode))
	metricsAPIKey := envOrDefault(lookup, envVarMetricsAPIKey, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	sessionTTL, err := envDurationOrDefault(lookup, envVarSessionTTL, DefaultSessionTTL)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	callRingTimeout, err := envDurationOrDefault(lookup, envVarCallRingTimeout, DefaultCallRingTimeout)
	if err != nil {
		return Config{}, err
	}

	sessionCookieSecure, err := envBoolOrDefault(lookup, envVarSessionCookieSecure, defaultCookieSecureForMode(modeDefault))
	if err != nil {
		return Config{}, err
	}

	bcryptCost, err := envIntOrDefault(lookup, envVarBcryptCost, DefaultBcryptCost)
	if err != nil {
		return Config{}, err
	}
	loginRatePerMinute, err := envIntOrDefault(lookup, envVarLoginRatePerMinute, DefaultLoginRatePerMinute)
	if err != nil {
		return Config{}, err
	}
	loginBurst, err := envIntOrDefault(lookup, envVarLoginBurst, DefaultLoginBurst)
	if err != nil {
		return Config{}, err
	}
	wsMaxMessageBytes, err := envIntOrDefault(lookup, envVarWSMaxMessageBytes, DefaultWSMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	wsMaxMessagesPerSecond, err := envIntOrDefault(lookup, envVarWSMaxMessagesPerSecond, DefaultWSMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sessionSendQueueBytes, err := envIntOrDefault(lookup, envVarSessionSendQueueBytes, DefaultSessionSendQueueBytes)
	if err != nil {
		return Config{}, err
	}
	identityCacheSize, err := envIntOrDefault(lookup, envVarIdentityCacheSize, DefaultIdentityCacheSize)
	if err != nil {
		return Config{}, err
	}

	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs := flag.NewFlagSet("aero-chat-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&databaseURL, "database-url", databaseURL, "Store URL: memory:, sqlite://PATH or postgres://... (env "+envVarDatabaseURL+")")

	fs.StringVar(&jwtSecret, "jwt-secret", jwtSecret, "HS256 secret for session tokens (env "+envVarJWTSecret+")")
	fs.DurationVar(&sessionTTL, "session-ttl", sessionTTL, "Session token lifetime (env "+envVarSessionTTL+")")
	fs.StringVar(&sessionCookieName, "session-cookie-name", sessionCookieName, "Session cookie name (env "+envVarSessionCookieName+")")
	fs.BoolVar(&sessionCookieSecure, "session-cookie-secure", sessionCookieSecure, "Mark the session cookie Secure (env "+envVarSessionCookieSecure+")")
	fs.IntVar(&bcryptCost, "bcrypt-cost", bcryptCost, "bcrypt cost for new passwords (env "+envVarBcryptCost+")")
	fs.IntVar(&loginRatePerMinute, "login-rate-per-minute", loginRatePerMinute, "Login/register attempts per minute per client IP (0 = unlimited; env "+envVarLoginRatePerMinute+")")
	fs.IntVar(&loginBurst, "login-burst", loginBurst, "Login/register burst per client IP (env "+envVarLoginBurst+")")

	fs.IntVar(&wsMaxMessageBytes, "ws-max-message-bytes", wsMaxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarWSMaxMessageBytes+")")
	fs.IntVar(&wsMaxMessagesPerSecond, "ws-max-messages-per-second", wsMaxMessagesPerSecond, "Max inbound WebSocket messages per second per connection (0 = unlimited; env "+envVarWSMaxMessagesPerSecond+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close idle WebSocket connections after this duration (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Send ping frames at this interval (must be < --ws-idle-timeout; env "+envVarWSPingInterval+")")
	fs.IntVar(&sessionSendQueueBytes, "session-send-queue-bytes", sessionSendQueueBytes, "Max queued outbound bytes per session before dropping (env "+envVarSessionSendQueueBytes+")")

	fs.StringVar(&callModeStr, "call-mode", callModeStr, "Call signaling mode: permissive or strict (env "+envVarCallMode+")")
	fs.DurationVar(&callRingTimeout, "call-ring-timeout", callRingTimeout, "Strict mode: end unanswered calls after this duration (env "+envVarCallRingTimeout+")")
	fs.IntVar(&identityCacheSize, "identity-cache-size", identityCacheSize, "User lookup cache entries (0 = disabled; env "+envVarIdentityCacheSize+")")
	fs.StringVar(&metricsAPIKey, "metrics-api-key", metricsAPIKey, "API key required for /metrics (empty = open; env "+envVarMetricsAPIKey+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm (coturn config; "+envVarTURNRESTRealm+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}
	callMode, err := parseCallMode(callModeStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("%s/--listen-addr must not be empty", envVarListenAddr)
	}
	if strings.TrimSpace(databaseURL) == "" {
		return Config{}, fmt.Errorf("%s/--database-url must not be empty", envVarDatabaseURL)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}

	if jwtSecret == "" {
		if mode == ModeProd {
			return Config{}, fmt.Errorf("%s/--jwt-secret is required in prod mode", envVarJWTSecret)
		}
		jwtSecret = DefaultJWTSecret
	}
	if mode == ModeProd && jwtSecret == DefaultJWTSecret {
		return Config{}, fmt.Errorf("%s/--jwt-secret must not be the dev default in prod mode", envVarJWTSecret)
	}
	if sessionTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--session-ttl must be > 0", envVarSessionTTL)
	}
	if !isHTTPToken(sessionCookieName) {
		return Config{}, fmt.Errorf("invalid %s/--session-cookie-name %q (must be an HTTP token)", envVarSessionCookieName, sessionCookieName)
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("%s/--bcrypt-cost must be between %d and %d", envVarBcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if loginRatePerMinute < 0 {
		return Config{}, fmt.Errorf("%s/--login-rate-per-minute must be >= 0", envVarLoginRatePerMinute)
	}
	if loginBurst < 1 {
		return Config{}, fmt.Errorf("%s/--login-burst must be >= 1", envVarLoginBurst)
	}

	if wsMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-max-message-bytes must be > 0", envVarWSMaxMessageBytes)
	}
	if wsMaxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--ws-max-messages-per-second must be >= 0", envVarWSMaxMessagesPerSecond)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", envVarWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envVarWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if sessionSendQueueBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--session-send-queue-bytes must be > 0", envVarSessionSendQueueBytes)
	}
	if int64(sessionSendQueueBytes) < int64(wsMaxMessageBytes) {
		return Config{}, fmt.Errorf("%s/--session-send-queue-bytes must be >= %s/--ws-max-message-bytes", envVarSessionSendQueueBytes, envVarWSMaxMessageBytes)
	}
	if callRingTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--call-ring-timeout must be > 0", envVarCallRingTimeout)
	}
	if identityCacheSize < 0 {
		return Config{}, fmt.Errorf("%s/--identity-cache-size must be >= 0", envVarIdentityCacheSize)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
		Realm:          turnRESTRealm,
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", envVarTURNRESTTTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("invalid %s/--turn-rest-username-prefix %q (must be non-empty and must not contain ':')", envVarTURNRESTUsernamePrefix, turnREST.UsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,
		DatabaseURL:     strings.TrimSpace(databaseURL),

		JWTSecret:           jwtSecret,
		SessionTTL:          sessionTTL,
		SessionCookieName:   sessionCookieName,
		SessionCookieSecure: sessionCookieSecure,
		BcryptCost:          bcryptCost,
		LoginRatePerMinute:  loginRatePerMinute,
		LoginBurst:          loginBurst,

		WSMaxMessageBytes:      int64(wsMaxMessageBytes),
		WSMaxMessagesPerSecond: wsMaxMessagesPerSecond,
		WSIdleTimeout:          wsIdleTimeout,
		WSPingInterval:         wsPingInterval,
		SessionSendQueueBytes:  sessionSendQueueBytes,

		CallMode:          callMode,
		CallRingTimeout:   callRingTimeout,
		IdentityCacheSize: identityCacheSize,
		MetricsAPIKey:     metricsAPIKey,
		TURNREST:          turnREST,
	}

	iceServers, err := parseICEServersFromValues(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
		cfg.TURNREST.Enabled(),
	)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func isHTTPToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isHTTPTokenChar(r) {
			return false
		}
	}
	return true
}

func isHTTPTokenChar(r rune) bool {
	if r >= '0' && r <= '9' {
		return true
	}
	if r >= 'A' && r <= 'Z' {
		return true
	}
	if r >= 'a' && r <= 'z' {
		return true
	}
	switch r {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	default:
		return false
	}
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func isProdMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return true
	default:
		return false
	}
}

func defaultLogFormatForMode(mode string) string {
	if isProdMode(mode) {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode string) string {
	if isProdMode(mode) {
		return "info"
	}
	return "debug"
}

func defaultCookieSecureForMode(mode string) bool {
	return isProdMode(mode)
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseCallMode(raw string) (CallMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(CallModePermissive), "":
		return CallModePermissive, nil
	case string(CallModeStrict):
		return CallModeStrict, nil
	default:
		return "", fmt.Errorf("invalid %s/--call-mode %q (expected %s or %s)", envVarCallMode, raw, CallModePermissive, CallModeStrict)
	}
}

var errWildcardMixed = errors.New(`"*" must be the only entry`)

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	wildcard := false
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			wildcard = true
			out = append(out, entry)
			continue
		}

		o, err := origin.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, o.String())
	}
	if wildcard && len(out) > 1 {
		return nil, errWildcardMixed
	}

	return out, nil
}
