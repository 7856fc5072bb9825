package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "SIGNALCORE_LISTEN_ADDR"
	envVarMode            = "SIGNALCORE_MODE"
	envVarLogFormat       = "SIGNALCORE_LOG_FORMAT"
	envVarLogLevel        = "SIGNALCORE_LOG_LEVEL"
	envVarShutdownTimeout = "SIGNALCORE_SHUTDOWN_TIMEOUT"

	// WebSocket auth + hardening.
	envVarAuthMode             = "SIGNALCORE_AUTH_MODE"
	envVarJWTSecret            = "SIGNALCORE_JWT_SECRET"
	envVarAuthTimeout          = "SIGNALCORE_AUTH_TIMEOUT"
	envVarMaxMessageBytes      = "SIGNALCORE_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "SIGNALCORE_MAX_MESSAGES_PER_SECOND"
	envVarSendQueueFrames      = "SIGNALCORE_SEND_QUEUE_FRAMES"
	envVarSendQueueBytes       = "SIGNALCORE_SEND_QUEUE_BYTES"

	// Call lifecycle knobs.
	envVarRingTimeout   = "SIGNALCORE_RING_TIMEOUT"
	envVarTerminalGrace = "SIGNALCORE_TERMINAL_GRACE"

	// External state. Both are optional; the in-memory implementations are
	// the default.
	envVarRedisURL    = "SIGNALCORE_REDIS_URL"
	envVarCallTTL     = "SIGNALCORE_CALL_TTL"
	envVarPostgresDSN = "SIGNALCORE_POSTGRES_DSN"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "SIGNALCORE_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTL            = "SIGNALCORE_TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "SIGNALCORE_TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTURIs           = "SIGNALCORE_TURN_REST_URIS"

	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultAuthMode             = AuthModeNone
	DefaultAuthTimeout          = 10 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024)

	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueFrames      = 256
	DefaultSendQueueBytes       = 1 << 20 // 1MiB

	DefaultRingTimeout   = 60 * time.Second
	DefaultTerminalGrace = 30 * time.Second
	DefaultCallTTL       = 24 * time.Hour

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "signalcore"
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

type AuthMode string

const (
	AuthModeNone AuthMode = "none"
	AuthModeJWT  AuthMode = "jwt"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	URIs           []string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	AuthMode  AuthMode
	JWTSecret string

	AuthTimeout          time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueFrames      int
	SendQueueBytes       int

	RingTimeout   time.Duration
	TerminalGrace time.Duration

	// RedisURL selects the Redis-backed call session store when set.
	RedisURL string
	// CallTTL bounds how long a call snapshot may sit in Redis.
	CallTTL time.Duration
	// PostgresDSN selects the Postgres call-history sink when set.
	PostgresDSN string

	// ICEServers is the static STUN/TURN list advertised to clients.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig
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

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if !envLogFormatOK || envLogFormat == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if !envLogLevelOK || envLogLevel == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")
	redisURL := envOrDefault(lookup, envVarRedisURL, "")
	postgresDSN := envOrDefault(lookup, envVarPostgresDSN, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTURIsStr := envOrDefault(lookup, envVarTURNRESTURIs, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	authTimeout, err := envDurationOrDefault(lookup, envVarAuthTimeout, DefaultAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	ringTimeout, err := envDurationOrDefault(lookup, envVarRingTimeout, DefaultRingTimeout)
	if err != nil {
		return Config{}, err
	}
	terminalGrace, err := envDurationOrDefault(lookup, envVarTerminalGrace, DefaultTerminalGrace)
	if err != nil {
		return Config{}, err
	}
	callTTL, err := envDurationOrDefault(lookup, envVarCallTTL, DefaultCallTTL)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueFrames, err := envIntOrDefault(lookup, envVarSendQueueFrames, DefaultSendQueueFrames)
	if err != nil {
		return Config{}, err
	}
	sendQueueBytes, err := envIntOrDefault(lookup, envVarSendQueueBytes, DefaultSendQueueBytes)
	if err != nil {
		return Config{}, err
	}

	authModeDefault := string(DefaultAuthMode)
	if raw, ok := lookup(envVarAuthMode); ok && strings.TrimSpace(raw) != "" {
		authModeDefault = strings.TrimSpace(raw)
	}

	fs := flag.NewFlagSet("signalcored", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		authModeStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Auth mode: none or jwt (env "+envVarAuthMode+")")
	fs.DurationVar(&authTimeout, "auth-timeout", authTimeout, "How long an unauthenticated connection may idle (env "+envVarAuthTimeout+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WS message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound WS messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.IntVar(&sendQueueFrames, "send-queue-frames", sendQueueFrames, "Max queued outbound frames per connection (env "+envVarSendQueueFrames+")")
	fs.IntVar(&sendQueueBytes, "send-queue-bytes", sendQueueBytes, "Max queued outbound bytes per connection (env "+envVarSendQueueBytes+")")
	fs.DurationVar(&ringTimeout, "ring-timeout", ringTimeout, "How long a call may ring before it is missed (env "+envVarRingTimeout+")")
	fs.DurationVar(&terminalGrace, "terminal-grace", terminalGrace, "How long terminal call sessions stay addressable (env "+envVarTerminalGrace+")")
	fs.StringVar(&redisURL, "redis-url", redisURL, "Redis URL for the call session store (env "+envVarRedisURL+")")
	fs.DurationVar(&callTTL, "call-ttl", callTTL, "TTL for call snapshots in Redis (env "+envVarCallTTL+")")
	fs.StringVar(&postgresDSN, "postgres-dsn", postgresDSN, "Postgres DSN for the call history sink (env "+envVarPostgresDSN+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret (env "+envVarTURNRESTSharedSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "TURN REST credential TTL (env "+envVarTURNRESTTTL+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix (env "+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTURIsStr, "turn-rest-uris", turnRESTURIsStr, "Comma-separated TURN URIs for minted credentials (env "+envVarTURNRESTURIs+")")

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
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s is required when %s=jwt", envVarJWTSecret, envVarAuthMode)
	}
	if mode == ModeProd && authMode == AuthModeNone {
		return Config{}, fmt.Errorf("%s=none is not allowed in prod mode", envVarAuthMode)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	turnRESTURIs := splitCommaSeparated(turnRESTURIsStr)
	if turnRESTSharedSecret != "" && len(turnRESTURIs) == 0 {
		return Config{}, fmt.Errorf("%s is required when %s is set", envVarTURNRESTURIs, envVarTURNRESTSharedSecret)
	}

	return Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		AuthMode:  authMode,
		JWTSecret: jwtSecret,

		AuthTimeout:          authTimeout,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		SendQueueFrames:      sendQueueFrames,
		SendQueueBytes:       sendQueueBytes,

		RingTimeout:   ringTimeout,
		TerminalGrace: terminalGrace,

		RedisURL:    redisURL,
		CallTTL:     callTTL,
		PostgresDSN: postgresDSN,

		ICEServers: iceServers,
		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTL:            turnRESTTTL,
			UsernamePrefix: turnRESTUsernamePrefix,
			URIs:           turnRESTURIs,
		},
	}, nil
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

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
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

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone), "":
		return AuthModeNone, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeJWT)
	}
}
