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

	"github.com/redis/go-redis/v9"

	"github.com/kaahochat/signalcore/internal/auth"
	"github.com/kaahochat/signalcore/internal/bus"
	"github.com/kaahochat/signalcore/internal/call"
	"github.com/kaahochat/signalcore/internal/config"
	"github.com/kaahochat/signalcore/internal/history"
	"github.com/kaahochat/signalcore/internal/httpserver"
	"github.com/kaahochat/signalcore/internal/metrics"
	"github.com/kaahochat/signalcore/internal/presence"
	"github.com/kaahochat/signalcore/internal/registry"
	"github.com/kaahochat/signalcore/internal/signaling"
	"github.com/kaahochat/signalcore/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

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

	logger.Info("starting signalcored",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"ring_timeout", cfg.RingTimeout,
		"terminal_grace", cfg.TerminalGrace,
		"redis_enabled", cfg.RedisURL != "",
		"postgres_enabled", cfg.PostgresDSN != "",
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	verifier, err := auth.NewVerifier(string(cfg.AuthMode), cfg.JWTSecret)
	if err != nil {
		logger.Error("failed to configure auth", "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	reg := registry.New(nil)
	b := bus.New(reg, m)
	pres := presence.NewService(logger, m, reg, b)
	relay := signaling.NewRelay(logger, m, b)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store call.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "err", err)
			os.Exit(2)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		store = call.NewRedisStore(client, cfg.CallTTL)
	}

	var sink call.Sink
	if cfg.PostgresDSN != "" {
		db, err := history.OpenPostgres(ctx, cfg.PostgresDSN, history.PoolConfig{})
		if err != nil {
			logger.Error("postgres unreachable", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		sink = history.NewPostgresRecorder(db)
	} else {
		sink = history.NewMemoryRecorder()
	}

	calls := call.NewManager(call.Config{
		RingTimeout:   cfg.RingTimeout,
		TerminalGrace: cfg.TerminalGrace,
	}, logger, m, nil, pres, relay, store, sink)

	reconciler := signaling.NewReconciler(logger, reg, b, pres, calls)

	var iceServers any
	if len(cfg.ICEServers) > 0 {
		iceServers = cfg.ICEServers
	}
	ws := signaling.NewServer(signaling.Config{
		AuthTimeout:       cfg.AuthTimeout,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: int64(cfg.MaxMessagesPerSecond),
		SendQueueFrames:   cfg.SendQueueFrames,
		SendQueueBytes:    cfg.SendQueueBytes,
		ICEServers:        iceServers,
	}, logger, m, verifier, reg, b, pres, calls, reconciler)

	var turnGen *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turnGen, err = turnrest.NewGenerator(turnrest.Config{
			SharedSecret: cfg.TURNREST.SharedSecret,
			TTL:          cfg.TURNREST.TTL,
			Prefix:       cfg.TURNREST.UsernamePrefix,
			URIs:         cfg.TURNREST.URIs,
		})
		if err != nil {
			logger.Error("failed to configure TURN REST", "err", err)
			os.Exit(2)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Options{
		WS:       ws,
		Metrics:  metrics.PrometheusHandler(m),
		Presence: pres,
		TURN:     turnGen,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
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
