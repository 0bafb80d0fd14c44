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

	"github.com/roomcast/roomcast/internal/api"
	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/httpserver"
	"github.com/roomcast/roomcast/internal/identity"
	"github.com/roomcast/roomcast/internal/media"
	"github.com/roomcast/roomcast/internal/metrics"
	"github.com/roomcast/roomcast/internal/negotiation"
	"github.com/roomcast/roomcast/internal/registry"
	"github.com/roomcast/roomcast/internal/signaling"
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

	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE configuration", "err", err)
		os.Exit(2)
	}

	// Construct the WebRTC engine early so misconfigurations are caught on
	// startup; no ICE sockets are opened until a participant connects.
	engine, err := media.NewPionEngine(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting roomcastd",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"redis_addr", cfg.RedisAddr,
		"room_capacity", cfg.RoomCapacity,
		"publisher_loss_policy", cfg.PublisherLossPolicy,
		"signaling_join_timeout", cfg.SignalingJoinTimeout,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
	)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "err", err)
	}

	users := identity.NewUserStore(redisClient)
	activity := identity.NewLogStore(redisClient)

	m := metrics.New()
	reg := registry.New(cfg.RoomCapacity, m)
	neg := negotiation.New(engine, cfg.PublisherLossPolicy, logger, m)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime))

	api.New(logger, users, activity, reg).Register(srv.Mux())
	srv.Mux().Handle("GET /ws", signaling.NewServer(cfg, logger, m, users, activity, reg, neg))
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values but fall back to the Go build info for
	// `go run` / dev builds.
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
	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
