package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	grpcapp "judgeauth/internal/app/grpc"
	httpapp "judgeauth/internal/app/http"
	"judgeauth/internal/config"
	authgrpc "judgeauth/internal/grpc/auth"
	"judgeauth/internal/lib/jwt"
	"judgeauth/internal/lib/metrics"
	"judgeauth/internal/lib/password"
	"judgeauth/internal/lib/ratelimit"
	"judgeauth/internal/lib/sl"
	"judgeauth/internal/services/auth"
	"judgeauth/internal/services/presence"
	"judgeauth/internal/storage/memory"
	"judgeauth/internal/storage/mongodb"
	"judgeauth/internal/storage/postgres"
	redisstore "judgeauth/internal/storage/redis"
	"judgeauth/internal/storage/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
	limiterIdleTTL  = 10 * time.Minute
)

// Storage is the primary store: users and, unless Redis is enabled, refresh
// tokens.
type Storage interface {
	auth.UserSaver
	auth.UserProvider
	auth.RefreshTokenProvider
	io.Closer
}

type TokenStorage interface {
	auth.RefreshTokenProvider
	io.Closer
}

type App struct {
	GRPCSrv    *grpcapp.App
	MetricsSrv *httpapp.App

	log           *slog.Logger
	presence      *presence.Registry
	sweepInterval time.Duration
	stopPresence  context.CancelFunc
	presenceDone  chan struct{}
	closers       []io.Closer
}

// New wires the application from cfg. Stores are opened eagerly so a bad
// DSN fails at startup.
func New(log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	verifier, err := password.New(cfg.Password.Scheme)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	codec, err := jwt.New(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	store, err := NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	closers := []io.Closer{store}

	var tokens auth.RefreshTokenProvider = store
	if cfg.Redis.Enabled {
		redisTokens, err := NewRedisTokenStorage(ctx, cfg.Redis)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tokens = redisTokens
		closers = append(closers, redisTokens)
	}

	authService := auth.New(
		log,
		store,
		store,
		tokens,
		codec,
		verifier,
		cfg.RefreshTokenTTL,
		auth.WithMetrics(m),
	)

	registry := presence.New(log, cfg.Presence.Timeout, presence.WithMetrics(m))

	var limiter authgrpc.LoginLimiter
	if cfg.LoginLimit.RPS > 0 {
		limiter = ratelimit.NewKeyed(cfg.LoginLimit.RPS, cfg.LoginLimit.Burst, limiterIdleTTL)
	}

	a := &App{
		GRPCSrv:       grpcapp.New(log, authService, registry, limiter, cfg.GRPC.Port, cfg.GRPC.Timeout),
		log:           log,
		presence:      registry,
		sweepInterval: cfg.Presence.SweepInterval,
		closers:       closers,
	}
	if cfg.Metrics.Address != "" {
		a.MetricsSrv = httpapp.New(log, cfg.Metrics.Address, metrics.Handler(reg))
	}

	return a, nil
}

// NewStorage opens the primary store selected by cfg.Storage.Type.
func NewStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Type {
	case config.StorageSQLite:
		return sqlite.New(cfg.Storage.Path)
	case config.StoragePostgres:
		return postgres.New(cfg.Storage.DSN)
	case config.StorageMongo:
		return mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case config.StorageMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// NewRedisTokenStorage connects to Redis and returns the refresh token store
// backed by it.
func NewRedisTokenStorage(ctx context.Context, cfg config.RedisConfig) (TokenStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return redisstore.New(client, redisstore.WithRetention(cfg.Retention)), nil
}

// MustRun starts the background workers and the metrics endpoint, then
// serves gRPC until Stop.
func (a *App) MustRun() {
	a.startPresence()

	if a.MetricsSrv != nil {
		go a.MetricsSrv.MustRun()
	}

	a.GRPCSrv.MustRun()
}

func (a *App) startPresence() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopPresence = cancel
	a.presenceDone = make(chan struct{})

	go func() {
		defer close(a.presenceDone)
		a.presence.Run(ctx, a.sweepInterval)
	}()
}

// Stop shuts everything down in reverse start order. It is safe to call
// before MustRun.
func (a *App) Stop() {
	const op = "app.Stop"

	log := a.log.With(slog.String("op", op))

	a.GRPCSrv.Stop()

	if a.MetricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.MetricsSrv.Stop(ctx); err != nil {
			log.Error("failed to stop metrics server", sl.Err(err))
		}
		cancel()
	}

	if a.stopPresence != nil {
		a.stopPresence()
		<-a.presenceDone
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("failed to close storage", sl.Err(err))
	}
}
