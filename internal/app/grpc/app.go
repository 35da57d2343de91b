package grpcapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	authgrpc "judgeauth/internal/grpc/auth"

	"google.golang.org/grpc"
)

// AuthService is what the gRPC layer needs from the auth service: the RPC
// operations plus access token verification for the interceptor.
type AuthService interface {
	authgrpc.Auth
	authgrpc.TokenVerifier
}

type App struct {
	log        *slog.Logger
	gRPCServer *grpc.Server
	port       int
}

// New creates new gRPC server app. limiter may be nil; a zero timeout leaves
// request deadlines to the caller.
func New(
	log *slog.Logger,
	authService AuthService,
	presence authgrpc.Presence,
	limiter authgrpc.LoginLimiter,
	port int,
	timeout time.Duration,
) *App {
	interceptors := []grpc.UnaryServerInterceptor{}
	if timeout > 0 {
		interceptors = append(interceptors, TimeoutInterceptor(timeout))
	}
	interceptors = append(interceptors, authgrpc.AccessTokenInterceptor(authService))

	gRPCServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	authgrpc.Register(gRPCServer, authService, presence, limiter)

	return &App{
		log:        log,
		gRPCServer: gRPCServer,
		port:       port,
	}
}

// MustRun runs gRPC server and panics if any error occurs.
func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run runs gRPC server.
func (a *App) Run() error {
	const op = "grpcapp.Run"

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(l)
}

// Serve serves on an already open listener.
func (a *App) Serve(l net.Listener) error {
	const op = "grpcapp.Serve"

	a.log.Info("grpc server started", slog.String("op", op), slog.String("addr", l.Addr().String()))

	if err := a.gRPCServer.Serve(l); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop stops gRPC server.
func (a *App) Stop() {
	const op = "grpcapp.Stop"

	a.log.With(slog.String("op", op)).
		Info("stopping gRPC server", slog.Int("port", a.port))

	a.gRPCServer.GracefulStop()
}

// TimeoutInterceptor bounds every unary call by d unless the caller already
// set an earlier deadline.
func TimeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return handler(ctx, req)
	}
}
