package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/dropspot/internal/adapter/handler"
	"github.com/rl1809/dropspot/internal/adapter/storage"
	"github.com/rl1809/dropspot/internal/auth"
	"github.com/rl1809/dropspot/internal/config"
	"github.com/rl1809/dropspot/internal/core/ranking"
	"github.com/rl1809/dropspot/internal/core/service"
	"github.com/rl1809/dropspot/internal/port"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file (defaults to $"+config.EnvConfigPath+")")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	checks := map[string]handler.Pinger{"storage": store}

	// Redis is optional; without it the store alone arbitrates stock.
	var counter port.StockCounter
	if cfg.RedisAddr != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr))

		redisAdapter := storage.NewRedisAdapter(rdb)
		counter = redisAdapter
		checks["redis"] = redisAdapter
	}

	clock := service.SystemClock{}
	ranker := ranking.New(cfg.PrioritySeed)
	cache := service.NewDropCache(cfg.DropCacheSize, cfg.DropCacheTTL)

	drops := service.NewDropService(store, counter, cache, clock, logger)
	waitlist := service.NewWaitlistService(store, drops, ranker, clock, logger)
	claims := service.NewClaimService(store, counter, drops, ranker, clock, service.ClaimConfig{
		LaneTimeout:     cfg.LaneTimeout,
		CommitTimeout:   cfg.CommitTimeout,
		LaneIdleTimeout: cfg.LaneIdleTimeout,
	}, logger)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTLeeway)

	httpHandler := handler.NewHTTPHandler(drops, waitlist, claims, verifier, clock, checks, logger)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler.Routes(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	var (
		grpcServer *grpc.Server
		grpcLis    net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcHandler := handler.NewGRPCHandler(drops, waitlist, claims, verifier, clock, logger)
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpcHandler.UnaryAuthInterceptor()))
		handler.RegisterWaitlistServer(grpcServer, grpcHandler)

		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown", slog.Any("error", err))
		}
		logger.Info("HTTP server stopped")

		if grpcServer != nil {
			stopGRPC(shutdownCtx, grpcServer)
			logger.Info("gRPC server stopped")
		}
		return nil
	})

	return g.Wait()
}

// stopGRPC drains in-flight RPCs, forcing a stop once ctx expires.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
	}
}
