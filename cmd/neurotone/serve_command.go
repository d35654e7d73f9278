// cmd/neurotone/serve_command.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/neurotone-service/internal/config"
	"github.com/SyedDaiam9101/neurotone-service/internal/handler"
	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
	"github.com/SyedDaiam9101/neurotone-service/internal/metrics"
	"github.com/SyedDaiam9101/neurotone-service/internal/middleware"
	"github.com/SyedDaiam9101/neurotone-service/internal/tracing"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC, HTTP and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.load(cmd)
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, cfg, log)
		},
	}

	f := cmd.Flags()
	f.Int("port", 0, "gRPC server port (default: 50051)")
	f.Int("http-port", 0, "HTTP API port (default: 8000)")
	f.Int("metrics-port", 0, "Prometheus metrics and probes port (default: 9100)")
	f.String("redis", "", "Redis address for the result cache (empty disables it)")
	f.Bool("otel", false, "Enable OpenTelemetry tracing")
	f.Duration("request-timeout", 0, "Per request compute budget")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Int("port", cfg.Port).
		Int("http_port", cfg.HTTPPort).
		Int("metrics_port", cfg.MetricsPort).
		Str("checkpoint", cfg.Model.Checkpoint).
		Str("base_model", cfg.Model.BaseModel).
		Bool("otel", cfg.OTELEnabled).
		Msgf("starting %s", serviceName)

	// Initialize OpenTelemetry tracer
	if cfg.OTELEnabled {
		shutdown, err := tracing.Init(tracing.Options{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracer")
		} else {
			log.Info().Str("endpoint", cfg.OTELEndpoint).Msg("OpenTelemetry tracing enabled (stdout exporter)")
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	metrics.SetUnhealthy()

	// A model that fails to load is fatal
	p, cleanup, err := buildPredictor(ctx, cfg, log, true)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer cleanup()

	// Build interceptor chain
	interceptors := []grpc.UnaryServerInterceptor{
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryMetricsInterceptor(),
	}
	if cfg.OTELEnabled {
		interceptors = append(interceptors, otelgrpc.UnaryServerInterceptor())
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(int(cfg.MaxUploadBytes)+1024),
	)
	handler.RegisterScreeningServer(grpcServer, handler.New(p, logger.Named("grpc")))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.NewRouter(p, handler.HTTPOptions{
			MaxUploadBytes: cfg.MaxUploadBytes,
			CORSOrigins:    cfg.CORSOrigins,
			SlowRequest:    5 * time.Second,
			Logger:         logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           handler.NewOpsRouter(p.Ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	healthServer.SetServingStatus(handler.ScreeningServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", opsServer.Addr).Msg("metrics and probes listening")
		if err := opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully")

		// Set health to not serving so load balancers drain us first
		healthServer.SetServingStatus(handler.ScreeningServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()
		if cfg.ShutdownGrace > 0 {
			time.Sleep(cfg.ShutdownGrace)
		}

		grpcServer.GracefulStop()

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(httpServer.Shutdown(sctx), opsServer.Shutdown(sctx))
	})

	log.Info().Msgf("%s is ready to accept requests", serviceName)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server shutdown complete")
	return nil
}
