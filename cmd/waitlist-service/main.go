package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"qms/waitlist-service/internal/config"
	"qms/waitlist-service/internal/httpapi"
	"qms/waitlist-service/internal/realtime"
	"qms/waitlist-service/internal/scheduler"
	"qms/waitlist-service/internal/telemetry"
	"qms/waitlist-service/internal/tenant"
	"qms/waitlist-service/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "waitlist-service"

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Restaurant virtual waiting queue",
		SilenceUsage: true,
	}
	root.AddCommand(serveCommand(cfg, logger), sweepCommand(cfg, logger), migrateCommand(cfg, logger))

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func serveCommand(cfg config.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, realtime gateway and no-show sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.pool.Start()

	var sweeper *scheduler.Scheduler
	if cfg.SweepSchedule != "" {
		sweeper, err = scheduler.New(cfg.SweepSchedule, cfg.SweepTimeout, a.service, logger.With("component", "scheduler"))
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	gateway := realtime.NewGateway(a.hub, a.directory, a.entries, a.entries, logger.With("component", "realtime"))
	handler := httpapi.NewHandler(a.service, httpapi.Options{
		Logger:       logger.With("component", "http"),
		PollFallback: cfg.PollFallback,
		PollPush:     cfg.PollPush,
	})
	mux := handler.Routes()
	mux.Handle("/realtime/", realtime.SockJSHandler("/realtime", gateway))
	mux.Handle("GET /ws", realtime.WebSocketHandler(gateway, originChecker(cfg.AllowedOrigins)))

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		TenantPerMinute: cfg.TenantRateLimitPerMinute,
		TenantBurst:     cfg.TenantRateLimitBurst,
	})
	chain := httpapi.LoggingMiddleware(logger, limiter.Middleware(httpapi.AuthMiddleware(a.entries, mux)))
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(chain, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("waitlist-service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if a.redis != nil {
		relay := realtime.NewRelay(a.redis, cfg.RedisChannel, a.hub, logger.With("component", "realtime"))
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		if sweeper != nil {
			if err := sweeper.Stop(shutdownCtx); err != nil {
				logger.Warn("sweep scheduler stop", "error", err)
			}
		}
		if err := a.pool.Stop(shutdownCtx); err != nil {
			logger.Warn("background pool stop", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func sweepCommand(cfg config.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the no-show sweep once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.pool.Start()

			marked, sweepErr := a.service.SweepAll(ctx)
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.pool.Stop(stopCtx); err != nil {
				logger.Warn("background pool stop", "error", err)
			}
			logger.Info("no-show sweep finished", "marked", marked)
			return sweepErr
		},
	}
}

func migrateCommand(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema, optionally seeding tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("DB_DSN is required")
			}
			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			if err := migrations.Apply(ctx, pool); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			names, _ := migrations.Names()
			logger.Info("migrations applied", "files", names)

			if seed == "" {
				return nil
			}
			file, err := tenant.LoadFile(seed)
			if err != nil {
				return err
			}
			if err := tenant.NewPostgres(pool).Seed(ctx, file, time.Now().UTC()); err != nil {
				return fmt.Errorf("seed tenants: %w", err)
			}
			logger.Info("tenants seeded", "file", seed, "restaurants", len(file.Restaurants))
			return nil
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "tenants YAML file to upsert after migrating")
	return cmd
}

// originChecker allows every origin when none are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}
