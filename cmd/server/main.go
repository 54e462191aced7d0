package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/victoralfred/varlab/internal/adapters/database"
	"github.com/victoralfred/varlab/internal/config"
	"github.com/victoralfred/varlab/internal/handlers"
	redisImpl "github.com/victoralfred/varlab/internal/infrastructure/redis"
	"github.com/victoralfred/varlab/internal/logging"
	"github.com/victoralfred/varlab/internal/scheduler"
	"github.com/victoralfred/varlab/internal/server"
	"github.com/victoralfred/varlab/internal/services"
)

// newRootCmd builds the server command. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "varlab-server",
		Short: "Serve the VaR analysis HTTP API",
		Long: `varlab-server exposes VaR estimation, backtesting and method selection
over HTTP, runs the configured scheduled analyses and serves Prometheus metrics.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			logger.Info("Starting VaR analysis server...",
				zap.String("version", cfg.Version),
				zap.Float64("confidence", cfg.Risk.Confidence),
			)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("Server failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", os.Getenv("VARLAB_CONFIG"), "Path to the YAML config file")
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewPrometheusMetrics(registry)

	opts := []services.AnalyzerOption{services.WithMetrics(metrics)}
	svcs := &server.Services{
		Gatherer: registry,
		Checks:   map[string]func(context.Context) error{},
	}

	if cfg.Cache.Enabled {
		client := redisImpl.NewClient(cfg.Cache.Addr, cfg.Cache.DB, cfg.Cache.Password)
		cache := redisImpl.NewResultCacheWithClient(client, cfg.Cache.TTL)
		defer func() {
			_ = cache.Close()
		}()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := cache.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.Cache.Addr))

		opts = append(opts, services.WithResultCache(cache))
		svcs.Checks["cache"] = cache.Ping
		if cfg.RateLimit.Enabled {
			svcs.Limiter = redisImpl.NewQuotaLimiter(client)
		}
	}

	if cfg.Database.Enabled {
		pool, err := database.NewPool(ctx, database.Config{
			ConnectionString: cfg.Database.URL,
			MaxConns:         cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info("Connected to database successfully")

		logger.Info("Running database migrations...")
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		opts = append(opts, services.WithRunRepository(database.NewRunRepository(pool)))
		svcs.Checks["database"] = pool.Ping
	}

	analyzer, err := services.NewVaRAnalyzer(services.AnalyzerConfig{
		Options: services.EstimatorOptions{
			Lambda:              cfg.Risk.EWMALambda,
			GARCHTimeout:        cfg.Risk.GARCHTimeout,
			GARCHMaxEvaluations: cfg.Risk.GARCHMaxEvaluations,
		},
		UseThresholdSeries: cfg.Risk.UseThresholdSeries,
		Workers:            cfg.Risk.Workers,
		DefaultJointTiers:  cfg.Risk.JointTiers,
	}, services.NewRiskLogger(logger), opts...)
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}

	svcs.VaRHandler = handlers.NewVaRHandler(analyzer, cfg.Risk.Confidence, cfg.Risk.RequestTimeout, logger)

	if len(cfg.Schedules) > 0 {
		sched := scheduler.New(analyzer, cfg.Risk.RequestTimeout, logger)
		for _, job := range cfg.Schedules {
			if err := sched.Add(job, cfg.Risk.Confidence); err != nil {
				return err
			}
		}
		sched.Start()
		defer func() {
			<-sched.Stop().Done()
		}()
		logger.Info("Scheduled analyses started", zap.Int("count", len(cfg.Schedules)))

		svcs.ScheduleHandler = handlers.NewScheduleHandler(sched, logger)
	}

	httpServer := server.New(cfg, svcs, logger)
	httpServer.Setup()

	logger.Info("Available endpoints",
		zap.Strings("routes", []string{
			"GET  /v1/health",
			"GET  /v1/ready",
			"GET  /v1/info",
			"GET  /v1/methods",
			"POST /v1/var/estimate",
			"POST /v1/var/backtest",
			"POST /v1/var/optimal",
			"GET  /v1/runs",
			"GET  /v1/runs/:id",
			"GET  /v1/schedules",
			"POST /v1/schedules/:name/run",
		}),
	)

	return httpServer.Start()
}
