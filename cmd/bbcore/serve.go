package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/beyondbetter/bb-core/internal/cache"
	"github.com/beyondbetter/bb-core/internal/config"
	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/llm/providers"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/persist"
	"github.com/beyondbetter/bb-core/internal/session"
	"github.com/beyondbetter/bb-core/internal/supabase"
	"github.com/beyondbetter/bb-core/internal/tools"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// buildServeCmd creates the "serve" command that runs the orchestration
// daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration daemon",
		Long: `Start the orchestration daemon.

The daemon will:
1. Load configuration from the specified file (or bbcore.yaml)
2. Bootstrap backend auth by fetching the Supabase project config
3. Initialize the response cache and persistence sink
4. Initialize provider adapters per the configured routing mode
5. Start the session registry and the API-token cleanup schedule

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  bbcore serve

  # Start with custom config
  bbcore serve --config /etc/bbcore/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info(ctx, "starting bb-core", "version", version, "mode", cfg.LLM.Mode, "config", configPath)

	tracer, shutdownTracer := observability.NewTracer("bb-core")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	var metrics *observability.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info(ctx, "metrics listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	// Backend auth bootstrap. In local mode a failure degrades to
	// vendor-direct operation instead of aborting startup.
	var supaFactory *supabase.ClientFactory
	var authClient *supabase.Client
	projectCfg, err := supabase.FetchConfig(ctx, logger, supabase.FetchOptions{
		URL: cfg.API.SupabaseConfigURL,
	})
	if err != nil {
		if cfg.LLM.Mode == config.ModeProxy {
			return fmt.Errorf("bootstrap supabase config: %w", err)
		}
		logger.Warn(ctx, "supabase bootstrap failed, continuing without backend auth", "error", err)
	} else {
		supaFactory = supabase.NewClientFactory(projectCfg, logger, cfg.Session.RefreshSafetyMargin)
		authClient = supaFactory.GetOrCreate("public", true)
		defer supaFactory.Close()
	}

	registry := session.NewRegistry(logger, func(ctx context.Context, userID string, _ *types.UserAuthSession) error {
		logger.Info(ctx, "session destroyed", "user_id", userID)
		return nil
	})
	if metrics != nil {
		registry.SetGauge(metrics.ActiveSessions)
	}
	if authClient != nil {
		authClient.OnSessionRefresh(func(refreshed *types.UserAuthSession) {
			if uc := registry.CurrentContext(); uc != nil && uc.UserID == refreshed.User.ID {
				_ = registry.RegisterSession(uc, refreshed)
			}
		})
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Session.TokenCleanupSchedule, func() {
		if removed := registry.CleanupTokens(); removed > 0 {
			logger.Info(context.Background(), "expired api tokens removed", "count", removed)
		}
	}); err != nil {
		return fmt.Errorf("token cleanup schedule %q: %w", cfg.Session.TokenCleanupSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	var store cache.Store
	if cfg.Cache.Enabled {
		store = cache.NewMemoryStore()
	}

	toolRegistry := tools.NewRegistry()
	echo, err := tools.NewEchoTool()
	if err != nil {
		return fmt.Errorf("build echo tool: %w", err)
	}
	if err := toolRegistry.Register(echo); err != nil {
		return err
	}

	factory := providers.NewFactory(providers.FactoryOptions{
		Logger:   logger,
		Supabase: authClient,
		Tokens: func() (string, error) {
			uc := registry.CurrentContext()
			if uc == nil || uc.Session == nil {
				return "", session.ErrNoSession
			}
			return uc.Session.AccessToken, nil
		},
	})
	transport := llm.NewTransport(llm.TransportOptions{
		Store:    store,
		CacheTTL: cfg.Cache.TTL,
		CacheOn:  cfg.Cache.Enabled,
		Tools:    toolRegistry,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	})

	core := &runtime{
		cfg:       cfg,
		logger:    logger,
		sessions:  registry,
		providers: factory,
		transport: transport,
		sink:      sink,
	}
	if err := core.preflight(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "bb-core ready",
		"cache", cfg.Cache.Enabled,
		"persistence", cfg.Persistence.Driver,
		"providers", len(cfg.LLM.Providers))

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "metrics server shutdown failed", "error", err)
		}
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "session registry shutdown reported errors", "error", err)
	}
	return nil
}

// loadConfig reads the config file, falling back to defaults when the path
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	manager := config.NewManager()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return manager.Current(), nil
	}
	cfg, err := manager.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func buildSink(cfg *config.Config) (persist.Sink, error) {
	switch cfg.Persistence.Driver {
	case "sqlite":
		sink, err := persist.NewSQLiteSink(cfg.Persistence.Path)
		if err != nil {
			return nil, fmt.Errorf("open persistence store: %w", err)
		}
		return sink, nil
	default:
		return persist.NewMemorySink(), nil
	}
}
