// Command agent launches the claw.pizza offline agent: an intercepting
// proxy with a versioned resource cache, a durable offline write queue,
// and a push notification channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/clawpizza/agent/config"
	"github.com/clawpizza/agent/internal/agent"
	"github.com/clawpizza/agent/internal/fetch"
	"github.com/clawpizza/agent/internal/infra/persistence"
	"github.com/clawpizza/agent/internal/infra/persistence/leveldb"
	"github.com/clawpizza/agent/internal/infra/persistence/migrations"
	"github.com/clawpizza/agent/internal/infra/persistence/postgres"
	httpserver "github.com/clawpizza/agent/internal/infra/server/http"
	"github.com/clawpizza/agent/internal/observability"
	"github.com/clawpizza/agent/internal/push"
	"github.com/clawpizza/agent/internal/replay"
	"github.com/clawpizza/agent/internal/router"
	"github.com/clawpizza/agent/internal/telemetry"
)

const (
	defaultConfigPath        = "config/agent.yaml"
	agentLoggerPrefix        = "agent "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newAgentLogger()
	observability.SetLogger(observability.NewStdLogger(logger))

	configPath := resolveConfigPath(cfgPathFlag)
	cfg, loadedFromFile, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, generation=%s",
		cfg.Environment, cfg.Cache.Generation)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg.Environment, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, logger); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
	}

	pool, err := persistence.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	postgres.ObservePoolMetrics(pool, "queue")
	queueStore := postgres.NewQueueStore(pool)

	cache, err := leveldb.Open(cfg.Cache.Path)
	if err != nil {
		logger.Fatalf("open resource cache: %v", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Printf("close resource cache: %v", err)
		}
	}()

	fetcher, err := fetch.NewOriginFetcher(cfg.Origin)
	if err != nil {
		logger.Fatalf("initialise origin fetcher: %v", err)
	}

	dlq := observability.NewDeadLetterQueue(cfg.Replay.DeadLetterCapacity)
	engine := replay.NewEngine(queueStore, replay.NewHTTPDeliverer(cfg.Origin), dlq, cfg.Replay, observability.Log())

	core, err := agent.New(agent.Options{
		Cache:      cache,
		Fetcher:    fetcher,
		Resolver:   fetch.NewResolver(cache, fetcher, cfg.Cache.Generation, observability.Log()),
		Router:     router.New(cfg.Router),
		Replay:     engine,
		Generation: cfg.Cache.Generation,
		Precache:   cfg.Cache.Precache,
		Logger:     observability.Log(),
	})
	if err != nil {
		logger.Fatalf("initialise agent: %v", err)
	}

	if err := core.Install(ctx); err != nil {
		logger.Printf("install failed, previous generation remains authoritative: %v", err)
	} else if err := core.Activate(ctx); err != nil {
		logger.Fatalf("activate: %v", err)
	}

	var lifecycle conc.WaitGroup

	if cfg.Push.Enabled {
		listener := push.NewListener(cfg.Push, func(_ context.Context, n push.Notification) {
			logger.Printf("push notification presented: title=%q type-tag=%q url=%s", n.Title, n.Tag, n.URL)
		}, observability.Log())
		lifecycle.Go(func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("push listener: %v", err)
			}
		})
	}

	server := buildServer(cfg.Server, core, queueStore, dlq)
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("agent server: %v", err)
		}
	})
	logger.Printf("agent listening on %s", server.Addr)

	logger.Print("agent started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     server,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to agent configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newAgentLogger() *log.Logger {
	return log.New(os.Stdout, agentLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func buildServer(cfg config.ServerConfig, core *agent.Agent, store *postgres.QueueStore, dlq *observability.DeadLetterQueue) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(core, store, dlq, observability.Log()),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping agent server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
