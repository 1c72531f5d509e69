package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jensholdgaard/bluepenguin/internal/api"
	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/blob"
	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/health"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/leader"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/moderation"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/reputation"
	"github.com/jensholdgaard/bluepenguin/internal/settlement"
	"github.com/jensholdgaard/bluepenguin/internal/shipping"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/sweeper"
	"github.com/jensholdgaard/bluepenguin/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/bluepenguin/internal/store/memstore"
	_ "github.com/jensholdgaard/bluepenguin/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if version != "dev" {
		cfg.Telemetry.ServiceVersion = version
	}
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	metrics, err := telemetry.NewMetrics(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()
	logger.InfoContext(ctx, "opened store", slog.String("driver", cfg.Database.Driver))

	direct, err := newNotifier(cfg.Notifier, logger)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}
	async := notify.NewAsync(direct, cfg.Notifier.Timeout, logger)
	defer async.Close()

	idp, err := identity.New(cfg.Identity, clk)
	if err != nil {
		return fmt.Errorf("creating identity provider: %w", err)
	}
	blobs, err := blob.NewDir(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	money := ledger.PolicyFrom(cfg.Market)
	tracing := tp.TracerProvider
	svc := api.Services{
		Accounts:   ledger.NewManager(repos.DB, idp, async, money, logger, tracing),
		Auctions:   auction.NewManager(repos.DB, blobs, async, metrics, logger, tracing, clk),
		Settlement: settlement.NewManager(repos.DB, shipping.NewHTTP(cfg.Shipping), async, metrics, money, cfg.Shipping.Timeout, logger, tracing, clk),
		Reputation: reputation.NewManager(repos.DB, idp, async, metrics, reputation.PolicyFrom(cfg.Market), money, logger, tracing),
		Moderation: moderation.NewManager(repos.DB, idp, async, money, logger, tracing),
		Identity:   idp,
	}

	// The sweeper marks notices as sent only after delivery, so it talks
	// to the transport directly.
	sw := sweeper.New(repos.DB, direct, metrics, cfg.Sweeper, logger, tracing, clk)

	healthHandler := health.NewHandler(clk, version, health.Checker{Name: "database", Check: repos.Ping})
	if cfg.Sweeper.Enabled && !cfg.LeaderElection.Enabled {
		healthHandler.AddChecker(health.Checker{Name: "sweeper", Check: sw.Check})
	}
	svc.Health = healthHandler

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(svc, logger, tracing)
	if u, err := url.Parse(cfg.Blob.BaseURL); err == nil && u.Path != "" && u.Path != "/" {
		router.Static(u.Path, blobs.Root())
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           http.TimeoutHandler(router, cfg.Server.RequestTimeout, `{"status":503,"error":"request timed out"}`),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	var wg sync.WaitGroup
	if cfg.Sweeper.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cfg.LeaderElection.Enabled {
				logger.InfoContext(ctx, "leader election enabled, sweeper waits for leadership")
				if leaderErr := leader.RunWhileLeading(ctx, cfg.LeaderElection, logger, sw.Run); leaderErr != nil {
					logger.ErrorContext(ctx, "leader election failed", slog.Any("error", leaderErr))
					cancel()
				}
				return
			}
			if sweepErr := sw.Run(ctx); sweepErr != nil {
				logger.ErrorContext(ctx, "sweeper stopped", slog.Any("error", sweepErr))
			}
		}()
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "bluepenguin is running", slog.String("version", version))

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

func newNotifier(cfg config.NotifierConfig, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Driver {
	case "log", "":
		return notify.NewLog(logger), nil
	case "discord":
		return notify.NewDiscord(cfg.DiscordToken, cfg.ChannelID)
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.Driver)
	}
}
