package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ridepool/internal/config"
	"github.com/example/ridepool/internal/geo"
	httpapi "github.com/example/ridepool/internal/http"
	"github.com/example/ridepool/internal/ingest"
	"github.com/example/ridepool/internal/lifecycle"
	"github.com/example/ridepool/internal/logging"
	"github.com/example/ridepool/internal/notify"
	"github.com/example/ridepool/internal/payments"
	"github.com/example/ridepool/internal/pool"
	"github.com/example/ridepool/internal/pricing"
	"github.com/example/ridepool/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var locator geo.Locator
	if cfg.RedisAddr != "" {
		locator = geo.NewRedisLocator(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		locator = geo.NewIndex()
	}

	hub := notify.NewHub(logger)
	notifiers := notify.Fanout{hub}

	var kafka *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}

	calc := pricing.NewCalculator()
	lc := lifecycle.NewService(store, calc, logger)
	lc.Notifier = notifiers
	lc.Locator = locator
	lc.NotifyRadiusKm = cfg.NearbyRadiusKm
	lc.NotifyLimit = cfg.NearbyLimit
	if os.Getenv("STRIPE_API_KEY") != "" {
		lc.Payments = payments.NewStripeProcessor(cfg.PaymentCurrency)
	}

	matcher := pool.NewMatcher(store)

	srv := httpapi.NewServer(cfg, logger, store, locator, lc, matcher, calc, kafka, hub)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ridepool listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_schema.sql")
}
