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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	v1 "github.com/smartshieldai-idps/ddosguard/api/v1"
	"github.com/smartshieldai-idps/ddosguard/config"
	"github.com/smartshieldai-idps/ddosguard/internal/detection"
	"github.com/smartshieldai-idps/ddosguard/internal/detection/elasticsearch"
	"github.com/smartshieldai-idps/ddosguard/internal/detection/ml"
	"github.com/smartshieldai-idps/ddosguard/internal/geo"
	"github.com/smartshieldai-idps/ddosguard/internal/logging"
	"github.com/smartshieldai-idps/ddosguard/internal/middleware"
	"github.com/smartshieldai-idps/ddosguard/internal/monitoring"
	"github.com/smartshieldai-idps/ddosguard/internal/notify"
	"github.com/smartshieldai-idps/ddosguard/internal/recommend"
	"github.com/smartshieldai-idps/ddosguard/internal/risk"
	"github.com/smartshieldai-idps/ddosguard/internal/sink"
	"github.com/smartshieldai-idps/ddosguard/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting ddosguard", zap.String("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	// Core: weights and model artifacts must be valid before serving
	scorer, err := risk.NewScorer(cfg.Risk)
	if err != nil {
		return fmt.Errorf("invalid risk weights: %w", err)
	}

	registry, err := ml.NewRegistry(cfg.Model.Dir, logger.Named("ml"))
	if err != nil {
		return fmt.Errorf("failed to load model artifacts: %w", err)
	}
	service := ml.NewService(registry, cfg.Resolver, metrics)

	catalog, err := recommend.LoadCatalog(cfg.Recommend.CatalogPath)
	if err != nil {
		logger.Warn("guide catalog unavailable, using fallback message", zap.Error(err))
	}
	engine := recommend.NewEngine(catalog)

	// Collaborators are optional; failures disable the feature
	locator, err := geo.Open(cfg.GeoIP.DBPath, cfg.GeoIP.CacheSize, logger.Named("geo"))
	if err != nil {
		logger.Warn("GeoIP database unavailable, using address range fallbacks", zap.Error(err))
		locator, _ = geo.New(nil, cfg.GeoIP.CacheSize, logger.Named("geo"))
	}
	defer locator.Close()

	health := monitoring.NewHealthChecker(func() *monitoring.ModelStatus {
		info := service.GetStats()
		if info == nil {
			return nil
		}
		return &monitoring.ModelStatus{Version: info.Version, Arity: info.Arity, Classes: len(info.Classes)}
	})

	var sinks []sink.Sink

	var logStore *store.LogStore
	if cfg.Postgres.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		logStore, err = store.NewLogStore(connectCtx, cfg.Postgres.URL, logger.Named("postgres"))
		cancel()
		if err != nil {
			logger.Warn("log storage disabled", zap.Error(err))
			logStore = nil
		} else {
			defer logStore.Close()
			sinks = append(sinks, logStore)
			health.Register("postgres", logStore.Ping)
		}
	}

	var eventStore *store.EventStore
	if cfg.Redis.URL != "" {
		eventStore, err = store.NewEventStore(cfg.Redis.URL, logger.Named("redis"))
		if err != nil {
			logger.Warn("live event stream disabled", zap.Error(err))
			eventStore = nil
		} else {
			defer eventStore.Close()
			sinks = append(sinks, eventStore)
			health.Register("redis", eventStore.Ping)
		}
	}

	if len(cfg.Elasticsearch.Addresses) > 0 {
		esLogger, err := elasticsearch.NewLogger(
			cfg.Elasticsearch.Addresses,
			cfg.Elasticsearch.Username,
			cfg.Elasticsearch.Password,
			cfg.Elasticsearch.Index,
		)
		if err != nil {
			logger.Warn("threat indexing disabled", zap.Error(err))
		} else {
			sinks = append(sinks, esLogger)
			health.Register("elasticsearch", esLogger.Ping)
		}
	}

	mailer := notify.NewMailer(cfg.SMTP, notify.DefaultRetryConfig(), logger.Named("notify"))
	if !mailer.Enabled() {
		logger.Info("email alerts disabled: SMTP credentials or recipients missing")
	}

	dispatcher := sink.NewDispatcher(cfg.Sinks.MaxInFlight, cfg.Sinks.Timeout, logger.Named("sink"), metrics)
	pipeline := detection.NewPipeline(service, scorer, engine, locator, dispatcher, logger.Named("detection"),
		detection.WithSinks(sinks...),
		detection.WithNotifier(mailer),
		detection.WithMetrics(metrics),
	)

	if cfg.Model.Watch {
		monitor, err := ml.NewModelMonitor(registry, cfg.Model.WatchDebounce, func(_ *ml.Artifacts, err error) {
			metrics.ObserveReload(err)
		}, logger.Named("ml"))
		if err != nil {
			logger.Warn("model watcher disabled", zap.Error(err))
		} else {
			monitor.Start(ctx)
			defer monitor.Stop()
		}
	}

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.AccessLog(logger.Named("http")))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.Security.RateLimit), cfg.Security.RateLimitBurst)
	go limiter.RunCleanup(ctx, time.Minute)
	router.Use(limiter.RateLimit())

	opts := v1.Options{
		Explainer:      service,
		Health:         health,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminToken:     cfg.Security.AdminToken,
		MaxRequestSize: cfg.Security.MaxRequestSize,
	}
	if logStore != nil {
		opts.Logs = logStore
	}
	if eventStore != nil {
		opts.Events = eventStore
	}
	handler := v1.NewHandler(pipeline, service, logger.Named("api"), opts)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr), zap.Bool("tls", cfg.Server.TLS.Enabled))
		var err error
		if cfg.Server.TLS.Enabled {
			server.TLSConfig = config.GetTLSConfig()
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertPath, cfg.Server.TLS.KeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("pending background writes abandoned", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}
