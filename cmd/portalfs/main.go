package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/portalfs/pkg/api"
	"github.com/platinummonkey/portalfs/pkg/app"
	"github.com/platinummonkey/portalfs/pkg/config"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/middleware"
	"github.com/platinummonkey/portalfs/pkg/observability"
)

var version = "dev"

func main() {
	configFile := flag.String("config", os.Getenv(config.FileEnvVar), "Optional YAML config file, reloaded on change")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	logger.WithFields(map[string]interface{}{
		"version": version,
		"backend": cfg.Storage.Backend,
	}).Info("Starting portalfs")

	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg, app.NewJobLogger(cfg.Observability.LogLevel))
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	a, err := app.New(ctx, cfg, logger, jobs.WithDispatcher(dispatcher))
	if err != nil {
		return err
	}
	defer a.Close()

	var verifier middleware.TokenVerifier
	if cfg.Auth.OIDCIssuerURL != "" {
		oidcVerifier, err := middleware.NewOIDCVerifier(ctx, middleware.OIDCConfig{
			IssuerURL:   cfg.Auth.OIDCIssuerURL,
			ClientID:    cfg.Auth.OIDCClientID,
			GroupsClaim: cfg.Auth.OIDCGroupsClaim,
		})
		if err != nil {
			return err
		}
		verifier = oidcVerifier
		logger.WithField("issuer", cfg.Auth.OIDCIssuerURL).Info("Bearer token authentication enabled")
	}

	limiter := a.ShareLinkLimiter()
	if local, ok := limiter.(*middleware.RateLimiter); ok {
		local.StartCleanup(ctx)
	}
	opts := api.Options{
		UserHeader:       cfg.Auth.UserHeader,
		Verifier:         verifier,
		ShareLinkLimiter: limiter,
		Logger:           logger,
		ServiceName:      cfg.Observability.OTelServiceName,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	}
	if cfg.Observability.MetricsEnabled {
		opts.Metrics = a.Metrics
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(a.Services, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, a.HealthChecker(version))
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(a.Registry))
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthRouter,
		ReadTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.OnShutdown("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		return listen(healthServer)
	})
	g.Go(func() error {
		return a.Services.Jobs.Run(gctx)
	})
	g.Go(func() error {
		defer observability.RecoverPanic(logger, "db stats collector")
		a.Metrics.CollectDBStats(gctx, a.DB, 15*time.Second)
		return nil
	})
	if configFile != "" {
		g.Go(func() error {
			return config.Watch(gctx, configFile, func(next *config.Config) {
				logger.SetLevel(next.Observability.Level())
				limiter.SetConfig(app.ShareLinkRateLimit(next.ShareLinks))
				logger.WithFields(map[string]interface{}{
					"log_level":       next.Observability.LogLevel,
					"share_link_rate": next.ShareLinks.RequestsPerMinute,
				}).Info("Configuration reloaded")
			}, func(err error) {
				logger.WithError(err).Warn("Ignoring invalid configuration")
			})
		})
	}
	g.Go(func() error {
		return shutdown.Wait(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("portalfs stopped")
	return nil
}

// newDispatcher publishes jobs through RabbitMQ when configured so several
// server processes share one queue
func newDispatcher(cfg *config.Config, logger *logrus.Logger) (jobs.Dispatcher, error) {
	if cfg.Jobs.AMQPURL == "" {
		return jobs.NewChannelDispatcher(cfg.Jobs.QueueSize), nil
	}
	dispatcher, err := jobs.DialAMQP(cfg.Jobs.AMQPURL, cfg.Jobs.AMQPQueue, cfg.Jobs.AMQPPrefetch, logger)
	if err != nil {
		return nil, err
	}
	logger.Infof("Dispatching jobs through AMQP queue %s", cfg.Jobs.AMQPQueue)
	return dispatcher, nil
}

func listen(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", server.Addr, err)
	}
	return nil
}
