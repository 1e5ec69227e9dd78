package main

import (
	"context"
	"flag"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/portalfs/pkg/app"
	"github.com/platinummonkey/portalfs/pkg/config"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

var (
	configFile = flag.String("config", os.Getenv(config.FileEnvVar), "Optional YAML config file")
	runOnce    = flag.Bool("run-once", false, "Run every maintenance task once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		app.NewJobLogger("info").Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.NewJobLogger(cfg.Observability.LogLevel)

	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, observability.NewLogger(cfg.Observability.Level(), os.Stderr))
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	s := &sweeper{
		clipboard:     a.Services.Clipboard,
		links:         a.Services.ShareLinks,
		jobs:          a.Services.Jobs,
		nodes:         a.Services.Nodes,
		clock:         vfs.RealClock{},
		logger:        logger,
		jobRetention:  cfg.Jobs.Retention,
		jobStaleAfter: cfg.Jobs.StaleAfter,
		keepVersions:  cfg.Maintenance.KeepVersions,
	}

	// Run once mode (for testing or manual cleanup)
	if *runOnce {
		if err := s.runAll(ctx); err != nil {
			logger.Fatalf("Maintenance failed: %v", err)
		}
		logger.Info("Maintenance completed successfully")
		return
	}

	schedules := map[string]string{
		"clipboard":   cfg.Maintenance.ClipboardSchedule,
		"share-links": cfg.Maintenance.ShareLinkSchedule,
		"jobs":        cfg.Maintenance.JobSchedule,
		"versions":    cfg.Maintenance.VersionSchedule,
	}

	c := cron.New()
	for _, t := range s.tasks() {
		if _, err := c.AddFunc(schedules[t.name], func() {
			if err := t.run(ctx); err != nil {
				logger.WithError(err).Errorf("Task %s failed", t.name)
			}
		}); err != nil {
			logger.Fatalf("Failed to schedule %s: %v", t.name, err)
		}
		logger.Infof("Scheduled %s: %s", t.name, schedules[t.name])
	}

	c.Start()
	logger.Info("portalfs sweeper started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	// Wait for running tasks
	<-c.Stop().Done()
	logger.Info("Sweeper stopped")
}
