package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"rentradar/pipeline/config"
	"rentradar/pipeline/internal/dedup"
	"rentradar/pipeline/internal/extraction"
	"rentradar/pipeline/internal/geocoding"
	"rentradar/pipeline/internal/orchestrator"
	"rentradar/pipeline/internal/ratelimit"
	"rentradar/pipeline/internal/scheduler"
	"rentradar/pipeline/internal/scraper"
	"rentradar/pipeline/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := run(logger); err != nil {
		logger.WithError(err).Error("Pipeline exited with error")
		os.Exit(1)
	}
}

func run(logger *logrus.Logger) error {
	var (
		allSources = flag.Bool("all", false, "scrape every registered source instead of the current rotation group")
		sourceList = flag.String("sources", "", "comma-separated source names to scrape")
		daemon     = flag.Bool("daemon", false, "run continuously on the rotation schedule")
		backfill   = flag.Bool("backfill", false, "geocode stored listings that have no coordinates, then exit")
	)
	flag.Parse()

	// Missing .env is fine; the environment may be set by the deployment.
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := storage.Connect(ctx, cfg.MongoURI, cfg.MongoDB, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logger.WithError(err).Error("Failed to close storage cleanly")
		}
	}()

	logger.Info("Ensuring storage indexes...")
	idxCtx, idxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.EnsureIndexes(idxCtx)
	idxCancel()
	if err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	limiter := ratelimit.New(logger)
	limiter.Configure(ratelimit.ResourceExtraction, cfg.ExtractionRateLimit, cfg.ExtractionRateWindow)
	limiter.Configure(ratelimit.ResourceGeocoding, cfg.GeocodingRateLimit, cfg.GeocodingRateWindow)

	geocoder := geocoding.NewGeocoder(cfg.GeocodingBaseURL, limiter, logger)

	if *backfill {
		resolved, unresolved, err := store.BackfillCoordinates(context.Background(), geocoder, 100)
		if err != nil {
			return fmt.Errorf("coordinate backfill failed: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"resolved":   resolved,
			"unresolved": unresolved,
		}).Info("Coordinate backfill completed")
		return nil
	}

	extractor := extraction.NewClient(cfg.ExtractionBaseURL, cfg.ExtractionAPIKey, limiter, logger)
	engine := dedup.NewEngine(store, logger)

	scrapers := scraper.BuildAll(config.Sources, extractor, logger)
	adapters := make([]orchestrator.SourceScraper, len(scrapers))
	for i, s := range scrapers {
		adapters[i] = s
	}

	orch := orchestrator.New(store, engine, geocoder, adapters, cfg, logger)
	rotation := scheduler.NewRotation(config.RotationGroups(), cfg.IntervalHours)

	if *daemon {
		d := scheduler.NewDaemon(rotation, orch, logger)
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		logger.WithField("interval_hours", cfg.IntervalHours).Info("Scheduler started")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("Shutting down...")
		d.Stop()
		return nil
	}

	switch {
	case *sourceList != "":
		names := splitSources(*sourceList)
		if _, err := orch.RunPartialScrape(context.Background(), names); err != nil {
			return err
		}
	case *allSources:
		if _, err := orch.RunFullScrape(context.Background()); err != nil {
			return err
		}
		flipped, err := orch.MarkStaleListings(context.Background())
		if err != nil {
			logger.WithError(err).Error("Staleness sweep failed")
		} else if flipped > 0 {
			logger.WithField("count", flipped).Info("Marked stale listings inactive")
		}
	default:
		names := rotation.CurrentSources(time.Now())
		if _, err := orch.RunPartialScrape(context.Background(), names); err != nil {
			return err
		}
	}
	return nil
}

func splitSources(list string) []string {
	parts := strings.Split(list, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
