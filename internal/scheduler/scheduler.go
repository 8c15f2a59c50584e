package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"rentradar/pipeline/internal/models"
)

// Rotation selects which source group an invocation should scrape. The
// selection is a stateless function of wall-clock time, so it needs no
// persisted cursor and every cron firing lands on a deterministic group.
type Rotation struct {
	groups        [][]string
	intervalHours int
}

// NewRotation builds a rotation over fixed source groups. With a cron firing
// every intervalHours, each group is scraped 24/intervalHours/groupCount
// times per day.
func NewRotation(groups [][]string, intervalHours int) *Rotation {
	if intervalHours < 1 {
		intervalHours = 1
	}
	return &Rotation{groups: groups, intervalHours: intervalHours}
}

// GroupIndex returns the group selected for the given time.
func (r *Rotation) GroupIndex(now time.Time) int {
	if len(r.groups) == 0 {
		return 0
	}
	return (now.UTC().Hour() / r.intervalHours) % len(r.groups)
}

// CurrentSources returns the sources to scrape for the given time.
func (r *Rotation) CurrentSources(now time.Time) []string {
	if len(r.groups) == 0 {
		return nil
	}
	return r.groups[r.GroupIndex(now)]
}

// Runner is the slice of the orchestrator the daemon drives.
type Runner interface {
	RunPartialScrape(ctx context.Context, sources []string) (*models.ScrapingJob, error)
}

// Daemon runs the rotation from an in-process cron schedule, for deployments
// without an external scheduler.
type Daemon struct {
	cron     *cron.Cron
	rotation *Rotation
	runner   Runner
	logger   *logrus.Logger
}

// NewDaemon creates a daemon firing every rotation interval.
func NewDaemon(rotation *Rotation, runner Runner, logger *logrus.Logger) *Daemon {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Daemon{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		rotation: rotation,
		runner:   runner,
		logger:   logger,
	}
}

// Start registers the cron entry and begins scheduling.
func (d *Daemon) Start() error {
	spec := fmt.Sprintf("0 */%d * * *", d.rotation.intervalHours)
	if _, err := d.cron.AddFunc(spec, d.runOnce); err != nil {
		return fmt.Errorf("failed to register cron schedule: %w", err)
	}
	d.cron.Start()
	d.logger.WithField("schedule", spec).Info("Scheduler daemon started")
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (d *Daemon) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
	d.logger.Info("Scheduler daemon stopped")
}

func (d *Daemon) runOnce() {
	now := time.Now()
	sources := d.rotation.CurrentSources(now)
	d.logger.WithFields(logrus.Fields{
		"group":   d.rotation.GroupIndex(now),
		"sources": sources,
	}).Info("Starting scheduled scrape")

	job, err := d.runner.RunPartialScrape(context.Background(), sources)
	if err != nil {
		d.logger.WithError(err).Error("Scheduled scrape failed")
		return
	}
	d.logger.WithFields(logrus.Fields{
		"job_id":     job.JobID,
		"scraped":    job.TotalListingsScraped,
		"new":        job.NewListingsAdded,
		"duplicates": job.DuplicatesDetected,
		"errors":     job.ErrorsEncountered,
	}).Info("Scheduled scrape completed")
}
