package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"rentradar/pipeline/config"
	"rentradar/pipeline/internal/dedup"
	"rentradar/pipeline/internal/models"
	"rentradar/pipeline/internal/normalizer"
	"rentradar/pipeline/internal/parser"
)

// Store is the storage surface the orchestrator drives: everything the
// dedup engine queries, plus inserts and job/metrics bookkeeping.
type Store interface {
	dedup.Store
	InsertListing(ctx context.Context, listing *models.StoredListing) error
	CreateJob(ctx context.Context, job *models.ScrapingJob) error
	MarkJobRunning(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, job *models.ScrapingJob) error
	RecordMetrics(ctx context.Context, m *models.ScrapeMetrics) error
	MarkStaleInactive(ctx context.Context, daysOld int) (int64, error)
}

// SourceScraper is one source adapter.
type SourceScraper interface {
	Source() string
	Scrape(ctx context.Context, cfg models.ScrapeConfig) ([]models.RawListing, error)
}

// Geocoder resolves an address to coordinates, or nil when unresolvable.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*orb.Point, error)
}

// Orchestrator owns the job lifecycle: it drives every source through the
// Parse -> Normalize -> Geocode -> Deduplicate-or-Insert pipeline under the
// run deadline, and writes exactly one terminal job record per run.
type Orchestrator struct {
	store    Store
	engine   *dedup.Engine
	geocoder Geocoder
	scrapers map[string]SourceScraper
	order    []string
	cfg      *config.Config
	logger   *logrus.Logger

	keys keyedMutex
	now  func() time.Time
}

// New wires the pipeline together.
func New(store Store, engine *dedup.Engine, geocoder Geocoder, scrapers []SourceScraper, cfg *config.Config, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	byName := make(map[string]SourceScraper, len(scrapers))
	order := make([]string, 0, len(scrapers))
	for _, s := range scrapers {
		byName[s.Source()] = s
		order = append(order, s.Source())
	}
	return &Orchestrator{
		store:    store,
		engine:   engine,
		geocoder: geocoder,
		scrapers: byName,
		order:    order,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RunFullScrape runs every registered source.
func (o *Orchestrator) RunFullScrape(ctx context.Context) (*models.ScrapingJob, error) {
	return o.RunPartialScrape(ctx, o.order)
}

// runTally collects job-level counters across source workers.
type runTally struct {
	mu         sync.Mutex
	scraped    int
	added      int
	duplicates int
	errors     int
}

func (t *runTally) add(scraped, added, duplicates, errors int) {
	t.mu.Lock()
	t.scraped += scraped
	t.added += added
	t.duplicates += duplicates
	t.errors += errors
	t.mu.Unlock()
}

// RunPartialScrape runs the given sources under the configured deadline.
// Per-listing and per-source failures are counted, never fatal; the job
// itself fails only when its record cannot be written at all.
func (o *Orchestrator) RunPartialScrape(ctx context.Context, sources []string) (retJob *models.ScrapingJob, retErr error) {
	start := o.now()
	job := models.NewScrapingJob(uuid.NewString(), sources, start)

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	if err := o.store.MarkJobRunning(ctx, job.JobID); err != nil {
		return nil, fmt.Errorf("failed to start job %s: %w", job.JobID, err)
	}
	job.Status = models.JobStatusRunning

	// Per-source and per-listing errors are counted, not fatal; anything
	// escaping those guards is catastrophic and marks the job failed.
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithFields(logrus.Fields{
				"job_id": job.JobID,
				"panic":  r,
			}).Error("Scrape run aborted unexpectedly")
			end := o.now()
			job.EndTime = &end
			job.Status = models.JobStatusFailed
			finCtx, finCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer finCancel()
			if err := o.store.CompleteJob(finCtx, job); err != nil {
				o.logger.WithError(err).WithField("job_id", job.JobID).Error("Failed to record job failure")
			}
			retJob = job
			retErr = fmt.Errorf("scrape run aborted: %v", r)
		}
	}()

	o.logger.WithFields(logrus.Fields{
		"job_id":  job.JobID,
		"sources": sources,
	}).Info("Starting scrape run")

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunDeadline)
	defer cancel()

	tally := &runTally{}
	results := make([]models.SourceResult, len(sources))

	workers := o.cfg.SourceWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, name := range sources {
		// Once the deadline expires no new source scrapes are issued;
		// in-flight ones are left to finish their writes.
		if runCtx.Err() != nil {
			results[i] = models.SourceResult{Source: name}
			continue
		}
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if runCtx.Err() != nil {
				results[i] = models.SourceResult{Source: name}
				return
			}
			results[i] = o.scrapeSource(runCtx, name, tally)
		}(i, name)
	}
	wg.Wait()

	end := o.now()
	job.EndTime = &end
	job.Status = models.JobStatusCompleted
	job.SourceResults = results
	job.TotalListingsScraped = tally.scraped
	job.NewListingsAdded = tally.added
	job.DuplicatesDetected = tally.duplicates
	job.ErrorsEncountered = tally.errors

	// The terminal write must happen even if the run deadline expired, so it
	// gets its own context.
	finCtx, finCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer finCancel()

	if err := o.store.CompleteJob(finCtx, job); err != nil {
		return job, fmt.Errorf("failed to finalize job %s: %w", job.JobID, err)
	}

	metrics := &models.ScrapeMetrics{
		JobID:                job.JobID,
		Timestamp:            end,
		TotalListingsScraped: job.TotalListingsScraped,
		NewListingsAdded:     job.NewListingsAdded,
		DuplicatesDetected:   job.DuplicatesDetected,
		ErrorsEncountered:    job.ErrorsEncountered,
		DurationMillis:       end.Sub(start).Milliseconds(),
		SourceResults:        results,
	}
	if err := o.store.RecordMetrics(finCtx, metrics); err != nil {
		o.logger.WithError(err).WithField("job_id", job.JobID).Error("Failed to record metrics")
	}

	o.logger.WithFields(logrus.Fields{
		"job_id":     job.JobID,
		"scraped":    job.TotalListingsScraped,
		"new":        job.NewListingsAdded,
		"duplicates": job.DuplicatesDetected,
		"errors":     job.ErrorsEncountered,
		"duration":   end.Sub(start).String(),
	}).Info("Scrape run completed")
	return job, nil
}

// MarkStaleListings flips listings outside the staleness window inactive.
func (o *Orchestrator) MarkStaleListings(ctx context.Context) (int64, error) {
	return o.store.MarkStaleInactive(ctx, o.cfg.StaleAfterDays)
}

// scrapeSource runs one source end to end. A failing source contributes
// zero listings but never aborts the job.
func (o *Orchestrator) scrapeSource(ctx context.Context, name string, tally *runTally) models.SourceResult {
	res := models.SourceResult{Source: name}
	start := o.now()

	sc, ok := o.scrapers[name]
	if !ok {
		o.logger.WithFields(logrus.Fields{
			"operation": "scrape",
			"source":    name,
		}).Error("Unknown source requested")
		res.Errors++
		tally.add(0, 0, 0, 1)
		res.DurationMillis = o.now().Sub(start).Milliseconds()
		return res
	}

	raws, err := sc.Scrape(ctx, o.scrapeConfig())
	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"operation": "scrape",
			"source":    name,
		}).Error("Source scrape failed")
		res.Errors++
		tally.add(0, 0, 0, 1)
		res.DurationMillis = o.now().Sub(start).Milliseconds()
		return res
	}

	res.ListingsScraped = len(raws)
	var added, duplicates, errs int
	for i := range raws {
		if ctx.Err() != nil {
			break
		}
		outcome, geocodeFailed, err := o.processListing(ctx, raws[i])
		if geocodeFailed {
			errs++
		}
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"operation":  "process_listing",
				"source":     name,
				"listing_id": raws[i].SourceID,
			}).Error("Failed to process listing")
			errs++
			continue
		}
		switch outcome {
		case outcomeNew:
			added++
		case outcomeDuplicate:
			duplicates++
		}
	}

	res.Errors += errs
	res.DurationMillis = o.now().Sub(start).Milliseconds()
	tally.add(len(raws), added, duplicates, errs)

	o.logger.WithFields(logrus.Fields{
		"source":     name,
		"scraped":    res.ListingsScraped,
		"new":        added,
		"duplicates": duplicates,
		"errors":     res.Errors,
	}).Info("Source completed")
	return res
}

type listingOutcome int

const (
	outcomeDropped listingOutcome = iota
	outcomeNew
	outcomeDuplicate
)

// processListing runs one raw listing through the pipeline. The dedup
// lookup and the following write hold a per-listing key lock so identical
// listings from concurrent workers serialize. A hard geocoding failure is
// reported through geocodeFailed so the caller can count it; the listing is
// still stored, just without coordinates.
func (o *Orchestrator) processListing(ctx context.Context, raw models.RawListing) (outcome listingOutcome, geocodeFailed bool, err error) {
	parsed := parser.Parse(raw)
	if parsed == nil {
		// Unusable records are dropped silently, not counted as errors.
		return outcomeDropped, false, nil
	}
	n := normalizer.Normalize(parsed)

	var point *orb.Point
	if n.Address.FullAddress != "" {
		p, err := o.geocoder.Geocode(ctx, n.Address.FullAddress)
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"operation": "geocode",
				"source":    n.Source,
				"address":   n.Address.FullAddress,
			}).Warn("Geocoding failed")
			geocodeFailed = true
		} else {
			point = p
		}
	}

	key := n.Address.FullAddress
	if key == "" {
		key = n.Source + "|" + n.SourceID
	}
	unlock := o.keys.Lock(key)
	defer unlock()

	existing, err := o.engine.FindDuplicate(ctx, n)
	if err != nil {
		return outcomeDropped, geocodeFailed, err
	}
	if existing != nil {
		if err := o.engine.Merge(ctx, existing, n, point); err != nil {
			return outcomeDropped, geocodeFailed, err
		}
		return outcomeDuplicate, geocodeFailed, nil
	}

	listing := models.NewStoredListing(n, point, o.now())
	if err := o.store.InsertListing(ctx, listing); err != nil {
		return outcomeDropped, geocodeFailed, err
	}
	return outcomeNew, geocodeFailed, nil
}

func (o *Orchestrator) scrapeConfig() models.ScrapeConfig {
	cfg := models.ScrapeConfig{
		Location: o.cfg.SearchLocation,
		Pages:    o.cfg.SearchPages,
	}
	if o.cfg.SearchMinPrice > 0 {
		min := o.cfg.SearchMinPrice
		cfg.MinPrice = &min
	}
	if o.cfg.SearchMaxPrice > 0 {
		max := o.cfg.SearchMaxPrice
		cfg.MaxPrice = &max
	}
	return cfg
}
