package scraper

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"rentradar/pipeline/config"
	"rentradar/pipeline/internal/models"
)

// Extractor is the slice of the extraction client the scraper needs.
type Extractor interface {
	Extract(ctx context.Context, pageURL string, schema map[string]any) ([]map[string]any, error)
}

// Scraper is the single generic source adapter. Everything site-specific
// (the search URL shape and the extraction schema) comes from the source
// registry; the adapter only decides which pages to ask for and filters the
// service response into RawListing records.
type Scraper struct {
	source    *config.Source
	extractor Extractor
	logger    *logrus.Logger
	now       func() time.Time
}

// New creates an adapter for one registered source.
func New(source *config.Source, extractor Extractor, logger *logrus.Logger) *Scraper {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Scraper{
		source:    source,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
}

// Source returns the source identifier.
func (s *Scraper) Source() string {
	return s.source.Name
}

// Scrape fetches one pass of search pages and shapes the extraction
// service's response into raw listings. Records lacking both an address and
// an identifier are dropped.
func (s *Scraper) Scrape(ctx context.Context, cfg models.ScrapeConfig) ([]models.RawListing, error) {
	pages := cfg.Pages
	if pages < 1 {
		pages = 1
	}

	var listings []models.RawListing
	for page := 1; page <= pages; page++ {
		pageURL := s.source.BuildSearchURL(cfg, page)

		items, err := s.extractor.Extract(ctx, pageURL, s.source.ExtractionSchema)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("extraction failed for %s: %w", s.source.Name, err)
			}
			// Later pages failing still leave us with usable results.
			s.logger.WithError(err).WithFields(logrus.Fields{
				"source": s.source.Name,
				"page":   page,
			}).Warn("Extraction failed for page, keeping earlier results")
			break
		}

		scrapedAt := s.now()
		for _, item := range items {
			raw, ok := s.shapeListing(item, scrapedAt)
			if !ok {
				continue
			}
			listings = append(listings, raw)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"source":   s.source.Name,
		"listings": len(listings),
	}).Info("Scrape pass completed")
	return listings, nil
}

// shapeListing turns one loosely-typed service object into a RawListing.
func (s *Scraper) shapeListing(item map[string]any, scrapedAt time.Time) (models.RawListing, bool) {
	sourceURL := stringField(item, "url")
	sourceID := stringField(item, "id")
	if sourceID == "" {
		sourceID = sourceURL
	}
	address := stringField(item, "address")

	if address == "" && sourceID == "" {
		return models.RawListing{}, false
	}

	return models.RawListing{
		Source:    s.source.Name,
		SourceURL: sourceURL,
		SourceID:  sourceID,
		Payload:   item,
		ScrapedAt: scrapedAt,
	}, true
}

func stringField(item map[string]any, key string) string {
	v, ok := item[key]
	if !ok || v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}

// BuildAll creates one adapter per registered source.
func BuildAll(sources []config.Source, extractor Extractor, logger *logrus.Logger) []*Scraper {
	scrapers := make([]*Scraper, len(sources))
	for i := range sources {
		scrapers[i] = New(&sources[i], extractor, logger)
	}
	return scrapers
}
