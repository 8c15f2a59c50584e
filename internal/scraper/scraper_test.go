package scraper

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentradar/pipeline/config"
	"rentradar/pipeline/internal/models"
)

type fakeExtractor struct {
	urls  []string
	items []map[string]any
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, pageURL string, _ map[string]any) ([]map[string]any, error) {
	f.urls = append(f.urls, pageURL)
	return f.items, f.err
}

func testSource() *config.Source {
	return &config.Source{
		Name:             "testsource",
		SearchURL:        "https://example.com/search?q={location}&page={page}",
		ExtractionSchema: map[string]any{"type": "object"},
	}
}

func TestScraper_Source(t *testing.T) {
	s := New(testSource(), &fakeExtractor{}, logrus.New())
	assert.Equal(t, "testsource", s.Source())
}

func TestScraper_Scrape(t *testing.T) {
	extractor := &fakeExtractor{items: []map[string]any{
		{"address": "123 Main St, New York, NY 10001", "url": "https://example.com/1", "id": "l1", "price": 2500.0},
		{"address": "456 Oak Ave, Brooklyn, NY 11201", "url": "https://example.com/2"},
	}}
	s := New(testSource(), extractor, logrus.New())

	listings, err := s.Scrape(context.Background(), models.ScrapeConfig{Location: "nyc", Pages: 1})
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "testsource", listings[0].Source)
	assert.Equal(t, "l1", listings[0].SourceID)
	assert.Equal(t, "https://example.com/1", listings[0].SourceURL)
	assert.Equal(t, 2500.0, listings[0].Payload["price"])

	// Without an explicit id the URL serves as the identifier.
	assert.Equal(t, "https://example.com/2", listings[1].SourceID)
}

func TestScraper_Scrape_DropsUnidentifiableListings(t *testing.T) {
	extractor := &fakeExtractor{items: []map[string]any{
		{"price": 1800.0},
		{"address": "", "url": ""},
		{"address": "789 Pine St, Queens, NY 11101"},
	}}
	s := New(testSource(), extractor, logrus.New())

	listings, err := s.Scrape(context.Background(), models.ScrapeConfig{Pages: 1})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "789 Pine St, Queens, NY 11101", listings[0].Payload["address"])
}

func TestScraper_Scrape_ExtractionFailure(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("service down")}
	s := New(testSource(), extractor, logrus.New())

	listings, err := s.Scrape(context.Background(), models.ScrapeConfig{Pages: 1})
	assert.Error(t, err)
	assert.Empty(t, listings)
}

func TestScraper_Scrape_Paginates(t *testing.T) {
	extractor := &fakeExtractor{items: []map[string]any{{"address": "1 A St", "id": "x"}}}
	s := New(testSource(), extractor, logrus.New())

	listings, err := s.Scrape(context.Background(), models.ScrapeConfig{Location: "nyc", Pages: 3})
	require.NoError(t, err)
	assert.Len(t, listings, 3)
	assert.Equal(t, []string{
		"https://example.com/search?q=nyc&page=1",
		"https://example.com/search?q=nyc&page=2",
		"https://example.com/search?q=nyc&page=3",
	}, extractor.urls)
}

func TestBuildAll(t *testing.T) {
	scrapers := BuildAll(config.Sources, &fakeExtractor{}, logrus.New())
	require.Len(t, scrapers, len(config.Sources))
	assert.Equal(t, config.Sources[0].Name, scrapers[0].Source())
}
