package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds all pipeline settings, loaded from the environment.
type Config struct {
	// Mongo connection
	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"rentradar"`

	// External extraction service
	ExtractionBaseURL string `env:"EXTRACTION_API_URL" envDefault:"https://api.firecrawl.dev"`
	ExtractionAPIKey  string `env:"EXTRACTION_API_KEY"`

	// Geocoding service
	GeocodingBaseURL string `env:"GEOCODING_API_URL" envDefault:"https://nominatim.openstreetmap.org"`

	// Rate budgets. Extraction defaults to 100 calls per minute, geocoding
	// to 50 per second.
	ExtractionRateLimit  int           `env:"EXTRACTION_RATE_LIMIT" envDefault:"100"`
	ExtractionRateWindow time.Duration `env:"EXTRACTION_RATE_WINDOW" envDefault:"1m"`
	GeocodingRateLimit   int           `env:"GEOCODING_RATE_LIMIT" envDefault:"50"`
	GeocodingRateWindow  time.Duration `env:"GEOCODING_RATE_WINDOW" envDefault:"1s"`

	// Wall-clock ceiling for one orchestrator run.
	RunDeadline time.Duration `env:"RUN_DEADLINE" envDefault:"50s"`

	// Number of sources scraped concurrently within a run.
	SourceWorkers int `env:"SOURCE_WORKERS" envDefault:"3"`

	// Rotation: with a cron firing every IntervalHours, each source group is
	// selected 24/IntervalHours/groupCount times per day.
	IntervalHours int `env:"ROTATION_INTERVAL_HOURS" envDefault:"2"`

	// Listings not updated within this window are flipped inactive.
	StaleAfterDays int `env:"STALE_AFTER_DAYS" envDefault:"7"`

	// Default search parameters applied to every source.
	SearchLocation string `env:"SEARCH_LOCATION" envDefault:"New York, NY"`
	SearchMinPrice int    `env:"SEARCH_MIN_PRICE" envDefault:"0"`
	SearchMaxPrice int    `env:"SEARCH_MAX_PRICE" envDefault:"0"`
	SearchPages    int    `env:"SEARCH_PAGES" envDefault:"1"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
