package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"rentradar/pipeline/internal/ratelimit"
)

// Geocoder resolves addresses to coordinates through an external service,
// caching every answer in memory for the process lifetime. Unresolvable
// addresses are cached too so they are not re-queried within a run.
type Geocoder struct {
	logger  *logrus.Logger
	client  *http.Client
	limiter *ratelimit.Limiter
	baseURL string

	cache     map[string]*orb.Point
	cacheLock sync.RWMutex

	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewGeocoder creates a geocoder sharing the process-wide rate limiter under
// the "geocoding" resource.
func NewGeocoder(baseURL string, limiter *ratelimit.Limiter, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Geocoder{
		logger:      logger,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     limiter,
		baseURL:     baseURL,
		cache:       make(map[string]*orb.Point),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		sleep:       sleepWithContext,
	}
}

type geocodeResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves one address. A nil point with a nil error means the
// address is not resolvable; that answer is cached like any other.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*orb.Point, error) {
	if address == "" {
		return nil, nil
	}

	g.cacheLock.RLock()
	point, ok := g.cache[address]
	g.cacheLock.RUnlock()
	if ok {
		g.logger.WithFields(logrus.Fields{
			"address": address,
			"found":   point != nil,
		}).Debug("Geocode cache hit")
		return point, nil
	}

	point, err := g.lookup(ctx, address)
	if err != nil {
		return nil, err
	}

	g.cacheLock.Lock()
	g.cache[address] = point
	g.cacheLock.Unlock()
	return point, nil
}

// lookup queries the external service with exponential-backoff retry.
func (g *Geocoder) lookup(ctx context.Context, address string) (*orb.Point, error) {
	var lastErr error
	delay := g.baseDelay
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		if err := g.limiter.Acquire(ctx, ratelimit.ResourceGeocoding); err != nil {
			return nil, fmt.Errorf("failed to acquire geocoding token: %w", err)
		}

		point, err := g.query(ctx, address)
		if err == nil {
			return point, nil
		}
		lastErr = err
		g.logger.WithError(err).WithFields(logrus.Fields{
			"address": address,
			"attempt": attempt + 1,
		}).Warn("Geocoding request failed")
	}
	return nil, fmt.Errorf("geocoding failed after retries: %w", lastErr)
}

func (g *Geocoder) query(ctx context.Context, address string) (*orb.Point, error) {
	params := url.Values{
		"q":      []string{address},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", "RentRadar Ingestion Pipeline/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding service returned status %d", resp.StatusCode)
	}

	var result geocodeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(result) == 0 {
		g.logger.WithField("address", address).Warn("No geocoding results")
		return nil, nil
	}

	lat, latErr := strconv.ParseFloat(result[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(result[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, fmt.Errorf("malformed coordinates in response: lat=%q lon=%q", result[0].Lat, result[0].Lon)
	}

	// Out-of-range coordinates are treated as not found.
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		g.logger.WithFields(logrus.Fields{
			"address":   address,
			"latitude":  lat,
			"longitude": lon,
		}).Warn("Geocoding result out of range")
		return nil, nil
	}

	point := orb.Point{lon, lat}
	g.logger.WithFields(logrus.Fields{
		"address":   address,
		"latitude":  lat,
		"longitude": lon,
	}).Debug("Geocoded address")
	return &point, nil
}

// CacheSize reports the number of cached answers, negative ones included.
func (g *Geocoder) CacheSize() int {
	g.cacheLock.RLock()
	defer g.cacheLock.RUnlock()
	return len(g.cache)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
