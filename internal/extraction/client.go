package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"rentradar/pipeline/internal/ratelimit"
)

// Client calls the external structured-extraction service. The contract is
// "give me an array of loosely-typed listing objects for this URL"; all HTML
// retrieval and parsing happens on the service side.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *logrus.Logger

	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type extractRequest struct {
	URL              string         `json:"url"`
	ExtractionSchema map[string]any `json:"extractionSchema"`
}

type extractResponse struct {
	Listings []map[string]any `json:"listings"`
}

// NewClient creates an extraction client sharing the process-wide rate
// limiter under the "extraction" resource.
func NewClient(baseURL, apiKey string, limiter *ratelimit.Limiter, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   time.Second,
		sleep:       sleepWithContext,
	}
}

// Extract requests the listing objects for one search page URL. Network and
// 429/5xx failures are retried with exponential backoff; anything else is
// returned to the caller.
func (c *Client) Extract(ctx context.Context, pageURL string, schema map[string]any) ([]map[string]any, error) {
	body, err := json.Marshal(extractRequest{URL: pageURL, ExtractionSchema: schema})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction request: %w", err)
	}

	var lastErr error
	delay := c.baseDelay
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"url":     pageURL,
				"attempt": attempt + 1,
			}).Info("Retrying extraction request")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay *= 2
		}

		// Every attempt is a real service call, so each one spends a token.
		if err := c.limiter.Acquire(ctx, ratelimit.ResourceExtraction); err != nil {
			return nil, fmt.Errorf("failed to acquire extraction token: %w", err)
		}

		listings, retryable, err := c.doExtract(ctx, body)
		if err == nil {
			return listings, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.logger.WithError(err).WithField("url", pageURL).Warn("Extraction request failed")
	}

	return nil, fmt.Errorf("extraction failed after retries: %w", lastErr)
}

func (c *Client) doExtract(ctx context.Context, body []byte) ([]map[string]any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("extraction service returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("extraction service returned status %d: %s", resp.StatusCode, data)
	}

	var parsed extractResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return parsed.Listings, false, nil
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
