package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentradar/pipeline/internal/ratelimit"
)

func testLimiter() *ratelimit.Limiter {
	l := ratelimit.New(logrus.New())
	l.Configure(ratelimit.ResourceExtraction, 1000, time.Minute)
	return l
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestClient_Extract(t *testing.T) {
	var gotReq extractRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/extract", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"listings": []map[string]any{
				{"address": "123 Main St", "price": 2500},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", testLimiter(), logrus.New())
	listings, err := c.Extract(context.Background(), "https://example.com/search", map[string]any{"type": "object"})

	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "123 Main St", listings[0]["address"])
	assert.Equal(t, "https://example.com/search", gotReq.URL)
}

func TestClient_Extract_RetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"listings": []map[string]any{}})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", testLimiter(), logrus.New())
	c.sleep = noSleep

	listings, err := c.Extract(context.Background(), "https://example.com", nil)
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Equal(t, 3, calls)
}

func TestClient_Extract_DoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", testLimiter(), logrus.New())
	c.sleep = noSleep

	_, err := c.Extract(context.Background(), "https://example.com", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_Extract_EachAttemptSpendsAToken(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	// Two tokens for the whole window: the third retry attempt must block on
	// the limiter instead of reaching the service.
	limiter := ratelimit.New(logrus.New())
	limiter.Configure(ratelimit.ResourceExtraction, 2, time.Hour)

	c := NewClient(server.URL, "", limiter, logrus.New())
	c.sleep = noSleep

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.Extract(ctx, "https://example.com", nil)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestClient_Extract_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", testLimiter(), logrus.New())
	c.sleep = noSleep

	_, err := c.Extract(context.Background(), "https://example.com", nil)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
