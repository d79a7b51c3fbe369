package pricing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/calebturner/arbiter/internal/config"
)

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu      sync.Mutex
	prices  map[string]float64
	updated map[string]time.Time
}

func newMemCache() *memCache {
	return &memCache{prices: map[string]float64{}, updated: map[string]time.Time{}}
}

func (c *memCache) GetCachedPrice(ctx context.Context, key string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[key]
	if !ok {
		return 0, time.Time{}, context.Canceled // any error means miss
	}
	return p, c.updated[key], nil
}

func (c *memCache) SetCachedPrice(ctx context.Context, key string, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[key] = price
	c.updated[key] = time.Now().UTC()
	return nil
}

func testLogger() *slog.Logger {
	return config.NewLogger(io.Discard, slog.LevelError)
}

func TestPricePerHourFetchesCheapestSKU(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("$filter") == "" {
			t.Error("missing $filter query")
		}
		w.Write([]byte(`{"Items":[
			{"retailPrice":0.30,"armSkuName":"Standard_D4s_v5"},
			{"retailPrice":0.19,"armSkuName":"Standard_D4s_v5"},
			{"retailPrice":0,"armSkuName":"Standard_D4s_v5"}
		]}`))
	}))
	defer ts.Close()

	cache := newMemCache()
	svc := New(ts.URL, cache, testLogger(), nil)

	got := svc.PricePerHour(context.Background(), "cloud")
	if got != 0.19 {
		t.Errorf("price = %v, want cheapest 0.19", got)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}

	// Second lookup is served from cache.
	got = svc.PricePerHour(context.Background(), "cloud")
	if got != 0.19 {
		t.Errorf("cached price = %v, want 0.19", got)
	}
	if calls != 1 {
		t.Errorf("fetch calls after cache hit = %d, want 1", calls)
	}
}

func TestPricePerHourEdgeIsStatic(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("edge pricing must not hit the retail api")
	}))
	defer ts.Close()

	svc := New(ts.URL, newMemCache(), testLogger(), nil)
	if got := svc.PricePerHour(context.Background(), "edge"); got != fallbackPerHour["edge"] {
		t.Errorf("edge price = %v, want static %v", got, fallbackPerHour["edge"])
	}
}

func TestPricePerHourFallbackOnFetchFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	svc := New(ts.URL, newMemCache(), testLogger(), nil)
	if got := svc.PricePerHour(context.Background(), "gpu"); got != fallbackPerHour["gpu"] {
		t.Errorf("gpu price = %v, want fallback %v", got, fallbackPerHour["gpu"])
	}
}

func TestPricePerHourStaleCacheBeatsFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cache := newMemCache()
	cache.prices["retail:"+skuForType["cloud"]] = 0.33
	cache.updated["retail:"+skuForType["cloud"]] = time.Now().UTC().Add(-24 * time.Hour)

	svc := New(ts.URL, cache, testLogger(), nil)
	if got := svc.PricePerHour(context.Background(), "cloud"); got != 0.33 {
		t.Errorf("price = %v, want stale cached 0.33", got)
	}
}

func TestPricePerHourMalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	svc := New(ts.URL, newMemCache(), testLogger(), nil)
	if got := svc.PricePerHour(context.Background(), "cloud"); got != fallbackPerHour["cloud"] {
		t.Errorf("price = %v, want fallback %v", got, fallbackPerHour["cloud"])
	}
}
