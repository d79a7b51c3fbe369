// Package pricing fills in the hourly price of a resource when telemetry
// arrives without one. Cloud and GPU prices come from the Azure Retail
// Prices API and are cached in the store; edge hardware and any fetch
// failure fall back to static figures so ingest never blocks on the network.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://prices.azure.com/api/retail/prices"
	cacheTTL       = 6 * time.Hour
	maxPricingBody = 1 << 20 // 1 MB
)

// Representative SKUs per resource type. Edge is intentionally absent: there
// is no retail price for on-prem hardware.
var skuForType = map[string]string{
	"cloud": "Standard_D4s_v5",
	"gpu":   "Standard_NC6s_v3",
}

// fallbackPerHour is used when the retail API is unreachable and the cache
// holds nothing, and always for edge resources.
var fallbackPerHour = map[string]float64{
	"edge":  0.02,
	"cloud": 0.20,
	"gpu":   1.20,
}

// Cache is the slice of the store the pricing service needs.
type Cache interface {
	GetCachedPrice(ctx context.Context, key string) (float64, time.Time, error)
	SetCachedPrice(ctx context.Context, key string, pricePerHourUSD float64) error
}

// Service resolves hourly prices with a cache-then-fetch-then-fallback chain.
type Service struct {
	baseURL string
	client  *http.Client
	cache   Cache
	logger  *slog.Logger
}

// New creates a pricing service. baseURL empty uses the public Azure
// endpoint; client nil uses a 10s-timeout default.
func New(baseURL string, cache Cache, logger *slog.Logger, client *http.Client) *Service {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{
		baseURL: baseURL,
		client:  client,
		cache:   cache,
		logger:  logger,
	}
}

// PricePerHour returns the hourly USD price for a resource type. It never
// returns an error: the static fallback bounds the worst case.
func (s *Service) PricePerHour(ctx context.Context, resourceType string) float64 {
	sku, ok := skuForType[resourceType]
	if !ok {
		return fallbackPerHour[resourceType]
	}

	key := "retail:" + sku
	if price, fetchedAt, err := s.cache.GetCachedPrice(ctx, key); err == nil && time.Since(fetchedAt) < cacheTTL {
		return price
	}

	price, err := s.fetch(ctx, sku)
	if err != nil {
		s.logger.Warn("retail price fetch failed, using fallback",
			"resource_type", resourceType, "sku", sku, "error", err)
		// A stale cache entry still beats the static figure.
		if price, _, cerr := s.cache.GetCachedPrice(ctx, key); cerr == nil {
			return price
		}
		return fallbackPerHour[resourceType]
	}

	if err := s.cache.SetCachedPrice(ctx, key, price); err != nil {
		s.logger.Warn("cache retail price", "sku", sku, "error", err)
	}
	return price
}

// retailResponse mirrors the subset of the Azure Retail Prices payload we read.
type retailResponse struct {
	Items []struct {
		RetailPrice   float64 `json:"retailPrice"`
		ArmSkuName    string  `json:"armSkuName"`
		Type          string  `json:"type"`
		UnitOfMeasure string  `json:"unitOfMeasure"`
	} `json:"Items"`
}

func (s *Service) fetch(ctx context.Context, sku string) (float64, error) {
	filter := fmt.Sprintf("serviceName eq 'Virtual Machines' and armSkuName eq '%s' and priceType eq 'Consumption'", sku)
	u := s.baseURL + "?$filter=" + url.QueryEscape(filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build pricing request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call pricing api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricing api returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPricingBody))
	if err != nil {
		return 0, fmt.Errorf("read pricing response: %w", err)
	}

	var rr retailResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return 0, fmt.Errorf("malformed pricing response: %w", err)
	}

	// Several regions come back per SKU; take the cheapest positive hourly rate.
	best := 0.0
	for _, item := range rr.Items {
		if item.RetailPrice <= 0 {
			continue
		}
		if best == 0 || item.RetailPrice < best {
			best = item.RetailPrice
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("no consumption price for sku %s", sku)
	}
	return best, nil
}
