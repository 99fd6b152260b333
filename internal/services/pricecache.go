package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// priceTTL bounds how long a market quote stays usable for simulations.
const priceTTL = 6 * time.Hour

// PriceCache holds the latest farm-gate apple quotes per variety. Quotes go
// stale after priceTTL, at which point simulations fall back to scenario
// defaults.
type PriceCache struct {
	mu        sync.RWMutex
	prices    map[string]float64
	updatedAt time.Time
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewPriceCache creates an empty price cache
func NewPriceCache(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PriceCache {
	return &PriceCache{
		prices:  make(map[string]float64),
		logger:  logger,
		metrics: metricsCollector,
	}
}

// UpdateQuotes stores the median of the observed quotes for a variety.
// Empty quote lists are ignored.
func (c *PriceCache) UpdateQuotes(ctx context.Context, variety string, quotes []float64) {
	if len(quotes) == 0 {
		return
	}

	sorted := make([]float64, len(quotes))
	copy(sorted, quotes)
	sort.Float64s(sorted)

	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2.0
	}

	c.mu.Lock()
	c.prices[variety] = median
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.metrics.PriceCacheUpdatesTotal.Inc()
	c.logger.Debug(ctx, "[PRICE_CACHE] Quote updated", logging.Fields{
		"variety": variety,
		"price":   median,
		"quotes":  len(quotes),
	})
}

// Price returns the cached quote for a variety. ok is false when there is
// no quote or the cache has gone stale.
func (c *PriceCache) Price(variety string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[variety]
	if !ok || time.Since(c.updatedAt) > priceTTL {
		return 0, false
	}
	return price, true
}

// Status reports the cache contents for diagnostics.
func (c *PriceCache) Status() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prices := make(map[string]float64, len(c.prices))
	for k, v := range c.prices {
		prices[k] = v
	}

	stale := c.updatedAt.IsZero() || time.Since(c.updatedAt) > priceTTL
	return map[string]interface{}{
		"prices":     prices,
		"updated_at": c.updatedAt,
		"stale":      stale,
	}
}

// priceSourceFor resolves the price the simulator should use and where it
// came from: an explicit user price, then a live quote, then the scenario
// default.
func (c *PriceCache) priceSourceFor(variety string, userPrice *float64, scenarioDefault float64) (float64, string) {
	if userPrice != nil && *userPrice > 0 {
		return *userPrice, models.PriceSourceUser
	}
	if price, ok := c.Price(variety); ok {
		return price, models.PriceSourceMarket
	}
	return scenarioDefault, models.PriceSourceScenario
}
