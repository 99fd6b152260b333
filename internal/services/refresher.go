package services

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"orchard-platform/pkg/logging"
)

// quotesPerRefresh is how many market observations feed each median.
const quotesPerRefresh = 5

// PriceRefresher simulates the periodic market feed: it drifts each
// variety's quote around the scenario baseline with a slowly wandering
// bias, pushes the medians into the price cache and lets the anomaly
// detector inspect every batch.
type PriceRefresher struct {
	mu      sync.Mutex
	drift   map[string]float64
	rng     *rand.Rand
	prices  *PriceCache
	anomaly *AnomalyDetector
	flags   *FeatureFlags
	logger  *logging.StructuredLogger
}

// NewPriceRefresher creates a refresher. anomaly and flags may be nil.
func NewPriceRefresher(
	prices *PriceCache,
	anomaly *AnomalyDetector,
	flags *FeatureFlags,
	logger *logging.StructuredLogger,
) *PriceRefresher {
	return &PriceRefresher{
		drift:   make(map[string]float64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:  prices,
		anomaly: anomaly,
		flags:   flags,
		logger:  logger,
	}
}

// Refresh pulls a fresh quote batch for every known variety. Returns the
// number of varieties updated; zero when auto refresh is switched off.
func (p *PriceRefresher) Refresh(ctx context.Context) int {
	if p.flags != nil && !p.flags.Enabled(FlagDataAutoRefresh) {
		p.logger.Debug(ctx, "[PRICE_REFRESH] Skipped, auto refresh disabled", nil)
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	updated := 0
	for variety, sc := range scenarios {
		bias := p.drift[variety]
		bias += p.rng.NormFloat64() * 0.02
		bias = math.Max(-0.25, math.Min(0.25, bias))
		p.drift[variety] = bias

		quotes := make([]float64, 0, quotesPerRefresh)
		for i := 0; i < quotesPerRefresh; i++ {
			noise := p.rng.NormFloat64() * 0.03
			quotes = append(quotes, sc.PricePerKg*(1+bias+noise))
		}

		p.prices.UpdateQuotes(ctx, variety, quotes)

		if p.anomaly != nil {
			if current, ok := p.prices.Price(variety); ok {
				p.anomaly.CheckPrice(ctx, variety, current)
			}
		}
		updated++
	}

	p.logger.Info(ctx, "[PRICE_REFRESH] Market quotes refreshed", logging.Fields{
		"varieties": updated,
	})
	return updated
}
