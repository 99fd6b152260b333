package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchard-platform/internal/models"
)

func TestFeatureFlagDefaults(t *testing.T) {
	flags := NewFeatureFlags(context.Background(), nil, testLogger())

	all := flags.All()
	assert.Len(t, all, len(flagDefaults))

	assert.True(t, flags.Enabled(FlagSelfRefine))
	assert.True(t, flags.Enabled(FlagAnomalyDetection))
	assert.False(t, flags.Enabled(FlagAdaptiveScheduler), "adaptive scheduler ships off")
	assert.False(t, flags.Enabled("no_such_flag"), "unknown flags read as off")
}

func TestFeatureFlagSet(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	flags := NewFeatureFlags(ctx, repo, testLogger())

	t.Run("unknown flag is rejected", func(t *testing.T) {
		_, err := flags.Set(ctx, "no_such_flag", true)
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "flag", vErr.Field)
	})

	t.Run("toggle persists across restart", func(t *testing.T) {
		state, err := flags.Set(ctx, FlagSelfRefine, false)
		require.NoError(t, err)
		assert.False(t, state.Enabled)
		assert.False(t, state.UpdatedAt.IsZero())

		reloaded := NewFeatureFlags(ctx, repo, testLogger())
		assert.False(t, reloaded.Enabled(FlagSelfRefine))
		assert.True(t, reloaded.Enabled(FlagFeedback), "untouched flags keep their defaults")
	})
}

func TestFeedbackSubmitAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	collector := NewFeedbackCollector(ctx, repo, testLogger())

	t.Run("variety is required", func(t *testing.T) {
		_, err := collector.Submit(ctx, models.FeedbackEntry{})
		var vErr *models.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "variety", vErr.Field)
	})

	t.Run("stats aggregate per variety", func(t *testing.T) {
		submit := func(variety string, helpful bool, predicted, actual float64) {
			entry, err := collector.Submit(ctx, models.FeedbackEntry{
				Variety:          variety,
				Helpful:          helpful,
				PredictedYieldKg: &predicted,
				ActualYieldKg:    &actual,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, entry.ID)
		}

		// fuji: one accurate, one 40% off. hongro: accurate.
		submit("fuji", true, 2000, 2100)
		submit("fuji", false, 2000, 1200)
		submit("hongro", true, 2500, 2400)

		stats := collector.Stats()
		assert.Equal(t, 3, stats.Total)
		assert.InDelta(t, 2.0/3.0, stats.HelpfulRate, 1e-9)
		assert.InDelta(t, 1.0/3.0, stats.InaccuracyRate, 1e-9)

		fuji := stats.ByVariety["fuji"]
		assert.Equal(t, 2, fuji.Count)
		assert.InDelta(t, 0.5, fuji.InaccuracyRate, 1e-9)
		assert.Equal(t, 0.0, stats.ByVariety["hongro"].InaccuracyRate)
	})

	t.Run("entries replay from the stream", func(t *testing.T) {
		replayed := NewFeedbackCollector(ctx, repo, testLogger())
		assert.Equal(t, 3, replayed.Stats().Total)
	})
}

func TestRunAnalytics(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepository()
	analytics := NewRunAnalytics(ctx, repo, testLogger())

	t.Run("empty window", func(t *testing.T) {
		snapshot := analytics.Snapshot()
		assert.Equal(t, 0, snapshot["total_runs"])

		assert.Equal(t, "no prior runs to compare against", analytics.Context(0.5).Note)
	})

	t.Run("snapshot aggregates", func(t *testing.T) {
		analytics.RecordRun(ctx, models.RunRecord{Variety: "fuji", ROI10Year: 0.4, At: time.Now()})
		analytics.RecordRun(ctx, models.RunRecord{Variety: "fuji", ROI10Year: 0.6, Refined: true, At: time.Now()})
		analytics.RecordRun(ctx, models.RunRecord{Variety: "hongro", ROI10Year: 0.2, At: time.Now()})

		snapshot := analytics.Snapshot()
		assert.Equal(t, 3, snapshot["total_runs"])
		assert.Equal(t, 3, snapshot["window_size"])
		assert.Equal(t, map[string]int{"fuji": 2, "hongro": 1}, snapshot["by_variety"])
		assert.InDelta(t, 0.4, snapshot["avg_roi"].(float64), 1e-9)
		assert.InDelta(t, 1.0/3.0, snapshot["refinement_rate"].(float64), 1e-9)
	})

	t.Run("context situates a result", func(t *testing.T) {
		above := analytics.Context(0.7)
		assert.Equal(t, "above the average of prior runs", above.Note)
		assert.InDelta(t, 0.3, above.ROIDelta, 0.01)

		wellBelow := analytics.Context(-0.5)
		assert.Equal(t, "well below the average of prior runs", wellBelow.Note)

		inLine := analytics.Context(0.45)
		assert.Equal(t, "in line with prior runs", inLine.Note)
	})

	t.Run("history replays from the stream", func(t *testing.T) {
		replayed := NewRunAnalytics(ctx, repo, testLogger())
		assert.Equal(t, 3, replayed.Snapshot()["total_runs"])
	})
}

func TestAnomalyCheckPrice(t *testing.T) {
	ctx := context.Background()
	detector := NewAnomalyDetector(newMemoryRepository(), testLogger(), testMetrics())

	t.Run("first observation only primes", func(t *testing.T) {
		assert.Nil(t, detector.CheckPrice(ctx, "fuji", 5500))
	})

	t.Run("small move is quiet", func(t *testing.T) {
		assert.Nil(t, detector.CheckPrice(ctx, "fuji", 5800))
	})

	t.Run("surge raises a warning", func(t *testing.T) {
		alerts := detector.CheckPrice(ctx, "fuji", 7300)
		require.Len(t, alerts, 1)
		assert.Equal(t, "price_surge", alerts[0].Kind)
		assert.Equal(t, models.AlertSeverityWarning, alerts[0].Severity)
		assert.Equal(t, "fuji", alerts[0].Subject)
	})

	t.Run("collapse is critical", func(t *testing.T) {
		alerts := detector.CheckPrice(ctx, "fuji", 3000)
		require.Len(t, alerts, 1)
		assert.Equal(t, "price_drop", alerts[0].Kind)
		assert.Equal(t, models.AlertSeverityCritical, alerts[0].Severity)
	})
}

func TestAnomalyCheckWeather(t *testing.T) {
	ctx := context.Background()
	detector := NewAnomalyDetector(newMemoryRepository(), testLogger(), testMetrics())

	t.Run("ordinary day", func(t *testing.T) {
		assert.Empty(t, detector.CheckWeather(ctx, "yeongju", 8, 24, 5, 3))
	})

	t.Run("everything at once", func(t *testing.T) {
		alerts := detector.CheckWeather(ctx, "yeongju", -6, 39, 45, 16)
		require.Len(t, alerts, 4)
		kinds := make([]string, len(alerts))
		for i, a := range alerts {
			kinds[i] = a.Kind
			assert.Equal(t, models.AlertCategoryWeather, a.Category)
		}
		assert.Equal(t, []string{"cold_snap", "heat_wave", "heavy_rain", "strong_wind"}, kinds)
	})
}

func TestAnomalyRecentAlertsAndStats(t *testing.T) {
	ctx := context.Background()
	detector := NewAnomalyDetector(newMemoryRepository(), testLogger(), testMetrics())

	detector.CheckPrice(ctx, "fuji", 5000)
	detector.CheckPrice(ctx, "fuji", 3500) // drop
	detector.CheckWeather(ctx, "yeongju", -8, 10, 0, 0)
	detector.CheckWeather(ctx, "andong", 5, 40, 0, 0)

	t.Run("category filter", func(t *testing.T) {
		weather := detector.RecentAlerts(10, models.AlertCategoryWeather)
		assert.Len(t, weather, 2)

		price := detector.RecentAlerts(10, models.AlertCategoryPrice)
		require.Len(t, price, 1)
		assert.Equal(t, "price_drop", price[0].Kind)
	})

	t.Run("limit keeps the newest", func(t *testing.T) {
		latest := detector.RecentAlerts(1, "")
		require.Len(t, latest, 1)
		assert.Equal(t, "heat_wave", latest[0].Kind)
	})

	t.Run("stats", func(t *testing.T) {
		stats := detector.Stats()
		assert.Equal(t, 3, stats["total"])
		assert.Equal(t, map[string]int{
			models.AlertCategoryPrice:   1,
			models.AlertCategoryWeather: 2,
		}, stats["by_category"])
	})
}

func TestPriceCache(t *testing.T) {
	ctx := context.Background()

	t.Run("median of odd and even batches", func(t *testing.T) {
		cache := NewPriceCache(testLogger(), testMetrics())

		cache.UpdateQuotes(ctx, "fuji", []float64{5200, 5600, 5400})
		price, ok := cache.Price("fuji")
		require.True(t, ok)
		assert.Equal(t, 5400.0, price)

		cache.UpdateQuotes(ctx, "hongro", []float64{6000, 6400})
		price, ok = cache.Price("hongro")
		require.True(t, ok)
		assert.Equal(t, 6200.0, price)
	})

	t.Run("empty batch is ignored", func(t *testing.T) {
		cache := NewPriceCache(testLogger(), testMetrics())
		cache.UpdateQuotes(ctx, "fuji", nil)
		_, ok := cache.Price("fuji")
		assert.False(t, ok)
	})

	t.Run("stale cache falls back", func(t *testing.T) {
		cache := NewPriceCache(testLogger(), testMetrics())
		cache.UpdateQuotes(ctx, "fuji", []float64{5500})
		cache.updatedAt = time.Now().Add(-priceTTL - time.Minute)

		_, ok := cache.Price("fuji")
		assert.False(t, ok)
		assert.Equal(t, true, cache.Status()["stale"])
	})

	t.Run("price source chain", func(t *testing.T) {
		cache := NewPriceCache(testLogger(), testMetrics())

		price, source := cache.priceSourceFor("fuji", nil, 5500)
		assert.Equal(t, 5500.0, price)
		assert.Equal(t, models.PriceSourceScenario, source)

		cache.UpdateQuotes(ctx, "fuji", []float64{6000})
		price, source = cache.priceSourceFor("fuji", nil, 5500)
		assert.Equal(t, 6000.0, price)
		assert.Equal(t, models.PriceSourceMarket, source)

		user := 7000.0
		price, source = cache.priceSourceFor("fuji", &user, 5500)
		assert.Equal(t, 7000.0, price)
		assert.Equal(t, models.PriceSourceUser, source)
	})
}

func TestPriceRefresher(t *testing.T) {
	ctx := context.Background()
	cache := NewPriceCache(testLogger(), testMetrics())
	flags := NewFeatureFlags(ctx, nil, testLogger())
	refresher := NewPriceRefresher(cache, nil, flags, testLogger())

	t.Run("refreshes every scenario variety", func(t *testing.T) {
		updated := refresher.Refresh(ctx)
		assert.Equal(t, len(scenarios), updated)

		for variety, sc := range scenarios {
			price, ok := cache.Price(variety)
			require.True(t, ok, variety)
			// Drift and noise are bounded, quotes stay near the baseline.
			assert.Greater(t, price, sc.PricePerKg*0.5)
			assert.Less(t, price, sc.PricePerKg*1.5)
		}
	})

	t.Run("disabled by flag", func(t *testing.T) {
		_, err := flags.Set(ctx, FlagDataAutoRefresh, false)
		require.NoError(t, err)
		assert.Equal(t, 0, refresher.Refresh(ctx))
	})
}
