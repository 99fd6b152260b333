package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/internal/repository"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// regions lists the apple-growing regions the platform knows, each with a
// temperature offset applied to the reference normals.
var regions = []models.Region{
	{ID: "yeongju", Name: "Yeongju", TempOffset: 0.0},
	{ID: "andong", Name: "Andong", TempOffset: 0.3},
	{ID: "yeongcheon", Name: "Yeongcheon", TempOffset: 1.0},
	{ID: "cheongsong", Name: "Cheongsong", TempOffset: -0.5},
	{ID: "mungyeong", Name: "Mungyeong", TempOffset: 0.5},
	{ID: "chungju", Name: "Chungju", TempOffset: 0.8},
	{ID: "jecheon", Name: "Jecheon", TempOffset: -0.3},
	{ID: "geochang", Name: "Geochang", TempOffset: 0.2},
	{ID: "jangsu", Name: "Jangsu", TempOffset: -0.8},
	{ID: "yesan", Name: "Yesan", TempOffset: 1.2},
}

// baseNormals is the monthly reference climate of the benchmark station.
var baseNormals = []models.ClimateNormal{
	{Month: 1, MinTempC: -8.5, MaxTempC: 2.5, RainfallMM: 20},
	{Month: 2, MinTempC: -6.0, MaxTempC: 5.5, RainfallMM: 25},
	{Month: 3, MinTempC: -1.0, MaxTempC: 11.5, RainfallMM: 45},
	{Month: 4, MinTempC: 4.5, MaxTempC: 18.5, RainfallMM: 75},
	{Month: 5, MinTempC: 10.5, MaxTempC: 24.0, RainfallMM: 95},
	{Month: 6, MinTempC: 16.0, MaxTempC: 27.5, RainfallMM: 150},
	{Month: 7, MinTempC: 21.0, MaxTempC: 30.5, RainfallMM: 280},
	{Month: 8, MinTempC: 21.0, MaxTempC: 31.0, RainfallMM: 250},
	{Month: 9, MinTempC: 14.5, MaxTempC: 26.0, RainfallMM: 140},
	{Month: 10, MinTempC: 6.5, MaxTempC: 19.5, RainfallMM: 50},
	{Month: 11, MinTempC: -0.5, MaxTempC: 11.5, RainfallMM: 40},
	{Month: 12, MinTempC: -6.5, MaxTempC: 4.5, RainfallMM: 22},
}

// ClimateService serves regional normals and daily series. Real observations
// are not always available, so a deterministic synthetic generator fills the
// gap; generated series are cached as documents to keep replays cheap.
type ClimateService struct {
	repo    repository.StateRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClimateService creates a new climate service. repo may be nil, in which
// case series are regenerated on every call.
func NewClimateService(repo repository.StateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ClimateService {
	return &ClimateService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Regions returns all known growing regions.
func (s *ClimateService) Regions() []models.Region {
	out := make([]models.Region, len(regions))
	copy(out, regions)
	return out
}

// Region looks up a region by ID.
func (s *ClimateService) Region(regionID string) (models.Region, bool) {
	for _, r := range regions {
		if r.ID == regionID {
			return r, true
		}
	}
	return models.Region{}, false
}

// Normals returns the monthly normals for a region: the reference table
// shifted by the region's temperature offset. Unknown regions get the
// unshifted reference.
func (s *ClimateService) Normals(regionID string) []models.ClimateNormal {
	offset := 0.0
	if r, ok := s.Region(regionID); ok {
		offset = r.TempOffset
	}

	normals := make([]models.ClimateNormal, len(baseNormals))
	for i, n := range baseNormals {
		n.MinTempC += offset
		n.MaxTempC += offset
		normals[i] = n
	}
	return normals
}

// DailySeries returns a full year of daily weather for a region, from the
// document cache when present and otherwise freshly generated. It never
// fails: a broken cache entry is regenerated and overwritten.
func (s *ClimateService) DailySeries(ctx context.Context, regionID string, year int) []models.DailyClimateRecord {
	docKey := fmt.Sprintf("climate_%s_%d", regionID, year)

	if s.repo != nil {
		if raw, err := s.repo.GetDocument(ctx, docKey); err == nil {
			var cached []models.DailyClimateRecord
			if err := json.Unmarshal(raw, &cached); err == nil && len(cached) >= 300 {
				return cached
			}
			s.logger.Warn(ctx, "[CLIMATE_CACHE] Discarding unusable cached series", logging.Fields{
				"doc_key": docKey,
			})
		}
	}

	series := s.SyntheticDailySeries(regionID, year)

	if s.repo != nil {
		if err := s.repo.PutDocument(ctx, docKey, series); err != nil {
			s.logger.Warn(ctx, "[CLIMATE_CACHE] Failed to cache series", logging.Fields{
				"doc_key": docKey,
			})
		}
	}

	return series
}

// SyntheticDailySeries generates a deterministic year of daily weather
// around the region's normals. The same region and year always produce the
// same series.
func (s *ClimateService) SyntheticDailySeries(regionID string, year int) []models.DailyClimateRecord {
	normals := s.Normals(regionID)
	rng := rand.New(rand.NewSource(seriesSeed(regionID, year)))

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)

	series := make([]models.DailyClimateRecord, 0, 366)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		n := normals[int(d.Month())-1]

		minT := n.MinTempC + rng.NormFloat64()*2.0
		maxT := n.MaxTempC + rng.NormFloat64()*2.5
		if maxT < minT+3.0 {
			maxT = minT + 3.0
		}

		// Rain falls on a fraction of days proportional to the monthly
		// normal, with magnitude scaled to the month.
		rain := 0.0
		p := n.RainfallMM / (30.0 * 15.0)
		if p > 0.7 {
			p = 0.7
		}
		if rng.Float64() < p {
			rain = 1.0 + rng.Float64()*(n.RainfallMM/5.0-1.0)
			if rain < 0 {
				rain = 0
			}
		}

		series = append(series, models.DailyClimateRecord{
			Date:       d.Format(dateLayout),
			MinTempC:   round1(minT),
			MaxTempC:   round1(maxT),
			RainfallMM: round1(rain),
		})
	}

	return series
}

// seriesSeed derives the deterministic RNG seed for a region and year.
func seriesSeed(regionID string, year int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", regionID, year)
	return int64(h.Sum64())
}

func round1(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
