package services

import (
	"context"
	"math"
	"time"

	"orchard-platform/internal/models"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// PyeongToM2 converts the Korean land unit pyeong to square meters.
const PyeongToM2 = 3.3058

// Spacing resolution sources reported back to the caller.
const (
	SpacingSourceExplicit  = "explicit"
	SpacingSourceRootstock = "rootstock"
	SpacingSourceVariety   = "variety_default"
)

const (
	plantableShare     = 0.85
	defaultRootstockID = "M26"
)

// varietySpec holds the agronomic defaults of a variety.
type varietySpec struct {
	RowSpacingM    float64
	TreeSpacingM   float64
	YieldPerTreeKg float64
	YearsToFruit   int
}

var varietySpecs = map[string]varietySpec{
	"fuji":         {RowSpacingM: 5.0, TreeSpacingM: 3.5, YieldPerTreeKg: 40, YearsToFruit: 4},
	"hongro":       {RowSpacingM: 4.5, TreeSpacingM: 3.0, YieldPerTreeKg: 30, YearsToFruit: 3},
	"gamhong":      {RowSpacingM: 4.5, TreeSpacingM: 3.0, YieldPerTreeKg: 25, YearsToFruit: 4},
	"arisu":        {RowSpacingM: 4.0, TreeSpacingM: 2.5, YieldPerTreeKg: 35, YearsToFruit: 3},
	"shinano-gold": {RowSpacingM: 4.5, TreeSpacingM: 3.0, YieldPerTreeKg: 30, YearsToFruit: 4},
	"ruby-s":       {RowSpacingM: 4.0, TreeSpacingM: 2.5, YieldPerTreeKg: 30, YearsToFruit: 3},
}

var defaultVarietySpec = varietySpec{
	RowSpacingM:    4.5,
	TreeSpacingM:   3.0,
	YieldPerTreeKg: 30,
	YearsToFruit:   4,
}

var rootstocks = map[string]models.Rootstock{
	"M9": {
		ID: "M9", Name: "M.9 dwarf",
		RowSpacing:  models.SpacingRange{MinM: 3.0, RecM: 3.75, MaxM: 4.5},
		TreeSpacing: models.SpacingRange{MinM: 1.0, RecM: 1.75, MaxM: 2.5},
		SeedlingCost: 18000, InfraCostPer10a: 1500000, YearsToFruit: 2,
	},
	"M26": {
		ID: "M26", Name: "M.26 semi-dwarf",
		RowSpacing:  models.SpacingRange{MinM: 3.5, RecM: 4.75, MaxM: 6.0},
		TreeSpacing: models.SpacingRange{MinM: 2.0, RecM: 3.0, MaxM: 4.0},
		SeedlingCost: 15000, InfraCostPer10a: 1200000, YearsToFruit: 3,
	},
	"MM106": {
		ID: "MM106", Name: "MM.106 semi-vigorous",
		RowSpacing:  models.SpacingRange{MinM: 4.5, RecM: 5.5, MaxM: 6.5},
		TreeSpacing: models.SpacingRange{MinM: 2.5, RecM: 3.5, MaxM: 4.5},
		SeedlingCost: 13000, InfraCostPer10a: 1000000, YearsToFruit: 4,
	},
	"seedling": {
		ID: "seedling", Name: "Seedling vigorous",
		RowSpacing:  models.SpacingRange{MinM: 6.0, RecM: 7.0, MaxM: 8.0},
		TreeSpacing: models.SpacingRange{MinM: 4.0, RecM: 5.0, MaxM: 6.0},
		SeedlingCost: 10000, InfraCostPer10a: 800000, YearsToFruit: 5,
	},
}

var machines = map[string]models.Machine{
	"ss":          {ID: "ss", Name: "Speed sprayer", MinPassWidthM: 3.0},
	"tractor-sm":  {ID: "tractor-sm", Name: "Small tractor", MinPassWidthM: 2.5},
	"tractor-mid": {ID: "tractor-mid", Name: "Mid tractor", MinPassWidthM: 3.2},
	"cultivator":  {ID: "cultivator", Name: "Cultivator", MinPassWidthM: 2.0},
}

// OrchardDesigner turns a plot into a planting plan and carries the single
// source of truth for per-area yield used by every downstream module.
type OrchardDesigner struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewOrchardDesigner creates a new orchard designer
func NewOrchardDesigner(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *OrchardDesigner {
	return &OrchardDesigner{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Rootstocks returns all known rootstock options.
func (d *OrchardDesigner) Rootstocks() []models.Rootstock {
	out := make([]models.Rootstock, 0, len(rootstocks))
	for _, id := range []string{"M9", "M26", "MM106", "seedling"} {
		out = append(out, rootstocks[id])
	}
	return out
}

// Machines returns all known field machines.
func (d *OrchardDesigner) Machines() []models.Machine {
	out := make([]models.Machine, 0, len(machines))
	for _, id := range []string{"ss", "tractor-sm", "tractor-mid", "cultivator"} {
		out = append(out, machines[id])
	}
	return out
}

// varietySpecFor returns the agronomic defaults for a variety, falling back to
// a mid-range profile for unknown names.
func (d *OrchardDesigner) varietySpecFor(varietyID string) (varietySpec, bool) {
	if spec, ok := varietySpecs[varietyID]; ok {
		return spec, true
	}
	return defaultVarietySpec, false
}

// ResolveSpacing resolves the planting distances by priority: explicit
// spacing wins, then the rootstock recommendation, then the variety default.
func (d *OrchardDesigner) ResolveSpacing(varietyID, rootstockID string, rowM, treeM *float64) (models.Spacing, string) {
	if rowM != nil && treeM != nil && *rowM > 0 && *treeM > 0 {
		return models.Spacing{RowM: *rowM, TreeM: *treeM}, SpacingSourceExplicit
	}

	if rs, ok := rootstocks[rootstockID]; ok {
		return models.Spacing{RowM: rs.RowSpacing.RecM, TreeM: rs.TreeSpacing.RecM}, SpacingSourceRootstock
	}

	spec, _ := d.varietySpecFor(varietyID)
	return models.Spacing{RowM: spec.RowSpacingM, TreeM: spec.TreeSpacingM}, SpacingSourceVariety
}

// YieldPer10a is the single source of truth for per-area yield: per-tree
// yield times planting density on 10a (1000 m², 85% plantable).
func (d *OrchardDesigner) YieldPer10a(varietyID string, rowM, treeM *float64, rootstockID string) float64 {
	spacing, _ := d.ResolveSpacing(varietyID, rootstockID, rowM, treeM)
	spec, _ := d.varietySpecFor(varietyID)

	treesPer10a := 1000.0 * plantableShare / (spacing.RowM * spacing.TreeM)
	return spec.YieldPerTreeKg * treesPer10a
}

// Design produces a planting plan for the requested plot.
func (d *OrchardDesigner) Design(ctx context.Context, req models.OrchardDesignRequest) (*models.OrchardDesign, error) {
	timer := time.Now()

	if req.AreaPyeong <= 0 {
		return nil, &models.ValidationError{
			Field:   "area_pyeong",
			Message: "area_pyeong must be positive",
		}
	}

	// Unknown rootstock names fall back to the default before anything
	// downstream (spacing, costing) looks at them, so both sides agree.
	rootstockID := req.RootstockID
	if _, ok := rootstocks[rootstockID]; !ok {
		if rootstockID != "" {
			rootstockID = defaultRootstockID
		}
	}
	costRootstockID := rootstockID
	if costRootstockID == "" {
		costRootstockID = defaultRootstockID
	}
	rs := rootstocks[costRootstockID]

	spacing, spacingSource := d.ResolveSpacing(req.VarietyID, rootstockID, req.RowSpacingM, req.TreeSpacingM)

	// Equipment passes need room between rows.
	if m, ok := machines[req.MachineID]; ok && spacing.RowM < m.MinPassWidthM {
		spacing.RowM = m.MinPassWidthM
	}

	areaM2 := req.AreaPyeong * PyeongToM2
	plantable := areaM2 * plantableShare

	// A perimeter setback shrinks the plot modeled as a square before the
	// 2:1 layout rectangle is derived from it.
	effective := plantable
	if req.SetbackM > 0 {
		side := math.Max(1.0, math.Sqrt(plantable)-2.0*req.SetbackM)
		effective = side * side
	}

	// 2:1 rectangle, long side carrying the tree rows.
	length := math.Sqrt(effective * 2.0)
	width := effective / length

	rows := int(width / spacing.RowM)
	if rows < 1 {
		rows = 1
	}
	perRow := int(length / spacing.TreeM)
	if perRow < 1 {
		perRow = 1
	}
	total := rows * perRow

	spec, _ := d.varietySpecFor(req.VarietyID)
	area10a := areaM2 / 1000.0

	yearsToFruit := spec.YearsToFruit

	design := &models.OrchardDesign{
		AreaPyeong:       req.AreaPyeong,
		AreaM2:           round2(areaM2),
		PlantableM2:      round2(plantable),
		FieldWidthM:      round2(width),
		FieldLengthM:     round2(length),
		VarietyID:        req.VarietyID,
		RootstockID:      costRootstockID,
		Spacing:          spacing,
		SpacingSource:    spacingSource,
		Rows:             rows,
		TreesPerRow:      perRow,
		TotalTrees:       total,
		TreesPer10a:      round2(float64(total) / area10a),
		YieldPerTreeKg:   spec.YieldPerTreeKg,
		YieldPer10aKg:    round2(d.YieldPer10a(req.VarietyID, req.RowSpacingM, req.TreeSpacingM, rootstockID)),
		EstimatedYieldKg: round2(float64(total) * spec.YieldPerTreeKg),
		YearsToFruit:     yearsToFruit,
		YearsToFullYield: yearsToFruit + 3,
		SeedlingCost:     int64(total) * rs.SeedlingCost,
		InfraCost:        int64(math.Round(area10a * float64(rs.InfraCostPer10a))),
	}
	design.TotalSetupCost = design.SeedlingCost + design.InfraCost

	if req.IncludeLayout {
		design.Layout = layoutGrid(rows, perRow, spacing, req.SetbackM)
	}

	d.metrics.ProcessingTimeMS.WithLabelValues("orchard_design").Observe(float64(time.Since(timer).Milliseconds()))
	d.logger.Debug(ctx, "[ORCHARD_DESIGN] Plan generated", logging.Fields{
		"variety":     req.VarietyID,
		"rootstock":   rootstockID,
		"area_pyeong": req.AreaPyeong,
		"total_trees": total,
	})

	return design, nil
}

// layoutGrid places trees on a regular grid, each tree centered in its own
// cell, shifted by the setback when one applies.
func layoutGrid(rows, perRow int, spacing models.Spacing, setback float64) []models.TreePosition {
	positions := make([]models.TreePosition, 0, rows*perRow)
	for r := 0; r < rows; r++ {
		for c := 0; c < perRow; c++ {
			positions = append(positions, models.TreePosition{
				Row: r + 1,
				Col: c + 1,
				X:   round1(setback + float64(c)*spacing.TreeM + spacing.TreeM/2),
				Y:   round1(setback + float64(r)*spacing.RowM + spacing.RowM/2),
			})
		}
	}
	return positions
}
