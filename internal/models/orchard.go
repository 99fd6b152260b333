package models

// Spacing is a planting distance pair in meters.
type Spacing struct {
	RowM  float64 `json:"row_m"`
	TreeM float64 `json:"tree_m"`
}

// SpacingRange bounds the workable spacing for a rootstock, with the
// recommended midpoint actually used by the designer.
type SpacingRange struct {
	MinM float64 `json:"min_m"`
	RecM float64 `json:"rec_m"`
	MaxM float64 `json:"max_m"`
}

// Rootstock describes a rootstock option: vigor class, workable spacing and
// the per-tree and per-area establishment costs in KRW.
type Rootstock struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	RowSpacing      SpacingRange `json:"row_spacing"`
	TreeSpacing     SpacingRange `json:"tree_spacing"`
	SeedlingCost    int64        `json:"seedling_cost"`
	InfraCostPer10a int64        `json:"infra_cost_per_10a"`
	YearsToFruit    int          `json:"years_to_fruit"`
}

// Machine describes field equipment whose pass width constrains row spacing.
type Machine struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	MinPassWidthM float64 `json:"min_pass_width_m"`
}

// TreePosition is one planted tree in the generated layout grid.
type TreePosition struct {
	Row int     `json:"row"`
	Col int     `json:"col"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// OrchardDesignRequest asks the designer for a planting layout.
type OrchardDesignRequest struct {
	AreaPyeong    float64  `json:"area_pyeong"`
	VarietyID     string   `json:"variety_id"`
	RootstockID   string   `json:"rootstock_id,omitempty"`
	RowSpacingM   *float64 `json:"row_spacing_m,omitempty"`
	TreeSpacingM  *float64 `json:"tree_spacing_m,omitempty"`
	MachineID     string   `json:"machine_id,omitempty"`
	SetbackM      float64  `json:"setback_m,omitempty"`
	IncludeLayout bool     `json:"include_layout,omitempty"`
}

// OrchardDesign is the designer's answer: field geometry, tree counts,
// establishment costs and the yield figures every other module keys off.
type OrchardDesign struct {
	AreaPyeong       float64        `json:"area_pyeong"`
	AreaM2           float64        `json:"area_m2"`
	PlantableM2      float64        `json:"plantable_m2"`
	FieldWidthM      float64        `json:"field_width_m"`
	FieldLengthM     float64        `json:"field_length_m"`
	VarietyID        string         `json:"variety_id"`
	RootstockID      string         `json:"rootstock_id"`
	Spacing          Spacing        `json:"spacing"`
	SpacingSource    string         `json:"spacing_source"`
	Rows             int            `json:"rows"`
	TreesPerRow      int            `json:"trees_per_row"`
	TotalTrees       int            `json:"total_trees"`
	TreesPer10a      float64        `json:"trees_per_10a"`
	YieldPerTreeKg   float64        `json:"yield_per_tree_kg"`
	YieldPer10aKg    float64        `json:"yield_per_10a_kg"`
	EstimatedYieldKg float64        `json:"estimated_yield_kg"`
	YearsToFruit     int            `json:"years_to_fruit"`
	YearsToFullYield int            `json:"years_to_full_yield"`
	SeedlingCost     int64          `json:"seedling_cost"`
	InfraCost        int64          `json:"infra_cost"`
	TotalSetupCost   int64          `json:"total_setup_cost"`
	Layout           []TreePosition `json:"layout,omitempty"`
}
