package models

// Orchard suitability grades, best to worst.
const (
	GradeS = "S"
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
)

// GradeFactor is one scored component of a regional suitability grade.
type GradeFactor struct {
	Name        string  `json:"name"`
	RawValue    float64 `json:"raw_value"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// RegionGrade is the graded suitability of one region for apple growing.
type RegionGrade struct {
	RegionID   string        `json:"region_id"`
	RegionName string        `json:"region_name"`
	Grade      string        `json:"grade"`
	TotalScore float64       `json:"total_score"`
	Factors    []GradeFactor `json:"factors"`
}
