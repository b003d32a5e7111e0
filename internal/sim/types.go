// Package sim defines the read-only simulation inputs the governance
// pipeline consumes. Nothing here is written back by the pipeline; the
// deterministic turn stages own all of this state.
package sim

// EntityFacts is the per-entity snapshot handed to the scorer each turn.
// All fields are computed by earlier deterministic stages (mortality, niche,
// food web) before the governance pass runs.
type EntityFacts struct {
	ID               string
	Name             string
	Population       int64
	DeathRate        float64  // preliminary death-rate estimate for this turn, [0,1]
	TrophicLevel     float64  // 1=producer .. ~4=apex
	NicheSaturation  *float64 // nil when the niche stage did not run
	NicheOverlap     float64  // [0,1], overlap with competing entities
	IsBottleneck     bool     // from food-web analysis, when available
	FoodWebLinks     int
	GeneticDiversity float64 // [0,1]
	PopulationTrend  float64 // signed relative change over recent turns
	Biomass          float64
}

// Pressure is a named environmental pressure with a magnitude.
type Pressure struct {
	Name      string
	Magnitude float64
}

// EnvironmentSummary is the one-per-turn environment snapshot included in
// every assessment batch.
type EnvironmentSummary struct {
	Turn             int
	Temperature      float64
	TemperatureDelta float64
	SeaLevel         float64
	SeaLevelDelta    float64
	Pressures        []Pressure
	Events           []string
	TotalEntities    int
}

// TotalBiomass sums biomass over a set of entities. Used for impact scoring.
func TotalBiomass(entities []EntityFacts) float64 {
	var total float64
	for _, e := range entities {
		total += e.Biomass
	}
	return total
}
