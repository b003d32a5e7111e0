// Package assess defines the assessment schema that crosses the boundary
// between the generation capability and the simulation, plus the prompt
// rendering and reply validation around it. Model output is untrusted
// advice; everything in this package exists to keep it inside declared
// bounds before anyone else sees it.
package assess

import (
	"ecosim/internal/scoring"
	"ecosim/internal/sim"
)

// Assessment is the validated, clamped record of the capability's opinion
// about one entity. After validation every numeric field lies inside its
// configured interval, no exceptions.
type Assessment struct {
	EntityID string `json:"id"`

	// Governed numeric fields. Declared intervals live in config.ClampConfig.
	MortalityModifier     float64 `json:"mortality_modifier"`      // [0.3, 1.8], neutral 1.0
	ReproductionDelta     float64 `json:"reproduction_delta"`      // [-0.3, 0.3]
	CapacityDelta         float64 `json:"capacity_delta"`          // [-0.5, 0.5]
	MigrationBias         float64 `json:"migration_bias"`          // [-1, 1]
	ClimateToleranceDelta float64 `json:"climate_tolerance_delta"` // finite, unbounded
	PredationDelta        float64 `json:"predation_delta"`         // [-1, 1]
	SpeciationSignal      float64 `json:"speciation_signal"`       // [0, 1]

	// Open-vocabulary commentary.
	Fate      string   `json:"fate"`
	Tags      []string `json:"tags,omitempty"`
	Narrative string   `json:"narrative,omitempty"`
	Headline  string   `json:"headline,omitempty"`
	Mood      string   `json:"mood,omitempty"`

	Confidence float64 `json:"confidence"` // [0, 1]

	// SourceTier records which review tier produced this assessment.
	SourceTier string `json:"-"`
}

// Default returns the neutral assessment used for any entity the capability
// did not (or could not) review. Defaults are a fixed point of validation:
// re-validating a default record changes nothing.
func Default(id string) Assessment {
	return Assessment{
		EntityID:          id,
		MortalityModifier: 1.0,
		Fate:              "stable",
	}
}

// Input is the trimmed, capability-facing projection of one entity's facts.
// Immutable once built; the prompt renderer only reads it.
type Input struct {
	EntityID         string
	Name             string
	Population       int64
	DeathRate        float64
	TrophicLevel     float64
	PopulationTrend  float64
	NicheSaturation  float64
	GeneticDiversity float64
	Priority         float64

	// Hints are advisory narrative lines derived from simple threshold
	// rules. They steer the model's attention and are never enforced.
	Hints []string
}

// Batch is one tier's ordered review request: the inputs plus the shared
// environment snapshot. Built once per turn per tier, then read-only.
type Batch struct {
	Tier   scoring.ReviewTier
	Inputs []Input
	Env    *sim.EnvironmentSummary
}

// Empty reports whether the batch has nothing to review.
func (b Batch) Empty() bool { return len(b.Inputs) == 0 }

// BuildBatch projects the partitioned records for one tier into a batch.
// facts must contain every scored entity.
func BuildBatch(t scoring.ReviewTier, records []scoring.PriorityRecord, facts map[string]sim.EntityFacts, env *sim.EnvironmentSummary) Batch {
	inputs := make([]Input, 0, len(records))
	for _, rec := range records {
		f, ok := facts[rec.EntityID]
		if !ok {
			continue
		}
		in := Input{
			EntityID:         f.ID,
			Name:             f.Name,
			Population:       f.Population,
			DeathRate:        f.DeathRate,
			TrophicLevel:     f.TrophicLevel,
			PopulationTrend:  f.PopulationTrend,
			GeneticDiversity: f.GeneticDiversity,
			Priority:         rec.Priority,
		}
		if f.NicheSaturation != nil {
			in.NicheSaturation = *f.NicheSaturation
		}
		in.Hints = adviceHints(f)
		inputs = append(inputs, in)
	}
	return Batch{Tier: t, Inputs: inputs, Env: env}
}

// adviceHints derives the advisory "suggested signal" lines for tier-A
// prompts. Pure threshold rules; the model may ignore every one of them.
func adviceHints(f sim.EntityFacts) []string {
	var hints []string
	if f.DeathRate > 0.5 {
		hints = append(hints, "mortality is critically high; consider relief via mortality_modifier < 1")
	} else if f.DeathRate > 0.3 {
		hints = append(hints, "mortality is elevated")
	}
	if f.PopulationTrend < -0.2 {
		hints = append(hints, "population is in sharp decline")
	} else if f.PopulationTrend > 0.3 {
		hints = append(hints, "population is booming; capacity pressure likely")
	}
	if f.NicheSaturation != nil && *f.NicheSaturation > 0.8 {
		hints = append(hints, "niche is nearly saturated; migration or speciation may help")
	}
	if f.GeneticDiversity > 0.7 && f.Population > 1000 {
		hints = append(hints, "high genetic diversity; speciation potential")
	}
	if f.IsBottleneck {
		hints = append(hints, "food-web bottleneck; changes ripple widely")
	}
	return hints
}
