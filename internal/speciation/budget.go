// Package speciation implements the constraint side of offspring drafting.
// Hard numeric budgets and structural constraints are pre-computed before a
// model drafts an entity, and any drafted field that violates them is
// deterministically repaired afterwards. The engine never calls the
// generation capability itself: propose and repair stay decoupled, and
// repair always returns a usable record.
package speciation

import (
	"fmt"
	"strings"

	"ecosim/internal/config"
	"ecosim/internal/sim"
)

// PredationLink is one drafted or inherited predator-prey edge.
type PredationLink struct {
	PreyID     string  `json:"prey_id"`
	Preference float64 `json:"preference"`
}

// StructureChange is a drafted change to one body subsystem. Stages are
// ordinal: 0=absent .. ceiling=fully specialized.
type StructureChange struct {
	Name         string `json:"name"`
	CurrentStage int    `json:"current_stage"`
	TargetStage  int    `json:"target_stage"`
}

// Parent is the recorded state of the entity speciating. It is the sole
// authority on prior state; drafted "current" values are never trusted.
type Parent struct {
	ID             string
	Habitat        string
	TrophicLevel   float64
	Traits         map[string]float64
	Structures     map[string]int // name -> recorded stage
	PredationLinks []PredationLink
}

// Draft is a model-drafted offspring record, pre-repair.
type Draft struct {
	Name           string             `json:"name"`
	TraitChanges   map[string]float64 `json:"trait_changes"`
	Structures     []StructureChange  `json:"structures"`
	Habitat        string             `json:"habitat"`
	TrophicLevel   float64            `json:"trophic_level"`
	SizeRatio      float64            `json:"size_ratio"`
	PredationLinks []PredationLink    `json:"predation_links"`
}

// Budget holds the hard numeric ceilings for one offspring-generation
// event. Fresh per event, never shared.
type Budget struct {
	MaxTotalIncrease      float64
	RequiredDecreaseRatio float64 // totalDecrease must be >= totalIncrease/ratio
	PerTraitCap           float64
	DefaultDecreaseTrait  string

	MaxStructures   int
	StageCeiling    int
	MaxStageAdvance int

	ValidHabitats map[string]bool // includes the parent's own habitat
	TrophicMin    float64
	TrophicMax    float64

	SizeRatio     config.Interval
	TrophicGapMin float64
	TrophicGapMax float64
}

// ComputeBudget derives the event's budget from the parent's state and the
// dominant pressure magnitude. Stronger pressure buys a larger trait budget.
func ComputeBudget(parent Parent, pressure float64, cfg config.SpeciationConfig) Budget {
	if pressure < 0 {
		pressure = 0
	}

	valid := map[string]bool{normalizeHabitat(parent.Habitat): true}
	for _, h := range cfg.HabitatTransitions[normalizeHabitat(parent.Habitat)] {
		valid[normalizeHabitat(h)] = true
	}

	return Budget{
		MaxTotalIncrease:      cfg.TraitIncreaseBase * (1 + cfg.PressureScale*pressure),
		RequiredDecreaseRatio: cfg.DecreaseRatio,
		PerTraitCap:           cfg.PerTraitCap,
		DefaultDecreaseTrait:  cfg.DefaultDecreaseTrait,
		MaxStructures:         cfg.MaxStructures,
		StageCeiling:          cfg.StageCeiling,
		MaxStageAdvance:       cfg.MaxStageAdvance,
		ValidHabitats:         valid,
		TrophicMin:            parent.TrophicLevel - cfg.TrophicHalfWidth,
		TrophicMax:            parent.TrophicLevel + cfg.TrophicHalfWidth,
		SizeRatio:             cfg.SizeRatio,
		TrophicGapMin:         cfg.TrophicGapMin,
		TrophicGapMax:         cfg.TrophicGapMax,
	}
}

// DirectionHint is advisory steering for whoever drafts the offspring: a
// trait worth pushing and why. Hints are never enforced.
type DirectionHint struct {
	Trait     string
	Direction float64 // +1 push up, -1 push down
	Reason    string
}

// DirectionHints derives advisory hints from the environment snapshot.
func DirectionHints(parent Parent, env sim.EnvironmentSummary) []DirectionHint {
	var hints []DirectionHint
	if env.TemperatureDelta > 0.5 {
		hints = append(hints, DirectionHint{
			Trait: "heat_tolerance", Direction: 1,
			Reason: fmt.Sprintf("temperature rising by %.2f", env.TemperatureDelta),
		})
	} else if env.TemperatureDelta < -0.5 {
		hints = append(hints, DirectionHint{
			Trait: "cold_tolerance", Direction: 1,
			Reason: fmt.Sprintf("temperature falling by %.2f", env.TemperatureDelta),
		})
	}
	if env.SeaLevelDelta > 0.5 {
		hints = append(hints, DirectionHint{
			Trait: "aquatic_adaptation", Direction: 1,
			Reason: "sea level rising",
		})
	}
	for _, p := range env.Pressures {
		if p.Magnitude < 0.5 {
			continue
		}
		hints = append(hints, DirectionHint{
			Trait: strings.ReplaceAll(strings.ToLower(p.Name), " ", "_") + "_resistance", Direction: 1,
			Reason: fmt.Sprintf("pressure %q at %.2f", p.Name, p.Magnitude),
		})
	}
	return hints
}

func normalizeHabitat(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
