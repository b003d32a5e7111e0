// Package scoring implements the priority scorer: a pure function from
// per-entity facts to risk/impact/potential components and a weighted
// priority, all in [0,1]. Results are cached per turn keyed on
// (entity, death rate), matching the only inputs that change mid-turn.
package scoring

import (
	"sort"

	"ecosim/internal/config"
	"ecosim/internal/logging"
	"ecosim/internal/sim"
)

// ReviewTier is the review-depth bucket assigned after ranking.
type ReviewTier string

const (
	TierA ReviewTier = "A" // full review
	TierB ReviewTier = "B" // condensed review
	TierC ReviewTier = "C" // default-only
)

// PriorityRecord is the per-turn scoring result for one living entity.
// Recomputed every turn, never persisted.
type PriorityRecord struct {
	EntityID  string
	Risk      float64
	Impact    float64
	Potential float64
	Priority  float64
	Tier      ReviewTier
}

type cacheKey struct {
	entityID  string
	deathRate float64
}

// Scorer computes priority records. Safe for reuse across turns provided
// ResetTurn is called when a new turn begins.
type Scorer struct {
	cfg   config.ScoringConfig
	cache map[cacheKey]PriorityRecord

	totalBiomass float64
}

// NewScorer creates a scorer with the given configuration.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{
		cfg:   cfg,
		cache: make(map[cacheKey]PriorityRecord),
	}
}

// ResetTurn clears the per-turn cache and records this turn's total biomass.
func (s *Scorer) ResetTurn(entities []sim.EntityFacts) {
	s.cache = make(map[cacheKey]PriorityRecord, len(entities))
	s.totalBiomass = sim.TotalBiomass(entities)
}

// Score computes (or returns the cached) priority record for one entity.
func (s *Scorer) Score(e sim.EntityFacts) PriorityRecord {
	key := cacheKey{entityID: e.ID, deathRate: e.DeathRate}
	if rec, ok := s.cache[key]; ok {
		return rec
	}

	risk := s.risk(e)
	impact := s.impact(e)
	potential := s.potential(e)

	weightSum := s.cfg.RiskWeight + s.cfg.ImpactWeight + s.cfg.PotentialWeight
	priority := (s.cfg.RiskWeight*risk + s.cfg.ImpactWeight*impact + s.cfg.PotentialWeight*potential) / weightSum

	rec := PriorityRecord{
		EntityID:  e.ID,
		Risk:      clamp01(risk),
		Impact:    clamp01(impact),
		Potential: clamp01(potential),
		Priority:  clamp01(priority),
	}
	s.cache[key] = rec
	return rec
}

// ScoreAll scores every entity and returns records sorted by priority
// descending, stable on entity id for ties.
func (s *Scorer) ScoreAll(entities []sim.EntityFacts) []PriorityRecord {
	records := make([]PriorityRecord, 0, len(entities))
	for _, e := range entities {
		records = append(records, s.Score(e))
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority > records[j].Priority
		}
		return records[i].EntityID < records[j].EntityID
	})
	logging.Scoring("scored %d entities (total biomass %.1f)", len(records), s.totalBiomass)
	return records
}

// risk = 0.5*deathRiskCurve + 0.3*populationRiskCurve + 0.2*nicheSaturation.
func (s *Scorer) risk(e sim.EntityFacts) float64 {
	death := evalCurve(s.cfg.DeathRiskCurve, e.DeathRate)
	pop := evalCurve(s.cfg.PopulationRiskCurve, float64(e.Population))
	niche := s.cfg.DefaultNicheSaturation
	if e.NicheSaturation != nil {
		niche = clamp01(*e.NicheSaturation)
	}
	return 0.5*death + 0.3*pop + 0.2*niche
}

// impact = 0.4*biomassShareCurve + 0.3*trophicWeight + 0.3*centrality.
func (s *Scorer) impact(e sim.EntityFacts) float64 {
	var share float64
	if s.totalBiomass > 0 {
		share = e.Biomass / s.totalBiomass
	}
	biomass := evalCurve(s.cfg.BiomassShareCurve, share)
	trophic := evalCurve(s.cfg.TrophicWeightCurve, e.TrophicLevel)
	centrality := s.cfg.CentralityBaseline
	if e.IsBottleneck {
		centrality = s.cfg.CentralityBonus
	}
	return 0.4*biomass + 0.3*trophic + 0.3*centrality
}

// potential = 0.4*geneticDiversity + 0.3*(1-nicheOverlap) + 0.3*sweetSpot.
func (s *Scorer) potential(e sim.EntityFacts) float64 {
	diversity := clamp01(e.GeneticDiversity)
	room := 1 - clamp01(e.NicheOverlap)
	sweet := evalCurve(s.cfg.SweetSpotCurve, float64(e.Population))
	return 0.4*diversity + 0.3*room + 0.3*sweet
}
