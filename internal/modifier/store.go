// Package modifier holds the turn-scoped store of validated assessments and
// the single apply operation through which the rest of the simulation folds
// model opinions into base numbers. Consumers never read assessment fields
// directly; absent entities resolve through each kind's neutral default.
package modifier

import (
	"math"
	"sort"

	"ecosim/internal/assess"
	"ecosim/internal/config"
	"ecosim/internal/logging"
)

// Kind is the closed set of adjustment kinds. New kinds are compile-time
// additions to the transform table, not string-matched branches.
type Kind int

const (
	KindMortality Kind = iota
	KindReproduction
	KindCapacity
	KindMigration
	KindClimateTolerance
	KindPredation
	KindSpeciation
)

var kindNames = map[Kind]string{
	KindMortality:        "mortality",
	KindReproduction:     "reproduction",
	KindCapacity:         "capacity",
	KindMigration:        "migration",
	KindClimateTolerance: "climate_tolerance",
	KindPredation:        "predation",
	KindSpeciation:       "speciation",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ConfigSource supplies the live clamp intervals and transform factors.
// Assessments are re-clamped against the *current* interval on every apply,
// so config can tighten ranges without reparsing.
type ConfigSource interface {
	Clamps() config.ClampConfig
	Modifier() config.ModifierConfig
}

// transform describes how one kind folds an assessment field into a base
// value. value extracts the governed field, fallback supplies the neutral
// default, interval selects the re-clamp range (ok=false means finite-only),
// and fold does the arithmetic.
type transform struct {
	value    func(assess.Assessment) float64
	fallback func(config.ModifierConfig) float64
	interval func(config.ClampConfig) (config.Interval, bool)
	fold     func(base, v float64, m config.ModifierConfig) float64
}

func zeroDefault(config.ModifierConfig) float64 { return 0 }

var transforms = map[Kind]transform{
	KindMortality: {
		value:    func(a assess.Assessment) float64 { return a.MortalityModifier },
		fallback: func(m config.ModifierConfig) float64 { return m.FallbackMortality },
		interval: func(c config.ClampConfig) (config.Interval, bool) { return c.Mortality, true },
		fold:     func(base, v float64, _ config.ModifierConfig) float64 { return base * v },
	},
	KindReproduction: {
		value:    func(a assess.Assessment) float64 { return a.ReproductionDelta },
		fallback: zeroDefault,
		interval: func(c config.ClampConfig) (config.Interval, bool) { return c.Reproduction, true },
		fold:     func(base, v float64, _ config.ModifierConfig) float64 { return math.Max(0, base+v) },
	},
	KindCapacity: {
		value:    func(a assess.Assessment) float64 { return a.CapacityDelta },
		fallback: zeroDefault,
		interval: func(c config.ClampConfig) (config.Interval, bool) { return c.Capacity, true },
		fold:     func(base, v float64, _ config.ModifierConfig) float64 { return math.Max(0, base*(1+v)) },
	},
	KindMigration: {
		value:    func(a assess.Assessment) float64 { return a.MigrationBias },
		fallback: zeroDefault,
		interval: func(c config.ClampConfig) (config.Interval, bool) { return c.Migration, true },
		fold: func(base, v float64, m config.ModifierConfig) float64 {
			return clamp01(base * (1 + m.MigrationBiasFactor*v))
		},
	},
	KindClimateTolerance: {
		value:    func(a assess.Assessment) float64 { return a.ClimateToleranceDelta },
		fallback: zeroDefault,
		interval: func(config.ClampConfig) (config.Interval, bool) { return config.Interval{}, false },
		fold:     func(base, v float64, _ config.ModifierConfig) float64 { return base + v },
	},
	KindPredation: {
		value:    func(a assess.Assessment) float64 { return a.PredationDelta },
		fallback: zeroDefault,
		interval: func(c config.ClampConfig) (config.Interval, bool) { return c.Predation, true },
		fold: func(base, v float64, m config.ModifierConfig) float64 {
			return clamp01(base * (1 + m.PredationDeltaFactor*v))
		},
	},
	KindSpeciation: {
		value:    func(a assess.Assessment) float64 { return a.SpeciationSignal },
		fallback: zeroDefault,
		interval: func(c config.ClampConfig) (config.Interval, bool) { return c.Speciation, true },
		fold: func(base, v float64, m config.ModifierConfig) float64 {
			return clamp01(base + m.SpeciationSignalFactor*v)
		},
	},
}

// Store maps entity ids to their turn's assessment. Rebuilt wholesale every
// turn; read-only to consumers, who reach it only through Apply and the
// narrative accessors. All operations are idempotent.
type Store struct {
	assessments map[string]assess.Assessment
	cfg         ConfigSource
}

// NewStore creates an empty store bound to the live configuration.
func NewStore(cfg ConfigSource) *Store {
	return &Store{
		assessments: make(map[string]assess.Assessment),
		cfg:         cfg,
	}
}

// Rebuild replaces the store's contents for a new turn. Later duplicates of
// the same entity id win, which lets tier-A records override tier-B ones
// when both tiers mention an entity.
func (s *Store) Rebuild(assessments []assess.Assessment) {
	s.assessments = make(map[string]assess.Assessment, len(assessments))
	for _, a := range assessments {
		s.assessments[a.EntityID] = a
	}
	logging.Store("store rebuilt with %d assessments", len(s.assessments))
}

// Clear empties the store. Used when a turn aborts: a partial store is
// never a valid end state, so we fall back to all-defaults.
func (s *Store) Clear() {
	s.assessments = make(map[string]assess.Assessment)
}

// Len returns the number of stored assessments.
func (s *Store) Len() int { return len(s.assessments) }

// Has reports whether an assessment exists for the entity.
func (s *Store) Has(id string) bool {
	_, ok := s.assessments[id]
	return ok
}

// EntityIDs returns the stored ids in sorted order.
func (s *Store) EntityIDs() []string {
	ids := make([]string, 0, len(s.assessments))
	for id := range s.assessments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply folds the entity's assessment into base for the given kind. When no
// assessment exists the kind's neutral default is applied instead, so tier-C
// entities and dropped records resolve without special-casing by callers.
func (s *Store) Apply(id string, base float64, kind Kind) float64 {
	tr, ok := transforms[kind]
	if !ok {
		return base
	}

	mcfg := s.cfg.Modifier()

	v := tr.fallback(mcfg)
	if a, found := s.assessments[id]; found {
		v = tr.value(a)
	}

	// Re-clamp against the currently configured interval, not the one that
	// was live at parse time.
	if iv, bounded := tr.interval(s.cfg.Clamps()); bounded {
		v = iv.Clamp(v)
	} else if math.IsNaN(v) || math.IsInf(v, 0) {
		v = tr.fallback(mcfg)
	}

	return tr.fold(base, v, mcfg)
}

// ShouldSpeciate reports whether the entity's speciation signal clears the
// threshold. Entities without an assessment never speciate this way.
func (s *Store) ShouldSpeciate(id string, threshold float64) bool {
	a, ok := s.assessments[id]
	if !ok {
		return false
	}
	return s.cfg.Clamps().Speciation.Clamp(a.SpeciationSignal) >= threshold
}

// Narrative returns the stored narrative text, or "" when absent.
func (s *Store) Narrative(id string) string { return s.assessments[id].Narrative }

// Headline returns the stored headline, or "" when absent.
func (s *Store) Headline(id string) string { return s.assessments[id].Headline }

// Mood returns the stored mood tag, or "" when absent.
func (s *Store) Mood(id string) string { return s.assessments[id].Mood }

// Fate returns the ecological fate tag, or the default "stable" when absent.
func (s *Store) Fate(id string) string {
	if a, ok := s.assessments[id]; ok {
		return a.Fate
	}
	return assess.Default(id).Fate
}

// Confidence returns the stored confidence, 0 when absent.
func (s *Store) Confidence(id string) float64 { return s.assessments[id].Confidence }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
