// Package config holds all ecosim configuration: tier sizes, scoring curves,
// clamp intervals, capability settings, health thresholds and speciation
// budgets. Every knob has a default; config files only override.
//
// Validation here is the one fatal error class in the governance core. A bad
// clamp interval or timeout is caught at startup, before any turn runs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval is a closed numeric range used for clamping assessment fields.
type Interval struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Valid reports whether the interval is well-formed.
func (iv Interval) Valid() bool { return iv.Min <= iv.Max }

// Clamp forces v into the interval.
func (iv Interval) Clamp(v float64) float64 {
	if v < iv.Min {
		return iv.Min
	}
	if v > iv.Max {
		return iv.Max
	}
	return v
}

// CurvePoint is one breakpoint of a piecewise-linear scoring curve.
type CurvePoint struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Config holds all ecosim governance configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Tiers        TierConfig         `yaml:"tiers"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Clamps       ClampConfig        `yaml:"clamps"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Capability   CapabilityConfig   `yaml:"capability"`
	Health       HealthConfig       `yaml:"health"`
	Modifier     ModifierConfig     `yaml:"modifier"`
	Speciation   SpeciationConfig   `yaml:"speciation"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// TierConfig controls how ranked entities are cut into review tiers.
type TierConfig struct {
	TopA              int     `yaml:"top_a"`              // entities receiving full review
	TopB              int     `yaml:"top_b"`              // window after A, condensed review
	PriorityThreshold float64 `yaml:"priority_threshold"` // floor for tier B membership
}

// ScoringConfig holds the priority scorer's weights and curve breakpoints.
// All curves are piecewise-linear; breakpoints must be sorted by X.
type ScoringConfig struct {
	RiskWeight      float64 `yaml:"risk_weight"`
	ImpactWeight    float64 `yaml:"impact_weight"`
	PotentialWeight float64 `yaml:"potential_weight"`

	DeathRiskCurve      []CurvePoint `yaml:"death_risk_curve"`
	PopulationRiskCurve []CurvePoint `yaml:"population_risk_curve"`
	BiomassShareCurve   []CurvePoint `yaml:"biomass_share_curve"`
	TrophicWeightCurve  []CurvePoint `yaml:"trophic_weight_curve"`
	SweetSpotCurve      []CurvePoint `yaml:"sweet_spot_curve"`

	CentralityBonus        float64 `yaml:"centrality_bonus"`         // impact term when entity is a food-web bottleneck
	CentralityBaseline     float64 `yaml:"centrality_baseline"`      // impact term otherwise
	DefaultNicheSaturation float64 `yaml:"default_niche_saturation"` // used when the niche stage did not run
}

// ClampConfig declares the interval for each governed assessment field.
// Climate tolerance is intentionally absent: it is unbounded but must be finite.
type ClampConfig struct {
	Mortality    Interval `yaml:"mortality"`
	Reproduction Interval `yaml:"reproduction"`
	Capacity     Interval `yaml:"capacity"`
	Migration    Interval `yaml:"migration"`
	Predation    Interval `yaml:"predation"`
	Speciation   Interval `yaml:"speciation"`
	Confidence   Interval `yaml:"confidence"`
}

// OrchestratorConfig controls the two-tier concurrent dispatch.
type OrchestratorConfig struct {
	Enabled      bool   `yaml:"enabled"`        // global kill-switch; false means no capability call at all
	TierATimeout string `yaml:"tier_a_timeout"` // e.g. "45s"
	TierBTimeout string `yaml:"tier_b_timeout"`
}

// CapabilityConfig configures the generation capability clients.
type CapabilityConfig struct {
	Provider string `yaml:"provider"` // gemini, openai, anthropic, stub
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`

	// Per-tier quality profiles. Tier A gets the stronger model.
	TierAModel string `yaml:"tier_a_model"`
	TierBModel string `yaml:"tier_b_model"`
}

// HealthConfig holds the health monitor thresholds.
type HealthConfig struct {
	FailureRatioThreshold   float64 `yaml:"failure_ratio_threshold"`   // DEGRADED above this, once enough calls observed
	ConsecutiveFailureLimit int     `yaml:"consecutive_failure_limit"` // UNHEALTHY at or above
	FallbackConsecutive     int     `yaml:"fallback_consecutive"`      // shouldFallback at or above
	RollingWindow           int     `yaml:"rolling_window"`            // calls in the failure-ratio window
	MinCallsForRatio        int     `yaml:"min_calls_for_ratio"`       // ratio rule inert until this many calls
	TurnHistory             int     `yaml:"turn_history"`              // turns considered for the status history rules
	TimingWarning           string  `yaml:"timing_warning"`            // log a warning for calls slower than this
}

// ModifierConfig holds the applicator's transform factors and defaults.
type ModifierConfig struct {
	FallbackMortality      float64 `yaml:"fallback_mortality"`       // neutral mortality multiplier for unreviewed entities
	MigrationBiasFactor    float64 `yaml:"migration_bias_factor"`    // probability *= 1 + factor*bias
	PredationDeltaFactor   float64 `yaml:"predation_delta_factor"`   // vulnerability *= 1 + factor*delta
	SpeciationSignalFactor float64 `yaml:"speciation_signal_factor"` // probability += factor*signal
	RetainNarrative        bool    `yaml:"retain_narrative"`         // keep narrative/headline/mood strings
}

// SpeciationConfig holds the constraint repair engine's budgets. The ratio
// and cap constants have no derivation beyond tuning; they are config, not law.
type SpeciationConfig struct {
	TraitIncreaseBase    float64 `yaml:"trait_increase_base"`    // max total increase before pressure scaling
	PressureScale        float64 `yaml:"pressure_scale"`         // budget *= 1 + scale*pressure
	PerTraitCap          float64 `yaml:"per_trait_cap"`          // absolute cap on a single trait delta
	DecreaseRatio        float64 `yaml:"decrease_ratio"`         // required: totalDecrease >= totalIncrease/ratio
	DefaultDecreaseTrait string  `yaml:"default_decrease_trait"` // trait debited when the model offers no trade-off
	MaxStructures        int     `yaml:"max_structures"`         // simultaneous structure changes per event
	StageCeiling         int     `yaml:"stage_ceiling"`          // structure stages run 0..ceiling
	MaxStageAdvance      int     `yaml:"max_stage_advance"`      // stages an existing structure may gain per event
	SizeRatio            Interval `yaml:"size_ratio"`            // offspring/parent morphology ratio bounds
	TrophicHalfWidth     float64 `yaml:"trophic_half_width"`     // offspring trophic window is parent +/- this
	TrophicGapMin        float64 `yaml:"trophic_gap_min"`        // predation edge: min predator-prey gap
	TrophicGapMax        float64 `yaml:"trophic_gap_max"`

	// HabitatTransitions maps a habitat to the habitats reachable in one
	// speciation event. A habitat always implicitly allows itself.
	HabitatTransitions map[string][]string `yaml:"habitat_transitions"`
}

// TelemetryConfig configures turn-metrics persistence.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the category debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ecosim",
		Version: "0.3.0",

		Tiers: TierConfig{
			TopA:              2,
			TopB:              3,
			PriorityThreshold: 0.3,
		},

		Scoring: ScoringConfig{
			RiskWeight:      0.4,
			ImpactWeight:    0.3,
			PotentialWeight: 0.3,
			DeathRiskCurve: []CurvePoint{
				{X: 0, Y: 0}, {X: 0.2, Y: 0.3}, {X: 0.5, Y: 0.8}, {X: 1, Y: 1},
			},
			PopulationRiskCurve: []CurvePoint{
				{X: 0, Y: 1}, {X: 100, Y: 0.9}, {X: 1000, Y: 0.6},
				{X: 10000, Y: 0.3}, {X: 100000, Y: 0.1}, {X: 1000000, Y: 0},
			},
			BiomassShareCurve: []CurvePoint{
				{X: 0, Y: 0}, {X: 0.05, Y: 0.3}, {X: 0.2, Y: 0.7}, {X: 0.5, Y: 1}, {X: 1, Y: 1},
			},
			TrophicWeightCurve: []CurvePoint{
				{X: 1, Y: 0.3}, {X: 2, Y: 0.6}, {X: 3, Y: 0.9}, {X: 4, Y: 1},
			},
			SweetSpotCurve: []CurvePoint{
				{X: 0, Y: 0}, {X: 500, Y: 0.5}, {X: 5000, Y: 1},
				{X: 50000, Y: 0.5}, {X: 1000000, Y: 0.1},
			},
			CentralityBonus:        1.0,
			CentralityBaseline:     0.2,
			DefaultNicheSaturation: 0.5,
		},

		Clamps: ClampConfig{
			Mortality:    Interval{Min: 0.3, Max: 1.8},
			Reproduction: Interval{Min: -0.3, Max: 0.3},
			Capacity:     Interval{Min: -0.5, Max: 0.5},
			Migration:    Interval{Min: -1, Max: 1},
			Predation:    Interval{Min: -1, Max: 1},
			Speciation:   Interval{Min: 0, Max: 1},
			Confidence:   Interval{Min: 0, Max: 1},
		},

		Orchestrator: OrchestratorConfig{
			Enabled:      true,
			TierATimeout: "45s",
			TierBTimeout: "30s",
		},

		Capability: CapabilityConfig{
			Provider:   "stub",
			Timeout:    "60s",
			TierAModel: "gemini-2.5-pro",
			TierBModel: "gemini-2.5-flash",
		},

		Health: HealthConfig{
			FailureRatioThreshold:   0.5,
			ConsecutiveFailureLimit: 3,
			FallbackConsecutive:     2,
			RollingWindow:           10,
			MinCallsForRatio:        10,
			TurnHistory:             10,
			TimingWarning:           "10s",
		},

		Modifier: ModifierConfig{
			FallbackMortality:      1.0,
			MigrationBiasFactor:    0.5,
			PredationDeltaFactor:   0.3,
			SpeciationSignalFactor: 0.1,
			RetainNarrative:        true,
		},

		Speciation: SpeciationConfig{
			TraitIncreaseBase:    3.0,
			PressureScale:        0.5,
			PerTraitCap:          2.0,
			DecreaseRatio:        2.0,
			DefaultDecreaseTrait: "metabolic_efficiency",
			MaxStructures:        3,
			StageCeiling:         4,
			MaxStageAdvance:      2,
			SizeRatio:            Interval{Min: 0.8, Max: 1.3},
			TrophicHalfWidth:     0.5,
			TrophicGapMin:        0.3,
			TrophicGapMax:        3.0,
			HabitatTransitions: map[string][]string{
				"ocean":     {"coastal", "deep_sea"},
				"coastal":   {"ocean", "wetland"},
				"wetland":   {"coastal", "grassland", "forest"},
				"grassland": {"wetland", "forest", "desert"},
				"forest":    {"wetland", "grassland", "mountain"},
				"mountain":  {"forest", "tundra"},
				"tundra":    {"mountain"},
				"desert":    {"grassland"},
				"deep_sea":  {"ocean"},
			},
		},

		Telemetry: TelemetryConfig{
			Enabled:      true,
			DatabasePath: "data/ecosim.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a YAML config file layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseTimeout converts a duration string to a time.Duration, falling back
// to def when the string is empty or malformed.
func ParseTimeout(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate checks the fatal invariant class. It must be called before the
// first turn; no runtime path is allowed to fail on configuration.
func (c *Config) Validate() error {
	if c.Tiers.TopA < 0 || c.Tiers.TopB < 0 {
		return fmt.Errorf("tier sizes must be non-negative: top_a=%d top_b=%d", c.Tiers.TopA, c.Tiers.TopB)
	}
	if c.Tiers.PriorityThreshold < 0 || c.Tiers.PriorityThreshold > 1 {
		return fmt.Errorf("priority_threshold must be in [0,1]: %v", c.Tiers.PriorityThreshold)
	}

	if c.Scoring.RiskWeight < 0 || c.Scoring.ImpactWeight < 0 || c.Scoring.PotentialWeight < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if c.Scoring.RiskWeight+c.Scoring.ImpactWeight+c.Scoring.PotentialWeight == 0 {
		return fmt.Errorf("scoring weights must not all be zero")
	}
	curves := map[string][]CurvePoint{
		"death_risk_curve":      c.Scoring.DeathRiskCurve,
		"population_risk_curve": c.Scoring.PopulationRiskCurve,
		"biomass_share_curve":   c.Scoring.BiomassShareCurve,
		"trophic_weight_curve":  c.Scoring.TrophicWeightCurve,
		"sweet_spot_curve":      c.Scoring.SweetSpotCurve,
	}
	for name, pts := range curves {
		if len(pts) < 2 {
			return fmt.Errorf("%s needs at least 2 breakpoints", name)
		}
		for i := 1; i < len(pts); i++ {
			if pts[i].X <= pts[i-1].X {
				return fmt.Errorf("%s breakpoints must be strictly increasing in x", name)
			}
		}
	}

	intervals := map[string]Interval{
		"mortality":    c.Clamps.Mortality,
		"reproduction": c.Clamps.Reproduction,
		"capacity":     c.Clamps.Capacity,
		"migration":    c.Clamps.Migration,
		"predation":    c.Clamps.Predation,
		"speciation":   c.Clamps.Speciation,
		"confidence":   c.Clamps.Confidence,
		"size_ratio":   c.Speciation.SizeRatio,
	}
	for name, iv := range intervals {
		if !iv.Valid() {
			return fmt.Errorf("clamp interval %s has min > max: [%v, %v]", name, iv.Min, iv.Max)
		}
	}

	for _, field := range []struct {
		name string
		val  string
	}{
		{"orchestrator.tier_a_timeout", c.Orchestrator.TierATimeout},
		{"orchestrator.tier_b_timeout", c.Orchestrator.TierBTimeout},
		{"capability.timeout", c.Capability.Timeout},
		{"health.timing_warning", c.Health.TimingWarning},
	} {
		if field.val == "" {
			continue
		}
		d, err := time.ParseDuration(field.val)
		if err != nil {
			return fmt.Errorf("%s is not a duration: %q", field.name, field.val)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive: %q", field.name, field.val)
		}
	}

	if c.Health.FailureRatioThreshold < 0 || c.Health.FailureRatioThreshold > 1 {
		return fmt.Errorf("failure_ratio_threshold must be in [0,1]: %v", c.Health.FailureRatioThreshold)
	}
	if c.Health.ConsecutiveFailureLimit < 1 || c.Health.FallbackConsecutive < 1 {
		return fmt.Errorf("health consecutive-failure thresholds must be >= 1")
	}
	if c.Health.RollingWindow < 1 || c.Health.TurnHistory < 1 {
		return fmt.Errorf("health windows must be >= 1")
	}

	if c.Speciation.DecreaseRatio <= 0 {
		return fmt.Errorf("speciation decrease_ratio must be positive: %v", c.Speciation.DecreaseRatio)
	}
	if c.Speciation.PerTraitCap <= 0 || c.Speciation.TraitIncreaseBase <= 0 {
		return fmt.Errorf("speciation trait budgets must be positive")
	}
	if c.Speciation.StageCeiling < 1 || c.Speciation.MaxStageAdvance < 0 {
		return fmt.Errorf("speciation stage limits invalid: ceiling=%d advance=%d",
			c.Speciation.StageCeiling, c.Speciation.MaxStageAdvance)
	}
	if c.Speciation.TrophicGapMin > c.Speciation.TrophicGapMax {
		return fmt.Errorf("speciation trophic gap window has min > max")
	}
	if c.Speciation.TrophicHalfWidth <= 0 {
		return fmt.Errorf("speciation trophic_half_width must be positive")
	}

	return nil
}
