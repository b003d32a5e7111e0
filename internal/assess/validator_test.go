package assess

import (
	"testing"

	"ecosim/internal/config"
	"ecosim/internal/scoring"
)

func testOptions() Options {
	return Options{
		Clamps:          config.DefaultConfig().Clamps,
		RetainNarrative: true,
	}
}

func TestParseReply_ValidArray(t *testing.T) {
	raw := `[
		{"id": "cod.north", "mortality_modifier": 1.2, "reproduction_delta": -0.1,
		 "fate": "declining", "confidence": 0.8, "tags": ["overfished", "cold-water"]},
		{"id": "orca.pod", "mortality_modifier": 0.9, "speciation_signal": 0.4}
	]`

	out := ParseReply(raw, scoring.TierA, testOptions())
	if out.Unparseable {
		t.Fatal("reply should parse")
	}
	if len(out.Valid) != 2 || len(out.Skipped) != 0 {
		t.Fatalf("expected 2 valid, 0 skipped; got %d/%d", len(out.Valid), len(out.Skipped))
	}

	a := out.Valid[0]
	if a.EntityID != "cod.north" || a.MortalityModifier != 1.2 || a.Fate != "declining" {
		t.Errorf("first record mangled: %+v", a)
	}
	if len(a.Tags) != 2 {
		t.Errorf("tags lost: %v", a.Tags)
	}
	if a.SourceTier != "A" {
		t.Errorf("source tier not recorded: %q", a.SourceTier)
	}
}

func TestParseReply_CodeFences(t *testing.T) {
	raw := "```json\n[{\"id\": \"krill.swarm\", \"mortality_modifier\": 1.1}]\n```"

	out := ParseReply(raw, scoring.TierB, testOptions())
	if out.Unparseable || len(out.Valid) != 1 {
		t.Fatalf("fenced reply should parse: %+v", out)
	}
	if out.Valid[0].MortalityModifier != 1.1 {
		t.Errorf("wrong mortality: %v", out.Valid[0].MortalityModifier)
	}
}

func TestParseReply_BareObjectWrapped(t *testing.T) {
	out := ParseReply(`{"id": "seal.grey", "capacity_delta": 0.2}`, scoring.TierB, testOptions())
	if out.Unparseable || len(out.Valid) != 1 {
		t.Fatalf("bare object should yield one record: %+v", out)
	}
}

func TestParseReply_JSONEmbeddedInProse(t *testing.T) {
	raw := `Here is my assessment of the ecosystem:
[{"id": "algae.green", "reproduction_delta": 0.1}]
Let me know if you need more detail.`

	out := ParseReply(raw, scoring.TierB, testOptions())
	if out.Unparseable || len(out.Valid) != 1 {
		t.Fatalf("embedded array should be recovered: %+v", out)
	}
}

func TestParseReply_MissingIDSkipped(t *testing.T) {
	raw := `[
		{"mortality_modifier": 1.5},
		{"id": "cod.north", "mortality_modifier": 1.5},
		{"id": "", "mortality_modifier": 1.5}
	]`

	out := ParseReply(raw, scoring.TierA, testOptions())
	if len(out.Valid) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(out.Valid))
	}
	if len(out.Skipped) != 2 {
		t.Fatalf("expected 2 skipped records, got %d", len(out.Skipped))
	}
}

func TestParseReply_OutOfRangeClamped(t *testing.T) {
	raw := `[{"id": "cod.north",
		"mortality_modifier": 99,
		"reproduction_delta": -5,
		"capacity_delta": 3,
		"speciation_signal": -0.5,
		"confidence": 7}]`

	out := ParseReply(raw, scoring.TierA, testOptions())
	a := out.Valid[0]

	cl := config.DefaultConfig().Clamps
	if a.MortalityModifier != cl.Mortality.Max {
		t.Errorf("mortality not clamped to %v: %v", cl.Mortality.Max, a.MortalityModifier)
	}
	if a.ReproductionDelta != cl.Reproduction.Min {
		t.Errorf("reproduction not clamped to %v: %v", cl.Reproduction.Min, a.ReproductionDelta)
	}
	if a.CapacityDelta != cl.Capacity.Max {
		t.Errorf("capacity not clamped: %v", a.CapacityDelta)
	}
	if a.SpeciationSignal != 0 {
		t.Errorf("speciation signal not clamped to 0: %v", a.SpeciationSignal)
	}
	if a.Confidence != 1 {
		t.Errorf("confidence not clamped to 1: %v", a.Confidence)
	}
}

func TestParseReply_WrongTypesDefaulted(t *testing.T) {
	raw := `[{"id": "cod.north",
		"mortality_modifier": "very high",
		"reproduction_delta": null,
		"fate": 42,
		"tags": "not-a-list"}]`

	out := ParseReply(raw, scoring.TierA, testOptions())
	a := out.Valid[0]
	def := Default("cod.north")

	if a.MortalityModifier != def.MortalityModifier {
		t.Errorf("unparseable mortality should default to %v, got %v", def.MortalityModifier, a.MortalityModifier)
	}
	if a.ReproductionDelta != 0 {
		t.Errorf("null delta should default to 0, got %v", a.ReproductionDelta)
	}
	if a.Fate != "42" {
		// Numeric fate strings are tolerated; they are opaque tags.
		t.Errorf("unexpected fate: %q", a.Fate)
	}
	if a.Tags != nil {
		t.Errorf("scalar tags must default to empty, got %v", a.Tags)
	}
}

func TestParseReply_NumericStringsCoerced(t *testing.T) {
	raw := `[{"id": "cod.north", "mortality_modifier": "1.4", "confidence": "0.6"}]`

	out := ParseReply(raw, scoring.TierA, testOptions())
	a := out.Valid[0]
	if a.MortalityModifier != 1.4 || a.Confidence != 0.6 {
		t.Errorf("numeric strings should coerce: %+v", a)
	}
}

func TestParseReply_Unparseable(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot assess this ecosystem.",
		"null",
		"[{broken",
	} {
		out := ParseReply(raw, scoring.TierA, testOptions())
		if !out.Unparseable {
			t.Errorf("expected unparseable for %q, got %+v", raw, out)
		}
		if out.Raw != raw {
			t.Errorf("raw text not preserved for %q", raw)
		}
	}
}

func TestParseReply_NarrativeDropped(t *testing.T) {
	raw := `[{"id": "cod.north", "narrative": "a long story", "headline": "Cod in crisis", "mood": "grim"}]`

	opts := testOptions()
	opts.RetainNarrative = false
	a := ParseReply(raw, scoring.TierA, opts).Valid[0]
	if a.Narrative != "" || a.Headline != "" || a.Mood != "" {
		t.Errorf("narrative fields should be dropped when retention is off: %+v", a)
	}

	opts.RetainNarrative = true
	a = ParseReply(raw, scoring.TierA, opts).Valid[0]
	if a.Narrative == "" || a.Headline == "" || a.Mood == "" {
		t.Errorf("narrative fields should be kept when retention is on: %+v", a)
	}
}

func TestParseReply_DefaultsAreNeutral(t *testing.T) {
	// A record carrying only an id must coerce to the neutral assessment.
	a := ParseReply(`[{"id": "x"}]`, scoring.TierB, testOptions()).Valid[0]

	if a.MortalityModifier != 1.0 {
		t.Errorf("neutral mortality is 1.0, got %v", a.MortalityModifier)
	}
	if a.ReproductionDelta != 0 || a.CapacityDelta != 0 || a.MigrationBias != 0 ||
		a.PredationDelta != 0 || a.SpeciationSignal != 0 || a.ClimateToleranceDelta != 0 {
		t.Errorf("deltas not neutral: %+v", a)
	}
	if a.Fate != "stable" {
		t.Errorf("default fate is stable, got %q", a.Fate)
	}
}
