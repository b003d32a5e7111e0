package speciation

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ecosim/internal/config"
	"ecosim/internal/sim"
)

func testParent() Parent {
	return Parent{
		ID:           "cod.north",
		Habitat:      "ocean",
		TrophicLevel: 3.0,
		Traits:       map[string]float64{"metabolic_efficiency": 1.0},
		Structures:   map[string]int{"gills": 2},
		PredationLinks: []PredationLink{
			{PreyID: "krill.swarm", Preference: 1.0},
		},
	}
}

func testBudget(t *testing.T) Budget {
	t.Helper()
	return ComputeBudget(testParent(), 0, config.DefaultConfig().Speciation)
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: want %v, got %v", name, want, got)
	}
}

func TestComputeBudget_PressureScalesIncrease(t *testing.T) {
	cfg := config.DefaultConfig().Speciation

	calm := ComputeBudget(testParent(), 0, cfg)
	approx(t, "calm budget", calm.MaxTotalIncrease, cfg.TraitIncreaseBase)

	stressed := ComputeBudget(testParent(), 1.0, cfg)
	approx(t, "stressed budget", stressed.MaxTotalIncrease, cfg.TraitIncreaseBase*(1+cfg.PressureScale))

	// Negative pressure never shrinks the budget below the base.
	negative := ComputeBudget(testParent(), -3, cfg)
	approx(t, "negative pressure", negative.MaxTotalIncrease, cfg.TraitIncreaseBase)
}

func TestComputeBudget_HabitatsIncludeParentAndTransitions(t *testing.T) {
	b := testBudget(t)
	for _, h := range []string{"ocean", "coastal", "deep_sea"} {
		if !b.ValidHabitats[h] {
			t.Errorf("habitat %s should be reachable from ocean", h)
		}
	}
	if b.ValidHabitats["desert"] {
		t.Error("desert should not be reachable from ocean")
	}
}

func TestRepair_OverBudgetIncreasesScaledProportionally(t *testing.T) {
	budget := testBudget(t)
	budget.MaxTotalIncrease = 3.0
	budget.PerTraitCap = 10 // out of the way for this test

	draft := Draft{
		TraitChanges: map[string]float64{"speed": 5, "armor": 3},
		TrophicLevel: 3.0,
		SizeRatio:    1.0,
		Habitat:      "ocean",
	}
	repaired, corrections := Repair(draft, testParent(), budget, nil)

	// 8 over a budget of 3 scales by 3/8; the missing give-back is debited
	// from the default trait at half the total increase.
	want := map[string]float64{
		"speed":                1.875,
		"armor":                1.125,
		"metabolic_efficiency": -1.5,
	}
	if diff := cmp.Diff(want, repaired.TraitChanges); diff != "" {
		t.Errorf("trait changes mismatch (-want +got):\n%s", diff)
	}

	if len(corrections) == 0 {
		t.Error("every rewrite must be reported as a correction")
	}
}

func TestRepair_PerTraitCapAppliedFirst(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{
		TraitChanges: map[string]float64{"speed": 5},
		TrophicLevel: 3.0,
		SizeRatio:    1.0,
		Habitat:      "ocean",
	}
	repaired, _ := Repair(draft, testParent(), budget, nil)

	// Capped to 2.0 first, which is inside the total budget of 3.0, so no
	// scaling happens; give-back is 2.0/2 = 1.0.
	approx(t, "speed", repaired.TraitChanges["speed"], budget.PerTraitCap)
	approx(t, "give-back", repaired.TraitChanges["metabolic_efficiency"], -1.0)
}

func assertDecreaseCovered(t *testing.T, changes map[string]float64, budget Budget) {
	t.Helper()
	var inc, dec float64
	for _, d := range changes {
		if d > 0 {
			inc += d
		} else {
			dec += -d
		}
	}
	if dec+1e-9 < inc/budget.RequiredDecreaseRatio {
		t.Errorf("decrease %.3f does not cover increase %.3f at ratio %.1f",
			dec, inc, budget.RequiredDecreaseRatio)
	}
}

func TestRepair_IncreaseOnDecreaseTraitStillPaysGiveBack(t *testing.T) {
	budget := testBudget(t)

	// The drafted increase lands on the very trait the give-back debits;
	// shrinking it is not a decrease, so it is removed outright.
	draft := Draft{
		TraitChanges: map[string]float64{"metabolic_efficiency": 2.0},
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
	}
	repaired, corrections := Repair(draft, testParent(), budget, nil)

	if got := repaired.TraitChanges["metabolic_efficiency"]; got > 0 {
		t.Errorf("the decrease trait must not keep an increase, got %v", got)
	}
	assertDecreaseCovered(t, repaired.TraitChanges, budget)
	if len(corrections) == 0 {
		t.Error("rewrite must be reported")
	}
}

func TestRepair_GiveBackRecountedAfterRemovingIncrease(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{
		TraitChanges: map[string]float64{"speed": 2, "metabolic_efficiency": 1},
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
	}
	repaired, _ := Repair(draft, testParent(), budget, nil)

	// With the drafted +1 removed, the remaining increase of 2 owes a
	// decrease of 1 on the default trait.
	approx(t, "speed", repaired.TraitChanges["speed"], 2.0)
	approx(t, "give-back", repaired.TraitChanges["metabolic_efficiency"], -1.0)
	assertDecreaseCovered(t, repaired.TraitChanges, budget)
}

func TestRepair_SufficientDecreaseNotDebited(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{
		TraitChanges: map[string]float64{"speed": 2, "bulk": -1.5},
		TrophicLevel: 3.0,
		SizeRatio:    1.0,
		Habitat:      "ocean",
	}
	repaired, _ := Repair(draft, testParent(), budget, nil)

	if _, debited := repaired.TraitChanges["metabolic_efficiency"]; debited {
		t.Error("give-back must not be synthesized when the draft already pays")
	}
	approx(t, "bulk", repaired.TraitChanges["bulk"], -1.5)
}

func TestRepair_StructureCurrentStageOverwritten(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{
		Structures: []StructureChange{
			{Name: "gills", CurrentStage: 9, TargetStage: 3},
		},
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
	}
	repaired, _ := Repair(draft, testParent(), budget, nil)

	st := repaired.Structures[0]
	if st.CurrentStage != 2 {
		t.Errorf("current stage must come from the parent record: got %d", st.CurrentStage)
	}
	if st.TargetStage != 3 {
		t.Errorf("target 3 from stage 2 is legal: got %d", st.TargetStage)
	}
}

func TestRepair_StructureAdvanceAndCeiling(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{
		Structures: []StructureChange{
			{Name: "gills", CurrentStage: 2, TargetStage: 9},  // existing: 2 + advance 2 = 4
			{Name: "wings", CurrentStage: 0, TargetStage: 4},  // new: starts at 1
		},
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
	}
	repaired, _ := Repair(draft, testParent(), budget, nil)

	if got := repaired.Structures[0].TargetStage; got != 4 {
		t.Errorf("existing structure: want target 4, got %d", got)
	}
	if got := repaired.Structures[1].TargetStage; got != 1 {
		t.Errorf("new structure must start at stage 1, got %d", got)
	}
}

func TestRepair_ExcessStructuresDropped(t *testing.T) {
	budget := testBudget(t)
	budget.MaxStructures = 2

	draft := Draft{
		Structures: []StructureChange{
			{Name: "a", TargetStage: 1},
			{Name: "b", TargetStage: 1},
			{Name: "c", TargetStage: 1},
		},
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
	}
	repaired, _ := Repair(draft, testParent(), budget, nil)

	if len(repaired.Structures) != 2 {
		t.Fatalf("want 2 structure changes, got %d", len(repaired.Structures))
	}
}

func TestRepair_SizeRatioClampedAndDefaulted(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{TraitChanges: nil, TrophicLevel: 3.0, SizeRatio: 5.0, Habitat: "ocean"}
	repaired, _ := Repair(draft, testParent(), budget, nil)
	approx(t, "oversize", repaired.SizeRatio, budget.SizeRatio.Max)

	draft.SizeRatio = 0
	repaired, _ = Repair(draft, testParent(), budget, nil)
	approx(t, "unspecified", repaired.SizeRatio, 1.0)
}

func TestRepair_HabitatSnapsToParent(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "lava_fields"}
	repaired, _ := Repair(draft, testParent(), budget, nil)
	if repaired.Habitat != "ocean" {
		t.Errorf("invalid habitat must fall back to parent's: got %q", repaired.Habitat)
	}

	// Valid transitions pass through, case-insensitively.
	draft.Habitat = " Coastal "
	repaired, _ = Repair(draft, testParent(), budget, nil)
	if repaired.Habitat != "coastal" {
		t.Errorf("valid transition rejected: got %q", repaired.Habitat)
	}
}

func TestRepair_TrophicClampedToParentWindow(t *testing.T) {
	budget := testBudget(t)

	draft := Draft{TrophicLevel: 4.9, SizeRatio: 1.0, Habitat: "ocean"}
	repaired, _ := Repair(draft, testParent(), budget, nil)
	approx(t, "trophic ceiling", repaired.TrophicLevel, 3.5)

	draft.TrophicLevel = 1.0
	repaired, _ = Repair(draft, testParent(), budget, nil)
	approx(t, "trophic floor", repaired.TrophicLevel, 2.5)
}

func TestRepair_PredationLinksValidated(t *testing.T) {
	budget := testBudget(t)
	living := map[string]float64{
		"krill.swarm": 2.0, // gap 1.0, valid
		"algae.green": 1.0, // gap 2.0, valid
		"orca.pod":    4.5, // gap negative, invalid
	}

	draft := Draft{
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
		PredationLinks: []PredationLink{
			{PreyID: "krill.swarm", Preference: 3},
			{PreyID: "algae.green", Preference: 1},
			{PreyID: "orca.pod", Preference: 2},
			{PreyID: "extinct.thing", Preference: 1},
		},
	}
	repaired, _ := Repair(draft, testParent(), budget, living)

	if len(repaired.PredationLinks) != 2 {
		t.Fatalf("want 2 surviving links, got %d", len(repaired.PredationLinks))
	}
	var sum float64
	for _, link := range repaired.PredationLinks {
		sum += link.Preference
	}
	approx(t, "preference sum", sum, 1.0)
	if repaired.PredationLinks[0].PreyID != "krill.swarm" {
		t.Errorf("links should sort by preference: %+v", repaired.PredationLinks)
	}
}

func TestRepair_AllLinksDroppedFallsBackToParent(t *testing.T) {
	budget := testBudget(t)
	living := map[string]float64{"orca.pod": 4.5}

	draft := Draft{
		TrophicLevel: 3.0, SizeRatio: 1.0, Habitat: "ocean",
		PredationLinks: []PredationLink{
			{PreyID: "extinct.thing", Preference: 1},
		},
	}
	repaired, corrections := Repair(draft, testParent(), budget, living)

	if len(repaired.PredationLinks) != 1 || repaired.PredationLinks[0].PreyID != "krill.swarm" {
		t.Fatalf("expected parent's predation list, got %+v", repaired.PredationLinks)
	}
	if len(corrections) == 0 {
		t.Error("fallback must be reported")
	}
}

func TestRepair_NeverErrors(t *testing.T) {
	// A maximally hostile draft still yields a usable record.
	budget := testBudget(t)
	draft := Draft{
		TraitChanges: map[string]float64{
			"speed": math.Inf(1),
			"bulk":  math.NaN(),
			"mass":  1e12,
		},
		Structures:   []StructureChange{{Name: "", TargetStage: -5}},
		Habitat:      "",
		TrophicLevel: math.NaN(),
		SizeRatio:    math.Inf(-1),
		PredationLinks: []PredationLink{
			{PreyID: "ghost", Preference: math.NaN()},
		},
	}
	repaired, corrections := Repair(draft, testParent(), budget, nil)

	if repaired.Habitat != "ocean" {
		t.Errorf("habitat: got %q", repaired.Habitat)
	}
	if math.IsNaN(repaired.TrophicLevel) || math.IsInf(repaired.SizeRatio, 0) {
		t.Errorf("non-finite values leaked: %+v", repaired)
	}
	for trait, v := range repaired.TraitChanges {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("trait %s non-finite: %v", trait, v)
		}
	}
	if len(corrections) == 0 {
		t.Error("hostile draft must produce corrections")
	}
}

func TestDirectionHints(t *testing.T) {
	env := sim.EnvironmentSummary{
		TemperatureDelta: 1.2,
		Pressures:        []sim.Pressure{{Name: "acidification", Magnitude: 0.8}},
	}
	hints := DirectionHints(testParent(), env)
	if len(hints) != 2 {
		t.Fatalf("want 2 hints, got %+v", hints)
	}
	if hints[0].Trait != "heat_tolerance" {
		t.Errorf("warming should hint heat_tolerance, got %s", hints[0].Trait)
	}
}
