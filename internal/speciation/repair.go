package speciation

import (
	"fmt"
	"math"
	"sort"

	"ecosim/internal/logging"
)

// Repair reconciles a drafted offspring record with the event's budget and
// the parent's recorded state. It never fails: every violation is rewritten
// to the nearest valid value and reported as a correction string. living
// maps entity id to trophic level for every entity alive this turn.
func Repair(draft Draft, parent Parent, budget Budget, living map[string]float64) (Draft, []string) {
	var corrections []string
	note := func(format string, args ...interface{}) {
		c := fmt.Sprintf(format, args...)
		corrections = append(corrections, c)
		logging.Speciation("repair %s: %s", parent.ID, c)
	}

	draft.TraitChanges = repairTraits(draft.TraitChanges, budget, note)
	draft.Structures = repairStructures(draft.Structures, parent, budget, note)
	draft.SizeRatio = repairSizeRatio(draft.SizeRatio, budget, note)
	draft.Habitat = repairHabitat(draft.Habitat, parent, budget, note)
	draft.TrophicLevel = repairTrophic(draft.TrophicLevel, budget, note)
	draft.PredationLinks = repairPredation(draft.PredationLinks, parent, draft.TrophicLevel, budget, living, note)

	return draft, corrections
}

// repairTraits enforces the three trait rules in order: per-trait cap,
// total-increase budget, then the mandatory give-back. Scaling preserves the
// drafted proportions between increases.
func repairTraits(changes map[string]float64, budget Budget, note func(string, ...interface{})) map[string]float64 {
	out := make(map[string]float64, len(changes))
	for trait, delta := range changes {
		if !isFinite(delta) {
			note("trait %s: non-finite change dropped", trait)
			continue
		}
		if math.Abs(delta) > budget.PerTraitCap {
			capped := math.Copysign(budget.PerTraitCap, delta)
			note("trait %s: change %.3f exceeds per-trait cap, clamped to %.3f", trait, delta, capped)
			delta = capped
		}
		out[trait] = delta
	}

	var totalIncrease, totalDecrease float64
	for _, delta := range out {
		if delta > 0 {
			totalIncrease += delta
		} else {
			totalDecrease += -delta
		}
	}

	if totalIncrease > budget.MaxTotalIncrease && totalIncrease > 0 {
		scale := budget.MaxTotalIncrease / totalIncrease
		for trait, delta := range out {
			if delta > 0 {
				out[trait] = delta * scale
			}
		}
		note("total increase %.3f exceeds budget %.3f, increases scaled by %.3f",
			totalIncrease, budget.MaxTotalIncrease, scale)
		totalIncrease = budget.MaxTotalIncrease
	}

	if budget.RequiredDecreaseRatio > 0 && totalIncrease > 0 {
		required := totalIncrease / budget.RequiredDecreaseRatio
		if totalDecrease < required {
			trait := budget.DefaultDecreaseTrait
			if prior := out[trait]; prior > 0 {
				// A drafted increase on the give-back trait cannot pay the
				// debt; debiting it would only shrink the increase. Zero it
				// and recount what is still owed.
				totalIncrease -= prior
				out[trait] = 0
				required = totalIncrease / budget.RequiredDecreaseRatio
				note("trait %s: increase %.3f removed, it is the mandatory decrease trait", trait, prior)
			}
			if deficit := required - totalDecrease; deficit > 0 {
				out[trait] -= deficit
				note("decrease %.3f short of required %.3f, %s reduced by %.3f",
					totalDecrease, required, trait, deficit)
			}
		}
	}

	return out
}

// repairStructures overwrites the drafted "current stage" from the parent's
// records, bounds each target, and drops changes past the simultaneous
// limit. New structures start at stage 1 regardless of what was drafted.
func repairStructures(changes []StructureChange, parent Parent, budget Budget, note func(string, ...interface{})) []StructureChange {
	out := make([]StructureChange, 0, len(changes))
	seen := make(map[string]bool)
	for _, ch := range changes {
		if ch.Name == "" || seen[ch.Name] {
			continue
		}
		seen[ch.Name] = true

		actual := parent.Structures[ch.Name]
		if ch.CurrentStage != actual {
			note("structure %s: drafted current stage %d overwritten with recorded %d",
				ch.Name, ch.CurrentStage, actual)
			ch.CurrentStage = actual
		}

		maxTarget := budget.StageCeiling
		if actual == 0 {
			maxTarget = 1
		} else if advance := actual + budget.MaxStageAdvance; advance < maxTarget {
			maxTarget = advance
		}
		if ch.TargetStage > maxTarget {
			note("structure %s: target stage %d clamped to %d", ch.Name, ch.TargetStage, maxTarget)
			ch.TargetStage = maxTarget
		}
		if ch.TargetStage < 1 {
			note("structure %s: target stage %d raised to 1", ch.Name, ch.TargetStage)
			ch.TargetStage = 1
		}

		out = append(out, ch)
	}

	if budget.MaxStructures > 0 && len(out) > budget.MaxStructures {
		for _, dropped := range out[budget.MaxStructures:] {
			note("structure %s: dropped, at most %d changes per event", dropped.Name, budget.MaxStructures)
		}
		out = out[:budget.MaxStructures]
	}
	return out
}

func repairSizeRatio(ratio float64, budget Budget, note func(string, ...interface{})) float64 {
	if ratio == 0 || !isFinite(ratio) {
		note("size ratio unspecified, defaulting to 1.0")
		return 1.0
	}
	if clamped := budget.SizeRatio.Clamp(ratio); clamped != ratio {
		note("size ratio %.3f clamped to %.3f", ratio, clamped)
		return clamped
	}
	return ratio
}

func repairHabitat(habitat string, parent Parent, budget Budget, note func(string, ...interface{})) string {
	h := normalizeHabitat(habitat)
	if h == "" {
		note("habitat unspecified, inheriting %s", normalizeHabitat(parent.Habitat))
		return normalizeHabitat(parent.Habitat)
	}
	if budget.ValidHabitats[h] {
		return h
	}
	note("habitat %s is not reachable from %s, inheriting parent habitat", h, normalizeHabitat(parent.Habitat))
	return normalizeHabitat(parent.Habitat)
}

func repairTrophic(level float64, budget Budget, note func(string, ...interface{})) float64 {
	if !isFinite(level) || level == 0 {
		mid := (budget.TrophicMin + budget.TrophicMax) / 2
		note("trophic level unspecified, set to parent's %.2f", mid)
		return mid
	}
	if level < budget.TrophicMin {
		note("trophic level %.2f below floor, raised to %.2f", level, budget.TrophicMin)
		return budget.TrophicMin
	}
	if level > budget.TrophicMax {
		note("trophic level %.2f above ceiling, lowered to %.2f", level, budget.TrophicMax)
		return budget.TrophicMax
	}
	return level
}

// repairPredation keeps only links to living prey inside the allowed trophic
// gap, renormalizes the surviving preferences to sum to 1, and falls back to
// the parent's list when every drafted link was dropped.
func repairPredation(links []PredationLink, parent Parent, trophic float64, budget Budget, living map[string]float64, note func(string, ...interface{})) []PredationLink {
	keep := make([]PredationLink, 0, len(links))
	for _, link := range links {
		preyTrophic, alive := living[link.PreyID]
		if !alive {
			note("predation link to %s dropped, prey not alive", link.PreyID)
			continue
		}
		gap := trophic - preyTrophic
		if gap < budget.TrophicGapMin || gap > budget.TrophicGapMax {
			note("predation link to %s dropped, trophic gap %.2f outside [%.2f, %.2f]",
				link.PreyID, gap, budget.TrophicGapMin, budget.TrophicGapMax)
			continue
		}
		if link.Preference <= 0 || !isFinite(link.Preference) {
			link.Preference = 1
		}
		keep = append(keep, link)
	}

	if len(keep) == 0 && len(links) > 0 {
		note("all drafted predation links dropped, inheriting parent's %d links", len(parent.PredationLinks))
		keep = append(keep, parent.PredationLinks...)
	}
	if len(keep) == 0 {
		return nil
	}

	var sum float64
	for _, link := range keep {
		sum += link.Preference
	}
	if sum > 0 && math.Abs(sum-1) > 1e-9 {
		for i := range keep {
			keep[i].Preference /= sum
		}
	}
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].Preference > keep[j].Preference })
	return keep
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
