package assess

import (
	"fmt"
	"strings"

	"ecosim/internal/logging"
	"ecosim/internal/scoring"
)

// Prompt rendering is pure formatting: batch in, strings out. Both tiers
// demand a strict JSON-array reply with an explicit field list and nothing
// else, so the validator has a fighting chance.

const replySchema = `Reply with ONLY a JSON array, one object per entity, no prose and no markdown fence. Each object has exactly these fields:
  "id" (string, required, copy verbatim),
  "mortality_modifier" (number, 0.3-1.8, 1.0 = no change),
  "reproduction_delta" (number, -0.3 to 0.3),
  "capacity_delta" (number, -0.5 to 0.5),
  "migration_bias" (number, -1 to 1),
  "climate_tolerance_delta" (number),
  "predation_delta" (number, -1 to 1),
  "speciation_signal" (number, 0 to 1),
  "fate" (short tag, e.g. "stable", "declining", "radiating"),
  "tags" (array of short strings, optional),
  "headline" (one sentence, optional),
  "narrative" (2-3 sentences, optional),
  "mood" (one word, optional),
  "confidence" (number, 0 to 1).`

const systemPromptTierA = `You are the ecological advisor for a long-running ecosystem simulation. You receive a small set of high-priority species with full context and suggest bounded adjustments to their simulated dynamics. Your numbers are advice: the simulation clamps everything to safe ranges, so reason about direction and magnitude, not exact arithmetic.

` + replySchema

const systemPromptTierB = `You are the ecological advisor for an ecosystem simulation. You receive a condensed list of mid-priority species and suggest coarse adjustments. Keep narrative fields empty or very short.

` + replySchema

// SystemPrompt returns the tier-appropriate system instruction.
func SystemPrompt(t scoring.ReviewTier) string {
	if t == scoring.TierA {
		return systemPromptTierA
	}
	return systemPromptTierB
}

// Render formats the batch into the user prompt for its tier.
func Render(b Batch) string {
	var sb strings.Builder

	renderEnvironment(&sb, b)

	switch b.Tier {
	case scoring.TierA:
		sb.WriteString("## Species Under Full Review\n\n")
		for _, in := range b.Inputs {
			renderFullBlock(&sb, in)
		}
	default:
		sb.WriteString("## Species Under Condensed Review\n\n")
		for _, in := range b.Inputs {
			renderTerseLine(&sb, in)
		}
	}

	sb.WriteString(fmt.Sprintf("\nReturn a JSON array with exactly %d objects, in the order given.\n", len(b.Inputs)))

	prompt := sb.String()
	logging.Prompt("tier %s prompt: %d entities, %d bytes", b.Tier, len(b.Inputs), len(prompt))
	return prompt
}

func renderEnvironment(sb *strings.Builder, b Batch) {
	env := b.Env
	if env == nil {
		return
	}
	sb.WriteString("## World State\n\n")
	fmt.Fprintf(sb, "Turn %d. Temperature %.1f (Δ%+.2f), sea level %.1f (Δ%+.2f). %d living species.\n",
		env.Turn, env.Temperature, env.TemperatureDelta, env.SeaLevel, env.SeaLevelDelta, env.TotalEntities)
	if len(env.Pressures) > 0 {
		sb.WriteString("Active pressures: ")
		for i, p := range env.Pressures {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s (%.2f)", p.Name, p.Magnitude)
		}
		sb.WriteString(".\n")
	}
	for _, ev := range env.Events {
		fmt.Fprintf(sb, "Event: %s\n", ev)
	}
	sb.WriteString("\n")
}

// renderFullBlock writes the richly annotated tier-A block for one entity.
func renderFullBlock(sb *strings.Builder, in Input) {
	fmt.Fprintf(sb, "### %s (id: %s)\n", displayName(in), in.EntityID)
	fmt.Fprintf(sb, "- population: %d (trend %+.2f)\n", in.Population, in.PopulationTrend)
	fmt.Fprintf(sb, "- projected death rate this turn: %.2f\n", in.DeathRate)
	fmt.Fprintf(sb, "- trophic level: %.1f\n", in.TrophicLevel)
	fmt.Fprintf(sb, "- niche saturation: %.2f, genetic diversity: %.2f\n", in.NicheSaturation, in.GeneticDiversity)
	fmt.Fprintf(sb, "- review priority: %.2f\n", in.Priority)
	for _, h := range in.Hints {
		fmt.Fprintf(sb, "- suggested signal (advisory only): %s\n", h)
	}
	sb.WriteString("\n")
}

// renderTerseLine writes the one-line tier-B form.
func renderTerseLine(sb *strings.Builder, in Input) {
	fmt.Fprintf(sb, "- id=%s name=%q pop=%d death=%.2f trophic=%.1f trend=%+.2f\n",
		in.EntityID, displayName(in), in.Population, in.DeathRate, in.TrophicLevel, in.PopulationTrend)
}

func displayName(in Input) string {
	if in.Name != "" {
		return in.Name
	}
	return in.EntityID
}
