package assess

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"ecosim/internal/config"
	"ecosim/internal/logging"
	"ecosim/internal/scoring"
)

// ParseOutcome is the tagged result of validating one raw reply. Either the
// reply yielded a usable (possibly empty) list of clamped assessments, or it
// was wholly unparseable and Raw carries the offending text for diagnostics.
// An untyped map never crosses this boundary.
type ParseOutcome struct {
	Valid   []Assessment
	Skipped []SkipReason

	// Unparseable is set when no JSON value could be recovered at all.
	// The tier degrades to empty, same as a timeout.
	Unparseable bool
	Raw         string
}

// SkipReason records why one reply element was dropped.
type SkipReason struct {
	Index  int
	Reason string
}

// Options controls validation behavior.
type Options struct {
	Clamps          config.ClampConfig
	RetainNarrative bool
}

// ParseReply validates a raw capability reply for the given tier.
//
// The reply is fence-stripped and parsed as a JSON value; a bare object is
// wrapped into a one-element array. Records missing an id are dropped with a
// logged count. Every other field is independently coerced-or-defaulted and
// clamped: one malformed field never invalidates the rest of its record.
func ParseReply(raw string, t scoring.ReviewTier, opts Options) ParseOutcome {
	payload := extractJSONValue(stripFences(raw))
	if payload == "" {
		logging.Validator("tier %s reply unparseable (%d bytes)", t, len(raw))
		return ParseOutcome{Unparseable: true, Raw: raw}
	}

	var elements []json.RawMessage
	if strings.HasPrefix(payload, "{") {
		// Bare object: wrap into a one-element sequence.
		elements = []json.RawMessage{json.RawMessage(payload)}
	} else if err := json.Unmarshal([]byte(payload), &elements); err != nil {
		logging.Validator("tier %s reply not a JSON array: %v", t, err)
		return ParseOutcome{Unparseable: true, Raw: raw}
	}

	var out ParseOutcome
	for i, el := range elements {
		var fields map[string]interface{}
		if err := json.Unmarshal(el, &fields); err != nil {
			out.Skipped = append(out.Skipped, SkipReason{Index: i, Reason: "element is not an object"})
			continue
		}

		id := asString(fields["id"])
		if id == "" {
			out.Skipped = append(out.Skipped, SkipReason{Index: i, Reason: "missing id"})
			continue
		}

		out.Valid = append(out.Valid, coerceAssessment(id, string(t), fields, opts))
	}

	if len(out.Skipped) > 0 {
		logging.Validator("tier %s: dropped %d of %d reply records", t, len(out.Skipped), len(elements))
	}
	return out
}

// coerceAssessment builds one clamped assessment from loose reply fields.
// Unknown fields are ignored; absent or malformed ones take their defaults.
func coerceAssessment(id, tier string, fields map[string]interface{}, opts Options) Assessment {
	def := Default(id)
	a := Assessment{
		EntityID:   id,
		SourceTier: tier,
	}

	cl := opts.Clamps
	a.MortalityModifier = cl.Mortality.Clamp(asFloat(fields["mortality_modifier"], def.MortalityModifier))
	a.ReproductionDelta = cl.Reproduction.Clamp(asFloat(fields["reproduction_delta"], def.ReproductionDelta))
	a.CapacityDelta = cl.Capacity.Clamp(asFloat(fields["capacity_delta"], def.CapacityDelta))
	a.MigrationBias = cl.Migration.Clamp(asFloat(fields["migration_bias"], def.MigrationBias))
	a.PredationDelta = cl.Predation.Clamp(asFloat(fields["predation_delta"], def.PredationDelta))
	a.SpeciationSignal = cl.Speciation.Clamp(asFloat(fields["speciation_signal"], def.SpeciationSignal))
	a.Confidence = cl.Confidence.Clamp(asFloat(fields["confidence"], 0))

	// Climate tolerance is unbounded but must be finite.
	a.ClimateToleranceDelta = asFloat(fields["climate_tolerance_delta"], def.ClimateToleranceDelta)

	a.Fate = def.Fate
	if fate := strings.TrimSpace(asString(fields["fate"])); fate != "" {
		a.Fate = fate
	}
	a.Tags = asStringList(fields["tags"])

	if opts.RetainNarrative {
		a.Narrative = asString(fields["narrative"])
		a.Headline = asString(fields["headline"])
		a.Mood = asString(fields["mood"])
	}

	return a
}

// stripFences removes an optional markdown code-fence wrapper.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractJSONValue finds the first top-level JSON array or object in s,
// using a byte-level scan that respects strings and escapes. Returns ""
// when no balanced value exists.
func extractJSONValue(s string) string {
	arr := extractBalanced(s, '[', ']')
	obj := extractBalanced(s, '{', '}')

	// Prefer the value that appears first; the reply is supposed to be an
	// array, but a bare object is acceptable.
	ai := strings.Index(s, "[")
	oi := strings.Index(s, "{")
	switch {
	case arr != "" && (obj == "" || (ai >= 0 && (oi < 0 || ai < oi))):
		return arr
	case obj != "":
		return obj
	}
	return ""
}

// extractBalanced scans for the first balanced open..close span outside of
// JSON strings. Safe to iterate bytes: the delimiters are ASCII and UTF-8
// guarantees ASCII bytes never occur inside multi-byte sequences.
func extractBalanced(s string, opener, closer byte) string {
	var depth int
	var start = -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		if b == '"' {
			inString = true
			continue
		}

		if b == opener {
			if depth == 0 {
				start = i
			}
			depth++
		} else if b == closer && depth > 0 {
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// asFloat coerces a loose JSON value to a finite float64, else def.
func asFloat(v interface{}, def float64) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return def
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// asString coerces a loose JSON value to a string. Numbers are formatted,
// since models occasionally reply with numeric ids.
func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// asStringList accepts only list-shaped values; anything else defaults to
// an empty list. Non-string elements are skipped.
func asStringList(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, el := range raw {
		if s, ok := el.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
