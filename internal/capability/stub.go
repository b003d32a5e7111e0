package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
)

// StubClient is a deterministic offline capability used when no provider is
// configured, and in tests. It scans the prompt for entity ids and replies
// with mild, hash-derived adjustments, so the full pipeline can run without
// network access.
type StubClient struct{}

// NewStubClient creates the offline stub.
func NewStubClient() *StubClient { return &StubClient{} }

var stubIDPattern = regexp.MustCompile(`id[:=]\s*([A-Za-z0-9_.\-]+)`)

// Generate produces a valid JSON-array reply for every id mentioned in the
// user prompt. Deterministic for a given prompt.
func (s *StubClient) Generate(_ context.Context, req Request) (string, error) {
	prompt := req.UserPrompt()

	seen := make(map[string]bool)
	var records []map[string]interface{}
	for _, match := range stubIDPattern.FindAllStringSubmatch(prompt, -1) {
		id := match[1]
		if seen[id] {
			continue
		}
		seen[id] = true

		// Small deterministic wobble per id, well inside every clamp range.
		h := fnv.New32a()
		h.Write([]byte(id))
		wobble := float64(h.Sum32()%200)/1000.0 - 0.1 // [-0.1, 0.1)

		records = append(records, map[string]interface{}{
			"id":                      id,
			"mortality_modifier":      1.0 + wobble,
			"reproduction_delta":      wobble / 2,
			"capacity_delta":          wobble,
			"migration_bias":          wobble * 2,
			"climate_tolerance_delta": 0.0,
			"predation_delta":         wobble,
			"speciation_signal":       0.05 + (wobble+0.1)/2,
			"fate":                    "stable",
			"headline":                fmt.Sprintf("%s holds steady", id),
			"confidence":              0.5,
		})
	}

	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
