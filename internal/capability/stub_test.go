package capability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ecosim/internal/config"
)

func stubRequest(prompt string) Request {
	return Request{
		Model: "stub",
		Messages: []Message{
			{Role: "system", Content: "assess"},
			{Role: "user", Content: prompt},
		},
	}
}

func TestStub_RepliesForEveryID(t *testing.T) {
	prompt := "### Cod (id: cod.north)\n- id=krill.swarm name=\"Krill\" pop=9\n"

	raw, err := NewStubClient().Generate(context.Background(), stubRequest(prompt))
	if err != nil {
		t.Fatal(err)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		t.Fatalf("stub must emit valid JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("want 2 records, got %d", len(records))
	}
	ids := map[string]bool{}
	for _, rec := range records {
		ids[rec["id"].(string)] = true
	}
	if !ids["cod.north"] || !ids["krill.swarm"] {
		t.Errorf("ids lost: %v", ids)
	}
}

func TestStub_Deterministic(t *testing.T) {
	req := stubRequest("id: cod.north")
	c := NewStubClient()

	first, _ := c.Generate(context.Background(), req)
	second, _ := c.Generate(context.Background(), req)
	if first != second {
		t.Error("stub replies must be deterministic for a given prompt")
	}
}

func TestStub_ValuesInsideDefaultClamps(t *testing.T) {
	raw, err := NewStubClient().Generate(context.Background(),
		stubRequest("id: a\nid: b\nid: c\nid: longer.entity_name-42"))
	if err != nil {
		t.Fatal(err)
	}

	var loose []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		t.Fatal(err)
	}

	cl := config.DefaultConfig().Clamps
	for _, rec := range loose {
		m := rec["mortality_modifier"].(float64)
		if m < cl.Mortality.Min || m > cl.Mortality.Max {
			t.Errorf("stub mortality %v outside default clamp", m)
		}
		s := rec["speciation_signal"].(float64)
		if s < 0 || s > 1 {
			t.Errorf("stub speciation signal %v outside [0,1]", s)
		}
	}
}

func TestRequest_PromptHelpers(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "assess cod"},
	}}
	if req.SystemPrompt() != "be brief" {
		t.Errorf("system prompt: %q", req.SystemPrompt())
	}
	if req.UserPrompt() != "assess cod" {
		t.Errorf("user prompt: %q", req.UserPrompt())
	}
}

// countingRecorder verifies the tracing wrapper reports every outcome.
type countingRecorder struct {
	calls     int
	successes int
}

func (c *countingRecorder) RecordCall(success bool, d time.Duration, err error) {
	c.calls++
	if success {
		c.successes++
	}
}

func TestTracingClient_ReportsOutcomes(t *testing.T) {
	rec := &countingRecorder{}
	tc := NewTracingClient(NewStubClient(), rec, nil)

	if _, err := tc.WithTier(3, "A").Generate(context.Background(), stubRequest("id: cod")); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 1 || rec.successes != 1 {
		t.Errorf("outcome not recorded: %+v", rec)
	}
}

func TestTracingClient_WithTierDoesNotMutateBase(t *testing.T) {
	tc := NewTracingClient(NewStubClient(), nil, nil)
	viewA := tc.WithTier(1, "A")
	viewB := tc.WithTier(1, "B")

	if viewA == tc || viewA == viewB {
		t.Error("WithTier must return independent views")
	}
	if tc.tier != "" {
		t.Errorf("base client mutated: %q", tc.tier)
	}
}
