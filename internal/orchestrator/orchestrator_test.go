package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ecosim/internal/assess"
	"ecosim/internal/capability"
	"ecosim/internal/config"
	"ecosim/internal/scoring"
	"ecosim/internal/sim"
)

func TestMain(m *testing.M) {
	// The genai dependency starts an opencensus stats worker at init.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// scriptedClient answers per model name, so the two tiers can be driven
// independently through one client. Generate runs on both tier goroutines;
// the mutex keeps the call counter race-free.
type scriptedClient struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	calls   map[string]int
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		replies: make(map[string]string),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
		calls:   make(map[string]int),
	}
}

func (c *scriptedClient) Generate(ctx context.Context, req capability.Request) (string, error) {
	c.mu.Lock()
	c.calls[req.Model]++
	c.mu.Unlock()
	if d := c.delays[req.Model]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := c.errs[req.Model]; err != nil {
		return "", err
	}
	return c.replies[req.Model], nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Orchestrator.TierATimeout = "200ms"
	cfg.Orchestrator.TierBTimeout = "200ms"
	return cfg
}

func batchFor(t scoring.ReviewTier, ids ...string) assess.Batch {
	records := make([]scoring.PriorityRecord, 0, len(ids))
	facts := make(map[string]sim.EntityFacts, len(ids))
	for _, id := range ids {
		records = append(records, scoring.PriorityRecord{EntityID: id, Priority: 0.5, Tier: t})
		facts[id] = sim.EntityFacts{ID: id, Population: 100}
	}
	return assess.BuildBatch(t, records, facts, nil)
}

func reply(ids ...string) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"id": %q, "mortality_modifier": 1.1}`, id)
	}
	return out + "]"
}

func newTestOrchestrator(cfg *config.Config, client capability.Client) *Orchestrator {
	return New(capability.NewTracingClient(client, nil, nil), config.NewManager(cfg))
}

func TestExecute_BothTiersSucceed(t *testing.T) {
	cfg := testConfig()
	client := newScriptedClient()
	client.replies[cfg.Capability.TierAModel] = reply("a1", "a2")
	client.replies[cfg.Capability.TierBModel] = reply("b1")

	o := newTestOrchestrator(cfg, client)
	res := o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1", "a2"), batchFor(scoring.TierB, "b1"))

	if len(res.Assessments) != 3 {
		t.Fatalf("want 3 assessments, got %d", len(res.Assessments))
	}
	if !res.TierSuccess[scoring.TierA] || !res.TierSuccess[scoring.TierB] {
		t.Errorf("both tiers should succeed: %v", res.TierSuccess)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}
	// Tier B records come first so tier A wins downstream last-wins merges.
	if res.Assessments[0].EntityID != "b1" {
		t.Errorf("tier B should aggregate first, got %s", res.Assessments[0].EntityID)
	}
}

func TestExecute_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestrator.Enabled = false
	client := newScriptedClient()

	o := newTestOrchestrator(cfg, client)
	res := o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1"), batchFor(scoring.TierB, "b1"))

	if len(res.Assessments) != 0 {
		t.Errorf("disabled orchestrator must yield no assessments: %d", len(res.Assessments))
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], ErrDisabled) {
		t.Errorf("want single ErrDisabled, got %v", res.Errors)
	}
	if len(client.calls) != 0 {
		t.Errorf("disabled orchestrator must not call the capability: %v", client.calls)
	}
}

func TestExecute_OneTierFailureDoesNotPoisonTheOther(t *testing.T) {
	cfg := testConfig()
	client := newScriptedClient()
	client.errs[cfg.Capability.TierAModel] = errors.New("provider exploded")
	client.replies[cfg.Capability.TierBModel] = reply("b1")

	o := newTestOrchestrator(cfg, client)
	res := o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1"), batchFor(scoring.TierB, "b1"))

	if len(res.Assessments) != 1 || res.Assessments[0].EntityID != "b1" {
		t.Fatalf("tier B result must survive tier A failure: %+v", res.Assessments)
	}
	if res.TierSuccess[scoring.TierA] || !res.TierSuccess[scoring.TierB] {
		t.Errorf("tier success wrong: %v", res.TierSuccess)
	}
	if len(res.Errors) != 1 {
		t.Errorf("want one carried error, got %v", res.Errors)
	}
}

func TestExecute_TimeoutDegradesTier(t *testing.T) {
	cfg := testConfig()
	client := newScriptedClient()
	client.delays[cfg.Capability.TierAModel] = 2 * time.Second
	client.replies[cfg.Capability.TierAModel] = reply("a1")
	client.replies[cfg.Capability.TierBModel] = reply("b1")

	o := newTestOrchestrator(cfg, client)
	start := time.Now()
	res := o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1"), batchFor(scoring.TierB, "b1"))

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
	if len(res.Assessments) != 1 || res.Assessments[0].EntityID != "b1" {
		t.Fatalf("only tier B should land: %+v", res.Assessments)
	}
	if res.TierSuccess[scoring.TierA] {
		t.Error("timed-out tier must not report success")
	}
}

func TestExecute_UnparseableReplyDegradesLikeTimeout(t *testing.T) {
	cfg := testConfig()
	client := newScriptedClient()
	client.replies[cfg.Capability.TierAModel] = "I am very sorry, I cannot help with ecosystems."
	client.replies[cfg.Capability.TierBModel] = reply("b1")

	o := newTestOrchestrator(cfg, client)
	res := o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1"), batchFor(scoring.TierB, "b1"))

	if len(res.Assessments) != 1 {
		t.Fatalf("unparseable tier must contribute nothing: %+v", res.Assessments)
	}
	if res.TierSuccess[scoring.TierA] {
		t.Error("unparseable tier must not report success")
	}
	if len(res.Errors) != 1 {
		t.Errorf("want one carried error, got %v", res.Errors)
	}
}

// serialRecorder notices outcomes being reported concurrently.
type serialRecorder struct {
	active  int32
	overlap int32
	order   []bool
}

func (r *serialRecorder) RecordCall(success bool, d time.Duration, err error) {
	if atomic.AddInt32(&r.active, 1) > 1 {
		atomic.StoreInt32(&r.overlap, 1)
	}
	time.Sleep(2 * time.Millisecond)
	r.order = append(r.order, success)
	atomic.AddInt32(&r.active, -1)
}

func TestExecute_OutcomesRecordedSequentially(t *testing.T) {
	cfg := testConfig()
	client := newScriptedClient()
	client.replies[cfg.Capability.TierAModel] = reply("a1")
	client.errs[cfg.Capability.TierBModel] = errors.New("provider down")
	// Delays make the two tier calls overlap in time.
	client.delays[cfg.Capability.TierAModel] = 20 * time.Millisecond
	client.delays[cfg.Capability.TierBModel] = 20 * time.Millisecond

	rec := &serialRecorder{}
	o := New(capability.NewTracingClient(client, rec, nil), config.NewManager(cfg))
	o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1"), batchFor(scoring.TierB, "b1"))

	if atomic.LoadInt32(&rec.overlap) == 1 {
		t.Fatal("outcomes must be recorded one at a time, after both tiers finish")
	}
	// Tier B's outcome is replayed first, then tier A's.
	if len(rec.order) != 2 || rec.order[0] || !rec.order[1] {
		t.Errorf("want [B failure, A success], got %v", rec.order)
	}
}

func TestExecute_EmptyTiersSkipped(t *testing.T) {
	cfg := testConfig()
	client := newScriptedClient()
	client.replies[cfg.Capability.TierAModel] = reply("a1")

	o := newTestOrchestrator(cfg, client)
	res := o.Execute(context.Background(), 1, batchFor(scoring.TierA, "a1"), assess.Batch{Tier: scoring.TierB})

	if client.calls[cfg.Capability.TierBModel] != 0 {
		t.Error("empty tier must not be dispatched")
	}
	if _, reported := res.TierSuccess[scoring.TierB]; reported {
		t.Error("skipped tier must not appear in TierSuccess")
	}
	if len(res.Assessments) != 1 {
		t.Errorf("tier A result missing: %+v", res.Assessments)
	}
}

func TestExecute_BothEmpty(t *testing.T) {
	cfg := testConfig()
	o := newTestOrchestrator(cfg, newScriptedClient())

	res := o.Execute(context.Background(), 1, assess.Batch{Tier: scoring.TierA}, assess.Batch{Tier: scoring.TierB})
	if len(res.Assessments) != 0 || len(res.Errors) != 0 {
		t.Errorf("nothing to review must be a clean no-op: %+v", res)
	}
}
