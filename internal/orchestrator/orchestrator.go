// Package orchestrator dispatches the two tier batches as independent,
// individually timed-out calls against the generation capability and
// aggregates whatever completes. A failed or timed-out tier degrades to
// empty on its own; the other tier's result is still used. There is no
// in-turn retry: next turn's facts will have moved on, so the only retry
// policy is "try again next turn".
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ecosim/internal/assess"
	"ecosim/internal/capability"
	"ecosim/internal/config"
	"ecosim/internal/logging"
	"ecosim/internal/scoring"
)

// ErrDisabled is reported when the global kill-switch is off. No capability
// call is made in that case.
var ErrDisabled = errors.New("assessments disabled")

// Result aggregates one governance pass's capability output.
type Result struct {
	Assessments []assess.Assessment
	TierSuccess map[scoring.ReviewTier]bool
	Errors      []error
}

// ConfigSource supplies the live orchestrator, capability and clamp config.
type ConfigSource interface {
	Current() *config.Config
	Clamps() config.ClampConfig
}

// Orchestrator owns the bounded fan-out of exactly two tier calls.
type Orchestrator struct {
	client *capability.TracingClient
	cfg    ConfigSource
}

// New creates an orchestrator. All calls flow through the tracing client,
// which reports every attempt's outcome and latency to the health monitor.
func New(client *capability.TracingClient, cfg ConfigSource) *Orchestrator {
	return &Orchestrator{client: client, cfg: cfg}
}

// tierOutcome is one tier's collected result, filled by its goroutine.
type tierOutcome struct {
	assessments []assess.Assessment
	success     bool
	err         error
	skipped     bool
	call        callRecord
}

// callRecord captures one call's outcome inside its tier goroutine so the
// health monitor can be updated from the driver after both tiers finish.
type callRecord struct {
	attempted bool
	success   bool
	duration  time.Duration
	err       error
}

func (c *callRecord) RecordCall(success bool, d time.Duration, err error) {
	c.attempted = true
	c.success = success
	c.duration = d
	c.err = err
}

// Execute runs the two tier calls and aggregates their assessments. An
// empty tier is skipped without a call. Tier-A records are appended last so
// they win when both tiers mention the same entity.
func (o *Orchestrator) Execute(ctx context.Context, turn int, batchA, batchB assess.Batch) Result {
	cfg := o.cfg.Current()

	if !cfg.Orchestrator.Enabled {
		logging.Pipeline("orchestrator disabled; skipping capability entirely")
		return Result{
			TierSuccess: map[scoring.ReviewTier]bool{},
			Errors:      []error{ErrDisabled},
		}
	}

	var outA, outB tierOutcome

	// The two tiers are independent operations: a failure in one must not
	// cancel the other, so the group's closures never return an error.
	var g errgroup.Group
	g.Go(func() error {
		outA = o.runTier(ctx, turn, batchA, cfg.Capability.TierAModel,
			config.ParseTimeout(cfg.Orchestrator.TierATimeout, 45*time.Second))
		return nil
	})
	g.Go(func() error {
		outB = o.runTier(ctx, turn, batchB, cfg.Capability.TierBModel,
			config.ParseTimeout(cfg.Orchestrator.TierBTimeout, 30*time.Second))
		return nil
	})
	_ = g.Wait()

	// The monitor holds unsynchronized cross-turn state, so call outcomes
	// are replayed to it here, in a fixed order, never from the tier
	// goroutines.
	for _, out := range []*tierOutcome{&outB, &outA} {
		if out.call.attempted {
			o.client.Record(out.call.success, out.call.duration, out.call.err)
		}
	}

	result := Result{TierSuccess: map[scoring.ReviewTier]bool{}}
	for _, pair := range []struct {
		tier scoring.ReviewTier
		out  tierOutcome
	}{
		{scoring.TierB, outB},
		{scoring.TierA, outA},
	} {
		if pair.out.skipped {
			continue
		}
		result.TierSuccess[pair.tier] = pair.out.success
		result.Assessments = append(result.Assessments, pair.out.assessments...)
		if pair.out.err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("tier %s: %w", pair.tier, pair.out.err))
		}
	}

	logging.Pipeline("orchestrator: %d assessments, tier success %v, %d errors",
		len(result.Assessments), result.TierSuccess, len(result.Errors))
	return result
}

// runTier issues one tier's call under its own timeout and validates the
// reply. Any failure degrades this tier to empty; the error is carried for
// metrics only and never propagates past the orchestrator.
func (o *Orchestrator) runTier(ctx context.Context, turn int, batch assess.Batch, model string, timeout time.Duration) tierOutcome {
	var out tierOutcome
	if batch.Empty() {
		out.skipped = true
		return out
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := capability.Request{
		Model: model,
		Messages: []capability.Message{
			{Role: "system", Content: assess.SystemPrompt(batch.Tier)},
			{Role: "user", Content: assess.Render(batch)},
		},
		JSONReply: true,
	}

	raw, err := o.client.WithTier(turn, string(batch.Tier)).WithRecorder(&out.call).Generate(callCtx, req)
	if err != nil {
		out.err = err
		return out
	}

	cfg := o.cfg.Current()
	outcome := assess.ParseReply(raw, batch.Tier, assess.Options{
		Clamps:          o.cfg.Clamps(),
		RetainNarrative: cfg.Modifier.RetainNarrative,
	})
	if outcome.Unparseable {
		// Same degradation as a timeout: this tier contributes nothing.
		out.err = fmt.Errorf("reply unparseable (%d bytes)", len(outcome.Raw))
		return out
	}

	out.assessments = outcome.Valid
	out.success = true
	return out
}
