// Package pipeline is the single-threaded turn driver. One governance pass
// per turn: score, partition, dispatch, validate, publish. The pass never
// blocks the simulation on failure: every degraded path ends with a usable
// (possibly empty) modifier store.
package pipeline

import (
	"context"
	"time"

	"ecosim/internal/assess"
	"ecosim/internal/config"
	"ecosim/internal/health"
	"ecosim/internal/logging"
	"ecosim/internal/modifier"
	"ecosim/internal/orchestrator"
	"ecosim/internal/scoring"
	"ecosim/internal/sim"
	"ecosim/internal/tier"
)

// MetricsSink persists turn metrics. The telemetry store implements this;
// a nil sink disables persistence.
type MetricsSink interface {
	SaveTurnMetrics(rec health.TurnMetrics) error
}

// TurnReport summarizes one governance pass for the caller.
type TurnReport struct {
	Turn      int
	Scored    int
	TierASize int
	TierBSize int
	TierCSize int

	Assessed     int
	TierSuccess  map[scoring.ReviewTier]bool
	FallbackUsed bool
	Status       health.Status
	Metrics      health.TurnMetrics
	Errors       []error
	Elapsed      time.Duration
}

// Pipeline wires the per-turn stages together. It owns no cross-turn state
// of its own: the health monitor is the only component that remembers
// previous turns, and the modifier store is rebuilt wholesale every pass.
type Pipeline struct {
	cfg     *config.Manager
	orch    *orchestrator.Orchestrator
	store   *modifier.Store
	monitor *health.Monitor
	metrics MetricsSink
}

// New assembles a pipeline. metrics may be nil.
func New(cfg *config.Manager, orch *orchestrator.Orchestrator, store *modifier.Store, monitor *health.Monitor, metrics MetricsSink) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		orch:    orch,
		store:   store,
		monitor: monitor,
		metrics: metrics,
	}
}

// Store exposes the modifier store the simulation reads from.
func (p *Pipeline) Store() *modifier.Store { return p.store }

// Monitor exposes the health monitor, e.g. for status reporting.
func (p *Pipeline) Monitor() *health.Monitor { return p.monitor }

// RunTurn executes one governance pass. The returned report is informational:
// whatever happened, the modifier store is left in a consistent state and the
// simulation proceeds.
func (p *Pipeline) RunTurn(ctx context.Context, turn int, entities []sim.EntityFacts, env sim.EnvironmentSummary) TurnReport {
	start := time.Now()
	cfg := p.cfg.Current()

	// A fresh scorer per turn picks up hot-reloaded scoring weights.
	scorer := scoring.NewScorer(cfg.Scoring)
	scorer.ResetTurn(entities)
	ranked := scorer.ScoreAll(entities)
	part := tier.Split(ranked, cfg.Tiers)

	report := TurnReport{
		Turn:      turn,
		Scored:    len(ranked),
		TierASize: len(part.A),
		TierBSize: len(part.B),
		TierCSize: len(part.C),
	}

	p.monitor.StartTurn(turn, len(part.A), len(part.B))

	// Fallback is decided before any call is made. A fallback turn runs the
	// simulation purely on neutral defaults, which is what an empty store
	// produces, and still counts as a completed turn in the history.
	if p.monitor.ShouldFallback() {
		logging.Pipeline("turn %d: capability unhealthy, running on defaults", turn)
		p.store.Clear()
		report.FallbackUsed = true
		report.Metrics = p.monitor.EndTurn(true)
		report.Status = report.Metrics.FinalStatus
		report.Elapsed = time.Since(start)
		p.persistMetrics(report.Metrics)
		return report
	}

	facts := make(map[string]sim.EntityFacts, len(entities))
	for _, e := range entities {
		facts[e.ID] = e
	}
	batchA := assess.BuildBatch(scoring.TierA, part.A, facts, &env)
	batchB := assess.BuildBatch(scoring.TierB, part.B, facts, &env)

	result := p.orch.Execute(ctx, turn, batchA, batchB)
	report.TierSuccess = result.TierSuccess
	report.Errors = result.Errors

	// Publication is all-or-whatever-validated, never stale: the previous
	// turn's assessments are discarded even when this turn produced none.
	p.store.Rebuild(result.Assessments)
	report.Assessed = p.store.Len()

	report.Metrics = p.monitor.EndTurn(false)
	report.Status = report.Metrics.FinalStatus
	report.Elapsed = time.Since(start)
	p.persistMetrics(report.Metrics)

	logging.Pipeline("turn %d: scored=%d tiers A/B/C=%d/%d/%d assessed=%d status=%s in %v",
		turn, report.Scored, report.TierASize, report.TierBSize, report.TierCSize,
		report.Assessed, report.Status, report.Elapsed)
	return report
}

func (p *Pipeline) persistMetrics(rec health.TurnMetrics) {
	if p.metrics == nil {
		return
	}
	if err := p.metrics.SaveTurnMetrics(rec); err != nil {
		logging.Telemetry("failed to persist turn metrics: %v", err)
	}
}
