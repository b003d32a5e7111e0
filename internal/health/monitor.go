// Package health tracks the reliability of the generation capability across
// turns and decides when the pipeline must run on deterministic defaults.
// The monitor is the only governance state that survives a turn; it is
// owned and updated solely by the single-threaded turn driver, so it needs
// no locking.
package health

import (
	"time"

	"github.com/google/uuid"

	"ecosim/internal/config"
	"ecosim/internal/logging"
)

// Status is the tri-state health signal.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CallOutcome is one capability call's result.
type CallOutcome struct {
	Success  bool
	Duration time.Duration
	Error    string
}

// TurnMetrics is the per-turn record bracketed by StartTurn/EndTurn.
type TurnMetrics struct {
	TurnID    string
	Turn      int
	TierASize int
	TierBSize int

	Attempts  int
	Successes int
	Calls     []CallOutcome

	FallbackUsed bool
	Duration     time.Duration
	FinalStatus  Status
	StartedAt    time.Time
}

// maxCallsPerTurn bounds the per-turn timing buffer. A governance pass makes
// at most two calls today; the headroom covers future tiers.
const maxCallsPerTurn = 16

// Monitor keeps rolling call outcomes and a bounded turn-status history,
// and derives the health signal from them.
type Monitor struct {
	cfg config.HealthConfig

	attempts            int
	successes           int
	consecutiveFailures int

	// recent is a ring of the last RollingWindow call outcomes.
	recent    []bool
	recentIdx int
	recentLen int

	// turnStatuses is a ring of the final status of recent turns.
	turnStatuses []Status
	turnIdx      int
	turnLen      int

	current *TurnMetrics
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(cfg config.HealthConfig) *Monitor {
	return &Monitor{
		cfg:          cfg,
		recent:       make([]bool, cfg.RollingWindow),
		turnStatuses: make([]Status, cfg.TurnHistory),
	}
}

// SeedTurnHistory replays persisted turn statuses (oldest first) so the
// history rules survive a process restart.
func (m *Monitor) SeedTurnHistory(statuses []Status) {
	for _, st := range statuses {
		m.pushTurnStatus(st)
	}
}

// StartTurn opens the metrics record for a new turn.
func (m *Monitor) StartTurn(turn, tierASize, tierBSize int) {
	m.current = &TurnMetrics{
		TurnID:    uuid.NewString(),
		Turn:      turn,
		TierASize: tierASize,
		TierBSize: tierBSize,
		StartedAt: time.Now(),
	}
}

// RecordCall folds one capability call outcome into the rolling state.
// Success resets the consecutive-failure counter; failure increments it.
func (m *Monitor) RecordCall(success bool, d time.Duration, callErr error) {
	m.attempts++
	if success {
		m.successes++
		m.consecutiveFailures = 0
	} else {
		m.consecutiveFailures++
	}

	m.recent[m.recentIdx] = success
	m.recentIdx = (m.recentIdx + 1) % len(m.recent)
	if m.recentLen < len(m.recent) {
		m.recentLen++
	}

	outcome := CallOutcome{Success: success, Duration: d}
	if callErr != nil {
		outcome.Error = callErr.Error()
	}
	if m.current != nil {
		m.current.Attempts++
		if success {
			m.current.Successes++
		}
		// Only the timing buffer is bounded; the counters always move.
		if len(m.current.Calls) < maxCallsPerTurn {
			m.current.Calls = append(m.current.Calls, outcome)
		}
	}

	if warn := config.ParseTimeout(m.cfg.TimingWarning, 0); warn > 0 && d > warn {
		logging.Health("slow capability call: %v (warning threshold %v)", d, warn)
	}
	if !success {
		logging.Health("capability call failed after %v: %v (consecutive=%d)", d, callErr, m.consecutiveFailures)
	}
}

// EndTurn finalizes and returns the turn's metrics record, folding the
// turn's final status into the history ring.
func (m *Monitor) EndTurn(fallbackUsed bool) TurnMetrics {
	if m.current == nil {
		return TurnMetrics{FinalStatus: m.Status()}
	}
	rec := *m.current
	rec.FallbackUsed = fallbackUsed
	rec.Duration = time.Since(rec.StartedAt)
	rec.FinalStatus = m.Status()
	m.pushTurnStatus(rec.FinalStatus)
	m.current = nil

	logging.Health("turn %d ended: status=%s attempts=%d successes=%d fallback=%v",
		rec.Turn, rec.FinalStatus, rec.Attempts, rec.Successes, fallbackUsed)
	return rec
}

// FailureRatio returns the failure fraction over the rolling call window.
func (m *Monitor) FailureRatio() float64 {
	if m.recentLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < m.recentLen; i++ {
		if !m.recent[i] {
			failures++
		}
	}
	return float64(failures) / float64(m.recentLen)
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (m *Monitor) ConsecutiveFailures() int { return m.consecutiveFailures }

// Attempts returns the lifetime attempt count.
func (m *Monitor) Attempts() int { return m.attempts }

// Status derives the tri-state health signal.
//
// UNHEALTHY: consecutive failures at the limit, or 3+ of the recent turns
// ended UNHEALTHY. DEGRADED: any recent UNHEALTHY turn, or the rolling
// failure ratio over the threshold once enough calls have been observed.
func (m *Monitor) Status() Status {
	unhealthyTurns := 0
	for i := 0; i < m.turnLen; i++ {
		if m.turnStatuses[i] == StatusUnhealthy {
			unhealthyTurns++
		}
	}

	if m.consecutiveFailures >= m.cfg.ConsecutiveFailureLimit || unhealthyTurns >= 3 {
		return StatusUnhealthy
	}
	if unhealthyTurns >= 1 {
		return StatusDegraded
	}
	if m.attempts > m.cfg.MinCallsForRatio && m.FailureRatio() > m.cfg.FailureRatioThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// ShouldFallback reports whether the pipeline must skip the capability this
// turn and run purely on defaults.
func (m *Monitor) ShouldFallback() bool {
	return m.consecutiveFailures >= m.cfg.FallbackConsecutive || m.Status() == StatusUnhealthy
}

func (m *Monitor) pushTurnStatus(st Status) {
	m.turnStatuses[m.turnIdx] = st
	m.turnIdx = (m.turnIdx + 1) % len(m.turnStatuses)
	if m.turnLen < len(m.turnStatuses) {
		m.turnLen++
	}
}
