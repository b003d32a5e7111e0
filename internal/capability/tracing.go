package capability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ecosim/internal/logging"
)

// CallTrace captures one complete capability interaction for telemetry.
type CallTrace struct {
	ID           string    `json:"id"`
	Turn         int       `json:"turn"`
	Tier         string    `json:"tier"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Response     string    `json:"response"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// TraceStore persists call traces. Storage backends vary; persistence
// failures are logged and swallowed, never surfaced to the caller.
type TraceStore interface {
	SaveCallTrace(trace *CallTrace) error
}

// OutcomeRecorder receives every call's outcome and latency. The health
// monitor implements this.
type OutcomeRecorder interface {
	RecordCall(success bool, d time.Duration, err error)
}

// TracingClient wraps any Client and reports every call to the health
// monitor and, optionally, a trace store. All orchestrator calls flow
// through this wrapper so the orchestrator itself stays free of
// bookkeeping.
type TracingClient struct {
	underlying Client
	store      TraceStore
	recorder   OutcomeRecorder

	// Attribution for this view of the client; see WithTier.
	turn int
	tier string
}

// NewTracingClient creates a tracing wrapper. store may be nil.
func NewTracingClient(underlying Client, recorder OutcomeRecorder, store TraceStore) *TracingClient {
	return &TracingClient{
		underlying: underlying,
		store:      store,
		recorder:   recorder,
	}
}

// WithTier returns a view of this client whose calls are attributed to the
// given turn and tier. The two concurrent tier calls each get their own
// view, so attribution never races.
func (tc *TracingClient) WithTier(turn int, tier string) *TracingClient {
	view := *tc
	view.turn = turn
	view.tier = tier
	return &view
}

// WithRecorder returns a view of this client whose outcomes go to r instead
// of the base recorder. The orchestrator collects each tier's outcome
// through such a view and replays it to the monitor once both tiers are
// done; the monitor itself is never called from a tier goroutine.
func (tc *TracingClient) WithRecorder(r OutcomeRecorder) *TracingClient {
	view := *tc
	view.recorder = r
	return &view
}

// Record forwards one call outcome to the base recorder.
func (tc *TracingClient) Record(success bool, d time.Duration, err error) {
	if tc.recorder != nil {
		tc.recorder.RecordCall(success, d, err)
	}
}

// Generate implements Client with tracing.
func (tc *TracingClient) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	logging.API("capability call started: tier=%s model=%s prompt_len=%d",
		tc.tier, req.Model, len(req.UserPrompt()))

	response, err := tc.underlying.Generate(ctx, req)
	elapsed := time.Since(start)

	if tc.recorder != nil {
		tc.recorder.RecordCall(err == nil, elapsed, err)
	}

	trace := &CallTrace{
		ID:           uuid.NewString(),
		Turn:         tc.turn,
		Tier:         tc.tier,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt(),
		UserPrompt:   req.UserPrompt(),
		Response:     response,
		DurationMs:   elapsed.Milliseconds(),
		Success:      err == nil,
		Timestamp:    start,
	}
	if err != nil {
		trace.ErrorMessage = err.Error()
		logging.APIError("capability call failed after %v: %v", elapsed, err)
	} else {
		logging.API("capability call finished in %v (%d bytes)", elapsed, len(response))
	}

	if tc.store != nil {
		if saveErr := tc.store.SaveCallTrace(trace); saveErr != nil {
			logging.APIError("failed to persist call trace: %v", saveErr)
		}
	}

	return response, err
}
