// Package telemetry persists per-turn governance metrics and full capability
// call traces to a local SQLite database. Persistence is observational:
// failures here are logged and swallowed, never fed back into the pipeline.
package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ecosim/internal/capability"
	"ecosim/internal/health"
	"ecosim/internal/logging"
)

// Store manages the telemetry database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewStore creates or opens the telemetry store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turn_metrics (
		turn_id TEXT PRIMARY KEY,
		turn INTEGER NOT NULL,
		tier_a_size INTEGER NOT NULL,
		tier_b_size INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		calls_json TEXT,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		final_status TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_metrics_turn ON turn_metrics(turn);

	CREATE TABLE IF NOT EXISTS call_traces (
		id TEXT PRIMARY KEY,
		turn INTEGER NOT NULL,
		tier TEXT NOT NULL,
		model TEXT NOT NULL,
		system_prompt TEXT,
		user_prompt TEXT,
		response TEXT,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_traces_turn ON call_traces(turn);

	CREATE TABLE IF NOT EXISTS repair_corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn INTEGER NOT NULL,
		parent_id TEXT NOT NULL,
		correction TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_repair_parent ON repair_corrections(parent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveTurnMetrics persists one turn's metrics record.
func (s *Store) SaveTurnMetrics(rec health.TurnMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callsJSON, _ := json.Marshal(rec.Calls)

	_, err := s.db.Exec(`
		INSERT INTO turn_metrics (turn_id, turn, tier_a_size, tier_b_size,
			attempts, successes, calls_json, fallback_used, duration_ms,
			final_status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(turn_id) DO NOTHING
	`, rec.TurnID, rec.Turn, rec.TierASize, rec.TierBSize,
		rec.Attempts, rec.Successes, string(callsJSON), boolToInt(rec.FallbackUsed),
		rec.Duration.Milliseconds(), string(rec.FinalStatus), rec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save turn metrics: %w", err)
	}
	return nil
}

// RecentTurnStatuses returns the final statuses of the last n turns, oldest
// first, for seeding the health monitor on restart.
func (s *Store) RecentTurnStatuses(n int) ([]health.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT final_status FROM (
			SELECT final_status, turn FROM turn_metrics ORDER BY turn DESC LIMIT ?
		) ORDER BY turn ASC
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn statuses: %w", err)
	}
	defer rows.Close()

	var statuses []health.Status
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		statuses = append(statuses, health.Status(st))
	}
	return statuses, rows.Err()
}

// SaveCallTrace persists one capability interaction.
func (s *Store) SaveCallTrace(trace *capability.CallTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO call_traces (id, turn, tier, model, system_prompt,
			user_prompt, response, duration_ms, success, error_message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trace.ID, trace.Turn, trace.Tier, trace.Model, trace.SystemPrompt,
		trace.UserPrompt, trace.Response, trace.DurationMs,
		boolToInt(trace.Success), trace.ErrorMessage, trace.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save call trace: %w", err)
	}
	return nil
}

// SaveRepairCorrections persists the corrections emitted by one constraint
// repair run. Best effort; callers treat errors as log-only.
func (s *Store) SaveRepairCorrections(turn int, parentID string, corrections []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, c := range corrections {
		if _, err := tx.Exec(`
			INSERT INTO repair_corrections (turn, parent_id, correction, created_at)
			VALUES (?, ?, ?, ?)
		`, turn, parentID, c, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save repair correction: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Telemetry("persisted %d repair corrections for %s", len(corrections), parentID)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
