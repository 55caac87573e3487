// Package store is the transactional persistence layer for alerts,
// maintenance logs, and sensor history: a pure-Go SQLite
// database opened with WAL pragmas, an idempotent CREATE IF NOT EXISTS
// schema setup, and a small Tx helper, in the shape the example pack uses for its own embedded
// SQLite stores.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/predmaint/alertcore/internal/apperr"
	"github.com/predmaint/alertcore/internal/lifecycle"
)

// Alert mirrors the persisted alerts row.
type Alert struct {
	ID               string
	MachineID        string
	AlertType        string
	Severity         string
	Message          string
	CreatedAt        time.Time
	State            string
	AcknowledgedBy   *string
	AcknowledgedAt   *time.Time
	ResolvedBy       *string
	ResolvedAt       *time.Time
	RootCause        *string
	ResolutionNotes  *string
	DowntimeMinutes  *int
	Metadata         map[string]any
}

// MaintenanceLog mirrors the persisted maintenance_logs row.
type MaintenanceLog struct {
	ID              string
	MachineID       string
	AlertID         string
	CreatedAt       time.Time
	ResolvedAt      time.Time
	Operator        string
	RootCause       string
	ResolutionNotes string
	DowntimeMinutes int
	Severity        string
	AlertType       string
	Metadata        map[string]any
}

// SensorHistoryRow mirrors an append-only sensor_history row.
type SensorHistoryRow struct {
	MachineID  string
	Timestamp  time.Time
	Sensors    map[string]float64
	HealthScore float64
	RulHours    float64
}

// Statistics is the aggregate payload behind GET /alerts/statistics.
type Statistics struct {
	ByState    map[string]int
	BySeverity map[string]int
	ByMachine  map[string]int
	Total      int
}

// Store opens (or creates) a SQLite database and implements every
// persistence contract the pipeline and lifecycle packages need.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens path (creating it and its schema if absent) and applies the
// same WAL/foreign-key pragmas used across the example pack's embedded
// SQLite stores.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock overrides the store's time source; used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Tx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Conflict, "commit transaction", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL,
			state TEXT NOT NULL,
			acknowledged_by TEXT,
			acknowledged_at TEXT,
			resolved_by TEXT,
			resolved_at TEXT,
			root_cause TEXT,
			resolution_notes TEXT,
			downtime_minutes INTEGER,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_machine_state ON alerts(machine_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS maintenance_logs (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			alert_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			resolved_at TEXT NOT NULL,
			operator TEXT NOT NULL,
			root_cause TEXT NOT NULL,
			resolution_notes TEXT NOT NULL,
			downtime_minutes INTEGER NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			metadata TEXT,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_machine_created ON maintenance_logs(machine_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_resolved_at ON maintenance_logs(resolved_at)`,
		`CREATE TABLE IF NOT EXISTS sensor_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			machine_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			sensors TEXT NOT NULL,
			health_score REAL,
			rul_hours REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_machine_ts ON sensor_history(machine_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: exec %q: %w", stmt, err)
		}
	}
	return nil
}

// HasActiveAlert reports whether (machineID, alertType) already has a row
// whose state is ACTIVE, ACKNOWLEDGED, or IN_PROGRESS.
func (s *Store) HasActiveAlert(ctx context.Context, machineID, alertType string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE machine_id = ? AND alert_type = ? AND state IN ('ACTIVE', 'ACKNOWLEDGED', 'IN_PROGRESS')
	`, machineID, alertType).Scan(&count)
	if err != nil {
		return false, apperr.Wrap(apperr.Unavailable, "query active alert", err)
	}
	return count > 0, nil
}

// CreateAlert performs a conditional insert: it fails with apperr.Duplicate
// if an active row for (machineID, alertType) already exists, enforcing
// the uniqueness invariant at the store boundary so a race between two
// concurrent Emit calls against different machine locks (which should not
// happen, since each is serialized under its own machine lock upstream,
// but the store does not trust callers) cannot
// produce two active rows.
func (s *Store) CreateAlert(ctx context.Context, machineID, alertType, severity, message string, metadata map[string]any) (string, error) {
	id := uuid.NewString()
	metaJSON, err := marshalMeta(metadata)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, "marshal metadata", err)
	}
	createdAt := s.now().UTC()

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM alerts
			WHERE machine_id = ? AND alert_type = ? AND state IN ('ACTIVE', 'ACKNOWLEDGED', 'IN_PROGRESS')
		`, machineID, alertType).Scan(&count); err != nil {
			return apperr.Wrap(apperr.Unavailable, "check active alert", err)
		}
		if count > 0 {
			return apperr.New(apperr.Duplicate, "active alert already exists")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (id, machine_id, alert_type, severity, message, created_at, state, metadata)
			VALUES (?, ?, ?, ?, ?, ?, 'ACTIVE', ?)
		`, id, machineID, alertType, severity, message, createdAt.Format(time.RFC3339Nano), metaJSON)
		if err != nil {
			return apperr.Wrap(apperr.Unavailable, "insert alert", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetAlert fetches a single alert row by ID, shaped for
// internal/lifecycle.Store.
func (s *Store) GetAlert(ctx context.Context, id string) (lifecycle.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, machine_id, alert_type, severity, state FROM alerts WHERE id = ?
	`, id)
	var a lifecycle.Alert
	if err := row.Scan(&a.ID, &a.MachineID, &a.AlertType, &a.Severity, &a.State); err != nil {
		if err == sql.ErrNoRows {
			return lifecycle.Alert{}, apperr.New(apperr.NotFound, "alert not found")
		}
		return lifecycle.Alert{}, apperr.Wrap(apperr.Unavailable, "query alert", err)
	}
	return a, nil
}

// Acknowledge performs the ACTIVE -> ACKNOWLEDGED transition. ok is false
// if the row's state had already changed (lost a race).
func (s *Store) Acknowledge(ctx context.Context, id, operatorID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET state = 'ACKNOWLEDGED', acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND state = 'ACTIVE'
	`, operatorID, at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, apperr.Wrap(apperr.Unavailable, "acknowledge alert", err)
	}
	return rowsAffected(res)
}

// StartWork performs the ACKNOWLEDGED -> IN_PROGRESS transition.
func (s *Store) StartWork(ctx context.Context, id, operatorID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET state = 'IN_PROGRESS' WHERE id = ? AND state = 'ACKNOWLEDGED'
	`, id)
	if err != nil {
		return false, apperr.Wrap(apperr.Unavailable, "start work", err)
	}
	return rowsAffected(res)
}

// Resolve performs the {ACKNOWLEDGED,IN_PROGRESS} -> RESOLVED transition
// and atomically inserts the matching maintenance log in the same
// transaction.
func (s *Store) Resolve(ctx context.Context, id, operatorID, rootCause, notes string, downtimeMinutes int, at time.Time) (bool, error) {
	ok := false
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		var machineID, alertType, severity, state string
		if err := tx.QueryRowContext(ctx, `
			SELECT machine_id, alert_type, severity, state FROM alerts WHERE id = ?
		`, id).Scan(&machineID, &alertType, &severity, &state); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.NotFound, "alert not found")
			}
			return apperr.Wrap(apperr.Unavailable, "query alert", err)
		}
		if state != "ACKNOWLEDGED" && state != "IN_PROGRESS" {
			return nil // ok stays false; lifecycle has already validated precondition before calling
		}

		atStr := at.UTC().Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx, `
			UPDATE alerts SET state = 'RESOLVED', resolved_by = ?, resolved_at = ?,
				root_cause = ?, resolution_notes = ?, downtime_minutes = ?
			WHERE id = ? AND state IN ('ACKNOWLEDGED', 'IN_PROGRESS')
		`, operatorID, atStr, rootCause, notes, downtimeMinutes, id)
		if err != nil {
			return apperr.Wrap(apperr.Unavailable, "resolve alert", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Wrap(apperr.Unavailable, "rows affected", err)
		}
		if n == 0 {
			return nil
		}

		logID := "LOG-" + id
		_, err = tx.ExecContext(ctx, `
			INSERT INTO maintenance_logs (
				id, machine_id, alert_id, created_at, resolved_at, operator,
				root_cause, resolution_notes, downtime_minutes, severity, alert_type
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, logID, machineID, id, atStr, atStr, operatorID, rootCause, notes, downtimeMinutes, severity, alertType)
		if err != nil {
			return apperr.Wrap(apperr.Unavailable, "insert maintenance log", err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// Archive performs the RESOLVED -> LOGGED transition.
func (s *Store) Archive(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET state = 'LOGGED' WHERE id = ? AND state = 'RESOLVED'
	`, id)
	if err != nil {
		return false, apperr.Wrap(apperr.Unavailable, "archive alert", err)
	}
	return rowsAffected(res)
}

// ArchiveOlderThan archives every RESOLVED alert whose resolved_at is
// before cutoff, used by the retention sweeper.
func (s *Store) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET state = 'LOGGED'
		WHERE state = 'RESOLVED' AND resolved_at < ?
	`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, apperr.Wrap(apperr.Unavailable, "archive sweep", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListAlerts returns alerts for machineID (or all machines when empty),
// optionally filtered to active states only.
func (s *Store) ListAlerts(ctx context.Context, machineID string, activeOnly bool) ([]Alert, error) {
	query := `SELECT id, machine_id, alert_type, severity, message, created_at, state,
		acknowledged_by, acknowledged_at, resolved_by, resolved_at,
		root_cause, resolution_notes, downtime_minutes, metadata FROM alerts WHERE 1=1`
	var args []any
	if machineID != "" {
		query += " AND machine_id = ?"
		args = append(args, machineID)
	}
	if activeOnly {
		query += " AND state IN ('ACTIVE', 'ACKNOWLEDGED', 'IN_PROGRESS')"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "list alerts", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Statistics returns fleet-wide alert counts by state, severity, and
// machine.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{ByState: map[string]int{}, BySeverity: map[string]int{}, ByMachine: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM alerts GROUP BY state`)
	if err != nil {
		return stats, apperr.Wrap(apperr.Unavailable, "state stats", err)
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return stats, apperr.Wrap(apperr.Unavailable, "scan state stats", err)
		}
		stats.ByState[state] = n
		stats.Total += n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM alerts GROUP BY severity`)
	if err != nil {
		return stats, apperr.Wrap(apperr.Unavailable, "severity stats", err)
	}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			rows.Close()
			return stats, apperr.Wrap(apperr.Unavailable, "scan severity stats", err)
		}
		stats.BySeverity[sev] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT machine_id, COUNT(*) FROM alerts GROUP BY machine_id`)
	if err != nil {
		return stats, apperr.Wrap(apperr.Unavailable, "machine stats", err)
	}
	for rows.Next() {
		var m string
		var n int
		if err := rows.Scan(&m, &n); err != nil {
			rows.Close()
			return stats, apperr.Wrap(apperr.Unavailable, "scan machine stats", err)
		}
		stats.ByMachine[m] = n
	}
	rows.Close()

	return stats, nil
}

// ListLogs returns maintenance logs for machineID resolved within the last
// days days.
func (s *Store) ListLogs(ctx context.Context, machineID string, days int) ([]MaintenanceLog, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	query := `SELECT id, machine_id, alert_id, created_at, resolved_at, operator,
		root_cause, resolution_notes, downtime_minutes, severity, alert_type, metadata
		FROM maintenance_logs WHERE resolved_at >= ?`
	args := []any{cutoff}
	if machineID != "" {
		query += " AND machine_id = ?"
		args = append(args, machineID)
	}
	query += " ORDER BY resolved_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "list logs", err)
	}
	defer rows.Close()

	var out []MaintenanceLog
	for rows.Next() {
		var l MaintenanceLog
		var createdAt, resolvedAt string
		var metaJSON sql.NullString
		if err := rows.Scan(&l.ID, &l.MachineID, &l.AlertID, &createdAt, &resolvedAt, &l.Operator,
			&l.RootCause, &l.ResolutionNotes, &l.DowntimeMinutes, &l.Severity, &l.AlertType, &metaJSON); err != nil {
			return nil, apperr.Wrap(apperr.Unavailable, "scan log", err)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		l.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt)
		l.Metadata = unmarshalMeta(metaJSON)
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecordSensorHistory appends an immutable sensor reading.
func (s *Store) RecordSensorHistory(ctx context.Context, row SensorHistoryRow) error {
	sensorsJSON, err := json.Marshal(row.Sensors)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "marshal sensors", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sensor_history (machine_id, timestamp, sensors, health_score, rul_hours)
		VALUES (?, ?, ?, ?, ?)
	`, row.MachineID, row.Timestamp.UTC().Format(time.RFC3339Nano), sensorsJSON, row.HealthScore, row.RulHours)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, "insert sensor history", err)
	}
	return nil
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.Unavailable, "rows affected", err)
	}
	return n > 0, nil
}

func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMeta(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(s.String), &m)
	return m
}

func scanAlert(rows *sql.Rows) (Alert, error) {
	var a Alert
	var createdAt string
	var ackBy, resBy, rootCause, notes sql.NullString
	var ackAt, resAt sql.NullString
	var downtime sql.NullInt64
	var metaJSON sql.NullString

	if err := rows.Scan(&a.ID, &a.MachineID, &a.AlertType, &a.Severity, &a.Message, &createdAt, &a.State,
		&ackBy, &ackAt, &resBy, &resAt, &rootCause, &notes, &downtime, &metaJSON); err != nil {
		return a, apperr.Wrap(apperr.Unavailable, "scan alert", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.AcknowledgedBy = nullableString(ackBy)
	a.AcknowledgedAt = nullableTime(ackAt)
	a.ResolvedBy = nullableString(resBy)
	a.ResolvedAt = nullableTime(resAt)
	a.RootCause = nullableString(rootCause)
	a.ResolutionNotes = nullableString(notes)
	if downtime.Valid {
		v := int(downtime.Int64)
		a.DowntimeMinutes = &v
	}
	a.Metadata = unmarshalMeta(metaJSON)
	return a, nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
