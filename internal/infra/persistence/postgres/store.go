// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics. Committed changes are applied row-wise inside one
// SQL transaction via the commit hook.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"medtrack/internal/infra/persistence/memory"
	"medtrack/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/medtrack?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS medications (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	dosage TEXT NOT NULL,
	time_window TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	window_end INTEGER NOT NULL,
	with_food BOOLEAN NOT NULL DEFAULT FALSE,
	notes TEXT,
	pills_remaining INTEGER NOT NULL,
	pills_per_dose INTEGER NOT NULL,
	low_stock_threshold INTEGER NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS medication_days (
	medication_id TEXT NOT NULL REFERENCES medications(id) ON DELETE CASCADE,
	day TEXT NOT NULL,
	PRIMARY KEY (medication_id, day)
);
CREATE TABLE IF NOT EXISTS tracking (
	medication_id TEXT NOT NULL REFERENCES medications(id) ON DELETE CASCADE,
	date TEXT NOT NULL,
	time_window TEXT NOT NULL,
	status TEXT NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL,
	pills_taken INTEGER NOT NULL DEFAULT 0,
	skip_reason TEXT NOT NULL DEFAULT '',
	skip_notes TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (medication_id, date, time_window)
);
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to a local default), applies the schema, and hydrates the in-memory state.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, domain.StorageError{Op: "open postgres", Err: err}
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.StorageError{Op: "ping postgres", Err: err}
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, domain.StorageError{Op: "create schema", Err: err}
		}
	}
	ms := memory.NewStore(engine)
	s := &Store{Store: ms, db: db}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	ms.SetCommitHook(s.apply)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load(ctx context.Context) error {
	snap := memory.Snapshot{
		Medications: map[string]domain.Medication{},
		Tracking:    map[string]domain.TrackingRecord{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, dosage, time_window, window_start, window_end,
		with_food, notes, pills_remaining, pills_per_dose, low_stock_threshold, active,
		created_at, updated_at FROM medications`)
	if err != nil {
		return domain.StorageError{Op: "select medications", Err: err}
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m domain.Medication
		var notes sql.NullString
		var start, end int
		if err := rows.Scan(&m.ID, &m.Name, &m.Dosage, &m.Window, &start, &end,
			&m.WithFood, &notes, &m.PillsRemaining, &m.PillsPerDose, &m.LowStockThreshold, &m.Active,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return domain.StorageError{Op: "scan medication", Err: err}
		}
		m.WindowStart = domain.ClockTime(start)
		m.WindowEnd = domain.ClockTime(end)
		if notes.Valid {
			n := notes.String
			m.Notes = &n
		}
		snap.Medications[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError{Op: "iterate medications", Err: err}
	}

	dayRows, err := s.db.QueryContext(ctx, `SELECT medication_id, day FROM medication_days`)
	if err != nil {
		return domain.StorageError{Op: "select medication days", Err: err}
	}
	defer func() { _ = dayRows.Close() }()
	for dayRows.Next() {
		var id string
		var day domain.Weekday
		if err := dayRows.Scan(&id, &day); err != nil {
			return domain.StorageError{Op: "scan medication day", Err: err}
		}
		m, ok := snap.Medications[id]
		if !ok {
			continue
		}
		m.Days = append(m.Days, day)
		snap.Medications[id] = m
	}
	if err := dayRows.Err(); err != nil {
		return domain.StorageError{Op: "iterate medication days", Err: err}
	}

	trackRows, err := s.db.QueryContext(ctx, `SELECT medication_id, date, time_window, status, taken_at,
		pills_taken, skip_reason, skip_notes, created_at, updated_at FROM tracking`)
	if err != nil {
		return domain.StorageError{Op: "select tracking", Err: err}
	}
	defer func() { _ = trackRows.Close() }()
	for trackRows.Next() {
		var r domain.TrackingRecord
		var skipNotes sql.NullString
		if err := trackRows.Scan(&r.MedicationID, &r.Date, &r.Window, &r.Status, &r.Timestamp,
			&r.PillsTaken, &r.SkipReason, &skipNotes, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return domain.StorageError{Op: "scan tracking record", Err: err}
		}
		if skipNotes.Valid {
			n := skipNotes.String
			r.SkipNotes = &n
		}
		snap.Tracking[r.SlotKey()] = r
	}
	if err := trackRows.Err(); err != nil {
		return domain.StorageError{Op: "iterate tracking", Err: err}
	}

	var versionStr string
	switch err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'version'`).Scan(&versionStr); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.StorageError{Op: "select version", Err: err}
	default:
		v, err := strconv.ParseUint(versionStr, 10, 64)
		if err != nil {
			return domain.StorageError{Op: "parse version", Err: err}
		}
		snap.Version = v
	}

	if len(snap.Medications) > 0 || len(snap.Tracking) > 0 || snap.Version > 0 {
		s.ImportState(snap)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, changes []domain.Change, snap memory.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for _, change := range changes {
		if err := applyChange(ctx, tx, change); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('version', $1)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		strconv.FormatUint(snap.Version, 10)); err != nil {
		return domain.StorageError{Op: "write version", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func applyChange(ctx context.Context, tx *sql.Tx, change domain.Change) error {
	switch change.Entity {
	case domain.EntityMedication:
		if change.Action == domain.ActionDelete {
			med, ok := change.Before.(domain.Medication)
			if !ok {
				return domain.StorageError{Op: "delete medication", Err: errors.New("malformed change payload")}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM medications WHERE id = $1`, med.ID); err != nil {
				return domain.StorageError{Op: "delete medication", Err: err}
			}
			return nil
		}
		med, ok := change.After.(domain.Medication)
		if !ok {
			return domain.StorageError{Op: "upsert medication", Err: errors.New("malformed change payload")}
		}
		return upsertMedication(ctx, tx, med)
	case domain.EntityTrackingRecord:
		if change.Action == domain.ActionDelete {
			rec, ok := change.Before.(domain.TrackingRecord)
			if !ok {
				return domain.StorageError{Op: "delete tracking record", Err: errors.New("malformed change payload")}
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM tracking WHERE medication_id = $1 AND date = $2 AND time_window = $3`,
				rec.MedicationID, string(rec.Date), string(rec.Window)); err != nil {
				return domain.StorageError{Op: "delete tracking record", Err: err}
			}
			return nil
		}
		rec, ok := change.After.(domain.TrackingRecord)
		if !ok {
			return domain.StorageError{Op: "upsert tracking record", Err: errors.New("malformed change payload")}
		}
		return upsertTracking(ctx, tx, rec)
	}
	return nil
}

func upsertMedication(ctx context.Context, tx *sql.Tx, m domain.Medication) error {
	var notes any
	if m.Notes != nil {
		notes = *m.Notes
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO medications
		(id, name, dosage, time_window, window_start, window_end, with_food, notes,
		 pills_remaining, pills_per_dose, low_stock_threshold, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			dosage = excluded.dosage,
			time_window = excluded.time_window,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			with_food = excluded.with_food,
			notes = excluded.notes,
			pills_remaining = excluded.pills_remaining,
			pills_per_dose = excluded.pills_per_dose,
			low_stock_threshold = excluded.low_stock_threshold,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		m.ID, m.Name, m.Dosage, string(m.Window), int(m.WindowStart), int(m.WindowEnd),
		m.WithFood, notes, m.PillsRemaining, m.PillsPerDose, m.LowStockThreshold,
		m.Active, m.CreatedAt.UTC(), m.UpdatedAt.UTC()); err != nil {
		return domain.StorageError{Op: "upsert medication", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM medication_days WHERE medication_id = $1`, m.ID); err != nil {
		return domain.StorageError{Op: "replace medication days", Err: err}
	}
	for _, day := range m.Days {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO medication_days (medication_id, day) VALUES ($1, $2)`, m.ID, string(day)); err != nil {
			return domain.StorageError{Op: "insert medication day", Err: err}
		}
	}
	return nil
}

func upsertTracking(ctx context.Context, tx *sql.Tx, r domain.TrackingRecord) error {
	var skipNotes any
	if r.SkipNotes != nil {
		skipNotes = *r.SkipNotes
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tracking
		(medication_id, date, time_window, status, taken_at, pills_taken,
		 skip_reason, skip_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (medication_id, date, time_window) DO UPDATE SET
			status = excluded.status,
			taken_at = excluded.taken_at,
			pills_taken = excluded.pills_taken,
			skip_reason = excluded.skip_reason,
			skip_notes = excluded.skip_notes,
			updated_at = excluded.updated_at`,
		r.MedicationID, string(r.Date), string(r.Window), string(r.Status),
		r.Timestamp.UTC(), r.PillsTaken, string(r.SkipReason), skipNotes,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC()); err != nil {
		return domain.StorageError{Op: "upsert tracking record", Err: err}
	}
	return nil
}
