// Package sqlite persists the in-memory store to an embedded SQLite file.
// Each committed transaction's change list is applied row-wise inside one SQL
// transaction via the commit hook, so a write failure aborts the in-memory
// commit as well.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"medtrack/internal/infra/persistence/memory"
	"medtrack/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS medications (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	dosage TEXT NOT NULL,
	time_window TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	window_end INTEGER NOT NULL,
	with_food INTEGER NOT NULL DEFAULT 0,
	notes TEXT,
	pills_remaining INTEGER NOT NULL,
	pills_per_dose INTEGER NOT NULL,
	low_stock_threshold INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
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
	taken_at TEXT NOT NULL,
	pills_taken INTEGER NOT NULL DEFAULT 0,
	skip_reason TEXT NOT NULL DEFAULT '',
	skip_notes TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (medication_id, date, time_window)
);
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const timeLayout = time.RFC3339Nano

// Store is a durable persistent store backed by a SQLite file.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path, hydrates the in-memory
// state from it, and wires durable writes into the commit path.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "medtrack.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, domain.StorageError{Op: "create dirs", Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.StorageError{Op: "open sqlite", Err: err}
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, domain.StorageError{Op: "set pragmas", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, domain.StorageError{Op: "create schema", Err: err}
	}
	ms := memory.NewStore(engine)
	s := &Store{Store: ms, db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	ms.SetCommitHook(s.apply)
	return s, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for integration tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load() error {
	snap := memory.Snapshot{
		Medications: map[string]domain.Medication{},
		Tracking:    map[string]domain.TrackingRecord{},
	}

	if err := s.loadMedications(&snap); err != nil {
		return err
	}
	if err := s.loadDays(&snap); err != nil {
		return err
	}
	if err := s.loadTracking(&snap); err != nil {
		return err
	}

	var versionStr string
	switch err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'version'`).Scan(&versionStr); {
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

func (s *Store) loadMedications(snap *memory.Snapshot) error {
	rows, err := s.db.Query(`SELECT id, name, dosage, time_window, window_start, window_end,
		with_food, notes, pills_remaining, pills_per_dose, low_stock_threshold, active,
		created_at, updated_at FROM medications`)
	if err != nil {
		return domain.StorageError{Op: "select medications", Err: err}
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var m domain.Medication
		var notes sql.NullString
		var withFood, active, start, end int
		var created, updated string
		if err := rows.Scan(&m.ID, &m.Name, &m.Dosage, &m.Window, &start, &end,
			&withFood, &notes, &m.PillsRemaining, &m.PillsPerDose, &m.LowStockThreshold, &active,
			&created, &updated); err != nil {
			return domain.StorageError{Op: "scan medication", Err: err}
		}
		m.WindowStart = domain.ClockTime(start)
		m.WindowEnd = domain.ClockTime(end)
		m.WithFood = withFood != 0
		m.Active = active != 0
		if notes.Valid {
			n := notes.String
			m.Notes = &n
		}
		if m.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return domain.StorageError{Op: "parse medication created_at", Err: err}
		}
		if m.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return domain.StorageError{Op: "parse medication updated_at", Err: err}
		}
		snap.Medications[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError{Op: "iterate medications", Err: err}
	}
	return nil
}

func (s *Store) loadDays(snap *memory.Snapshot) error {
	rows, err := s.db.Query(`SELECT medication_id, day FROM medication_days ORDER BY medication_id, day`)
	if err != nil {
		return domain.StorageError{Op: "select medication days", Err: err}
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		var day domain.Weekday
		if err := rows.Scan(&id, &day); err != nil {
			return domain.StorageError{Op: "scan medication day", Err: err}
		}
		m, ok := snap.Medications[id]
		if !ok {
			continue
		}
		m.Days = append(m.Days, day)
		snap.Medications[id] = m
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError{Op: "iterate medication days", Err: err}
	}
	return nil
}

func (s *Store) loadTracking(snap *memory.Snapshot) error {
	rows, err := s.db.Query(`SELECT medication_id, date, time_window, status, taken_at,
		pills_taken, skip_reason, skip_notes, created_at, updated_at FROM tracking`)
	if err != nil {
		return domain.StorageError{Op: "select tracking", Err: err}
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var r domain.TrackingRecord
		var skipNotes sql.NullString
		var takenAt, created, updated string
		if err := rows.Scan(&r.MedicationID, &r.Date, &r.Window, &r.Status, &takenAt,
			&r.PillsTaken, &r.SkipReason, &skipNotes, &created, &updated); err != nil {
			return domain.StorageError{Op: "scan tracking record", Err: err}
		}
		if skipNotes.Valid {
			n := skipNotes.String
			r.SkipNotes = &n
		}
		if r.Timestamp, err = time.Parse(timeLayout, takenAt); err != nil {
			return domain.StorageError{Op: "parse tracking taken_at", Err: err}
		}
		if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return domain.StorageError{Op: "parse tracking created_at", Err: err}
		}
		if r.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return domain.StorageError{Op: "parse tracking updated_at", Err: err}
		}
		snap.Tracking[r.SlotKey()] = r
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError{Op: "iterate tracking", Err: err}
	}
	return nil
}

// apply runs as the commit hook: the transaction's changes and the new version
// are written inside one SQL transaction.
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
		`INSERT INTO metadata(key, value) VALUES('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
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
			// Tracking rows go with it via ON DELETE CASCADE.
			if _, err := tx.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, med.ID); err != nil {
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
				`DELETE FROM tracking WHERE medication_id = ? AND date = ? AND time_window = ?`,
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
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
		boolInt(m.WithFood), notes, m.PillsRemaining, m.PillsPerDose, m.LowStockThreshold,
		boolInt(m.Active), m.CreatedAt.Format(timeLayout), m.UpdatedAt.Format(timeLayout)); err != nil {
		return domain.StorageError{Op: "upsert medication", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM medication_days WHERE medication_id = ?`, m.ID); err != nil {
		return domain.StorageError{Op: "replace medication days", Err: err}
	}
	for _, day := range m.Days {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO medication_days (medication_id, day) VALUES (?, ?)`, m.ID, string(day)); err != nil {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(medication_id, date, time_window) DO UPDATE SET
			status = excluded.status,
			taken_at = excluded.taken_at,
			pills_taken = excluded.pills_taken,
			skip_reason = excluded.skip_reason,
			skip_notes = excluded.skip_notes,
			updated_at = excluded.updated_at`,
		r.MedicationID, string(r.Date), string(r.Window), string(r.Status),
		r.Timestamp.Format(timeLayout), r.PillsTaken, string(r.SkipReason), skipNotes,
		r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout)); err != nil {
		return domain.StorageError{Op: "upsert tracking record", Err: err}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
