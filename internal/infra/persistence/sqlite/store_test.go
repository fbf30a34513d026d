package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"medtrack/pkg/domain"
)

func testMedication(id, name string) domain.Medication {
	notes := "with breakfast"
	return domain.Medication{
		Base:              domain.Base{ID: id},
		Name:              name,
		Dosage:            "10mg",
		Window:            domain.WindowMorning,
		WindowStart:       domain.MustClockTime("06:00"),
		WindowEnd:         domain.MustClockTime("10:00"),
		Days:              []domain.Weekday{domain.Monday, domain.Wednesday, domain.Friday},
		WithFood:          true,
		Notes:             &notes,
		PillsRemaining:    30,
		PillsPerDose:      1,
		LowStockThreshold: 5,
		Active:            true,
	}
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medtrack.db")
	store := openTestStore(t, path)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMedication(testMedication("med-1", "Lisinopril")); err != nil {
			return err
		}
		_, err := tx.PutTrackingRecord(domain.TrackingRecord{
			MedicationID: "med-1",
			Date:         "2026-01-05",
			Window:       domain.WindowMorning,
			Status:       domain.StatusTaken,
			Timestamp:    time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
			PillsTaken:   1,
		})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	version := store.Version()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	if got := reopened.Version(); got != version {
		t.Fatalf("version must survive reopen: got %d want %d", got, version)
	}
	if err := reopened.View(ctx, func(v domain.TransactionView) error {
		med, ok := v.FindMedication("med-1")
		if !ok {
			t.Fatalf("medication missing after reopen")
		}
		if med.Name != "Lisinopril" || !med.WithFood || med.Notes == nil || *med.Notes != "with breakfast" {
			t.Fatalf("medication fields lost: %+v", med)
		}
		days := map[domain.Weekday]bool{}
		for _, d := range med.Days {
			days[d] = true
		}
		if len(days) != 3 || !days[domain.Monday] || !days[domain.Wednesday] || !days[domain.Friday] {
			t.Fatalf("recurrence days lost: %v", med.Days)
		}
		if med.WindowStart != domain.MustClockTime("06:00") || med.WindowEnd != domain.MustClockTime("10:00") {
			t.Fatalf("window bounds lost: %v-%v", med.WindowStart, med.WindowEnd)
		}
		rec, ok := v.FindTrackingRecord("med-1", "2026-01-05", domain.WindowMorning)
		if !ok {
			t.Fatalf("tracking record missing after reopen")
		}
		if rec.Status != domain.StatusTaken || rec.PillsTaken != 1 {
			t.Fatalf("tracking fields lost: %+v", rec)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreDeleteCascadesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medtrack.db")
	store := openTestStore(t, path)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMedication(testMedication("med-1", "Lisinopril")); err != nil {
			return err
		}
		for _, date := range []domain.Date{"2026-01-05", "2026-01-07", "2026-01-09"} {
			if _, err := tx.PutTrackingRecord(domain.TrackingRecord{
				MedicationID: "med-1",
				Date:         date,
				Window:       domain.WindowMorning,
				Status:       domain.StatusTaken,
				Timestamp:    time.Now(),
				PillsTaken:   1,
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteMedication("med-1")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, table := range []string{"medications", "medication_days", "tracking"} {
		var count int
		if err := store.DB().QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("%s rows survived delete: %d", table, count)
		}
	}
}

func TestStoreSkipRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medtrack.db")
	store := openTestStore(t, path)
	ctx := context.Background()
	notes := "felt nauseous"

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMedication(testMedication("med-1", "Lisinopril")); err != nil {
			return err
		}
		_, err := tx.PutTrackingRecord(domain.TrackingRecord{
			MedicationID: "med-1",
			Date:         "2026-01-05",
			Window:       domain.WindowMorning,
			Status:       domain.StatusSkipped,
			Timestamp:    time.Now(),
			SkipReason:   domain.SkipSideEffects,
			SkipNotes:    &notes,
		})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	if err := reopened.View(ctx, func(v domain.TransactionView) error {
		rec, ok := v.FindTrackingRecord("med-1", "2026-01-05", domain.WindowMorning)
		if !ok {
			t.Fatalf("skip record missing")
		}
		if rec.SkipReason != domain.SkipSideEffects || rec.SkipNotes == nil || *rec.SkipNotes != notes {
			t.Fatalf("skip fields lost: %+v", rec)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreWriteFailureAbortsCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medtrack.db")
	store := openTestStore(t, path)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(testMedication("med-1", "Lisinopril"))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	version := store.Version()

	// Closing the handle makes the commit hook fail; the in-memory state and
	// version must be left untouched.
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(testMedication("med-2", "Metformin"))
		return err
	})
	if !domain.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if got := store.Version(); got != version {
		t.Fatalf("aborted commit bumped version %d -> %d", version, got)
	}
	if err := store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindMedication("med-2"); ok {
			t.Fatalf("aborted commit left entity in memory")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreDefaultPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "medtrack.db")
	store := openTestStore(t, path)
	if store.Path() != path {
		t.Fatalf("path: got %q", store.Path())
	}
}
