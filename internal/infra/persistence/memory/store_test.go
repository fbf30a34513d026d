package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"medtrack/pkg/domain"
)

func testMedication(name string) domain.Medication {
	return domain.Medication{
		Name:              name,
		Dosage:            "10mg",
		Window:            domain.WindowMorning,
		WindowStart:       domain.MustClockTime("06:00"),
		WindowEnd:         domain.MustClockTime("10:00"),
		Days:              []domain.Weekday{domain.Monday, domain.Wednesday},
		PillsRemaining:    30,
		PillsPerDose:      1,
		LowStockThreshold: 5,
		Active:            true,
	}
}

func createMedication(t *testing.T, store *Store, med domain.Medication) domain.Medication {
	t.Helper()
	var created domain.Medication
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateMedication(med)
		return err
	})
	if err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return created
}

func TestCreateAssignsIdentityAndTimestamps(t *testing.T) {
	store := NewStore(nil)
	created := createMedication(t, store, testMedication("Lisinopril"))
	if created.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be stamped")
	}
}

func TestVersionIncrementsPerCommit(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if store.Version() != 0 {
		t.Fatalf("fresh store version = %d, want 0", store.Version())
	}
	res, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(testMedication("A"))
		return err
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("first commit version = %d, want 1", res.Version)
	}
	res, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(testMedication("B"))
		return err
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Version != 2 || store.Version() != 2 {
		t.Fatalf("second commit version = %d store = %d, want 2", res.Version, store.Version())
	}
}

func TestFailedTransactionLeavesStateAndVersionUntouched(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	createMedication(t, store, testMedication("A"))

	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMedication(testMedication("B")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if store.Version() != 1 {
		t.Fatalf("version advanced on failed transaction")
	}
	if err := store.View(ctx, func(v domain.TransactionView) error {
		if len(v.ListMedications()) != 1 {
			t.Fatalf("state mutated by failed transaction")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateMedicationNotFound(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateMedication("missing", func(*domain.Medication) error { return nil })
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestPutTrackingRecordEnforcesReferentialIntegrity(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutTrackingRecord(domain.TrackingRecord{
			MedicationID: "ghost",
			Date:         "2026-03-02",
			Window:       domain.WindowMorning,
			Status:       domain.StatusTaken,
		})
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError for dangling medication, got %v", err)
	}
}

func TestPutTrackingRecordUpsertsSingleSlot(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	med := createMedication(t, store, testMedication("A"))

	rec := domain.TrackingRecord{
		MedicationID: med.ID,
		Date:         "2026-03-02",
		Window:       domain.WindowMorning,
		Status:       domain.StatusSkipped,
		SkipReason:   domain.SkipForgot,
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.PutTrackingRecord(rec)
		return err
	}); err != nil {
		t.Fatalf("first put: %v", err)
	}

	rec.Status = domain.StatusTaken
	rec.SkipReason = ""
	rec.PillsTaken = 1
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.PutTrackingRecord(rec)
		return err
	}); err != nil {
		t.Fatalf("overwrite put: %v", err)
	}

	if err := store.View(ctx, func(v domain.TransactionView) error {
		records := v.ListTrackingRecords()
		if len(records) != 1 {
			t.Fatalf("expected one record per slot, got %d", len(records))
		}
		if records[0].Status != domain.StatusTaken || records[0].PillsTaken != 1 {
			t.Fatalf("overwrite not applied: %+v", records[0])
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestDeleteMedicationCascadesTracking(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	med := createMedication(t, store, testMedication("A"))

	for i := 0; i < 10; i++ {
		date := domain.NewDate(time.Date(2026, 3, 2+i, 0, 0, 0, 0, time.Local))
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.PutTrackingRecord(domain.TrackingRecord{
				MedicationID: med.ID,
				Date:         date,
				Window:       domain.WindowMorning,
				Status:       domain.StatusTaken,
				PillsTaken:   1,
			})
			return err
		}); err != nil {
			t.Fatalf("put record %d: %v", i, err)
		}
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteMedication(med.ID)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := store.View(ctx, func(v domain.TransactionView) error {
		if got := len(v.ListTrackingRecords()); got != 0 {
			t.Fatalf("expected no orphan records, found %d", got)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCommitHookFailureAbortsCommit(t *testing.T) {
	store := NewStore(nil)
	hookErr := domain.StorageError{Op: "persist", Err: errors.New("disk gone")}
	store.SetCommitHook(func(context.Context, []domain.Change, Snapshot) error {
		return hookErr
	})

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(testMedication("A"))
		return err
	})
	if !domain.IsStorage(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if store.Version() != 0 {
		t.Fatalf("version advanced despite aborted commit")
	}
	if err := store.View(context.Background(), func(v domain.TransactionView) error {
		if len(v.ListMedications()) != 0 {
			t.Fatalf("state swapped despite aborted commit")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCommitHookReceivesChanges(t *testing.T) {
	store := NewStore(nil)
	var got []domain.Change
	store.SetCommitHook(func(_ context.Context, changes []domain.Change, snap Snapshot) error {
		got = changes
		if snap.Version != 1 {
			t.Errorf("snapshot version = %d, want 1", snap.Version)
		}
		return nil
	})

	createMedication(t, store, testMedication("A"))
	if len(got) != 1 || got[0].Entity != domain.EntityMedication || got[0].Action != domain.ActionCreate {
		t.Fatalf("unexpected change log: %+v", got)
	}
}

func TestWriteLockContentionSurfacesConcurrencyError(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	hold := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.RunInTransaction(ctx, func(domain.Transaction) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	_, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil })
	if !domain.IsConcurrency(err) {
		t.Fatalf("expected ConcurrencyError, got %v", err)
	}
	close(hold)
	wg.Wait()
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	med := createMedication(t, store, testMedication("A"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				_, err := tx.UpdateMedication(med.ID, func(m *domain.Medication) error {
					m.PillsRemaining--
					return nil
				})
				return err
			})
		}()
	}
	wg.Wait()

	if err := store.View(ctx, func(v domain.TransactionView) error {
		m, ok := v.FindMedication(med.ID)
		if !ok {
			t.Fatalf("medication missing")
		}
		if m.PillsRemaining != 25 {
			t.Fatalf("lost update: remaining = %d, want 25", m.PillsRemaining)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	med := createMedication(t, store, testMedication("A"))

	snap := store.ExportState()
	restored := NewStore(nil)
	restored.ImportState(snap)

	if restored.Version() != 1 {
		t.Fatalf("restored version = %d, want 1", restored.Version())
	}
	if err := restored.View(context.Background(), func(v domain.TransactionView) error {
		if _, ok := v.FindMedication(med.ID); !ok {
			t.Fatalf("medication lost in round trip")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
