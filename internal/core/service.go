package core

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"medtrack/internal/infra/persistence/memory"
	"medtrack/pkg/domain"
)

// DefaultReminderBuffer widens every dose window on both sides when deciding
// what is due now and when a slot counts as elapsed.
const DefaultReminderBuffer = 30 * time.Minute

// Service exposes the transactional operation surface consumed by both
// callers: the polling display loop and the on-demand configuration
// interface. Every mutating operation runs inside one store transaction.
type Service struct {
	store   PersistentStore
	log     *zap.Logger
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
	buffer  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs a structured logger (defaults to a nop logger).
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetricsRecorder installs an operation metrics sink.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithTracer installs an operation tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithClock overrides the wall clock used for operation defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReminderBuffer overrides the due-window buffer.
func WithReminderBuffer(buffer time.Duration) Option {
	return func(s *Service) {
		if buffer >= 0 {
			s.buffer = buffer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    zap.NewNop(),
		now:    time.Now,
		buffer: DefaultReminderBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine. Intended for tests and ephemeral deployments.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Version returns the sequence number of the last committed transaction.
// Pollers compare it against their last-seen value instead of timestamps.
func (s *Service) Version() uint64 { return s.store.Version() }

// ReminderBuffer returns the configured due-window buffer.
func (s *Service) ReminderBuffer() time.Duration { return s.buffer }

// run wraps an operation with tracing, metrics, and logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	started := time.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, op)
	}
	err := fn(ctx)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	}
	if err != nil {
		s.log.Warn("operation failed", zap.String("op", op), zap.Error(err))
	} else {
		s.log.Debug("operation complete", zap.String("op", op))
	}
	return err
}

// CreateMedication validates and persists a new medication.
func (s *Service) CreateMedication(ctx context.Context, med Medication) (Medication, Result, error) {
	var created Medication
	var res Result
	err := s.run(ctx, "create_medication", func(ctx context.Context) error {
		if err := med.Validate(); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			created, txErr = tx.CreateMedication(med)
			return txErr
		})
		return err
	})
	return created, res, err
}

// UpdateMedication applies the mutator to the medication and re-validates the
// result before commit. A validation failure aborts the whole transaction, so
// edits are never partially applied.
func (s *Service) UpdateMedication(ctx context.Context, id string, mutator func(*Medication) error) (Medication, Result, error) {
	var updated Medication
	var res Result
	err := s.run(ctx, "update_medication", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var txErr error
			updated, txErr = tx.UpdateMedication(id, func(m *Medication) error {
				if err := mutator(m); err != nil {
					return err
				}
				return m.Validate()
			})
			return txErr
		})
		return err
	})
	return updated, res, err
}

// DeleteMedication removes a medication and, in the same transaction, every
// tracking record referencing it. No orphan rows survive.
func (s *Service) DeleteMedication(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_medication", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteMedication(id)
		})
		return err
	})
	return res, err
}

// GetMedication returns a single medication by id.
func (s *Service) GetMedication(ctx context.Context, id string) (Medication, error) {
	var med Medication
	err := s.run(ctx, "get_medication", func(ctx context.Context) error {
		return s.store.View(ctx, func(v TransactionView) error {
			m, ok := v.FindMedication(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityMedication, ID: id}
			}
			med = m
			return nil
		})
	})
	return med, err
}

// ListMedications returns medications sorted by name, then id. Inactive
// medications are included only on request.
func (s *Service) ListMedications(ctx context.Context, includeInactive bool) ([]Medication, error) {
	var out []Medication
	err := s.run(ctx, "list_medications", func(ctx context.Context) error {
		return s.store.View(ctx, func(v TransactionView) error {
			for _, m := range v.ListMedications() {
				if !includeInactive && !m.Active {
					continue
				}
				out = append(out, m)
			}
			sort.Slice(out, func(i, j int) bool {
				if out[i].Name != out[j].Name {
					return out[i].Name < out[j].Name
				}
				return out[i].ID < out[j].ID
			})
			return nil
		})
	})
	return out, err
}

// DueSlot identifies one scheduled, unactioned dose opportunity.
type DueSlot struct {
	Medication Medication `json:"medication"`
	Date       Date       `json:"date"`
	Window     TimeWindow `json:"time_window"`
}

// DueSlots returns the slots due at the given instant: active medication,
// scheduled today, inside the buffered window, and with no tracking record
// yet. Read-only and side-effect free; the polling caller invokes it every
// cycle. A single linear scan over medications, one map lookup each.
func (s *Service) DueSlots(ctx context.Context, now time.Time) ([]DueSlot, error) {
	if now.IsZero() {
		now = s.now()
	}
	date := domain.NewDate(now)
	var due []DueSlot
	err := s.run(ctx, "due_slots", func(ctx context.Context) error {
		return s.store.View(ctx, func(v TransactionView) error {
			for _, med := range v.ListMedications() {
				if !med.DueOn(now, s.buffer) {
					continue
				}
				if _, acted := v.FindTrackingRecord(med.ID, date, med.Window); acted {
					continue
				}
				due = append(due, DueSlot{Medication: med, Date: date, Window: med.Window})
			}
			sort.Slice(due, func(i, j int) bool {
				if due[i].Medication.WindowStart != due[j].Medication.WindowStart {
					return due[i].Medication.WindowStart < due[j].Medication.WindowStart
				}
				return due[i].Medication.ID < due[j].Medication.ID
			})
			return nil
		})
	})
	return due, err
}

// TakeOutcome reports the inventory state after a mark-taken operation.
type TakeOutcome struct {
	MedicationID   string `json:"medication_id"`
	PillsRemaining int    `json:"pills_remaining"`
	LowStock       bool   `json:"low_stock"`
}

// MarkTaken records a taken action for the slot. The transition, not the call
// count, drives inventory: the first transition into Taken decrements
// pills-per-dose within the same transaction; re-marking an already-taken
// slot is idempotent and performs no further mutation. A zero date or window
// defaults to today and the medication's configured window.
func (s *Service) MarkTaken(ctx context.Context, medicationID string, date Date, window TimeWindow, at time.Time) (TakeOutcome, Result, error) {
	if at.IsZero() {
		at = s.now()
	}
	var outcome TakeOutcome
	var res Result
	err := s.run(ctx, "mark_taken", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			med, ok := tx.FindMedication(medicationID)
			if !ok {
				return domain.NotFoundError{Entity: EntityMedication, ID: medicationID}
			}
			w := window
			if w == "" {
				w = med.Window
			}
			if !w.Valid() {
				return domain.ValidationError{Field: "time_window", Message: "unknown time window"}
			}
			d := date
			if d == "" {
				d = domain.NewDate(at)
			}
			if !d.Valid() {
				return domain.ValidationError{Field: "date", Message: "invalid date"}
			}

			if existing, acted := tx.FindTrackingRecord(med.ID, d, w); acted && existing.Status == StatusTaken {
				// Idempotent re-mark: report current inventory, change nothing.
				outcome = TakeOutcome{MedicationID: med.ID, PillsRemaining: med.PillsRemaining, LowStock: med.LowStock()}
				return nil
			}

			// Transition into Taken. If the slot was Skipped the single record
			// is overwritten in place, clearing the recorded skip reason.
			if _, err := tx.PutTrackingRecord(TrackingRecord{
				MedicationID: med.ID,
				Date:         d,
				Window:       w,
				Status:       StatusTaken,
				Timestamp:    at,
				PillsTaken:   med.PillsPerDose,
			}); err != nil {
				return err
			}

			remaining := med.PillsRemaining - med.PillsPerDose
			if remaining < 0 {
				remaining = 0
			}
			updated, err := tx.UpdateMedication(med.ID, func(m *Medication) error {
				m.PillsRemaining = remaining
				return nil
			})
			if err != nil {
				return err
			}
			outcome = TakeOutcome{MedicationID: updated.ID, PillsRemaining: updated.PillsRemaining, LowStock: updated.LowStock()}
			return nil
		})
		return err
	})
	return outcome, res, err
}

// BatchOutcome is the per-id result of a batch mark-taken.
type BatchOutcome struct {
	MedicationID   string `json:"medication_id"`
	PillsRemaining int    `json:"pills_remaining"`
	LowStock       bool   `json:"low_stock"`
	Err            error  `json:"-"`
}

// MarkTakenBatch applies MarkTaken independently per id. Each id is its own
// atomic unit: a missing medication is reported in its outcome and never
// aborts the remainder of the batch.
func (s *Service) MarkTakenBatch(ctx context.Context, medicationIDs []string, at time.Time) ([]BatchOutcome, error) {
	if len(medicationIDs) == 0 || len(medicationIDs) > domain.MaxBatchSize {
		return nil, domain.ValidationError{Field: "medication_ids", Message: "must specify between 1 and 20 medication ids"}
	}
	if at.IsZero() {
		at = s.now()
	}
	outcomes := make([]BatchOutcome, 0, len(medicationIDs))
	err := s.run(ctx, "mark_taken_batch", func(ctx context.Context) error {
		for _, id := range medicationIDs {
			taken, _, err := s.MarkTaken(ctx, id, "", "", at)
			if err != nil {
				outcomes = append(outcomes, BatchOutcome{MedicationID: id, Err: err})
				continue
			}
			outcomes = append(outcomes, BatchOutcome{
				MedicationID:   taken.MedicationID,
				PillsRemaining: taken.PillsRemaining,
				LowStock:       taken.LowStock,
			})
		}
		return nil
	})
	return outcomes, err
}

// MarkSkipped records a skipped action for the slot. Inventory is never
// mutated: in particular, re-marking a Taken slot as Skipped performs no
// inventory reversal, because the pills were already physically dispensed.
func (s *Service) MarkSkipped(ctx context.Context, medicationID string, date Date, window TimeWindow, reason SkipReason, notes *string, at time.Time) (Result, error) {
	if at.IsZero() {
		at = s.now()
	}
	var res Result
	err := s.run(ctx, "mark_skipped", func(ctx context.Context) error {
		if err := domain.ValidateSkip(reason, notes); err != nil {
			return err
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			med, ok := tx.FindMedication(medicationID)
			if !ok {
				return domain.NotFoundError{Entity: EntityMedication, ID: medicationID}
			}
			w := window
			if w == "" {
				w = med.Window
			}
			if !w.Valid() {
				return domain.ValidationError{Field: "time_window", Message: "unknown time window"}
			}
			d := date
			if d == "" {
				d = domain.NewDate(at)
			}
			if !d.Valid() {
				return domain.ValidationError{Field: "date", Message: "invalid date"}
			}
			_, err := tx.PutTrackingRecord(TrackingRecord{
				MedicationID: med.ID,
				Date:         d,
				Window:       w,
				Status:       StatusSkipped,
				Timestamp:    at,
				PillsTaken:   0,
				SkipReason:   reason,
				SkipNotes:    notes,
			})
			return err
		})
		return err
	})
	return res, err
}

// LowStockItem is a medication at or below its low-stock threshold.
type LowStockItem struct {
	Medication    Medication `json:"medication"`
	DaysRemaining float64    `json:"days_remaining"`
}

// ListLowStock returns active medications whose inventory is at or below the
// configured threshold, lowest inventory first. Low-stock status is always
// recomputed from current values, never cached.
func (s *Service) ListLowStock(ctx context.Context) ([]LowStockItem, error) {
	var out []LowStockItem
	err := s.run(ctx, "list_low_stock", func(ctx context.Context) error {
		return s.store.View(ctx, func(v TransactionView) error {
			for _, med := range v.ListMedications() {
				if !med.Active || !med.LowStock() {
					continue
				}
				out = append(out, LowStockItem{Medication: med, DaysRemaining: med.DaysRemaining()})
			}
			sort.Slice(out, func(i, j int) bool {
				if out[i].Medication.PillsRemaining != out[j].Medication.PillsRemaining {
					return out[i].Medication.PillsRemaining < out[j].Medication.PillsRemaining
				}
				return out[i].Medication.ID < out[j].Medication.ID
			})
			return nil
		})
	})
	return out, err
}

// TrackingHistory returns tracking records, optionally filtered by medication
// and date range, newest first. A medication filter referencing a missing id
// is a NotFoundError, never an empty result standing in for stale data.
func (s *Service) TrackingHistory(ctx context.Context, medicationID string, start, end Date) ([]TrackingRecord, error) {
	var out []TrackingRecord
	err := s.run(ctx, "tracking_history", func(ctx context.Context) error {
		if err := validateOptionalRange(start, end); err != nil {
			return err
		}
		return s.store.View(ctx, func(v TransactionView) error {
			if medicationID != "" {
				if _, ok := v.FindMedication(medicationID); !ok {
					return domain.NotFoundError{Entity: EntityMedication, ID: medicationID}
				}
			}
			for _, rec := range v.ListTrackingRecords() {
				if medicationID != "" && rec.MedicationID != medicationID {
					continue
				}
				if start != "" && rec.Date.Before(start) {
					continue
				}
				if end != "" && rec.Date.After(end) {
					continue
				}
				out = append(out, rec)
			}
			sort.Slice(out, func(i, j int) bool {
				if out[i].Date != out[j].Date {
					return out[i].Date.After(out[j].Date)
				}
				return out[i].Timestamp.After(out[j].Timestamp)
			})
			return nil
		})
	})
	return out, err
}

// SkipHistory returns only skipped records, newest first, with the same
// filters as TrackingHistory.
func (s *Service) SkipHistory(ctx context.Context, medicationID string, start, end Date) ([]TrackingRecord, error) {
	records, err := s.TrackingHistory(ctx, medicationID, start, end)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.Status == StatusSkipped {
			out = append(out, rec)
		}
	}
	return out, nil
}

func validateOptionalRange(start, end Date) error {
	if start != "" && !start.Valid() {
		return domain.ValidationError{Field: "start_date", Message: "invalid date"}
	}
	if end != "" && !end.Valid() {
		return domain.ValidationError{Field: "end_date", Message: "invalid date"}
	}
	if start != "" && end != "" && end.Before(start) {
		return domain.ValidationError{Field: "date_range", Message: "end date precedes start date"}
	}
	return nil
}
