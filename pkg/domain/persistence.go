package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateMedication(Medication) (Medication, error)
	UpdateMedication(id string, mutator func(*Medication) error) (Medication, error)
	DeleteMedication(id string) error
	PutTrackingRecord(TrackingRecord) (TrackingRecord, error)
	FindMedication(id string) (Medication, bool)
	FindTrackingRecord(medicationID string, date Date, window TimeWindow) (TrackingRecord, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListMedications() []Medication
	FindMedication(id string) (Medication, bool)
	ListTrackingRecords() []TrackingRecord
	FindTrackingRecord(medicationID string, date Date, window TimeWindow) (TrackingRecord, bool)
}

// PersistentStore is the abstraction over durable backends consumed by the
// service layer. Implementations provide ACID single-node transactions with
// exclusive-write semantics; readers observe pre- or post-write state, never
// a partial write.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	// Version returns the monotonically increasing sequence number of the
	// last committed transaction. Pollers compare it against their
	// last-seen value to detect change.
	Version() uint64
	Close() error
}
