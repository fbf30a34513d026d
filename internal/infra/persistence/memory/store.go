// Package memory provides the in-memory transactional store that the durable
// backends build upon. Transactions run on a clone of the state; a commit
// swaps the state under an exclusive write token and bumps the store-wide
// version sequence.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"medtrack/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

const (
	// lockWait bounds a single attempt to acquire the write token.
	lockWait = 250 * time.Millisecond
	// lockAttempts bounds the number of acquisition attempts before a
	// ConcurrencyError surfaces to the caller.
	lockAttempts = 3
)

type state struct {
	medications map[string]domain.Medication
	tracking    map[string]domain.TrackingRecord
}

func newState() state {
	return state{
		medications: make(map[string]domain.Medication),
		tracking:    make(map[string]domain.TrackingRecord),
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.medications {
		cloned.medications[k] = cloneMedication(v)
	}
	for k, v := range s.tracking {
		cloned.tracking[k] = cloneRecord(v)
	}
	return cloned
}

func cloneMedication(m domain.Medication) domain.Medication {
	cp := m
	cp.Days = append([]domain.Weekday(nil), m.Days...)
	if m.Notes != nil {
		n := *m.Notes
		cp.Notes = &n
	}
	return cp
}

func cloneRecord(r domain.TrackingRecord) domain.TrackingRecord {
	cp := r
	if r.SkipNotes != nil {
		n := *r.SkipNotes
		cp.SkipNotes = &n
	}
	return cp
}

// Snapshot is the serialisable representation of the store state.
type Snapshot struct {
	Medications map[string]domain.Medication     `json:"medications"`
	Tracking    map[string]domain.TrackingRecord `json:"tracking"`
	Version     uint64                           `json:"version"`
}

func snapshotFromState(st state) Snapshot {
	snap := Snapshot{
		Medications: make(map[string]domain.Medication, len(st.medications)),
		Tracking:    make(map[string]domain.TrackingRecord, len(st.tracking)),
	}
	for k, v := range st.medications {
		snap.Medications[k] = cloneMedication(v)
	}
	for k, v := range st.tracking {
		snap.Tracking[k] = cloneRecord(v)
	}
	return snap
}

func stateFromSnapshot(snap Snapshot) state {
	st := newState()
	for k, v := range snap.Medications {
		st.medications[k] = cloneMedication(v)
	}
	for k, v := range snap.Tracking {
		st.tracking[k] = cloneRecord(v)
	}
	return st
}

// CommitHook runs inside the commit critical section, after rules pass and
// before the state swap. A non-nil error aborts the commit; durable backends
// use it to persist the transaction's changes atomically.
type CommitHook func(ctx context.Context, changes []domain.Change, snapshot Snapshot) error

// Store is the in-memory transactional store.
type Store struct {
	writeToken chan struct{}
	stateGate  chan struct{} // guards state/version swap against readers
	state      state
	version    uint64
	engine     *domain.RulesEngine
	nowFn      func() time.Time
	onCommit   CommitHook
}

// NewStore constructs a store with the supplied rules engine (nil means no
// rule evaluation).
func NewStore(engine *domain.RulesEngine) *Store {
	s := &Store{
		writeToken: make(chan struct{}, 1),
		stateGate:  make(chan struct{}, 1),
		state:      newState(),
		engine:     engine,
		nowFn:      func() time.Time { return time.Now() },
	}
	return s
}

// SetCommitHook installs the durable persistence hook. Must be called before
// the store is shared between goroutines.
func (s *Store) SetCommitHook(hook CommitHook) { s.onCommit = hook }

// SetNowFunc overrides the transaction clock. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) { s.nowFn = fn }

// RulesEngine returns the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

func (s *Store) acquireWrite(ctx context.Context, op string) error {
	for attempt := 0; attempt < lockAttempts; attempt++ {
		timer := time.NewTimer(lockWait)
		select {
		case s.writeToken <- struct{}{}:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return domain.ConcurrencyError{Op: op}
}

func (s *Store) releaseWrite() { <-s.writeToken }

func (s *Store) gate() func() {
	s.stateGate <- struct{}{}
	return func() { <-s.stateGate }
}

// RunInTransaction applies fn to a clone of the state, evaluates the rules
// engine over the result, runs the commit hook, and swaps the state in.
// Writers serialize on a bounded-wait token; exhausting the wait surfaces a
// retryable ConcurrencyError instead of blocking indefinitely.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	if err := s.acquireWrite(ctx, "run_in_transaction"); err != nil {
		return domain.Result{}, err
	}
	defer s.releaseWrite()

	release := s.gate()
	working := s.state.clone()
	release()

	tx := &transaction{store: s, state: working, now: s.nowFn()}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newView(&tx.state), tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	// A transaction that recorded no changes (an idempotent re-mark) commits
	// without bumping the sequence, so pollers see no spurious change.
	if len(tx.changes) == 0 {
		release = s.gate()
		result.Version = s.version
		release()
		return result, nil
	}

	next := s.version + 1
	if s.onCommit != nil {
		snap := snapshotFromState(tx.state)
		snap.Version = next
		if err := s.onCommit(ctx, tx.changes, snap); err != nil {
			return domain.Result{}, err
		}
	}

	release = s.gate()
	s.state = tx.state
	s.version = next
	release()

	result.Version = next
	return result, nil
}

// View runs fn over a read-only snapshot of the current state. Views never
// block writers and never observe a partially applied transaction.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	release := s.gate()
	snapshot := s.state.clone()
	release()
	return fn(newView(&snapshot))
}

// Version returns the sequence number of the last committed transaction.
func (s *Store) Version() uint64 {
	release := s.gate()
	defer release()
	return s.version
}

// ExportState returns a deep copy of the current state and version.
func (s *Store) ExportState() Snapshot {
	release := s.gate()
	defer release()
	snap := snapshotFromState(s.state)
	snap.Version = s.version
	return snap
}

// ImportState replaces the current state, e.g. when hydrating from a durable
// backend at startup.
func (s *Store) ImportState(snap Snapshot) {
	release := s.gate()
	defer release()
	s.state = stateFromSnapshot(snap)
	s.version = snap.Version
}

// Close satisfies domain.PersistentStore; the in-memory store holds no
// external resources.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   state
	changes []domain.Change
	now     time.Time
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) Snapshot() domain.TransactionView { return newView(&tx.state) }

func (tx *transaction) FindMedication(id string) (domain.Medication, bool) {
	m, ok := tx.state.medications[id]
	if !ok {
		return domain.Medication{}, false
	}
	return cloneMedication(m), true
}

func (tx *transaction) FindTrackingRecord(medicationID string, date domain.Date, window domain.TimeWindow) (domain.TrackingRecord, bool) {
	r, ok := tx.state.tracking[domain.SlotKey(medicationID, date, window)]
	if !ok {
		return domain.TrackingRecord{}, false
	}
	return cloneRecord(r), true
}

func (tx *transaction) CreateMedication(m domain.Medication) (domain.Medication, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, exists := tx.state.medications[m.ID]; exists {
		return domain.Medication{}, domain.ValidationError{Field: "id", Message: "medication already exists"}
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.medications[m.ID] = cloneMedication(m)
	tx.recordChange(domain.Change{Entity: domain.EntityMedication, Action: domain.ActionCreate, After: cloneMedication(m)})
	return cloneMedication(m), nil
}

func (tx *transaction) UpdateMedication(id string, mutator func(*domain.Medication) error) (domain.Medication, error) {
	current, ok := tx.state.medications[id]
	if !ok {
		return domain.Medication{}, domain.NotFoundError{Entity: domain.EntityMedication, ID: id}
	}
	before := cloneMedication(current)
	if err := mutator(&current); err != nil {
		return domain.Medication{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.medications[id] = cloneMedication(current)
	tx.recordChange(domain.Change{Entity: domain.EntityMedication, Action: domain.ActionUpdate, Before: before, After: cloneMedication(current)})
	return cloneMedication(current), nil
}

func (tx *transaction) DeleteMedication(id string) error {
	current, ok := tx.state.medications[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityMedication, ID: id}
	}
	// Cascade: the ledger never holds records for a missing medication.
	keys := make([]string, 0)
	for key, rec := range tx.state.tracking {
		if rec.MedicationID == id {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		rec := tx.state.tracking[key]
		delete(tx.state.tracking, key)
		tx.recordChange(domain.Change{Entity: domain.EntityTrackingRecord, Action: domain.ActionDelete, Before: cloneRecord(rec)})
	}
	delete(tx.state.medications, id)
	tx.recordChange(domain.Change{Entity: domain.EntityMedication, Action: domain.ActionDelete, Before: cloneMedication(current)})
	return nil
}

func (tx *transaction) PutTrackingRecord(r domain.TrackingRecord) (domain.TrackingRecord, error) {
	if !r.Date.Valid() {
		return domain.TrackingRecord{}, domain.ValidationError{Field: "date", Message: "invalid date"}
	}
	if !r.Window.Valid() {
		return domain.TrackingRecord{}, domain.ValidationError{Field: "time_window", Message: "invalid time window"}
	}
	if _, ok := tx.state.medications[r.MedicationID]; !ok {
		return domain.TrackingRecord{}, domain.NotFoundError{Entity: domain.EntityMedication, ID: r.MedicationID}
	}
	key := r.SlotKey()
	if existing, ok := tx.state.tracking[key]; ok {
		r.CreatedAt = existing.CreatedAt
		r.UpdatedAt = tx.now
		tx.state.tracking[key] = cloneRecord(r)
		tx.recordChange(domain.Change{Entity: domain.EntityTrackingRecord, Action: domain.ActionUpdate, Before: cloneRecord(existing), After: cloneRecord(r)})
		return cloneRecord(r), nil
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.tracking[key] = cloneRecord(r)
	tx.recordChange(domain.Change{Entity: domain.EntityTrackingRecord, Action: domain.ActionCreate, After: cloneRecord(r)})
	return cloneRecord(r), nil
}

type view struct {
	state *state
}

func newView(st *state) domain.TransactionView { return view{state: st} }

func (v view) ListMedications() []domain.Medication {
	out := make([]domain.Medication, 0, len(v.state.medications))
	for _, m := range v.state.medications {
		out = append(out, cloneMedication(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v view) FindMedication(id string) (domain.Medication, bool) {
	m, ok := v.state.medications[id]
	if !ok {
		return domain.Medication{}, false
	}
	return cloneMedication(m), true
}

func (v view) ListTrackingRecords() []domain.TrackingRecord {
	out := make([]domain.TrackingRecord, 0, len(v.state.tracking))
	for _, r := range v.state.tracking {
		out = append(out, cloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotKey() < out[j].SlotKey() })
	return out
}

func (v view) FindTrackingRecord(medicationID string, date domain.Date, window domain.TimeWindow) (domain.TrackingRecord, bool) {
	r, ok := v.state.tracking[domain.SlotKey(medicationID, date, window)]
	if !ok {
		return domain.TrackingRecord{}, false
	}
	return cloneRecord(r), true
}
