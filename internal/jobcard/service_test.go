package jobcard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*Job
	payments map[uuid.UUID]decimal.Decimal
	counters map[int]int
	entries  []audit.Entry
	nextID   int64

	// Error injection
	txError     error
	appendError error
	casHook     func(tx *mockTxRepo)
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs:     make(map[uuid.UUID]*Job),
		payments: make(map[uuid.UUID]decimal.Decimal),
		counters: make(map[int]int),
		nextID:   1,
	}
}

// WithTx stages writes on a copy and only publishes them when fn succeeds.
func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &mockTxRepo{
		mock:     m,
		jobs:     make(map[uuid.UUID]*Job, len(m.jobs)),
		counters: make(map[int]int, len(m.counters)),
		entries:  append([]audit.Entry(nil), m.entries...),
		nextID:   m.nextID,
	}
	for id, job := range m.jobs {
		tx.jobs[id] = job.Clone()
	}
	for y, c := range m.counters {
		tx.counters[y] = c
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.jobs, m.counters, m.entries, m.nextID = tx.jobs, tx.counters, tx.entries, tx.nextID
	return nil
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Deleted() {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (m *mockRepository) GetByNumber(ctx context.Context, number string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Number == number && !job.Deleted() {
			return job.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) ListAll(ctx context.Context, includeDeleted bool) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, job := range m.jobs {
		if job.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, *job.Clone())
	}
	return out, nil
}

func (m *mockRepository) ListLinkages(ctx context.Context) ([]Linkage, error) {
	return nil, nil
}

type mockTxRepo struct {
	mock     *mockRepository
	jobs     map[uuid.UUID]*Job
	counters map[int]int
	entries  []audit.Entry
	nextID   int64
}

func (tx *mockTxRepo) NextSequence(ctx context.Context, year int) (int, error) {
	tx.counters[year]++
	return tx.counters[year], nil
}

func (tx *mockTxRepo) Insert(ctx context.Context, job *Job) error {
	tx.jobs[job.ID] = job.Clone()
	return nil
}

func (tx *mockTxRepo) Load(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, ok := tx.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (tx *mockTxRepo) PaymentsApplied(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return tx.mock.payments[id], nil
}

func (tx *mockTxRepo) CompareAndSwap(ctx context.Context, job *Job, expectedVersion int) (bool, error) {
	if tx.mock.casHook != nil {
		tx.mock.casHook(tx)
	}
	current, ok := tx.jobs[job.ID]
	if !ok || current.Version != expectedVersion || current.Deleted() {
		return false, nil
	}
	tx.jobs[job.ID] = job.Clone()
	return true, nil
}

func (tx *mockTxRepo) ReplaceLineItems(ctx context.Context, jobID uuid.UUID, items []LineItem) error {
	if job, ok := tx.jobs[jobID]; ok {
		job.LineItems = append([]LineItem(nil), items...)
	}
	return nil
}

func (tx *mockTxRepo) AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	if tx.mock.appendError != nil {
		return audit.Entry{}, tx.mock.appendError
	}
	entry.ID = tx.nextID
	tx.nextID++
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

func (tx *mockTxRepo) MarkReviewed(ctx context.Context, entryID int64, state audit.ReviewState, reviewer string, at time.Time) (bool, error) {
	for i := range tx.entries {
		if tx.entries[i].ID == entryID {
			if tx.entries[i].Reviewed() {
				return false, nil
			}
			tx.entries[i].ReviewState = state
			tx.entries[i].ReviewedBy = &reviewer
			tx.entries[i].ReviewedAt = &at
			return true, nil
		}
	}
	return false, nil
}

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) ObserveMutation(operation, outcome string) {
	r.calls = append(r.calls, operation+":"+outcome)
}

// ============================================================================
// HELPERS
// ============================================================================

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepository, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(repo, opts...)
}

func createJob(t *testing.T, svc *Service, patch Patch) *Job {
	t.Helper()
	job, err := svc.Create(context.Background(), CreateInput{Patch: patch, Actor: "alex", Source: "job_form"})
	require.NoError(t, err)
	return job
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateAssignsNumberVersionAndInsertAudit(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	first := createJob(t, svc, Patch{MachineMake: Some("Stihl")})
	second := createJob(t, svc, Patch{MachineMake: Some("Husqvarna")})

	assert.Equal(t, "JB2025-0001", first.Number)
	assert.Equal(t, "JB2025-0002", second.Number)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, StatusPending, first.Status)

	require.Len(t, repo.entries, 2)
	entry := repo.entries[0]
	assert.Equal(t, audit.OpInsert, entry.Operation)
	assert.Empty(t, entry.OldValues)
	assert.Equal(t, "JB2025-0001", entry.JobNumber())
	assert.Equal(t, "job_form", entry.Source)
	assert.Equal(t, "alex", entry.Actor)
}

func TestUpdateConcurrentEditorsConflict(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{LabourHours: Some(dec("1")), LabourRate: Some(dec("100"))})

	// move the job to version 3
	for i := 0; i < 2; i++ {
		_, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: i + 1, Patch: Patch{Notes: Some(strings.Repeat("n", i+1))}})
		require.NoError(t, err)
	}
	entriesBefore := len(repo.entries)

	resA, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 3, Patch: Patch{LabourHours: Some(dec("2"))}, Actor: "A"})
	require.NoError(t, err)
	assert.True(t, resA.Updated)
	assert.Equal(t, 4, resA.NewVersion)

	_, err = svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 3, Patch: Patch{Notes: Some("from B")}, Actor: "B"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrVersionConflict))

	stored, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Version)
	assert.NotEqual(t, "from B", stored.Notes)
	assert.Len(t, repo.entries, entriesBefore+1)
}

func TestUpdateRejectsFutureVersion(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	_, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 2, Patch: Patch{Notes: Some("x")}})
	require.ErrorIs(t, err, shared.ErrVersionConflict)

	stored, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, repo.entries, 1)
}

func TestUpdateCompareAndSwapLosesRace(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	// another writer commits between the read and the conditional write
	repo.casHook = func(tx *mockTxRepo) {
		repo.casHook = nil
		for _, j := range tx.jobs {
			j.Version++
		}
	}
	obs := &recordingObserver{}
	svc.observer = obs
	_, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{Notes: Some("late")}})
	require.ErrorIs(t, err, shared.ErrVersionConflict)
	assert.Equal(t, []string{"UPDATE:conflict"}, obs.calls)
}

func TestUpdateVersionsAreMonotonic(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	version := job.Version
	for i := 0; i < 5; i++ {
		res, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: version, Patch: Patch{Notes: Some(strings.Repeat("x", i+1))}})
		require.NoError(t, err)
		assert.Equal(t, version+1, res.NewVersion)
		version = res.NewVersion
	}
	assert.Equal(t, 6, version)
}

func TestUpdateAuditMatchesBeforeAndAfter(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{MachineMake: Some("Stihl")})

	before, err := Snapshot(job)
	require.NoError(t, err)
	res, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{MachineModel: Some("MS 250")}, Source: "job_form"})
	require.NoError(t, err)
	after, err := Snapshot(res.Job)
	require.NoError(t, err)

	require.Len(t, repo.entries, 2)
	entry := repo.entries[1]
	assert.Equal(t, res.AuditID, entry.ID)
	assert.Equal(t, audit.OpUpdate, entry.Operation)
	assert.Equal(t, before, entry.OldValues)
	assert.Equal(t, after, entry.NewValues)
	assert.Equal(t, []string{"machine_model"}, entry.ChangedFields)
}

func TestUpdateFailedAuditRollsBackMutation(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	repo.appendError = errors.New("disk full")
	_, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{Notes: Some("lost")}})
	require.Error(t, err)

	stored, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, 1, stored.Version)
	assert.Empty(t, stored.Notes)
	assert.Len(t, repo.entries, 1)
}

func TestUpdateValidationWritesNothing(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	_, err := svc.Update(context.Background(), UpdateInput{
		ID:              job.ID,
		ExpectedVersion: 1,
		Patch:           Patch{LineItems: Some([]LineItemInput{{Description: "blade", Quantity: dec("-1"), UnitPrice: dec("5")}})},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "line_items[0].quantity")
	assert.Len(t, repo.entries, 1)
}

func TestUpdateRecalculatesMoneyPatches(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})
	repo.payments[job.ID] = dec("100")

	res, err := svc.Update(context.Background(), UpdateInput{
		ID:              job.ID,
		ExpectedVersion: 1,
		Patch: Patch{
			LineItems:   Some([]LineItemInput{{Description: "chain", Quantity: dec("2"), UnitPrice: dec("25.00")}}),
			LabourHours: Some(dec("1")),
			LabourRate:  Some(dec("89.00")),
		},
	})
	require.NoError(t, err)
	assertMoney(t, "152.90", res.Job.Totals.GrandTotal)
	assertMoney(t, "52.90", res.Job.Totals.BalanceDue)
	assertMoney(t, "50.00", res.Job.LineItems[0].Total)
	assert.Contains(t, repo.entries[1].ChangedFields, "grand_total")
}

func TestUpdateNonMoneyPatchKeepsTotals(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{LabourHours: Some(dec("1")), LabourRate: Some(dec("10"))})

	res, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{Notes: Some("called customer")}})
	require.NoError(t, err)
	assertMoney(t, "11.00", res.Job.Totals.GrandTotal)
	assert.Equal(t, []string{"notes"}, repo.entries[1].ChangedFields)
}

func TestUpdateStatusStampsAndWriteOff(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	res, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{Status: Some(StatusCompleted)}})
	require.NoError(t, err)
	require.NotNil(t, res.Job.CompletedAt)

	res, err = svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 2, Patch: Patch{Status: Some(StatusWriteOff)}})
	require.NoError(t, err)
	require.NotNil(t, res.Job.CompletedAt)

	_, err = svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 3, Patch: Patch{Status: Some(StatusPending)}})
	require.ErrorIs(t, err, shared.ErrValidation)

	res, err = svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 3, Operation: audit.OpRecovery, Patch: Patch{Status: Some(StatusPending)}, Source: "manual_restore: mistaken write-off"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Job.Status)
	assert.Equal(t, audit.OpRecovery, repo.entries[len(repo.entries)-1].Operation)
}

func TestUpdateMissingAndDeleted(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	_, err := svc.Update(context.Background(), UpdateInput{ID: uuid.New(), ExpectedVersion: 1, Patch: Patch{Notes: Some("x")}})
	require.ErrorIs(t, err, shared.ErrRecordNotFound)

	job := createJob(t, svc, Patch{})
	del, err := svc.Delete(context.Background(), DeleteInput{ID: job.ID, ExpectedVersion: 1, Actor: "sam"})
	require.NoError(t, err)
	assert.Equal(t, 2, del.NewVersion)
	require.NotNil(t, del.Job.DeletedAt)

	last := repo.entries[len(repo.entries)-1]
	assert.Equal(t, audit.OpDelete, last.Operation)
	assert.Equal(t, []string{"deleted_at"}, last.ChangedFields)

	_, err = svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 2, Patch: Patch{Notes: Some("x")}})
	require.ErrorIs(t, err, shared.ErrRecordNotFound)
	_, err = svc.Get(context.Background(), job.ID)
	require.ErrorIs(t, err, shared.ErrRecordNotFound)
}

func TestUpdateRejectionMarksEntryAtomically(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := createJob(t, svc, Patch{})

	_, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{Notes: Some("x")}, RejectsEntry: 1, Reviewer: "rev"})
	require.NoError(t, err)
	assert.Equal(t, audit.ReviewRejected, repo.entries[0].ReviewState)

	_, err = svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 2, Patch: Patch{Notes: Some("y")}, RejectsEntry: 1, Reviewer: "rev"})
	require.ErrorIs(t, err, shared.ErrAlreadyReviewed)
	stored, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, 2, stored.Version)
}

func TestUpdateRequiresChange(t *testing.T) {
	svc := newTestService(newMockRepository())
	_, err := svc.Update(context.Background(), UpdateInput{ID: uuid.New(), ExpectedVersion: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateDeadlineReportsUnknownOutcome(t *testing.T) {
	repo := newMockRepository()
	job := createJob(t, newTestService(repo), Patch{})

	svc := newTestService(repo, WithTimeout(time.Second))
	repo.appendError = context.DeadlineExceeded
	_, err := svc.Update(context.Background(), UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: Patch{Notes: Some("slow")}})
	require.ErrorIs(t, err, shared.ErrOutcomeUnknown)
}

func TestSnapshotRoundTripsThroughPatch(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	customer := uuid.New()
	job := createJob(t, svc, Patch{
		CustomerID:    Some(&customer),
		MachineMake:   Some("Honda"),
		LineItems:     Some([]LineItemInput{{Description: "spark plug", Quantity: dec("1.5"), UnitPrice: dec("9.99")}}),
		DiscountType:  Some(DiscountPercent),
		DiscountValue: Some(dec("5")),
	})
	values, err := Snapshot(job)
	require.NoError(t, err)

	patch, err := PatchFromSnapshot(values)
	require.NoError(t, err)
	require.NotNil(t, patch.CustomerID.Value)
	assert.Equal(t, customer, *patch.CustomerID.Value)
	assert.Equal(t, "Honda", patch.MachineMake.Value)
	require.Len(t, patch.LineItems.Value, 1)
	assert.True(t, dec("1.5").Equal(patch.LineItems.Value[0].Quantity))
	assert.Equal(t, DiscountPercent, patch.DiscountType.Value)
	assert.Equal(t, StatusPending, patch.Status.Value)

	_, err = PatchFromSnapshot(audit.Values{})
	require.Error(t, err)
}
