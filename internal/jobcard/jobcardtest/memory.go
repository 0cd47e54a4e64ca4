// Package jobcardtest provides an in-memory job store and audit log for tests
// of the components layered on top of the record store.
package jobcardtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/shared"
	_ "github.com/workbay/workbay/internal/testing/guard"
)

// Memory implements jobcard.Repository and audit.Repository over shared state.
// Transactions stage writes and publish them only when the callback succeeds.
type Memory struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*jobcard.Job
	customers map[uuid.UUID]string
	payments  map[uuid.UUID]decimal.Decimal
	counters  map[int]int
	entries   []audit.Entry
	nextID    int64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[uuid.UUID]*jobcard.Job),
		customers: make(map[uuid.UUID]string),
		payments:  make(map[uuid.UUID]decimal.Decimal),
		counters:  make(map[int]int),
		nextID:    1,
	}
}

// AddCustomer registers a customer name for linkage listings.
func (m *Memory) AddCustomer(id uuid.UUID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[id] = name
}

// Entries returns a copy of the audit log in sequence order.
func (m *Memory) Entries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

// Tamper edits a stored job directly, bypassing the store and its audit log.
func (m *Memory) Tamper(id uuid.UUID, fn func(*jobcard.Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

// Purge physically removes a job row without any audit trail.
func (m *Memory) Purge(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// AppendRaw writes an audit entry as an out-of-band writer would.
func (m *Memory) AppendRaw(entry audit.Entry) audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextID
	m.nextID++
	if entry.ReviewState == "" {
		entry.ReviewState = audit.ReviewUnreviewed
	}
	m.entries = append(m.entries, entry)
	return entry
}

// ============================================================================
// jobcard.Repository
// ============================================================================

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, jobcard.TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{
		payments: m.payments,
		jobs:     make(map[uuid.UUID]*jobcard.Job, len(m.jobs)),
		counters: make(map[int]int, len(m.counters)),
		entries:  make([]audit.Entry, len(m.entries)),
		nextID:   m.nextID,
	}
	copy(tx.entries, m.entries)
	for id, job := range m.jobs {
		tx.jobs[id] = job.Clone()
	}
	for y, c := range m.counters {
		tx.counters[y] = c
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.jobs, m.counters, m.entries, m.nextID = tx.jobs, tx.counters, tx.entries, tx.nextID
	return nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*jobcard.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Deleted() {
		return nil, jobcard.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) GetByNumber(ctx context.Context, number string) (*jobcard.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Number == number && !job.Deleted() {
			return job.Clone(), nil
		}
	}
	return nil, jobcard.ErrNotFound
}

func (m *Memory) ListAll(ctx context.Context, includeDeleted bool) ([]jobcard.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(includeDeleted), nil
}

// ReadState returns every job and the newest job audit entries under one
// lock, matching a snapshot read.
func (m *Memory) ReadState(ctx context.Context) ([]jobcard.Job, []audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(true), latestPerRecord(m.entries, audit.TableJobRecords), nil
}

func (m *Memory) listLocked(includeDeleted bool) []jobcard.Job {
	out := make([]jobcard.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if job.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, *job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (m *Memory) ListLinkages(ctx context.Context) ([]jobcard.Linkage, error) {
	jobs, err := m.ListAll(ctx, false)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]jobcard.Linkage, 0, len(jobs))
	for _, job := range jobs {
		l := jobcard.Linkage{JobNumber: job.Number, CustomerID: job.CustomerID}
		if job.CustomerID != nil {
			l.CustomerName = m.customers[*job.CustomerID]
		}
		out = append(out, l)
	}
	return out, nil
}

type memoryTx struct {
	payments map[uuid.UUID]decimal.Decimal
	jobs     map[uuid.UUID]*jobcard.Job
	counters map[int]int
	entries  []audit.Entry
	nextID   int64
}

func (tx *memoryTx) NextSequence(ctx context.Context, year int) (int, error) {
	tx.counters[year]++
	return tx.counters[year], nil
}

func (tx *memoryTx) Insert(ctx context.Context, job *jobcard.Job) error {
	tx.jobs[job.ID] = job.Clone()
	return nil
}

func (tx *memoryTx) Load(ctx context.Context, id uuid.UUID) (*jobcard.Job, error) {
	job, ok := tx.jobs[id]
	if !ok {
		return nil, jobcard.ErrNotFound
	}
	return job.Clone(), nil
}

func (tx *memoryTx) PaymentsApplied(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return tx.payments[id], nil
}

func (tx *memoryTx) CompareAndSwap(ctx context.Context, job *jobcard.Job, expectedVersion int) (bool, error) {
	current, ok := tx.jobs[job.ID]
	if !ok || current.Version != expectedVersion || current.Deleted() {
		return false, nil
	}
	tx.jobs[job.ID] = job.Clone()
	return true, nil
}

func (tx *memoryTx) ReplaceLineItems(ctx context.Context, jobID uuid.UUID, items []jobcard.LineItem) error {
	if job, ok := tx.jobs[jobID]; ok {
		job.LineItems = append([]jobcard.LineItem(nil), items...)
	}
	return nil
}

func (tx *memoryTx) AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	entry.ID = tx.nextID
	tx.nextID++
	tx.entries = append(tx.entries, entry)
	return entry, nil
}

func (tx *memoryTx) MarkReviewed(ctx context.Context, entryID int64, state audit.ReviewState, reviewer string, at time.Time) (bool, error) {
	return markReviewed(tx.entries, entryID, state, reviewer, at), nil
}

func markReviewed(entries []audit.Entry, id int64, state audit.ReviewState, reviewer string, at time.Time) bool {
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		if entries[i].Reviewed() {
			return false
		}
		r := reviewer
		t := at
		entries[i].ReviewState = state
		entries[i].ReviewedBy = &r
		entries[i].ReviewedAt = &t
		return true
	}
	return false
}

// ============================================================================
// audit.Repository
// ============================================================================

// Audit exposes the audit log half of the store.
func (m *Memory) Audit() audit.Repository {
	return memoryAudit{m}
}

type memoryAudit struct {
	m *Memory
}

func (a memoryAudit) Get(ctx context.Context, id int64) (audit.Entry, error) {
	for _, e := range a.m.Entries() {
		if e.ID == id {
			return e, nil
		}
	}
	return audit.Entry{}, audit.ErrEntryNotFound
}

func (a memoryAudit) List(ctx context.Context, f audit.Filters, limit, offset int) ([]audit.Entry, error) {
	all := a.m.Entries()
	out := make([]audit.Entry, 0)
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if f.TableName != "" && e.TableName != f.TableName {
			continue
		}
		if f.RecordID != "" && e.RecordID != f.RecordID {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.ReviewState != "" && f.ReviewState != audit.ReviewAny && e.ReviewState != f.ReviewState {
			continue
		}
		if !f.From.IsZero() && e.ChangedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.ChangedAt.Before(f.To) {
			continue
		}
		if q := strings.TrimSpace(f.Query); q != "" && !strings.Contains(strings.ToLower(e.JobNumber()), strings.ToLower(q)) {
			continue
		}
		out = append(out, e)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a memoryAudit) LatestAtOrBefore(ctx context.Context, table, recordID string, at time.Time) (audit.Entry, error) {
	all := a.m.Entries()
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if e.TableName == table && e.RecordID == recordID && !e.ChangedAt.After(at) {
			return e, nil
		}
	}
	return audit.Entry{}, shared.ErrRestoreUnavailable
}

func (a memoryAudit) LatestPerRecord(ctx context.Context, table string) ([]audit.Entry, error) {
	return latestPerRecord(a.m.Entries(), table), nil
}

func latestPerRecord(entries []audit.Entry, table string) []audit.Entry {
	latest := make(map[string]audit.Entry)
	for _, e := range entries {
		if e.TableName == table {
			latest[e.RecordID] = e
		}
	}
	out := make([]audit.Entry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

func (a memoryAudit) Since(ctx context.Context, afterID int64, limit int) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0)
	for _, e := range a.m.Entries() {
		if e.ID > afterID {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a memoryAudit) MarkReviewed(ctx context.Context, id int64, state audit.ReviewState, reviewer string, at time.Time) (bool, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return markReviewed(a.m.entries, id, state, reviewer, at), nil
}
