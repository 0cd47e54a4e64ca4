package shadow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/jobcard/jobcardtest"
	"github.com/workbay/workbay/internal/shared"
)

// ============================================================================
// FAKES
// ============================================================================

type memoryStore struct {
	mu     sync.Mutex
	items  []Anomaly
	nextID int64
}

func (s *memoryStore) Insert(ctx context.Context, a Anomaly) (Anomaly, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Fingerprint == a.Fingerprint {
			return Anomaly{}, false, nil
		}
	}
	s.nextID++
	a.ID = s.nextID
	s.items = append(s.items, a)
	return a, true, nil
}

func (s *memoryStore) List(ctx context.Context, f Filters) ([]Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Anomaly, 0)
	for i := len(s.items) - 1; i >= 0; i-- {
		a := s.items[i]
		if f.Kind != "" && a.Kind != f.Kind {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.State == StateOpen && a.Resolved() || f.State == StateResolved && !a.Resolved() {
			continue
		}
		if f.JobNumber != "" && !strings.Contains(a.JobNumber, f.JobNumber) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.items {
		if a.ID == id {
			return a, nil
		}
	}
	return Anomaly{}, ErrAnomalyNotFound
}

func (s *memoryStore) Resolve(ctx context.Context, id int64, actor string, at time.Time) (Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		if s.items[i].Resolved() {
			return Anomaly{}, ErrAlreadyResolved
		}
		s.items[i].ResolvedAt = &at
		s.items[i].ResolvedBy = &actor
		return s.items[i], nil
	}
	return Anomaly{}, ErrAnomalyNotFound
}

type harness struct {
	mem     *jobcardtest.Memory
	jobs    *jobcard.Service
	store   *memoryStore
	redis   *redis.Client
	cursor  *RedisCursor
	monitor *Monitor
}

func newHarness(t *testing.T, extraSources ...string) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		mem:   jobcardtest.NewMemory(),
		store: &memoryStore{},
		redis: client,
	}
	h.jobs = jobcard.NewService(h.mem)
	h.cursor = NewRedisCursor(client)
	h.monitor = NewMonitor(h.mem, h.mem.Audit(), h.store, h.cursor, NewRedisLocker(client, time.Minute),
		WithSources(DefaultSources(extraSources...)),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
	)
	return h
}

func (h *harness) createJob(t *testing.T) *jobcard.Job {
	t.Helper()
	job, err := h.jobs.Create(context.Background(), jobcard.CreateInput{Patch: jobcard.Patch{
		Notes: jobcard.Some("blade sharpen"),
		LineItems: jobcard.Some([]jobcard.LineItemInput{
			{Description: "spark plug", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("12.50")},
		}),
	}})
	require.NoError(t, err)
	return job
}

func kinds(anomalies []Anomaly) []Kind {
	out := make([]Kind, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, a.Kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ============================================================================
// MONITOR
// ============================================================================

func TestScanCleanStoreFindsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.createJob(t)
	_, err := h.jobs.Update(ctx, jobcard.UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: jobcard.Patch{Notes: jobcard.Some("done")}})
	require.NoError(t, err)
	other := h.createJob(t)
	_, err = h.jobs.Delete(ctx, jobcard.DeleteInput{ID: other.ID, ExpectedVersion: 1})
	require.NoError(t, err)

	report, err := h.monitor.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Detected)
	assert.Equal(t, 2, report.JobsScanned)
	assert.Equal(t, 4, report.EntriesScanned)

	cursor, err := h.cursor.Load(ctx)
	require.NoError(t, err)
	entries := h.mem.Entries()
	assert.Equal(t, entries[len(entries)-1].ID, cursor)
}

func TestScanDetectsTotalDrift(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	h.mem.Tamper(job.ID, func(j *jobcard.Job) { j.Totals.GrandTotal = decimal.RequireFromString("10.00") })

	report, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	got := report.Anomalies[0]
	assert.Equal(t, KindTotalDrift, got.Kind)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, job.Number, got.JobNumber)
	assert.Equal(t, "10.00", got.Evidence["stored_grand_total"])
	assert.Equal(t, "27.50", got.Evidence["recalculated_grand_total"])
}

func TestScanDetectsCustomerRelink(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	stranger := uuid.New()
	h.mem.Tamper(job.ID, func(j *jobcard.Job) { j.CustomerID = &stranger })

	report, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, KindCustomerRelink, report.Anomalies[0].Kind)
	assert.Equal(t, SeverityCritical, report.Anomalies[0].Severity)
	assert.Equal(t, stranger.String(), report.Anomalies[0].Evidence["live_customer_id"])
}

func TestScanClassifiesUndocumentedNoteAsWarning(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	h.mem.Tamper(job.ID, func(j *jobcard.Job) { j.Notes = "edited in the database" })

	report, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, KindUnauthorizedWrite, report.Anomalies[0].Kind)
	assert.Equal(t, SeverityWarning, report.Anomalies[0].Severity)
}

func TestScanDetectsSilentDeletion(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	h.mem.Purge(job.ID)

	report, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, KindSilentDeletion, report.Anomalies[0].Kind)
	assert.Equal(t, job.Number, report.Anomalies[0].JobNumber)
}

func TestScanDetectsSoftDeleteWithoutAuditEntry(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	h.mem.Tamper(job.ID, func(j *jobcard.Job) {
		at := time.Now().UTC()
		j.DeletedAt = &at
	})

	report, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindSilentDeletion}, kinds(report.Anomalies))
}

func TestScanDetectsRowWithoutHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ghost := &jobcard.Job{ID: uuid.New(), Number: "JB2025-9999", Version: 1, Status: jobcard.StatusPending, DiscountType: jobcard.DiscountNone}
	require.NoError(t, h.mem.WithTx(ctx, func(ctx context.Context, tx jobcard.TxRepository) error {
		return tx.Insert(ctx, ghost)
	}))

	report, err := h.monitor.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, KindUnauthorizedWrite, report.Anomalies[0].Kind)
	assert.Equal(t, SeverityCritical, report.Anomalies[0].Severity)
}

func TestScanFlagsUnknownSourceTag(t *testing.T) {
	for _, tc := range []struct {
		name  string
		extra []string
		want  int
	}{
		{name: "unknown", want: 1},
		{name: "configured", extra: []string{"label.printer"}, want: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.extra...)
			job := h.createJob(t)
			live, err := h.jobs.Get(context.Background(), job.ID)
			require.NoError(t, err)
			snap, err := jobcard.Snapshot(live)
			require.NoError(t, err)
			h.mem.AppendRaw(audit.Entry{
				TableName:     audit.TableJobRecords,
				RecordID:      job.ID.String(),
				Operation:     audit.OpUpdate,
				OldValues:     snap,
				NewValues:     snap,
				ChangedFields: []string{"notes"},
				Source:        "label.printer",
				ChangedAt:     time.Now().UTC(),
			})

			report, err := h.monitor.Scan(context.Background())
			require.NoError(t, err)
			require.Len(t, report.Anomalies, tc.want)
			if tc.want > 0 {
				assert.Equal(t, KindUnauthorizedWrite, report.Anomalies[0].Kind)
				assert.Equal(t, SeverityWarning, report.Anomalies[0].Severity)
				require.NotNil(t, report.Anomalies[0].AuditEntryID)
			}
		})
	}
}

func TestScanDoesNotStoreTheSameAnomalyTwice(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	h.mem.Tamper(job.ID, func(j *jobcard.Job) { j.Totals.GrandTotal = decimal.RequireFromString("1.00") })

	first, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := h.monitor.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Detected)
	assert.Zero(t, second.Inserted)
	assert.Len(t, h.store.items, 1)
}

// splitReads lists jobs and reads the audit log as two separate steps, running
// between in the gap the way an unsynchronised writer would.
type splitReads struct {
	mem     *jobcardtest.Memory
	between func()
}

func (s splitReads) ReadState(ctx context.Context) ([]jobcard.Job, []audit.Entry, error) {
	jobs, err := s.mem.ListAll(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	s.between()
	latest, err := s.mem.Audit().LatestPerRecord(ctx, audit.TableJobRecords)
	return jobs, latest, err
}

func TestScanIgnoresAuditedUpdateCommittedBetweenReads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()
	job, err := h.jobs.Create(ctx, jobcard.CreateInput{Patch: jobcard.Patch{CustomerID: jobcard.Some(&first)}})
	require.NoError(t, err)

	monitor := NewMonitor(splitReads{mem: h.mem, between: func() {
		_, err := h.jobs.Update(ctx, jobcard.UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: jobcard.Patch{CustomerID: jobcard.Some(&second)}})
		assert.NoError(t, err)
	}}, h.mem.Audit(), h.store, h.cursor, nil)

	report, err := monitor.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Detected)
	assert.Empty(t, report.Anomalies)

	report, err = h.monitor.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Detected)
}

func TestMemoryReadStateIsConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.createJob(t)
	_, err := h.jobs.Update(ctx, jobcard.UpdateInput{ID: job.ID, ExpectedVersion: 1, Patch: jobcard.Patch{Notes: jobcard.Some("done")}})
	require.NoError(t, err)

	jobs, latest, err := h.mem.ReadState(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Len(t, latest, 1)
	v, ok := versionOf(latest[0].NewValues)
	require.True(t, ok)
	assert.Equal(t, jobs[0].Version, v)
}

func TestScanRefusesWhileLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lock, err := redislock.New(h.redis).Obtain(ctx, shared.ShadowScanLockKey(), time.Minute, nil)
	require.NoError(t, err)

	_, err = h.monitor.Scan(ctx)
	require.ErrorIs(t, err, shared.ErrScanInProgress)

	require.NoError(t, lock.Release(ctx))
	_, err = h.monitor.Scan(ctx)
	require.NoError(t, err)
}

func TestScanResumesFromCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createJob(t)
	_, err := h.monitor.Scan(ctx)
	require.NoError(t, err)

	h.createJob(t)
	report, err := h.monitor.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EntriesScanned)
}

// ============================================================================
// DETECTORS
// ============================================================================

func TestSourcesRecognisesCorrectivePrefixes(t *testing.T) {
	s := DefaultSources("invoice.sync")
	for _, tag := range []string{"job_api", "system", "manual_restore: typo", "manual_rebuild: lost", "rejection of audit entry 4", "invoice.sync"} {
		assert.True(t, s.Known(tag), tag)
	}
	for _, tag := range []string{"", "psql", "manual_restore"} {
		assert.False(t, s.Known(tag), tag)
	}
}

func TestFingerprintIsStable(t *testing.T) {
	a := Fingerprint(KindTotalDrift, "job-1", "10.00", "27.50")
	assert.Equal(t, a, Fingerprint(KindTotalDrift, "job-1", "10.00", "27.50"))
	assert.NotEqual(t, a, Fingerprint(KindTotalDrift, "job-1", "10.0", "027.50"))
	assert.Len(t, a, 64)
}

func TestDetectSkipsRowsOlderThanTheirHistory(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()
	job := jobcard.Job{ID: uuid.New(), Number: "JB2025-0001", Version: 1, CustomerID: &first,
		Status: jobcard.StatusPending, DiscountType: jobcard.DiscountNone, LineItems: []jobcard.LineItem{}}
	newer := job
	newer.Version = 2
	newer.CustomerID = &second
	snap, err := jobcard.Snapshot(&newer)
	require.NoError(t, err)
	entry := audit.Entry{ID: 2, TableName: audit.TableJobRecords, RecordID: job.ID.String(), Operation: audit.OpUpdate, NewValues: snap, Source: jobcard.SourceAPI}

	stale := Observation{Jobs: []jobcard.Job{job}, Latest: map[string]audit.Entry{job.ID.String(): entry}}
	assert.Empty(t, Detect(stale, DefaultSources(), now))

	tampered := newer
	third := uuid.New()
	tampered.CustomerID = &third
	live := Observation{Jobs: []jobcard.Job{tampered}, Latest: map[string]audit.Entry{job.ID.String(): entry}}
	assert.Equal(t, []Kind{KindCustomerRelink}, kinds(Detect(live, DefaultSources(), now)))
}

func TestDetectIsDeterministic(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		job := h.createJob(t)
		h.mem.Purge(job.ID)
	}
	latest, err := h.mem.Audit().LatestPerRecord(context.Background(), audit.TableJobRecords)
	require.NoError(t, err)
	obs := Observation{Latest: map[string]audit.Entry{}}
	for _, e := range latest {
		obs.Latest[e.RecordID] = e
	}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	first := Detect(obs, DefaultSources(), now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Detect(obs, DefaultSources(), now))
	}
	require.Len(t, first, 3)
	assert.True(t, sort.SliceIsSorted(first, func(i, j int) bool { return first[i].JobNumber < first[j].JobNumber }))
}

// ============================================================================
// SERVICE
// ============================================================================

func TestResolveOnlyAcknowledges(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t)
	h.mem.Tamper(job.ID, func(j *jobcard.Job) { j.Totals.GrandTotal = decimal.RequireFromString("1.00") })
	svc := NewService(h.store, h.monitor, nil)

	report, err := svc.ScanNow(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Anomalies, 1)
	id := report.Anomalies[0].ID

	resolved, err := svc.Resolve(context.Background(), id, "sam")
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "sam", *resolved.ResolvedBy)

	_, err = svc.Resolve(context.Background(), id, "sam")
	require.ErrorIs(t, err, ErrAlreadyResolved)

	live, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.00", live.Totals.GrandTotal.StringFixed(2))

	open, err := svc.List(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := svc.List(context.Background(), Filters{State: StateAll})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolveUnknownAnomaly(t *testing.T) {
	svc := NewService(&memoryStore{}, nil, nil)
	_, err := svc.Resolve(context.Background(), 42, "sam")
	require.ErrorIs(t, err, shared.ErrRecordNotFound)
}

type blockingScanner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingScanner) Scan(ctx context.Context) (ScanReport, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return ScanReport{Detected: 2}, nil
}

func TestScanNowCollapsesConcurrentCallers(t *testing.T) {
	scanner := &blockingScanner{release: make(chan struct{})}
	svc := NewService(&memoryStore{}, scanner, nil)

	var wg, started sync.WaitGroup
	results := make([]ScanReport, 4)
	for i := range results {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], _ = svc.ScanNow(context.Background())
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool {
		scanner.mu.Lock()
		defer scanner.mu.Unlock()
		return scanner.calls == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(scanner.release)
	wg.Wait()

	assert.Equal(t, 1, scanner.calls)
	for _, r := range results {
		assert.Equal(t, 2, r.Detected)
	}
}
