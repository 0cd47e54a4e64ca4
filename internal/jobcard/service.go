package jobcard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/platform/db"
	"github.com/workbay/workbay/internal/shared"
)

// Source tags written by the store's own callers.
const (
	SourceAPI    = "job_api"
	SourceSystem = "system"
)

// MutationObserver records the outcome of every store write.
type MutationObserver interface {
	ObserveMutation(operation, outcome string)
}

// Service is the versioned record store for jobs.
type Service struct {
	repo     Repository
	timeout  time.Duration
	logger   *slog.Logger
	observer MutationObserver
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithObserver sets the mutation observer.
func WithObserver(o MutationObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the job store.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, timeout: 5 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default().With(slog.String("component", "jobcard"))
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ============================================================================
// READS
// ============================================================================

// Get returns a live job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.Get(ctx, id)
}

// GetByNumber returns a live job by its job number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Job, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.GetByNumber(ctx, number)
}

// ListAll returns every job, optionally including soft-deleted ones.
func (s *Service) ListAll(ctx context.Context, includeDeleted bool) ([]Job, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.ListAll(ctx, includeDeleted)
}

// ListLinkages returns live job to customer links ordered by job number.
func (s *Service) ListLinkages(ctx context.Context) ([]Linkage, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.ListLinkages(ctx)
}

// ============================================================================
// WRITES
// ============================================================================

// Create inserts a new job at version 1 with its INSERT audit entry.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Job, error) {
	if err := in.Patch.Validate(nil); err != nil {
		s.observe(audit.OpInsert, err)
		return nil, err
	}
	now := s.clock()
	job := &Job{
		ID:           uuid.New(),
		Status:       StatusPending,
		DiscountType: DiscountNone,
		LineItems:    []LineItem{},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	in.Patch.apply(job)
	stampStatus(job, now)
	applyTotals(job, decimal.Zero)

	ctx, cancel := s.bounded(ctx)
	defer cancel()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		job.Number = FormatNumber(now.Year(), seq)
		if err := tx.Insert(ctx, job); err != nil {
			return err
		}
		after, err := Snapshot(job)
		if err != nil {
			return err
		}
		entry := audit.Capture(nil, after, audit.Meta{
			TableName: audit.TableJobRecords,
			RecordID:  job.ID.String(),
			Operation: audit.OpInsert,
			Actor:     actorOr(in.Actor),
			Source:    sourceOr(in.Source),
			At:        now,
		})
		_, err = tx.AppendAudit(ctx, entry)
		return err
	})
	if err != nil {
		err = s.translate(ctx, err)
		s.observe(audit.OpInsert, err)
		return nil, err
	}
	s.observe(audit.OpInsert, nil)
	s.log().Info("job created", slog.String("job_number", job.Number), slog.String("actor", actorOr(in.Actor)))
	return job, nil
}

// Update applies in.Patch when in.ExpectedVersion still matches the stored
// version. Exactly one audit entry is written per successful call.
func (s *Service) Update(ctx context.Context, in UpdateInput) (UpdateResult, error) {
	op := in.Operation
	if op == "" {
		op = audit.OpUpdate
	}
	if op != audit.OpUpdate && !op.Corrective() {
		return UpdateResult{}, shared.NewValidationError("operation", "must be UPDATE, RECOVERY or REBUILD")
	}
	if in.ExpectedVersion < 1 {
		return UpdateResult{}, shared.NewValidationError("expected_version", "must be a positive version")
	}
	if in.Patch.Empty() {
		return UpdateResult{}, shared.NewValidationError("patch", "must change at least one field")
	}
	corrective := op.Corrective() || in.RejectsEntry != 0

	var result UpdateResult
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Load(ctx, in.ID)
		if err != nil {
			return err
		}
		if current.Deleted() {
			return ErrNotFound
		}
		if current.Version != in.ExpectedVersion {
			return shared.ErrVersionConflict
		}
		if err := in.Patch.Validate(current); err != nil {
			return err
		}
		if in.Patch.Status.Set {
			if err := CheckTransition(current.Status, in.Patch.Status.Value, corrective); err != nil {
				if errors.Is(err, ErrTerminalStatus) {
					return shared.NewValidationError("status", err.Error())
				}
				return shared.NewValidationError("status", "unknown status")
			}
		}

		now := s.clock()
		next := current.Clone()
		in.Patch.apply(next)
		stampStatus(next, now)
		if in.Patch.AffectsMoney() {
			payments, err := tx.PaymentsApplied(ctx, next.ID)
			if err != nil {
				return err
			}
			applyTotals(next, payments)
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		swapped, err := tx.CompareAndSwap(ctx, next, in.ExpectedVersion)
		if err != nil {
			return err
		}
		if !swapped {
			return shared.ErrVersionConflict
		}
		if in.Patch.LineItems.Set {
			if err := tx.ReplaceLineItems(ctx, next.ID, next.LineItems); err != nil {
				return err
			}
		}

		entry, err := s.capture(current, next, op, in.Actor, in.Source, now)
		if err != nil {
			return err
		}
		stored, err := tx.AppendAudit(ctx, entry)
		if err != nil {
			return err
		}
		if in.RejectsEntry != 0 {
			marked, err := tx.MarkReviewed(ctx, in.RejectsEntry, audit.ReviewRejected, actorOr(in.Reviewer), now)
			if err != nil {
				return err
			}
			if !marked {
				return shared.ErrAlreadyReviewed
			}
		}
		result = UpdateResult{Updated: true, NewVersion: next.Version, Job: next, AuditID: stored.ID}
		return nil
	})
	if err != nil {
		err = s.translate(ctx, err)
		s.observe(op, err)
		if errors.Is(err, shared.ErrVersionConflict) {
			s.log().Info("job update conflict", slog.String("id", in.ID.String()), slog.Int("expected_version", in.ExpectedVersion))
		}
		return UpdateResult{}, err
	}
	s.observe(op, nil)
	s.log().Info("job updated",
		slog.String("job_number", result.Job.Number),
		slog.String("operation", string(op)),
		slog.Int("version", result.NewVersion),
		slog.Any("fields", in.Patch.Fields()),
	)
	return result, nil
}

// Delete soft-deletes the job through the same compare-and-swap path.
func (s *Service) Delete(ctx context.Context, in DeleteInput) (UpdateResult, error) {
	if in.ExpectedVersion < 1 {
		return UpdateResult{}, shared.NewValidationError("expected_version", "must be a positive version")
	}
	var result UpdateResult
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Load(ctx, in.ID)
		if err != nil {
			return err
		}
		if current.Deleted() {
			return ErrNotFound
		}
		if current.Version != in.ExpectedVersion {
			return shared.ErrVersionConflict
		}
		now := s.clock()
		next := current.Clone()
		next.DeletedAt = &now
		next.Version = current.Version + 1
		next.UpdatedAt = now
		swapped, err := tx.CompareAndSwap(ctx, next, in.ExpectedVersion)
		if err != nil {
			return err
		}
		if !swapped {
			return shared.ErrVersionConflict
		}
		entry, err := s.capture(current, next, audit.OpDelete, in.Actor, in.Source, now)
		if err != nil {
			return err
		}
		stored, err := tx.AppendAudit(ctx, entry)
		if err != nil {
			return err
		}
		result = UpdateResult{Updated: true, NewVersion: next.Version, Job: next, AuditID: stored.ID}
		return nil
	})
	if err != nil {
		err = s.translate(ctx, err)
		s.observe(audit.OpDelete, err)
		return UpdateResult{}, err
	}
	s.observe(audit.OpDelete, nil)
	s.log().Info("job deleted", slog.String("job_number", result.Job.Number), slog.String("actor", actorOr(in.Actor)))
	return result, nil
}

func (s *Service) capture(before, after *Job, op audit.Operation, actor, source string, at time.Time) (audit.Entry, error) {
	oldValues, err := Snapshot(before)
	if err != nil {
		return audit.Entry{}, err
	}
	newValues, err := Snapshot(after)
	if err != nil {
		return audit.Entry{}, err
	}
	return audit.Capture(oldValues, newValues, audit.Meta{
		TableName: audit.TableJobRecords,
		RecordID:  after.ID.String(),
		Operation: op,
		Actor:     actorOr(actor),
		Source:    sourceOr(source),
		At:        at,
	}), nil
}

// translate maps storage failures onto the shared taxonomy. A deadline hit
// during a write leaves the outcome unknown.
func (s *Service) translate(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsSerializationFailure(err):
		return shared.ErrVersionConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", shared.ErrOutcomeUnknown, err)
	default:
		return err
	}
}

func (s *Service) observe(op audit.Operation, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveMutation(string(op), Outcome(err))
}

// Outcome classifies err for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, shared.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	case errors.Is(err, shared.ErrAlreadyReviewed):
		return "already_reviewed"
	case errors.Is(err, shared.ErrOutcomeUnknown):
		return "unknown"
	default:
		return "error"
	}
}

func actorOr(actor string) string {
	if actor == "" {
		return shared.UnknownActor
	}
	return actor
}

func sourceOr(source string) string {
	if source == "" {
		return SourceAPI
	}
	return source
}
