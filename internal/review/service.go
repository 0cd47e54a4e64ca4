// Package review implements accept and reject of unreviewed audit entries.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/shared"
)

// RejectionSourcePrefix starts the source tag of every revert.
const RejectionSourcePrefix = "rejection of audit entry "

// Entries is the audit access review needs.
type Entries interface {
	Get(ctx context.Context, id int64) (audit.Entry, error)
	MarkReviewed(ctx context.Context, id int64, state audit.ReviewState, reviewer string, at time.Time) (bool, error)
}

// Store is the versioned record store used to apply reverts.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*jobcard.Job, error)
	Update(ctx context.Context, in jobcard.UpdateInput) (jobcard.UpdateResult, error)
}

// RejectResult describes a completed revert.
type RejectResult struct {
	Entry      audit.Entry  `json:"entry"`
	RevertID   int64        `json:"revert_audit_id"`
	NewVersion int          `json:"new_version"`
	Job        *jobcard.Job `json:"job"`
}

// Service runs the review workflow.
type Service struct {
	entries Entries
	store   Store
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a review service.
func NewService(entries Entries, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "review"))
	}
	return &Service{entries: entries, store: store, logger: logger, now: time.Now}
}

// Accept marks an unreviewed entry accepted. A second review of the same
// entry returns shared.ErrAlreadyReviewed together with the stored entry.
func (s *Service) Accept(ctx context.Context, id int64, reviewer string) (audit.Entry, error) {
	entry, err := s.entries.Get(ctx, id)
	if err != nil {
		return audit.Entry{}, err
	}
	if entry.Reviewed() {
		return entry, shared.ErrAlreadyReviewed
	}
	at := s.now().UTC()
	marked, err := s.entries.MarkReviewed(ctx, id, audit.ReviewAccepted, reviewer, at)
	if err != nil {
		return audit.Entry{}, err
	}
	if !marked {
		// lost a race with another reviewer
		current, err := s.entries.Get(ctx, id)
		if err != nil {
			return audit.Entry{}, err
		}
		return current, shared.ErrAlreadyReviewed
	}
	entry.ReviewState = audit.ReviewAccepted
	entry.ReviewedBy = &reviewer
	entry.ReviewedAt = &at
	s.logger.Info("audit entry accepted", slog.Int64("entry_id", id), slog.String("reviewer", reviewer))
	return entry, nil
}

// Reject reverts the job to the entry's old_values through the record store
// and marks the entry rejected in the same transaction.
func (s *Service) Reject(ctx context.Context, id int64, reviewer string) (RejectResult, error) {
	entry, err := s.entries.Get(ctx, id)
	if err != nil {
		return RejectResult{}, err
	}
	if entry.Reviewed() {
		return RejectResult{Entry: entry}, shared.ErrAlreadyReviewed
	}
	if entry.TableName != audit.TableJobRecords {
		return RejectResult{}, shared.NewValidationError("entry", "only job record entries can be rejected")
	}
	switch entry.Operation {
	case audit.OpInsert, audit.OpDelete:
		return RejectResult{}, shared.NewValidationError("operation", fmt.Sprintf("%s entries cannot be reverted", entry.Operation))
	}
	jobID, err := uuid.Parse(entry.RecordID)
	if err != nil {
		return RejectResult{}, fmt.Errorf("review: entry %d has invalid record id: %w", id, err)
	}
	patch, err := jobcard.PatchFromSnapshot(entry.OldValues)
	if err != nil {
		return RejectResult{}, fmt.Errorf("review: entry %d: %w", id, err)
	}
	current, err := s.store.Get(ctx, jobID)
	if err != nil {
		return RejectResult{}, err
	}
	res, err := s.store.Update(ctx, jobcard.UpdateInput{
		ID:              jobID,
		ExpectedVersion: current.Version,
		Patch:           patch,
		Operation:       audit.OpUpdate,
		Actor:           reviewer,
		Source:          RejectionSourcePrefix + strconv.FormatInt(id, 10),
		RejectsEntry:    id,
		Reviewer:        reviewer,
	})
	if err != nil {
		if errors.Is(err, shared.ErrVersionConflict) {
			s.logger.Warn("reject raced with another edit", slog.Int64("entry_id", id))
		}
		return RejectResult{}, err
	}
	at := s.now().UTC()
	entry.ReviewState = audit.ReviewRejected
	entry.ReviewedBy = &reviewer
	entry.ReviewedAt = &at
	s.logger.Info("audit entry rejected",
		slog.Int64("entry_id", id),
		slog.String("job_number", res.Job.Number),
		slog.Int("new_version", res.NewVersion),
	)
	return RejectResult{Entry: entry, RevertID: res.AuditID, NewVersion: res.NewVersion, Job: res.Job}, nil
}
