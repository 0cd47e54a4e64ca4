// Package restore implements point-in-time restore and manual rebuild of jobs.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/shared"
)

// Source tag prefixes for corrective writes.
const (
	RestoreSourcePrefix = "manual_restore: "
	RebuildSourcePrefix = "manual_rebuild: "
)

// History finds the audit entry a restore replays.
type History interface {
	LatestAtOrBefore(ctx context.Context, table, recordID string, at time.Time) (audit.Entry, error)
}

// Store is the versioned record store.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*jobcard.Job, error)
	GetByNumber(ctx context.Context, number string) (*jobcard.Job, error)
	Update(ctx context.Context, in jobcard.UpdateInput) (jobcard.UpdateResult, error)
}

// Preview shows the live state next to the candidate a commit would apply.
type Preview struct {
	JobID         uuid.UUID    `json:"job_id"`
	JobNumber     string       `json:"job_number"`
	At            time.Time    `json:"at"`
	SourceEntryID int64        `json:"source_entry_id"`
	Current       audit.Values `json:"current"`
	Candidate     audit.Values `json:"candidate"`
	ChangedFields []string     `json:"changed_fields"`
	// CurrentVersion can be echoed back on commit to detect edits made
	// after the preview was shown.
	CurrentVersion int `json:"current_version"`
}

// CommitInput applies restoredValues to a job.
type CommitInput struct {
	JobID           uuid.UUID
	RestoredValues  audit.Values
	Reason          string
	Actor           string
	ExpectedVersion int
}

// RebuildInput re-enters lost money fields for a job.
type RebuildInput struct {
	JobNumber         string
	Reason            string
	Actor             string
	LineItems         []jobcard.LineItemInput
	LabourHours       *decimal.Decimal
	LabourRate        *decimal.Decimal
	TransportCharge   *decimal.Decimal
	SharpeningCharge  *decimal.Decimal
	SmallRepairCharge *decimal.Decimal
	DepositPaid       *decimal.Decimal
	DiscountType      *jobcard.DiscountType
	DiscountValue     *decimal.Decimal
	ExpectedVersion   int
}

// Service coordinates restore and rebuild.
type Service struct {
	history History
	store   Store
	logger  *slog.Logger
}

// NewService constructs a restore service.
func NewService(history History, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "restore"))
	}
	return &Service{history: history, store: store, logger: logger}
}

// Preview locates the newest audit entry at or before at and returns its
// old_values as the restore candidate.
func (s *Service) Preview(ctx context.Context, jobNumber string, at time.Time) (Preview, error) {
	jobNumber = strings.TrimSpace(jobNumber)
	if jobNumber == "" {
		return Preview{}, shared.NewValidationError("job_number", "is required")
	}
	if at.IsZero() {
		return Preview{}, shared.NewValidationError("at", "is required")
	}
	job, err := s.store.GetByNumber(ctx, jobNumber)
	if err != nil {
		return Preview{}, err
	}
	return s.preview(ctx, job, at)
}

func (s *Service) preview(ctx context.Context, job *jobcard.Job, at time.Time) (Preview, error) {
	entry, err := s.history.LatestAtOrBefore(ctx, audit.TableJobRecords, job.ID.String(), at)
	if err != nil {
		return Preview{}, err
	}
	// an INSERT has no prior state to return to
	if len(entry.OldValues) == 0 {
		return Preview{}, fmt.Errorf("%w: job %s was created at that time", shared.ErrRestoreUnavailable, job.Number)
	}
	current, err := jobcard.Snapshot(job)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		JobID:          job.ID,
		JobNumber:      job.Number,
		At:             at,
		SourceEntryID:  entry.ID,
		Current:        current,
		Candidate:      entry.OldValues,
		ChangedFields:  audit.ChangedFields(jobcard.StateValues(current), jobcard.StateValues(entry.OldValues)),
		CurrentVersion: job.Version,
	}, nil
}

// Commit applies in.RestoredValues through the record store as a RECOVERY.
func (s *Service) Commit(ctx context.Context, in CommitInput) (jobcard.UpdateResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return jobcard.UpdateResult{}, shared.NewValidationError("reason", "is required")
	}
	patch, err := jobcard.PatchFromSnapshot(in.RestoredValues)
	if err != nil {
		return jobcard.UpdateResult{}, shared.NewValidationError("restored_values", err.Error())
	}
	version := in.ExpectedVersion
	if version == 0 {
		job, err := s.store.Get(ctx, in.JobID)
		if err != nil {
			return jobcard.UpdateResult{}, err
		}
		version = job.Version
	}
	res, err := s.store.Update(ctx, jobcard.UpdateInput{
		ID:              in.JobID,
		ExpectedVersion: version,
		Patch:           patch,
		Operation:       audit.OpRecovery,
		Actor:           in.Actor,
		Source:          RestoreSourcePrefix + reason,
	})
	if err != nil {
		return jobcard.UpdateResult{}, err
	}
	s.logger.Info("job restored",
		slog.String("job_number", res.Job.Number),
		slog.Int("new_version", res.NewVersion),
		slog.String("actor", in.Actor),
	)
	return res, nil
}

// CommitAt re-derives the candidate for jobID at the given time and commits
// it, so restored values never come from the client.
func (s *Service) CommitAt(ctx context.Context, jobID uuid.UUID, at time.Time, reason, actor string, expectedVersion int) (jobcard.UpdateResult, error) {
	if strings.TrimSpace(reason) == "" {
		return jobcard.UpdateResult{}, shared.NewValidationError("reason", "is required")
	}
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return jobcard.UpdateResult{}, err
	}
	p, err := s.preview(ctx, job, at)
	if err != nil {
		return jobcard.UpdateResult{}, err
	}
	if expectedVersion == 0 {
		expectedVersion = job.Version
	}
	return s.Commit(ctx, CommitInput{
		JobID:           jobID,
		RestoredValues:  p.Candidate,
		Reason:          reason,
		Actor:           actor,
		ExpectedVersion: expectedVersion,
	})
}

// Rebuild replaces the money fields of a job with freshly entered values.
// It does not consult history.
func (s *Service) Rebuild(ctx context.Context, in RebuildInput) (jobcard.UpdateResult, error) {
	verr := &shared.ValidationError{}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		verr.Add("reason", "is required")
	}
	if strings.TrimSpace(in.JobNumber) == "" {
		verr.Add("job_number", "is required")
	}
	if err := verr.Err(); err != nil {
		return jobcard.UpdateResult{}, err
	}
	job, err := s.store.GetByNumber(ctx, strings.TrimSpace(in.JobNumber))
	if err != nil {
		return jobcard.UpdateResult{}, err
	}
	items := in.LineItems
	if items == nil {
		items = []jobcard.LineItemInput{}
	}
	patch := jobcard.Patch{LineItems: jobcard.Some(items)}
	setDecimal(&patch.LabourHours, in.LabourHours)
	setDecimal(&patch.LabourRate, in.LabourRate)
	setDecimal(&patch.TransportCharge, in.TransportCharge)
	setDecimal(&patch.SharpeningCharge, in.SharpeningCharge)
	setDecimal(&patch.SmallRepairCharge, in.SmallRepairCharge)
	setDecimal(&patch.DepositPaid, in.DepositPaid)
	setDecimal(&patch.DiscountValue, in.DiscountValue)
	if in.DiscountType != nil {
		patch.DiscountType = jobcard.Some(*in.DiscountType)
	}
	version := in.ExpectedVersion
	if version == 0 {
		version = job.Version
	}
	res, err := s.store.Update(ctx, jobcard.UpdateInput{
		ID:              job.ID,
		ExpectedVersion: version,
		Patch:           patch,
		Operation:       audit.OpRebuild,
		Actor:           in.Actor,
		Source:          RebuildSourcePrefix + reason,
	})
	if err != nil {
		return jobcard.UpdateResult{}, err
	}
	s.logger.Info("job rebuilt",
		slog.String("job_number", res.Job.Number),
		slog.Int("line_items", len(items)),
		slog.String("actor", in.Actor),
	)
	return res, nil
}

func setDecimal(f *jobcard.Field[decimal.Decimal], v *decimal.Decimal) {
	if v != nil {
		*f = jobcard.Some(*v)
	}
}
