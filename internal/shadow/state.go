package shadow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/jobcard"
	"github.com/workbay/workbay/internal/platform/db"
)

// StateReader loads every job row, soft-deleted ones included, together with
// the newest audit entry of each job. Both sets must come from one snapshot.
type StateReader interface {
	ReadState(ctx context.Context) ([]jobcard.Job, []audit.Entry, error)
}

// PgState reads job rows and audit history in one read-only repeatable-read
// transaction.
type PgState struct {
	pool *pgxpool.Pool
}

// NewPgState returns a PostgreSQL StateReader.
func NewPgState(pool *pgxpool.Pool) *PgState {
	return &PgState{pool: pool}
}

func (s *PgState) ReadState(ctx context.Context) ([]jobcard.Job, []audit.Entry, error) {
	var (
		jobs   []jobcard.Job
		latest []audit.Entry
	)
	err := db.WithTxOptions(ctx, s.pool, db.SnapshotRead, func(tx pgx.Tx) error {
		var err error
		if jobs, err = jobcard.ListJobs(ctx, tx, true); err != nil {
			return err
		}
		latest, err = audit.LatestPerRecord(ctx, tx, audit.TableJobRecords)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("shadow: read state: %w", err)
	}
	return jobs, latest, nil
}
