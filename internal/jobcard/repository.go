package jobcard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/workbay/workbay/internal/audit"
	"github.com/workbay/workbay/internal/platform/db"
)

// Repository reads jobs and opens store transactions.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	GetByNumber(ctx context.Context, number string) (*Job, error)
	// ListAll returns every job, soft-deleted ones included when requested.
	ListAll(ctx context.Context, includeDeleted bool) ([]Job, error)
	ListLinkages(ctx context.Context) ([]Linkage, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes performed inside a store transaction.
type TxRepository interface {
	NextSequence(ctx context.Context, year int) (int, error)
	Insert(ctx context.Context, job *Job) error
	Load(ctx context.Context, id uuid.UUID) (*Job, error)
	PaymentsApplied(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	// CompareAndSwap writes job only if the stored version still equals
	// expectedVersion and the row is not soft-deleted.
	CompareAndSwap(ctx context.Context, job *Job, expectedVersion int) (bool, error)
	ReplaceLineItems(ctx context.Context, jobID uuid.UUID, items []LineItem) error
	AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error)
	MarkReviewed(ctx context.Context, entryID int64, state audit.ReviewState, reviewer string, at time.Time) (bool, error)
}

const jobColumns = `id, job_number, customer_id, machine_make, machine_model, machine_serial,
	problem_description, work_performed, notes, labour_hours, labour_rate, transport_charge,
	sharpening_charge, small_repair_charge, deposit_paid, discount_type, discount_value, status,
	parts_subtotal, labour_total, subtotal, discount_amount, gst, grand_total, balance_due,
	version, completed_at, delivered_at, deleted_at, created_at, updated_at`

// PgRepository is the PostgreSQL implementation of Repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return loadJob(ctx, r.pool, `SELECT `+jobColumns+` FROM job_records WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *PgRepository) GetByNumber(ctx context.Context, number string) (*Job, error) {
	return loadJob(ctx, r.pool, `SELECT `+jobColumns+` FROM job_records WHERE job_number = $1 AND deleted_at IS NULL`, number)
}

func (r *PgRepository) ListAll(ctx context.Context, includeDeleted bool) ([]Job, error) {
	return ListJobs(ctx, r.pool, includeDeleted)
}

// ListJobs reads every job and its line items through q, so callers can run
// it inside a wider transaction.
func ListJobs(ctx context.Context, q db.DBTX, includeDeleted bool) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM job_records`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY job_number`
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	items, err := lineItemsFor(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].LineItems = items[jobs[i].ID]
		if jobs[i].LineItems == nil {
			jobs[i].LineItems = []LineItem{}
		}
	}
	return jobs, nil
}

func (r *PgRepository) ListLinkages(ctx context.Context) ([]Linkage, error) {
	rows, err := r.pool.Query(ctx, `SELECT j.job_number, j.customer_id, COALESCE(c.name, '')
		FROM job_records j
		LEFT JOIN customers c ON c.id = j.customer_id
		WHERE j.deleted_at IS NULL
		ORDER BY j.job_number`)
	if err != nil {
		return nil, fmt.Errorf("list linkages: %w", err)
	}
	defer rows.Close()
	linkages := make([]Linkage, 0)
	for rows.Next() {
		var l Linkage
		if err := rows.Scan(&l.JobNumber, &l.CustomerID, &l.CustomerName); err != nil {
			return nil, err
		}
		linkages = append(linkages, l)
	}
	return linkages, rows.Err()
}

// ============================================================================
// TRANSACTIONAL OPERATIONS
// ============================================================================

func (t *txRepo) NextSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `INSERT INTO job_number_counters (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = job_number_counters.last_seq + 1
		RETURNING last_seq`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next job sequence: %w", err)
	}
	return seq, nil
}

func (t *txRepo) Insert(ctx context.Context, job *Job) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO job_records (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		job.ID, job.Number, job.CustomerID, job.MachineMake, job.MachineModel, job.MachineSerial,
		job.ProblemDescription, job.WorkPerformed, job.Notes, job.LabourHours, job.LabourRate, job.TransportCharge,
		job.SharpeningCharge, job.SmallRepairCharge, job.DepositPaid, string(job.DiscountType), job.DiscountValue, string(job.Status),
		job.Totals.PartsSubtotal, job.Totals.LabourTotal, job.Totals.Subtotal, job.Totals.DiscountAmount,
		job.Totals.GST, job.Totals.GrandTotal, job.Totals.BalanceDue,
		job.Version, job.CompletedAt, job.DeliveredAt, job.DeletedAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return t.ReplaceLineItems(ctx, job.ID, job.LineItems)
}

// Load reads the job including soft-deleted rows so callers can tell
// "deleted" apart from "never existed".
func (t *txRepo) Load(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := loadJob(ctx, t.tx, `SELECT `+jobColumns+` FROM job_records WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (t *txRepo) PaymentsApplied(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM job_payments WHERE job_id = $1`, id).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}

func (t *txRepo) CompareAndSwap(ctx context.Context, job *Job, expectedVersion int) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE job_records SET
			customer_id = $3, machine_make = $4, machine_model = $5, machine_serial = $6,
			problem_description = $7, work_performed = $8, notes = $9, labour_hours = $10,
			labour_rate = $11, transport_charge = $12, sharpening_charge = $13, small_repair_charge = $14,
			deposit_paid = $15, discount_type = $16, discount_value = $17, status = $18,
			parts_subtotal = $19, labour_total = $20, subtotal = $21, discount_amount = $22,
			gst = $23, grand_total = $24, balance_due = $25, version = $26,
			completed_at = $27, delivered_at = $28, deleted_at = $29, updated_at = $30
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		job.ID, expectedVersion, job.CustomerID, job.MachineMake, job.MachineModel, job.MachineSerial,
		job.ProblemDescription, job.WorkPerformed, job.Notes, job.LabourHours,
		job.LabourRate, job.TransportCharge, job.SharpeningCharge, job.SmallRepairCharge,
		job.DepositPaid, string(job.DiscountType), job.DiscountValue, string(job.Status),
		job.Totals.PartsSubtotal, job.Totals.LabourTotal, job.Totals.Subtotal, job.Totals.DiscountAmount,
		job.Totals.GST, job.Totals.GrandTotal, job.Totals.BalanceDue, job.Version,
		job.CompletedAt, job.DeliveredAt, job.DeletedAt, job.UpdatedAt,
	)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return false, nil
		}
		return false, fmt.Errorf("update job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) ReplaceLineItems(ctx context.Context, jobID uuid.UUID, items []LineItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM job_line_items WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear line items: %w", err)
	}
	for i, item := range items {
		_, err := t.tx.Exec(ctx, `INSERT INTO job_line_items
			(id, job_id, position, part_id, description, quantity, unit_price, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, jobID, i+1, item.PartID, item.Description, item.Quantity, item.UnitPrice, item.Total)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	return nil
}

func (t *txRepo) AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	return audit.InsertEntry(ctx, t.tx, entry)
}

func (t *txRepo) MarkReviewed(ctx context.Context, entryID int64, state audit.ReviewState, reviewer string, at time.Time) (bool, error) {
	return audit.MarkReviewed(ctx, t.tx, entryID, state, reviewer, at)
}

// ============================================================================
// SCANNING
// ============================================================================

func loadJob(ctx context.Context, q db.DBTX, query string, arg any) (*Job, error) {
	job, err := scanJob(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := lineItemsFor(ctx, q, &job.ID)
	if err != nil {
		return nil, err
	}
	job.LineItems = items[job.ID]
	if job.LineItems == nil {
		job.LineItems = []LineItem{}
	}
	return job, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job          Job
		discountType string
		status       string
	)
	err := row.Scan(
		&job.ID, &job.Number, &job.CustomerID, &job.MachineMake, &job.MachineModel, &job.MachineSerial,
		&job.ProblemDescription, &job.WorkPerformed, &job.Notes, &job.LabourHours, &job.LabourRate, &job.TransportCharge,
		&job.SharpeningCharge, &job.SmallRepairCharge, &job.DepositPaid, &discountType, &job.DiscountValue, &status,
		&job.Totals.PartsSubtotal, &job.Totals.LabourTotal, &job.Totals.Subtotal, &job.Totals.DiscountAmount,
		&job.Totals.GST, &job.Totals.GrandTotal, &job.Totals.BalanceDue,
		&job.Version, &job.CompletedAt, &job.DeliveredAt, &job.DeletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.DiscountType = DiscountType(discountType)
	job.Status = Status(status)
	return &job, nil
}

func lineItemsFor(ctx context.Context, q db.DBTX, jobID *uuid.UUID) (map[uuid.UUID][]LineItem, error) {
	query := `SELECT job_id, id, part_id, description, quantity, unit_price, total FROM job_line_items`
	var args []any
	if jobID != nil {
		query += ` WHERE job_id = $1`
		args = append(args, *jobID)
	}
	query += ` ORDER BY job_id, position`
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID][]LineItem)
	for rows.Next() {
		var (
			owner uuid.UUID
			item  LineItem
		)
		if err := rows.Scan(&owner, &item.ID, &item.PartID, &item.Description, &item.Quantity, &item.UnitPrice, &item.Total); err != nil {
			return nil, err
		}
		out[owner] = append(out[owner], item)
	}
	return out, rows.Err()
}
