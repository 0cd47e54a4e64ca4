package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workbay/workbay/internal/platform/db"
	"github.com/workbay/workbay/internal/shared"
)

// Repository provides read access and review updates for audit entries.
type Repository interface {
	Get(ctx context.Context, id int64) (Entry, error)
	List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
	LatestAtOrBefore(ctx context.Context, table, recordID string, at time.Time) (Entry, error)
	LatestPerRecord(ctx context.Context, table string) ([]Entry, error)
	Since(ctx context.Context, afterID int64, limit int) ([]Entry, error)
	MarkReviewed(ctx context.Context, id int64, state ReviewState, reviewer string, at time.Time) (bool, error)
}

const entryColumns = `id, table_name, record_id, operation, old_values, new_values, changed_fields,
	actor, source, changed_at, review_state, reviewed_by, reviewed_at`

// ErrEntryNotFound indicates the referenced audit entry does not exist.
var ErrEntryNotFound = fmt.Errorf("audit entry: %w", shared.ErrRecordNotFound)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// InsertEntry appends entry using q, which is normally the transaction that
// performed the documented mutation. The assigned sequence id is returned.
func InsertEntry(ctx context.Context, q db.DBTX, entry Entry) (Entry, error) {
	if entry.TableName == "" || entry.RecordID == "" || !entry.Operation.Valid() {
		return Entry{}, errors.New("audit: entry requires table, record id and operation")
	}
	if entry.ReviewState == "" {
		entry.ReviewState = ReviewUnreviewed
	}
	if entry.ChangedFields == nil {
		entry.ChangedFields = []string{}
	}
	const query = `INSERT INTO audit_entries
		(table_name, record_id, operation, old_values, new_values, changed_fields, actor, source, changed_at, review_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := q.QueryRow(ctx, query,
		entry.TableName, entry.RecordID, string(entry.Operation), entry.OldValues, entry.NewValues,
		entry.ChangedFields, entry.Actor, entry.Source, entry.ChangedAt, string(entry.ReviewState),
	).Scan(&entry.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: insert entry: %w", err)
	}
	return entry, nil
}

// MarkReviewed moves an unreviewed entry into state. It reports false when
// the entry was already reviewed or does not exist.
func MarkReviewed(ctx context.Context, q db.DBTX, id int64, state ReviewState, reviewer string, at time.Time) (bool, error) {
	if state != ReviewAccepted && state != ReviewRejected {
		return false, fmt.Errorf("audit: cannot mark entry %s", state)
	}
	tag, err := q.Exec(ctx, `UPDATE audit_entries
		SET review_state = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND review_state = 'unreviewed'`, id, string(state), reviewer, at)
	if err != nil {
		return false, fmt.Errorf("audit: mark reviewed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return entry, err
}

func (r *pgRepository) List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if ts := toPgTime(filters.From); ts.Valid {
		add("changed_at >= ?", ts)
	}
	if ts := toPgTime(filters.To); ts.Valid {
		add("changed_at < ?", ts)
	}
	if filters.Operation != "" {
		add("operation = ?", string(filters.Operation))
	}
	if state := filters.ReviewState; state != "" && state != ReviewAny {
		add("review_state = ?", string(state))
	}
	if q := optionalText(filters.Query); q.Valid {
		add("(new_values->>'job_number' ILIKE '%' || ? || '%' OR old_values->>'job_number' ILIKE '%' || ? || '%')", q)
	}
	if t := optionalText(filters.TableName); t.Valid {
		add("table_name = ?", t)
	}
	if id := optionalText(filters.RecordID); id.Valid {
		add("record_id = ?", id)
	}
	query := `SELECT ` + entryColumns + ` FROM audit_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return collectEntries(rows)
}

func (r *pgRepository) LatestAtOrBefore(ctx context.Context, table, recordID string, at time.Time) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM audit_entries
		WHERE table_name = $1 AND record_id = $2 AND changed_at <= $3
		ORDER BY id DESC LIMIT 1`, table, recordID, at)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, shared.ErrRestoreUnavailable
	}
	return entry, err
}

func (r *pgRepository) LatestPerRecord(ctx context.Context, table string) ([]Entry, error) {
	return LatestPerRecord(ctx, r.pool, table)
}

// LatestPerRecord returns the newest entry of every record in table, read
// through q.
func LatestPerRecord(ctx context.Context, q db.DBTX, table string) ([]Entry, error) {
	rows, err := q.Query(ctx, `SELECT DISTINCT ON (record_id) `+entryColumns+` FROM audit_entries
		WHERE table_name = $1
		ORDER BY record_id, id DESC`, table)
	if err != nil {
		return nil, fmt.Errorf("audit: latest per record: %w", err)
	}
	return collectEntries(rows)
}

func (r *pgRepository) Since(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_entries
		WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: since: %w", err)
	}
	return collectEntries(rows)
}

func (r *pgRepository) MarkReviewed(ctx context.Context, id int64, state ReviewState, reviewer string, at time.Time) (bool, error) {
	return MarkReviewed(ctx, r.pool, id, state, reviewer, at)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry     Entry
		operation string
		state     string
	)
	err := row.Scan(
		&entry.ID, &entry.TableName, &entry.RecordID, &operation, &entry.OldValues, &entry.NewValues,
		&entry.ChangedFields, &entry.Actor, &entry.Source, &entry.ChangedAt, &state,
		&entry.ReviewedBy, &entry.ReviewedAt,
	)
	if err != nil {
		return Entry{}, err
	}
	entry.Operation = Operation(operation)
	entry.ReviewState = ReviewState(state)
	return entry, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
