package shadow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores anomalies. Insert reports false when an anomaly with the
// same fingerprint already exists.
type Repository interface {
	Insert(ctx context.Context, anomaly Anomaly) (Anomaly, bool, error)
	List(ctx context.Context, filters Filters) ([]Anomaly, error)
	Get(ctx context.Context, id int64) (Anomaly, error)
	Resolve(ctx context.Context, id int64, actor string, at time.Time) (Anomaly, error)
}

const anomalyColumns = `id, kind, severity, job_id, job_number, audit_entry_id, detail, evidence,
	fingerprint, detected_at, resolved_at, resolved_by`

const defaultListLimit = 200

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Insert(ctx context.Context, a Anomaly) (Anomaly, bool, error) {
	if a.Evidence == nil {
		a.Evidence = map[string]any{}
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO shadow_anomalies
		(kind, severity, job_id, job_number, audit_entry_id, detail, evidence, fingerprint, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`,
		string(a.Kind), string(a.Severity), a.JobID, a.JobNumber, a.AuditEntryID, a.Detail, a.Evidence,
		a.Fingerprint, a.DetectedAt,
	).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Anomaly{}, false, nil
	}
	if err != nil {
		return Anomaly{}, false, fmt.Errorf("shadow: insert anomaly: %w", err)
	}
	return a, true, nil
}

func (r *pgRepository) List(ctx context.Context, f Filters) ([]Anomaly, error) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Kind != "" {
		add("kind = ?", string(f.Kind))
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}
	switch f.State {
	case StateOpen, "":
		where = append(where, "resolved_at IS NULL")
	case StateResolved:
		where = append(where, "resolved_at IS NOT NULL")
	}
	if n := strings.TrimSpace(f.JobNumber); n != "" {
		add("job_number ILIKE '%' || ? || '%'", n)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + anomalyColumns + ` FROM shadow_anomalies`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("shadow: list anomalies: %w", err)
	}
	defer rows.Close()
	out := make([]Anomaly, 0)
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Anomaly, error) {
	a, err := scanAnomaly(r.pool.QueryRow(ctx, `SELECT `+anomalyColumns+` FROM shadow_anomalies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Anomaly{}, ErrAnomalyNotFound
	}
	return a, err
}

func (r *pgRepository) Resolve(ctx context.Context, id int64, actor string, at time.Time) (Anomaly, error) {
	a, err := scanAnomaly(r.pool.QueryRow(ctx, `UPDATE shadow_anomalies
		SET resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING `+anomalyColumns, id, at, actor))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Anomaly{}, getErr
		}
		return Anomaly{}, ErrAlreadyResolved
	}
	if err != nil {
		return Anomaly{}, fmt.Errorf("shadow: resolve anomaly: %w", err)
	}
	return a, nil
}

func scanAnomaly(row pgx.Row) (Anomaly, error) {
	var (
		a        Anomaly
		kind     string
		severity string
	)
	err := row.Scan(&a.ID, &kind, &severity, &a.JobID, &a.JobNumber, &a.AuditEntryID, &a.Detail, &a.Evidence,
		&a.Fingerprint, &a.DetectedAt, &a.ResolvedAt, &a.ResolvedBy)
	if err != nil {
		return Anomaly{}, err
	}
	a.Kind = Kind(kind)
	a.Severity = Severity(severity)
	return a, nil
}
