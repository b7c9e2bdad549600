package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/maskview/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Push Records ---

func (s *PostgresStore) CreatePushRecord(ctx context.Context, rec *models.PushRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO push_records (id, job_id, filenames, task_url, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.JobID, rec.Filenames, rec.TaskURL, rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create push record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPushRecord(ctx context.Context, id uuid.UUID) (*models.PushRecord, error) {
	var r models.PushRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, filenames, task_url, created_at FROM push_records WHERE id = $1`, id,
	).Scan(&r.ID, &r.JobID, &r.Filenames, &r.TaskURL, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get push record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListPushRecords(ctx context.Context, filter PushFilter) ([]*models.PushRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM push_records WHERE job_id = $1`, filter.JobID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count push records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, filenames, task_url, created_at
		 FROM push_records WHERE job_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		filter.JobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list push records: %w", err)
	}
	defer rows.Close()

	records := []*models.PushRecord{}
	for rows.Next() {
		var r models.PushRecord
		if err := rows.Scan(&r.ID, &r.JobID, &r.Filenames, &r.TaskURL, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan push record: %w", err)
		}
		records = append(records, &r)
	}
	return records, total, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
