package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/menulens/api/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Scan jobs ---

func (s *PostgresStore) CreateScanJob(ctx context.Context, job *models.ScanJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create scan job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO scan_jobs (id, status, image_ref, language, push_token, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		job.ID, job.Status, job.ImageRef, job.Language, job.PushToken, job.ExpiresAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert scan job: %w", err)
	}

	// The empty snapshot is created in the same transaction so a reader can
	// always poll a job it was just handed.
	_, err = tx.Exec(ctx,
		`INSERT INTO scan_snapshots (job_id, status, items, expires_at)
		 VALUES ($1, $2, '[]'::jsonb, $3)`,
		job.ID, job.Status, job.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert scan snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create scan job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScanJob(ctx context.Context, id uuid.UUID) (*models.ScanJob, error) {
	var j models.ScanJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, image_ref, language, push_token, last_seq, error_code, created_at, updated_at, expires_at
		 FROM scan_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Status, &j.ImageRef, &j.Language, &j.PushToken,
		&j.LastSeq, &j.ErrorCode, &j.CreatedAt, &j.UpdatedAt, &j.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ClaimScanJob(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_jobs SET status = $2, updated_at = NOW()
		 WHERE id = $1
		   AND (status = $3 OR (status = $2 AND updated_at < $4))`,
		id, models.JobStatusRunning, models.JobStatusQueued, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim scan job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var validTransitions = map[string][]string{
	models.JobStatusQueued:  {models.JobStatusRunning, models.JobStatusFailed},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusPartial, models.JobStatusFailed},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ResolveJobUpdate(opts)

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scan_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get scan job status: %w", err)
	}

	// Validate transition
	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", currentStatus, status)
	}

	query := `UPDATE scan_jobs SET status = $2, updated_at = NOW()`
	args := []any{id, status}
	if params.ErrorCode != nil {
		query += `, error_code = $3`
		args = append(args, *params.ErrorCode)
	}
	query += ` WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update scan job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStaleScanJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*models.ScanJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, image_ref, language, push_token, last_seq, error_code, created_at, updated_at, expires_at
		 FROM scan_jobs
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at ASC
		 LIMIT $4`,
		models.JobStatusQueued, models.JobStatusRunning, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScanJob
	for rows.Next() {
		var j models.ScanJob
		if err := rows.Scan(&j.ID, &j.Status, &j.ImageRef, &j.Language, &j.PushToken,
			&j.LastSeq, &j.ErrorCode, &j.CreatedAt, &j.UpdatedAt, &j.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan stale job row: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// --- Event log ---

func (s *PostgresStore) AppendEvent(ctx context.Context, jobID uuid.UUID, eventType string, payload []byte, expiresAt time.Time) (int64, error) {
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append event: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The job row is the sequence authority: bumping last_seq under the row
	// lock is what makes seq gapless and strictly increasing per job.
	var seq int64
	err = tx.QueryRow(ctx,
		`UPDATE scan_jobs SET last_seq = last_seq + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING last_seq`, jobID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("advance event seq: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO scan_events (job_id, seq, event_type, payload, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		jobID, seq, eventType, payload, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append event: %w", err)
	}
	return seq, nil
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]*models.ScanEvent, error) {
	query := `SELECT job_id, seq, event_type, payload, created_at, expires_at
	          FROM scan_events
	          WHERE job_id = $1 AND seq > $2
	          ORDER BY seq ASC`
	args := []any{jobID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.ScanEvent
	for rows.Next() {
		var e models.ScanEvent
		var payload []byte
		if err := rows.Scan(&e.JobID, &e.Seq, &e.Type, &payload, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Snapshots ---

func (s *PostgresStore) GetSnapshot(ctx context.Context, jobID uuid.UUID) (*models.Snapshot, error) {
	var snap models.Snapshot
	var items []byte
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, status, items, created_at, updated_at, expires_at
		 FROM scan_snapshots WHERE job_id = $1`, jobID,
	).Scan(&snap.JobID, &snap.Status, &items, &snap.CreatedAt, &snap.UpdatedAt, &snap.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	if err := json.Unmarshal(items, &snap.Items); err != nil {
		return nil, fmt.Errorf("decode snapshot items: %w", err)
	}
	if snap.Items == nil {
		snap.Items = []models.MenuItem{}
	}
	return &snap, nil
}

func (s *PostgresStore) UpdateSnapshot(ctx context.Context, jobID uuid.UUID, status string, items []models.MenuItem) error {
	if items == nil {
		items = []models.MenuItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode snapshot items: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_snapshots SET status = $2, items = $3, updated_at = NOW() WHERE job_id = $1`,
		jobID, status, data)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Retention ---

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64

	tag, err := s.pool.Exec(ctx, `DELETE FROM scan_events WHERE expires_at < $1`, now)
	if err != nil {
		return total, fmt.Errorf("purge expired events: %w", err)
	}
	total += tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM scan_snapshots WHERE expires_at < $1`, now)
	if err != nil {
		return total, fmt.Errorf("purge expired snapshots: %w", err)
	}
	total += tag.RowsAffected()

	// Only terminal jobs are purged; a stuck non-terminal job is the
	// janitor's to rescue, not ours to delete.
	tag, err = s.pool.Exec(ctx,
		`DELETE FROM scan_jobs WHERE expires_at < $1 AND status IN ($2, $3, $4)`,
		now, models.JobStatusCompleted, models.JobStatusPartial, models.JobStatusFailed)
	if err != nil {
		return total, fmt.Errorf("purge expired jobs: %w", err)
	}
	total += tag.RowsAffected()

	return total, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
