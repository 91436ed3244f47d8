package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giftflow/wishlist-pipeline/internal/domain"
)

type pgStore struct {
	pool       *pgxpool.Pool
	partitions int
}

// NewPgStore returns a Store backed by PostgreSQL. partitions is the number
// of change-feed partitions subject ids are hashed onto; it must match the
// bridge configuration.
func NewPgStore(pool *pgxpool.Pool, partitions int) Store {
	return &pgStore{pool: pool, partitions: partitions}
}

// appendChange writes one row of the mutation log inside the caller's
// transaction, so an entity write and its change row commit together.
func (s *pgStore) appendChange(ctx context.Context, tx pgx.Tx, subjectID string, docType domain.ChangeDocType, docID string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO change_log (partition, subject_id, doc_type, doc_id, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		PartitionFor(subjectID, s.partitions), subjectID, docType, docID, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append change: %w", err)
	}
	return nil
}

// ---- JobStore ----

func (s *pgStore) CreateIfAbsent(ctx context.Context, job *domain.Job, rec *domain.IngestionRecord) (bool, *domain.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO jobs
			(key, subject_id, type, schema_version, correlation_id, status, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (key) DO NOTHING`,
		job.Key, job.SubjectID, job.Type, job.SchemaVersion, job.CorrelationID,
		job.Status, job.Attempts, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("insert job: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Duplicate key: observe the winner's job, write nothing.
		if err := tx.Commit(ctx); err != nil {
			return false, nil, fmt.Errorf("commit duplicate lookup: %w", err)
		}
		existing, err := s.GetJob(ctx, job.Key)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ingestion_records
			(id, subject_id, event_type, occurred_at, correlation_id, schema_version, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.SubjectID, rec.EventType, rec.OccurredAt,
		rec.CorrelationID, rec.SchemaVersion, rec.IdempotencyKey, rec.CreatedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("insert ingestion record: %w", err)
	}

	if err := s.appendChange(ctx, tx, job.SubjectID, domain.ChangeDocJob, job.Key, job); err != nil {
		return false, nil, err
	}
	if err := s.appendChange(ctx, tx, rec.SubjectID, domain.ChangeDocIngestion, rec.ID, rec); err != nil {
		return false, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("commit job creation: %w", err)
	}
	return true, job, nil
}

func (s *pgStore) GetJob(ctx context.Context, key string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, subject_id, type, schema_version, correlation_id, status,
		       attempts, error, created_at, updated_at
		FROM jobs WHERE key = $1`, key)

	var j domain.Job
	err := row.Scan(
		&j.Key, &j.SubjectID, &j.Type, &j.SchemaVersion, &j.CorrelationID,
		&j.Status, &j.Attempts, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *pgStore) SetJobStatus(ctx context.Context, key string, status domain.JobStatus, errMsg *string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		UPDATE jobs SET status = $1, error = $2, updated_at = $3
		WHERE key = $4
		RETURNING subject_id`, status, errMsg, time.Now().UTC(), key)

	var subjectID string
	if err := row.Scan(&subjectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("update job status: %w", err)
	}

	change := map[string]any{"key": key, "status": status, "error": errMsg}
	if err := s.appendChange(ctx, tx, subjectID, domain.ChangeDocJob, key, change); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) IncrementAttempts(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET attempts = attempts + 1, updated_at = $1 WHERE key = $2`,
		time.Now().UTC(), key)
	return err
}

// ---- StageResultStore ----

func (s *pgStore) AppendStageResult(ctx context.Context, res *domain.StageResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO stage_results
			(id, subject_id, job_key, stage, fallback_used, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.SubjectID, res.JobKey, res.Stage, res.FallbackUsed, res.Payload, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage result: %w", err)
	}

	if err := s.appendChange(ctx, tx, res.SubjectID, domain.ChangeDocStageResult, res.ID, res); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) ListStageResults(ctx context.Context, subjectID string) ([]*domain.StageResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject_id, job_key, stage, fallback_used, payload, created_at
		FROM stage_results
		WHERE subject_id = $1
		ORDER BY created_at ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var results []*domain.StageResult
	for rows.Next() {
		var r domain.StageResult
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.JobKey, &r.Stage, &r.FallbackUsed, &r.Payload, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// ---- NotificationStore ----

func (s *pgStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO notifications
			(id, subject_id, type, message, related_id, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.SubjectID, n.Type, n.Message, n.RelatedID, n.State, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if err := s.appendChange(ctx, tx, n.SubjectID, domain.ChangeDocNotification, n.ID, n); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, subject_id, type, message, related_id, state, created_at
		FROM notifications WHERE id = $1`, id)

	var n domain.Notification
	err := row.Scan(&n.ID, &n.SubjectID, &n.Type, &n.Message, &n.RelatedID, &n.State, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

func (s *pgStore) ListNotifications(ctx context.Context, subjectID string) ([]*domain.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subject_id, type, message, related_id, state, created_at
		FROM notifications
		WHERE subject_id = $1
		ORDER BY created_at ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.SubjectID, &n.Type, &n.Message, &n.RelatedID, &n.State, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}

func (s *pgStore) SetNotificationState(ctx context.Context, id string, state domain.NotificationState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET state = $1 WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("update notification state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---- StreamCursorStore ----

func (s *pgStore) RecordCursor(ctx context.Context, subjectID, connectionID, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stream_cursors (subject_id, connection_id, last_event_id, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (subject_id, connection_id)
		DO UPDATE SET last_event_id = EXCLUDED.last_event_id, updated_at = EXCLUDED.updated_at`,
		subjectID, connectionID, eventID, time.Now().UTC(),
	)
	return err
}

// ---- ChangeFeedStore ----

func (s *pgStore) AcquireLease(ctx context.Context, partition int, owner string, ttl time.Duration) (bool, int64, error) {
	until := time.Now().UTC().Add(ttl)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO changefeed_leases (partition, owner, lease_until, checkpoint)
		VALUES ($1,$2,$3,0)
		ON CONFLICT (partition) DO UPDATE
			SET owner = EXCLUDED.owner, lease_until = EXCLUDED.lease_until
			WHERE changefeed_leases.owner = EXCLUDED.owner
			   OR changefeed_leases.lease_until < NOW()
		RETURNING checkpoint`, partition, owner, until)

	var checkpoint int64
	err := row.Scan(&checkpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil // someone else holds the lease
	}
	if err != nil {
		return false, 0, fmt.Errorf("acquire lease: %w", err)
	}
	return true, checkpoint, nil
}

func (s *pgStore) ReadBatch(ctx context.Context, partition int, afterSeq int64, limit int) ([]*domain.Change, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, partition, subject_id, doc_type, doc_id, payload, created_at
		FROM change_log
		WHERE partition = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, partition, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("read change batch: %w", err)
	}
	defer rows.Close()

	var changes []*domain.Change
	for rows.Next() {
		var c domain.Change
		if err := rows.Scan(&c.Seq, &c.Partition, &c.SubjectID, &c.DocType, &c.DocID, &c.Payload, &c.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

func (s *pgStore) Checkpoint(ctx context.Context, partition int, owner string, seq int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE changefeed_leases SET checkpoint = $1
		WHERE partition = $2 AND owner = $3 AND lease_until >= NOW()`,
		seq, partition, owner)
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("checkpoint rejected: lease for partition %d lost", partition)
	}
	return nil
}
