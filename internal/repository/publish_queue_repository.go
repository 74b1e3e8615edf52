package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// PublishQueueRepository persists pending publishes and implements the
// time-bounded worker lock used by concurrent sweeps.
type PublishQueueRepository struct {
	db Execer
}

// NewPublishQueueRepository constructs the repository.
func NewPublishQueueRepository(db Execer) *PublishQueueRepository {
	return &PublishQueueRepository{db: db}
}

const queueColumns = `id, announcement_id, scheduled_for, priority, urgent, status, worker_id,
lock_expires_at, attempts, error_history, created_at, updated_at`

// Upsert writes the single queue entry of an announcement. A cancelled or
// completed entry is reset to pending for the new scheduled time.
func (r *PublishQueueRepository) Upsert(ctx context.Context, entry *models.PublishQueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = models.QueueStatusPending
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	query := `INSERT INTO publish_queue (` + queueColumns + `)
VALUES (:id, :announcement_id, :scheduled_for, :priority, :urgent, :status, :worker_id,
:lock_expires_at, :attempts, :error_history, :created_at, :updated_at)
ON CONFLICT (announcement_id) DO UPDATE SET scheduled_for = EXCLUDED.scheduled_for,
priority = EXCLUDED.priority, urgent = EXCLUDED.urgent, status = EXCLUDED.status,
worker_id = NULL, lock_expires_at = NULL, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("upsert queue entry: %w", err)
	}
	return nil
}

// GetByAnnouncement returns the queue entry of an announcement.
func (r *PublishQueueRepository) GetByAnnouncement(ctx context.Context, announcementID string) (*models.PublishQueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM publish_queue WHERE announcement_id = $1`
	var entry models.PublishQueueEntry
	if err := r.db.GetContext(ctx, &entry, query, announcementID); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Cancel marks the entry cancelled rather than deleting it, preserving the
// audit trail.
func (r *PublishQueueRepository) Cancel(ctx context.Context, announcementID string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE publish_queue SET status = 'CANCELLED', updated_at = $1 WHERE announcement_id = $2 AND status = 'PENDING'",
		time.Now().UTC(), announcementID); err != nil {
		return fmt.Errorf("cancel queue entry: %w", err)
	}
	return nil
}

// ListDue returns due entries that are claimable: pending ones, plus entries a
// crashed worker left in PROCESSING past their lock expiry. Urgent entries
// first.
func (r *PublishQueueRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.PublishQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT `+queueColumns+` FROM publish_queue
WHERE scheduled_for <= $1
AND (status = 'PENDING' OR (status = 'PROCESSING' AND lock_expires_at < $1))
ORDER BY urgent DESC, priority DESC, scheduled_for ASC
LIMIT %d`, limit)
	var entries []models.PublishQueueEntry
	if err := r.db.SelectContext(ctx, &entries, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("list due queue entries: %w", err)
	}
	return entries, nil
}

// AcquireLock claims an entry for a worker. The guarded update succeeds only
// while the entry is pending, or in PROCESSING with an expired lock, so
// exactly one of two concurrent claimants wins and abandoned claims become
// reclaimable once their lock runs out.
func (r *PublishQueueRepository) AcquireLock(ctx context.Context, id, workerID string, ttl time.Duration, now time.Time) (bool, error) {
	expiry := now.UTC().Add(ttl)
	result, err := r.db.ExecContext(ctx, `UPDATE publish_queue
SET worker_id = $1, lock_expires_at = $2, status = 'PROCESSING', updated_at = $3
WHERE id = $4 AND (status = 'PENDING' OR (status = 'PROCESSING' AND lock_expires_at < $3))`,
		workerID, expiry, now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("acquire queue lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check queue lock rows: %w", err)
	}
	return rows == 1, nil
}

// MarkCompleted finishes a claimed entry and releases its lock.
func (r *PublishQueueRepository) MarkCompleted(ctx context.Context, id, workerID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE publish_queue
SET status = 'COMPLETED', worker_id = NULL, lock_expires_at = NULL, updated_at = $1
WHERE id = $2 AND worker_id = $3`, time.Now().UTC(), id, workerID)
	if err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check queue completion rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFailed records a failed attempt, appends to the error history, releases
// the lock, and either reschedules the entry (retry = true) or parks it as
// FAILED.
func (r *PublishQueueRepository) MarkFailed(ctx context.Context, entry *models.PublishQueueEntry, workerID, message string, retry bool) error {
	var history []models.QueueError
	if len(entry.ErrorHistory) > 0 {
		if err := json.Unmarshal(entry.ErrorHistory, &history); err != nil {
			history = nil
		}
	}
	now := time.Now().UTC()
	history = append(history, models.QueueError{
		Attempt:    entry.Attempts + 1,
		Message:    message,
		OccurredAt: now,
	})
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode queue error history: %w", err)
	}
	status := models.QueueStatusFailed
	if retry {
		status = models.QueueStatusPending
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE publish_queue
SET status = $1, attempts = attempts + 1, error_history = $2,
worker_id = NULL, lock_expires_at = NULL, updated_at = $3
WHERE id = $4 AND worker_id = $5`, status, raw, now, entry.ID, workerID); err != nil {
		return fmt.Errorf("fail queue entry: %w", err)
	}
	return nil
}
