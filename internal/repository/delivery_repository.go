package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// DeliveryRepository persists delivery fan-out rows, batches and failures.
type DeliveryRepository struct {
	db Execer
}

// NewDeliveryRepository constructs the repository.
func NewDeliveryRepository(db Execer) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `id, announcement_id, batch_id, recipient_id, channel, status, retry_count,
max_retries, next_retry_at, sent_at, delivered_at, provider_message_id, created_at, updated_at`

// CreateBatch inserts a delivery batch.
func (r *DeliveryRepository) CreateBatch(ctx context.Context, batch *models.DeliveryBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusPending
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO delivery_batches (id, announcement_id, channel, status, total_count, sent_count,
failed_count, avg_delivery_ms, started_at, completed_at, created_at)
VALUES (:id, :announcement_id, :channel, :status, :total_count, :sent_count,
:failed_count, :avg_delivery_ms, :started_at, :completed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create delivery batch: %w", err)
	}
	return nil
}

// CreateDeliveries bulk-inserts the rows of one batch.
func (r *DeliveryRepository) CreateDeliveries(ctx context.Context, deliveries []models.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range deliveries {
		if deliveries[i].ID == "" {
			deliveries[i].ID = uuid.NewString()
		}
		if deliveries[i].Status == "" {
			deliveries[i].Status = models.DeliveryStatusPending
		}
		if deliveries[i].CreatedAt.IsZero() {
			deliveries[i].CreatedAt = now
		}
		deliveries[i].UpdatedAt = now
	}
	query := `INSERT INTO deliveries (` + deliveryColumns + `)
VALUES (:id, :announcement_id, :batch_id, :recipient_id, :channel, :status, :retry_count,
:max_retries, :next_retry_at, :sent_at, :delivered_at, :provider_message_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, deliveries); err != nil {
		return fmt.Errorf("create deliveries: %w", err)
	}
	return nil
}

// GetByID returns one delivery row.
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`
	var delivery models.Delivery
	if err := r.db.GetContext(ctx, &delivery, query, id); err != nil {
		return nil, err
	}
	return &delivery, nil
}

// GetBatch returns one delivery batch.
func (r *DeliveryRepository) GetBatch(ctx context.Context, id string) (*models.DeliveryBatch, error) {
	const query = `SELECT id, announcement_id, channel, status, total_count, sent_count, failed_count,
avg_delivery_ms, started_at, completed_at, created_at
FROM delivery_batches WHERE id = $1`
	var batch models.DeliveryBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// MarkProcessing claims a pending delivery for sending.
func (r *DeliveryRepository) MarkProcessing(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE deliveries
SET status = 'PROCESSING', sent_at = $1, updated_at = $1
WHERE id = $2 AND status = 'PENDING'`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark delivery processing: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delivery processing rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkCompleted finishes a delivery with the provider message id.
func (r *DeliveryRepository) MarkCompleted(ctx context.Context, id string, providerMessageID *string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE deliveries
SET status = 'COMPLETED', delivered_at = $1, provider_message_id = $2, updated_at = $1
WHERE id = $3`, time.Now().UTC(), providerMessageID, id); err != nil {
		return fmt.Errorf("mark delivery completed: %w", err)
	}
	return nil
}

// ScheduleRetry returns a failed delivery to pending with a bumped retry
// counter and the next retry time. Guarded so retry_count never exceeds
// max_retries; sql.ErrNoRows signals the cap was reached.
func (r *DeliveryRepository) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE deliveries
SET status = 'PENDING', retry_count = retry_count + 1, next_retry_at = $1, updated_at = $2
WHERE id = $3 AND retry_count < max_retries`, nextRetryAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("schedule delivery retry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check delivery retry rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkFailed parks a delivery in FAILED state.
func (r *DeliveryRepository) MarkFailed(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE deliveries SET status = 'FAILED', updated_at = $1 WHERE id = $2",
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// CreateFailure records a provider-reported failure.
func (r *DeliveryRepository) CreateFailure(ctx context.Context, failure *models.DeliveryFailure) error {
	if failure.ID == "" {
		failure.ID = uuid.NewString()
	}
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO delivery_failures (id, delivery_id, error_code, error_message, permanent, created_at)
VALUES (:id, :delivery_id, :error_code, :error_message, :permanent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, failure); err != nil {
		return fmt.Errorf("create delivery failure: %w", err)
	}
	return nil
}

// ListDueRetries returns pending deliveries whose retry time has passed.
func (r *DeliveryRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT `+deliveryColumns+` FROM deliveries
WHERE status = 'PENDING' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
ORDER BY next_retry_at ASC LIMIT %d`, limit)
	var deliveries []models.Delivery
	if err := r.db.SelectContext(ctx, &deliveries, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("list due delivery retries: %w", err)
	}
	return deliveries, nil
}

// ListByBatch returns the deliveries of one batch.
func (r *DeliveryRepository) ListByBatch(ctx context.Context, batchID string) ([]models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE batch_id = $1 ORDER BY created_at ASC`
	var deliveries []models.Delivery
	if err := r.db.SelectContext(ctx, &deliveries, query, batchID); err != nil {
		return nil, fmt.Errorf("list deliveries by batch: %w", err)
	}
	return deliveries, nil
}

// CompleteBatch records aggregate counts and average delivery time for a batch.
func (r *DeliveryRepository) CompleteBatch(ctx context.Context, batchID string) error {
	query := `UPDATE delivery_batches b SET
status = 'COMPLETED',
sent_count = agg.sent,
failed_count = agg.failed,
avg_delivery_ms = agg.avg_ms,
completed_at = $1
FROM (
SELECT batch_id,
COUNT(*) FILTER (WHERE status = 'COMPLETED') AS sent,
COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
AVG(EXTRACT(EPOCH FROM (delivered_at - sent_at)) * 1000) FILTER (WHERE delivered_at IS NOT NULL) AS avg_ms
FROM deliveries WHERE batch_id = $2 GROUP BY batch_id
) agg
WHERE b.id = agg.batch_id`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), batchID); err != nil {
		return fmt.Errorf("complete delivery batch: %w", err)
	}
	return nil
}

// Summary aggregates delivery state for one announcement.
func (r *DeliveryRepository) Summary(ctx context.Context, announcementID string) (*models.DeliverySummary, error) {
	rows := []struct {
		Channel models.DeliveryChannel `db:"channel"`
		Status  models.DeliveryStatus  `db:"status"`
		Count   int                    `db:"count"`
	}{}
	const query = `SELECT channel, status, COUNT(*) AS count
FROM deliveries WHERE announcement_id = $1 GROUP BY channel, status`
	if err := r.db.SelectContext(ctx, &rows, query, announcementID); err != nil {
		return nil, fmt.Errorf("delivery summary: %w", err)
	}
	var batches int
	if err := r.db.GetContext(ctx, &batches,
		"SELECT COUNT(*) FROM delivery_batches WHERE announcement_id = $1", announcementID); err != nil {
		return nil, fmt.Errorf("delivery summary batches: %w", err)
	}
	summary := &models.DeliverySummary{
		AnnouncementID: announcementID,
		Batches:        batches,
		ByStatus:       make(map[models.DeliveryStatus]int),
		ByChannel:      make(map[models.DeliveryChannel]int),
	}
	for _, row := range rows {
		summary.Total += row.Count
		summary.ByStatus[row.Status] += row.Count
		summary.ByChannel[row.Channel] += row.Count
	}
	return summary, nil
}

// CountRecentByRecipients returns, per recipient, how many deliveries were
// created inside the sliding window. Used by the over-messaging guard.
func (r *DeliveryRepository) CountRecentByRecipients(ctx context.Context, recipientIDs []string, since time.Time) (map[string]int, error) {
	rows := []struct {
		RecipientID string `db:"recipient_id"`
		Count       int    `db:"count"`
	}{}
	const query = `SELECT recipient_id, COUNT(DISTINCT announcement_id) AS count
FROM deliveries WHERE recipient_id = ANY($1) AND created_at >= $2
GROUP BY recipient_id`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(recipientIDs), since.UTC()); err != nil {
		return nil, fmt.Errorf("count recent deliveries: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.RecipientID] = row.Count
	}
	return counts, nil
}

// ChannelSuccessRates returns the historical success ratio per channel for a
// hostel, used to break ties when picking a recipient's channel.
func (r *DeliveryRepository) ChannelSuccessRates(ctx context.Context, hostelID string) ([]models.ChannelSuccessRate, error) {
	var rates []models.ChannelSuccessRate
	const query = `SELECT d.channel,
COUNT(*) AS total,
COUNT(*) FILTER (WHERE d.status = 'COMPLETED') AS completed,
COALESCE(COUNT(*) FILTER (WHERE d.status = 'COMPLETED')::float / NULLIF(COUNT(*), 0), 0) AS success_rate
FROM deliveries d
JOIN announcements a ON a.id = d.announcement_id
WHERE a.hostel_id = $1
GROUP BY d.channel`
	if err := r.db.SelectContext(ctx, &rates, query, hostelID); err != nil {
		return nil, fmt.Errorf("channel success rates: %w", err)
	}
	return rates, nil
}

// CountDelivered returns completed deliveries for an announcement, counting
// each recipient once.
func (r *DeliveryRepository) CountDelivered(ctx context.Context, announcementID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(DISTINCT recipient_id) FROM deliveries WHERE announcement_id = $1 AND status = 'COMPLETED'",
		announcementID)
	if err != nil {
		return 0, fmt.Errorf("count delivered: %w", err)
	}
	return count, nil
}
