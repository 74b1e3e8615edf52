package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

// EngagementRepository persists views, read receipts, acknowledgments and the
// derived engagement metric.
type EngagementRepository struct {
	db Execer
}

// NewEngagementRepository constructs the repository.
func NewEngagementRepository(db Execer) *EngagementRepository {
	return &EngagementRepository{db: db}
}

// UpsertView records a view, incrementing the counter when the same session
// views the announcement again.
func (r *EngagementRepository) UpsertView(ctx context.Context, view *models.AnnouncementView) error {
	if view.ID == "" {
		view.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if view.FirstViewedAt.IsZero() {
		view.FirstViewedAt = now
	}
	view.LastViewedAt = now
	if view.ViewCount <= 0 {
		view.ViewCount = 1
	}
	query := `INSERT INTO announcement_views (id, announcement_id, student_id, session_id, view_count, scroll_depth, first_viewed_at, last_viewed_at)
VALUES (:id, :announcement_id, :student_id, :session_id, :view_count, :scroll_depth, :first_viewed_at, :last_viewed_at)
ON CONFLICT (announcement_id, student_id, session_id) DO UPDATE SET
view_count = announcement_views.view_count + 1,
scroll_depth = GREATEST(announcement_views.scroll_depth, EXCLUDED.scroll_depth),
last_viewed_at = EXCLUDED.last_viewed_at`
	if _, err := r.db.NamedExecContext(ctx, query, view); err != nil {
		return fmt.Errorf("upsert announcement view: %w", err)
	}
	return nil
}

// GetView returns the view row of one session.
func (r *EngagementRepository) GetView(ctx context.Context, announcementID, studentID, sessionID string) (*models.AnnouncementView, error) {
	const query = `SELECT id, announcement_id, student_id, session_id, view_count, scroll_depth, first_viewed_at, last_viewed_at
FROM announcement_views WHERE announcement_id = $1 AND student_id = $2 AND session_id = $3`
	var view models.AnnouncementView
	if err := r.db.GetContext(ctx, &view, query, announcementID, studentID, sessionID); err != nil {
		return nil, err
	}
	return &view, nil
}

// UpsertReadReceipt writes the single receipt of (announcement, student),
// keeping the deepest scroll and longest reading time seen. Returns true when
// the receipt was newly created.
func (r *EngagementRepository) UpsertReadReceipt(ctx context.Context, receipt *models.ReadReceipt) (bool, error) {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if receipt.ReadAt.IsZero() {
		receipt.ReadAt = now
	}
	receipt.UpdatedAt = now
	query := `INSERT INTO read_receipts (id, announcement_id, student_id, reading_seconds, scroll_depth, read_at, updated_at)
VALUES (:id, :announcement_id, :student_id, :reading_seconds, :scroll_depth, :read_at, :updated_at)
ON CONFLICT (announcement_id, student_id) DO UPDATE SET
reading_seconds = GREATEST(read_receipts.reading_seconds, EXCLUDED.reading_seconds),
scroll_depth = GREATEST(read_receipts.scroll_depth, EXCLUDED.scroll_depth),
updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`
	rows, err := sqlx.NamedQueryContext(ctx, r.db, query, receipt)
	if err != nil {
		return false, fmt.Errorf("upsert read receipt: %w", err)
	}
	defer rows.Close()
	inserted := false
	if rows.Next() {
		if err := rows.Scan(&inserted); err != nil {
			return false, fmt.Errorf("scan read receipt upsert: %w", err)
		}
	}
	return inserted, rows.Err()
}

// InsertAcknowledgment creates the immutable acknowledgment row. A duplicate
// (announcement, student) pair surfaces as ErrConflict.
func (r *EngagementRepository) InsertAcknowledgment(ctx context.Context, ack *models.Acknowledgment) error {
	if ack.ID == "" {
		ack.ID = uuid.NewString()
	}
	if ack.AcknowledgedAt.IsZero() {
		ack.AcknowledgedAt = time.Now().UTC()
	}
	query := `INSERT INTO acknowledgments (id, announcement_id, student_id, note, acknowledged_at)
VALUES (:id, :announcement_id, :student_id, :note, :acknowledged_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ack); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return appErrors.Clone(appErrors.ErrConflict, "announcement already acknowledged")
		}
		return fmt.Errorf("insert acknowledgment: %w", err)
	}
	return nil
}

// GetAcknowledgment returns the acknowledgment of one student, if any.
func (r *EngagementRepository) GetAcknowledgment(ctx context.Context, announcementID, studentID string) (*models.Acknowledgment, error) {
	const query = `SELECT id, announcement_id, student_id, note, acknowledged_at
FROM acknowledgments WHERE announcement_id = $1 AND student_id = $2`
	var ack models.Acknowledgment
	if err := r.db.GetContext(ctx, &ack, query, announcementID, studentID); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Counts reads the raw engagement aggregates for an announcement.
func (r *EngagementRepository) Counts(ctx context.Context, announcementID string) (*models.EngagementCounts, error) {
	const query = `SELECT
(SELECT COUNT(DISTINCT recipient_id) FROM deliveries WHERE announcement_id = $1 AND status = 'COMPLETED') AS delivered,
(SELECT COUNT(*) FROM read_receipts WHERE announcement_id = $1) AS read,
(SELECT COUNT(*) FROM acknowledgments WHERE announcement_id = $1) AS acknowledged`
	var counts models.EngagementCounts
	if err := r.db.GetContext(ctx, &counts, query, announcementID); err != nil {
		return nil, fmt.Errorf("engagement counts: %w", err)
	}
	return &counts, nil
}

// CountCompletedReads counts receipts whose scroll depth indicates the reader
// reached the end of the content.
func (r *EngagementRepository) CountCompletedReads(ctx context.Context, announcementID string, minScrollDepth float64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM read_receipts WHERE announcement_id = $1 AND scroll_depth >= $2",
		announcementID, minScrollDepth)
	if err != nil {
		return 0, fmt.Errorf("count completed reads: %w", err)
	}
	return count, nil
}

// UpsertMetric writes the single derived metric row of an announcement.
func (r *EngagementRepository) UpsertMetric(ctx context.Context, metric *models.EngagementMetric) error {
	query := `INSERT INTO engagement_metrics (announcement_id, total_recipients, delivered_count, read_count,
acknowledged_count, delivery_rate, read_rate, completion_rate, acknowledgment_rate, engagement_score, computed_at)
VALUES (:announcement_id, :total_recipients, :delivered_count, :read_count,
:acknowledged_count, :delivery_rate, :read_rate, :completion_rate, :acknowledgment_rate, :engagement_score, :computed_at)
ON CONFLICT (announcement_id) DO UPDATE SET
total_recipients = EXCLUDED.total_recipients,
delivered_count = EXCLUDED.delivered_count,
read_count = EXCLUDED.read_count,
acknowledged_count = EXCLUDED.acknowledged_count,
delivery_rate = EXCLUDED.delivery_rate,
read_rate = EXCLUDED.read_rate,
completion_rate = EXCLUDED.completion_rate,
acknowledgment_rate = EXCLUDED.acknowledgment_rate,
engagement_score = EXCLUDED.engagement_score,
computed_at = EXCLUDED.computed_at`
	if _, err := r.db.NamedExecContext(ctx, query, metric); err != nil {
		return fmt.Errorf("upsert engagement metric: %w", err)
	}
	return nil
}

// GetMetric returns the derived metric of an announcement.
func (r *EngagementRepository) GetMetric(ctx context.Context, announcementID string) (*models.EngagementMetric, error) {
	const query = `SELECT announcement_id, total_recipients, delivered_count, read_count, acknowledged_count,
delivery_rate, read_rate, completion_rate, acknowledgment_rate, engagement_score, computed_at
FROM engagement_metrics WHERE announcement_id = $1`
	var metric models.EngagementMetric
	if err := r.db.GetContext(ctx, &metric, query, announcementID); err != nil {
		return nil, err
	}
	return &metric, nil
}

// ReadingSeconds returns every receipt's reading time for bucket analysis.
func (r *EngagementRepository) ReadingSeconds(ctx context.Context, announcementID string) ([]int, error) {
	var seconds []int
	err := r.db.SelectContext(ctx, &seconds,
		"SELECT reading_seconds FROM read_receipts WHERE announcement_id = $1", announcementID)
	if err != nil {
		return nil, fmt.Errorf("reading seconds: %w", err)
	}
	return seconds, nil
}

// ReadHourDistribution returns receipt counts per hour of day.
func (r *EngagementRepository) ReadHourDistribution(ctx context.Context, announcementID string) (map[int]int, error) {
	rows := []struct {
		Hour  int `db:"hour"`
		Count int `db:"count"`
	}{}
	const query = `SELECT EXTRACT(HOUR FROM read_at)::int AS hour, COUNT(*) AS count
FROM read_receipts WHERE announcement_id = $1 GROUP BY hour ORDER BY hour`
	if err := r.db.SelectContext(ctx, &rows, query, announcementID); err != nil {
		return nil, fmt.Errorf("read hour distribution: %w", err)
	}
	distribution := make(map[int]int, len(rows))
	for _, row := range rows {
		distribution[row.Hour] = row.Count
	}
	return distribution, nil
}
