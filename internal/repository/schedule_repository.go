package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// ScheduleRepository persists publish schedules.
type ScheduleRepository struct {
	db Execer
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db Execer) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, announcement_id, publish_at, timezone, pattern, end_date, max_occurrences,
occurrence_count, sla_deadline, sla_breached, status, created_at, updated_at`

// Create inserts a new schedule row.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.Status == "" {
		schedule.Status = models.ScheduleStatusPending
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now
	query := `INSERT INTO schedules (` + scheduleColumns + `)
VALUES (:id, :announcement_id, :publish_at, :timezone, :pattern, :end_date, :max_occurrences,
:occurrence_count, :sla_deadline, :sla_breached, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// GetByAnnouncement returns the active schedule of an announcement.
func (r *ScheduleRepository) GetByAnnouncement(ctx context.Context, announcementID string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules
WHERE announcement_id = $1 AND status <> 'CANCELLED'
ORDER BY created_at DESC LIMIT 1`
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, announcementID); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Update rewrites mutable schedule fields.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	query := `UPDATE schedules SET publish_at = :publish_at, timezone = :timezone, pattern = :pattern,
end_date = :end_date, max_occurrences = :max_occurrences, occurrence_count = :occurrence_count,
sla_deadline = :sla_deadline, sla_breached = :sla_breached, status = :status, updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// Cancel marks a pending schedule cancelled. sql.ErrNoRows signals it was
// already decided.
func (r *ScheduleRepository) Cancel(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET status = 'CANCELLED', updated_at = $1 WHERE id = $2 AND status = 'PENDING'",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check schedule cancel rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkSLABreaches flags pending schedules past their deadline. Already
// breached rows are excluded, making repeated sweeps idempotent. Returns the
// IDs flagged by this call.
func (r *ScheduleRepository) MarkSLABreaches(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	query := `UPDATE schedules SET sla_breached = TRUE, updated_at = $1
WHERE status = 'PENDING' AND sla_breached = FALSE AND sla_deadline < $1
RETURNING id`
	if err := r.db.SelectContext(ctx, &ids, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("mark schedule sla breaches: %w", err)
	}
	return ids, nil
}
