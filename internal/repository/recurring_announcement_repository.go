package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// RecurringAnnouncementRepository persists recurring templates.
type RecurringAnnouncementRepository struct {
	db Execer
}

// NewRecurringAnnouncementRepository constructs the repository.
func NewRecurringAnnouncementRepository(db Execer) *RecurringAnnouncementRepository {
	return &RecurringAnnouncementRepository{db: db}
}

const recurringColumns = `id, hostel_id, title, content, category, priority, pattern, timezone,
next_run_at, end_date, max_occurrences, spawn_count, active, requires_acknowledgment,
target_spec, created_by, created_at, updated_at`

// Create inserts a new recurring template.
func (r *RecurringAnnouncementRepository) Create(ctx context.Context, template *models.RecurringAnnouncement) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now
	query := `INSERT INTO recurring_announcements (` + recurringColumns + `)
VALUES (:id, :hostel_id, :title, :content, :category, :priority, :pattern, :timezone,
:next_run_at, :end_date, :max_occurrences, :spawn_count, :active, :requires_acknowledgment,
:target_spec, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, template); err != nil {
		return fmt.Errorf("create recurring announcement: %w", err)
	}
	return nil
}

// GetByID returns one recurring template.
func (r *RecurringAnnouncementRepository) GetByID(ctx context.Context, id string) (*models.RecurringAnnouncement, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_announcements WHERE id = $1`
	var template models.RecurringAnnouncement
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	return &template, nil
}

// ListByHostel returns templates of a hostel, active first.
func (r *RecurringAnnouncementRepository) ListByHostel(ctx context.Context, hostelID string) ([]models.RecurringAnnouncement, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_announcements
WHERE hostel_id = $1 ORDER BY active DESC, next_run_at ASC`
	var templates []models.RecurringAnnouncement
	if err := r.db.SelectContext(ctx, &templates, query, hostelID); err != nil {
		return nil, fmt.Errorf("list recurring announcements: %w", err)
	}
	return templates, nil
}

// ListDue returns active templates whose next run time has passed.
func (r *RecurringAnnouncementRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.RecurringAnnouncement, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT `+recurringColumns+` FROM recurring_announcements
WHERE active = TRUE AND next_run_at <= $1
ORDER BY next_run_at ASC LIMIT %d`, limit)
	var templates []models.RecurringAnnouncement
	if err := r.db.SelectContext(ctx, &templates, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("list due recurring announcements: %w", err)
	}
	return templates, nil
}

// AdvanceAfterSpawn records a spawned instance and schedules the next run, or
// deactivates the template when its end condition is reached.
func (r *RecurringAnnouncementRepository) AdvanceAfterSpawn(ctx context.Context, id string, nextRunAt time.Time, active bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE recurring_announcements
SET spawn_count = spawn_count + 1, next_run_at = $1, active = $2, updated_at = $3
WHERE id = $4`, nextRunAt.UTC(), active, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("advance recurring announcement: %w", err)
	}
	return nil
}

// Deactivate switches a template off.
func (r *RecurringAnnouncementRepository) Deactivate(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE recurring_announcements SET active = FALSE, updated_at = $1 WHERE id = $2",
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("deactivate recurring announcement: %w", err)
	}
	return nil
}
