package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// AnnouncementRepository provides persistence for announcements and their
// version history.
type AnnouncementRepository struct {
	db Execer
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db Execer) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

const announcementColumns = `id, hostel_id, title, content, category, priority, status, requires_acknowledgment,
notify_push, notify_email, notify_sms, total_recipients, read_count, acknowledged_count,
expires_at, published_at, archived_at, created_by, created_at, updated_at`

// Create inserts a new announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	if announcement.Status == "" {
		announcement.Status = models.AnnouncementStatusDraft
	}
	now := time.Now().UTC()
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = now
	}
	announcement.UpdatedAt = now
	query := `INSERT INTO announcements (` + announcementColumns + `)
VALUES (:id, :hostel_id, :title, :content, :category, :priority, :status, :requires_acknowledgment,
:notify_push, :notify_email, :notify_sms, :total_recipients, :read_count, :acknowledged_count,
:expires_at, :published_at, :archived_at, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, announcement); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}

// GetByID returns an announcement by identifier.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements WHERE id = $1`
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, query, id); err != nil {
		return nil, err
	}
	return &announcement, nil
}

// List returns announcements matching the filter with a total count.
func (r *AnnouncementRepository) List(ctx context.Context, filter models.AnnouncementFilter) ([]models.Announcement, int, error) {
	where := []string{"hostel_id = $1"}
	args := []interface{}{filter.HostelID}
	if len(filter.Statuses) > 0 {
		values := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			values = append(values, string(s))
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(values))
	}
	if filter.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.CreatedBy != "" {
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM announcements WHERE %s
ORDER BY priority DESC, created_at DESC
LIMIT %d OFFSET %d`, announcementColumns, whereClause, size, offset)
	var announcements []models.Announcement
	if err := r.db.SelectContext(ctx, &announcements, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list announcements: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM announcements WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}
	return announcements, total, nil
}

// Update modifies mutable content fields of an existing announcement.
func (r *AnnouncementRepository) Update(ctx context.Context, announcement *models.Announcement) error {
	announcement.UpdatedAt = time.Now().UTC()
	query := `UPDATE announcements SET title = :title, content = :content, category = :category,
priority = :priority, requires_acknowledgment = :requires_acknowledgment,
notify_push = :notify_push, notify_email = :notify_email, notify_sms = :notify_sms,
expires_at = :expires_at, updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, announcement); err != nil {
		return fmt.Errorf("update announcement: %w", err)
	}
	return nil
}

// TransitionStatus moves an announcement between lifecycle states. The update
// is guarded on the allowed source states; sql.ErrNoRows signals the
// announcement was not in any of them.
func (r *AnnouncementRepository) TransitionStatus(ctx context.Context, id string, from []models.AnnouncementStatus, to models.AnnouncementStatus) error {
	values := make([]string, 0, len(from))
	for _, s := range from {
		values = append(values, string(s))
	}
	now := time.Now().UTC()
	set := "status = $1, updated_at = $2"
	args := []interface{}{to, now}
	switch to {
	case models.AnnouncementStatusPublished:
		set += ", published_at = $3"
		args = append(args, now)
	case models.AnnouncementStatusArchived:
		set += ", archived_at = $3"
		args = append(args, now)
	}
	args = append(args, id, pq.Array(values))
	query := fmt.Sprintf("UPDATE announcements SET %s WHERE id = $%d AND status = ANY($%d)", set, len(args)-1, len(args))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition announcement status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check announcement transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetTotalRecipients records the resolved audience size.
func (r *AnnouncementRepository) SetTotalRecipients(ctx context.Context, id string, total int) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE announcements SET total_recipients = $1, updated_at = $2 WHERE id = $3",
		total, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set total recipients: %w", err)
	}
	return nil
}

// IncrementReadCount bumps the denormalized read counter.
func (r *AnnouncementRepository) IncrementReadCount(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE announcements SET read_count = read_count + 1, updated_at = $1 WHERE id = $2",
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("increment read count: %w", err)
	}
	return nil
}

// IncrementAcknowledgedCount bumps the denormalized acknowledgment counter.
func (r *AnnouncementRepository) IncrementAcknowledgedCount(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE announcements SET acknowledged_count = acknowledged_count + 1, updated_at = $1 WHERE id = $2",
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("increment acknowledged count: %w", err)
	}
	return nil
}

// SyncEngagementCounts overwrites the denormalized counters from a recompute.
func (r *AnnouncementRepository) SyncEngagementCounts(ctx context.Context, id string, read, acknowledged int) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE announcements SET read_count = $1, acknowledged_count = $2, updated_at = $3 WHERE id = $4",
		read, acknowledged, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("sync engagement counts: %w", err)
	}
	return nil
}

// CreateVersion appends a content snapshot to the version history.
func (r *AnnouncementRepository) CreateVersion(ctx context.Context, version *models.AnnouncementVersion) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO announcement_versions (id, announcement_id, version, title, content, edited_by, created_at)
VALUES (:id, :announcement_id, :version, :title, :content, :edited_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, version); err != nil {
		return fmt.Errorf("create announcement version: %w", err)
	}
	return nil
}

// NextVersion returns the next version number for an announcement.
func (r *AnnouncementRepository) NextVersion(ctx context.Context, announcementID string) (int, error) {
	var current int
	err := r.db.GetContext(ctx, &current,
		"SELECT COALESCE(MAX(version), 0) FROM announcement_versions WHERE announcement_id = $1", announcementID)
	if err != nil {
		return 0, fmt.Errorf("next announcement version: %w", err)
	}
	return current + 1, nil
}

// ListVersions returns the version history newest first.
func (r *AnnouncementRepository) ListVersions(ctx context.Context, announcementID string) ([]models.AnnouncementVersion, error) {
	var versions []models.AnnouncementVersion
	query := `SELECT id, announcement_id, version, title, content, edited_by, created_at
FROM announcement_versions WHERE announcement_id = $1 ORDER BY version DESC`
	if err := r.db.SelectContext(ctx, &versions, query, announcementID); err != nil {
		return nil, fmt.Errorf("list announcement versions: %w", err)
	}
	return versions, nil
}

// Delete removes a draft announcement.
func (r *AnnouncementRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM announcements WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}
