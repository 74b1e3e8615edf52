package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// ApprovalRepository persists approval requests, their history and the
// hostel-level workflow configuration.
type ApprovalRepository struct {
	db Execer
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db Execer) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, announcement_id, status, assigned_to, auto_approved, allow_resubmission,
escalation_level, sla_deadline, sla_breached, decided_by, decided_at, requested_by, created_at, updated_at`

// Create inserts a new approval request.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.Approval) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}
	now := time.Now().UTC()
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}
	approval.UpdatedAt = now
	query := `INSERT INTO approvals (` + approvalColumns + `)
VALUES (:id, :announcement_id, :status, :assigned_to, :auto_approved, :allow_resubmission,
:escalation_level, :sla_deadline, :sla_breached, :decided_by, :decided_at, :requested_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, approval); err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// GetByID returns an approval by identifier.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`
	var approval models.Approval
	if err := r.db.GetContext(ctx, &approval, query, id); err != nil {
		return nil, err
	}
	return &approval, nil
}

// GetByAnnouncement returns the single approval of an announcement.
func (r *ApprovalRepository) GetByAnnouncement(ctx context.Context, announcementID string) (*models.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE announcement_id = $1`
	var approval models.Approval
	if err := r.db.GetContext(ctx, &approval, query, announcementID); err != nil {
		return nil, err
	}
	return &approval, nil
}

// Decide applies an approve/reject decision. The update is guarded on PENDING
// status; sql.ErrNoRows signals the request was already decided.
func (r *ApprovalRepository) Decide(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, allowResubmission bool) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `UPDATE approvals
SET status = $1, decided_by = $2, decided_at = $3, allow_resubmission = $4, updated_at = $3
WHERE id = $5 AND status = 'PENDING'`, status, decidedBy, now, allowResubmission, id)
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approval decision rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Resubmit returns a rejected approval to pending. Guarded on REJECTED status
// with resubmission allowed.
func (r *ApprovalRepository) Resubmit(ctx context.Context, id string, slaDeadline time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE approvals
SET status = 'PENDING', decided_by = NULL, decided_at = NULL, sla_deadline = $1, sla_breached = FALSE, updated_at = $2
WHERE id = $3 AND status = 'REJECTED' AND allow_resubmission = TRUE`,
		slaDeadline.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resubmit approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approval resubmit rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reassign updates the assignee and escalation level of a pending approval.
func (r *ApprovalRepository) Reassign(ctx context.Context, id, assignee string, escalationLevel int) error {
	result, err := r.db.ExecContext(ctx, `UPDATE approvals
SET assigned_to = $1, escalation_level = $2, updated_at = $3
WHERE id = $4 AND status = 'PENDING'`, assignee, escalationLevel, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reassign approval: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approval reassign rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendHistory records one immutable transition.
func (r *ApprovalRepository) AppendHistory(ctx context.Context, history *models.ApprovalHistory) error {
	if history.ID == "" {
		history.ID = uuid.NewString()
	}
	if history.CreatedAt.IsZero() {
		history.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO approval_history (id, approval_id, previous_status, new_status, actor, notes, created_at)
VALUES (:id, :approval_id, :previous_status, :new_status, :actor, :notes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, history); err != nil {
		return fmt.Errorf("append approval history: %w", err)
	}
	return nil
}

// ListHistory returns the transition log oldest first.
func (r *ApprovalRepository) ListHistory(ctx context.Context, approvalID string) ([]models.ApprovalHistory, error) {
	var history []models.ApprovalHistory
	const query = `SELECT id, approval_id, previous_status, new_status, actor, notes, created_at
FROM approval_history WHERE approval_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &history, query, approvalID); err != nil {
		return nil, fmt.Errorf("list approval history: %w", err)
	}
	return history, nil
}

// CountPendingByApprover returns the current pending workload of an approver.
func (r *ApprovalRepository) CountPendingByApprover(ctx context.Context, approverID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM approvals WHERE assigned_to = $1 AND status = 'PENDING'", approverID)
	if err != nil {
		return 0, fmt.Errorf("count pending approvals: %w", err)
	}
	return count, nil
}

// ListAutoApprovalRules returns the active rules of a hostel in ascending
// priority order.
func (r *ApprovalRepository) ListAutoApprovalRules(ctx context.Context, hostelID string) ([]models.AutoApprovalRule, error) {
	var rules []models.AutoApprovalRule
	const query = `SELECT id, hostel_id, priority, conditions, active, created_at
FROM auto_approval_rules WHERE hostel_id = $1 AND active = TRUE ORDER BY priority ASC`
	if err := r.db.SelectContext(ctx, &rules, query, hostelID); err != nil {
		return nil, fmt.Errorf("list auto approval rules: %w", err)
	}
	return rules, nil
}

// GetWorkflow returns the approval workflow configuration of a hostel.
func (r *ApprovalRepository) GetWorkflow(ctx context.Context, hostelID string) (*models.ApprovalWorkflow, error) {
	const query = `SELECT id, hostel_id, default_approvers, escalation_approver, max_escalations, created_at, updated_at
FROM approval_workflows WHERE hostel_id = $1`
	var workflow models.ApprovalWorkflow
	if err := r.db.GetContext(ctx, &workflow, query, hostelID); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// MarkSLABreaches flags pending approvals past their deadline exactly once.
func (r *ApprovalRepository) MarkSLABreaches(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	query := `UPDATE approvals SET sla_breached = TRUE, updated_at = $1
WHERE status = 'PENDING' AND sla_breached = FALSE AND sla_deadline < $1
RETURNING id`
	if err := r.db.SelectContext(ctx, &ids, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("mark approval sla breaches: %w", err)
	}
	return ids, nil
}
