package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type approvalRepo interface {
	Create(ctx context.Context, approval *models.Approval) error
	GetByAnnouncement(ctx context.Context, announcementID string) (*models.Approval, error)
	Decide(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, allowResubmission bool) error
	Resubmit(ctx context.Context, id string, slaDeadline time.Time) error
	Reassign(ctx context.Context, id, assignee string, escalationLevel int) error
	AppendHistory(ctx context.Context, history *models.ApprovalHistory) error
	ListHistory(ctx context.Context, approvalID string) ([]models.ApprovalHistory, error)
	CountPendingByApprover(ctx context.Context, approverID string) (int, error)
	ListAutoApprovalRules(ctx context.Context, hostelID string) ([]models.AutoApprovalRule, error)
	GetWorkflow(ctx context.Context, hostelID string) (*models.ApprovalWorkflow, error)
	MarkSLABreaches(ctx context.Context, now time.Time) ([]string, error)
}

type approvalAnnouncementRepo interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
}

// ApprovalServiceConfig tunes workflow defaults.
type ApprovalServiceConfig struct {
	SLADeadline    time.Duration
	MaxEscalations int
}

// ApprovalService runs the publication approval workflow.
type ApprovalService struct {
	approvals     approvalRepo
	announcements approvalAnnouncementRepo
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           ApprovalServiceConfig
	now           func() time.Time
}

// NewApprovalService constructs an ApprovalService.
func NewApprovalService(approvals approvalRepo, announcements approvalAnnouncementRepo, validate *validator.Validate, logger *zap.Logger, cfg ApprovalServiceConfig) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SLADeadline <= 0 {
		cfg.SLADeadline = 4 * time.Hour
	}
	if cfg.MaxEscalations <= 0 {
		cfg.MaxEscalations = 5
	}
	return &ApprovalService{
		approvals:     approvals,
		announcements: announcements,
		validator:     validate,
		logger:        logger,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SubmitForApproval opens the approval gate for a draft. Hostel auto-approval
// rules are evaluated first (ascending priority, first match wins); otherwise
// the request is assigned to the preferred approver or the default approver
// with the lowest pending workload.
func (s *ApprovalService) SubmitForApproval(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.SubmitApprovalRequest) (*models.Approval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	announcement, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	if announcement.Status != models.AnnouncementStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "only draft announcements can be submitted for approval")
	}

	if existing, err := s.approvals.GetByAnnouncement(ctx, announcementID); err == nil {
		switch existing.Status {
		case models.ApprovalStatusPending:
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval already pending")
		case models.ApprovalStatusApproved:
			return nil, appErrors.Clone(appErrors.ErrConflict, "announcement already approved")
		case models.ApprovalStatusRejected:
			return nil, appErrors.WithSuggestions(
				appErrors.Clone(appErrors.ErrBusinessLogic, "announcement was rejected"),
				"resubmit the announcement if resubmission was allowed")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}

	approval := &models.Approval{
		AnnouncementID: announcementID,
		Status:         models.ApprovalStatusPending,
		SLADeadline:    s.now().Add(s.cfg.SLADeadline),
		RequestedBy:    actor.UserID,
	}

	if matched, err := s.matchAutoApproval(ctx, announcement); err != nil {
		return nil, err
	} else if matched {
		now := s.now()
		approval.Status = models.ApprovalStatusApproved
		approval.AutoApproved = true
		approval.DecidedAt = &now
		if err := s.approvals.Create(ctx, approval); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval")
		}
		s.appendHistory(ctx, approval.ID, models.ApprovalStatusPending, models.ApprovalStatusApproved, "system", strPtr("auto-approved by rule"))
		s.logger.Info("announcement auto-approved", zap.String("announcement_id", announcementID))
		return approval, nil
	}

	assignee, err := s.pickAssignee(ctx, announcement.HostelID, req.AssignTo)
	if err != nil {
		return nil, err
	}
	approval.AssignedTo = assignee
	if err := s.approvals.Create(ctx, approval); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval")
	}
	s.appendHistory(ctx, approval.ID, "", models.ApprovalStatusPending, actor.UserID, nil)
	return approval, nil
}

// Approve decides a pending approval in favour of publication.
func (s *ApprovalService) Approve(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ApprovalDecisionRequest) (*models.Approval, error) {
	return s.decide(ctx, announcementID, actor, models.ApprovalStatusApproved, false, req.Notes)
}

// Reject declines a pending approval. AllowResubmission controls whether the
// creator may resubmit later.
func (s *ApprovalService) Reject(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ApprovalDecisionRequest) (*models.Approval, error) {
	return s.decide(ctx, announcementID, actor, models.ApprovalStatusRejected, req.AllowResubmission, req.Notes)
}

// ResubmitForApproval returns a rejected approval to pending. Only allowed
// when the rejection permitted resubmission.
func (s *ApprovalService) ResubmitForApproval(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ResubmitApprovalRequest) (*models.Approval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	approval, err := s.getApproval(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "only rejected approvals can be resubmitted")
	}
	if !approval.AllowResubmission {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "resubmission was not allowed for this rejection")
	}
	if err := s.approvals.Resubmit(ctx, approval.ID, s.now().Add(s.cfg.SLADeadline)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval state changed during resubmission")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resubmit approval")
	}
	s.appendHistory(ctx, approval.ID, models.ApprovalStatusRejected, models.ApprovalStatusPending, actor.UserID, req.Notes)
	return s.getApproval(ctx, announcementID)
}

// Escalate bumps a pending approval to the workflow's escalation approver.
// The escalation level is capped.
func (s *ApprovalService) Escalate(ctx context.Context, announcementID string, actor *models.JWTClaims) (*models.Approval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	approval, err := s.getApproval(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if approval.Status != models.ApprovalStatusPending {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "only pending approvals can be escalated")
	}
	announcement, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	workflow, err := s.approvals.GetWorkflow(ctx, announcement.HostelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "hostel has no approval workflow configured")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval workflow")
	}
	maxLevel := s.cfg.MaxEscalations
	if workflow.MaxEscalations > 0 && workflow.MaxEscalations < maxLevel {
		maxLevel = workflow.MaxEscalations
	}
	if approval.EscalationLevel >= maxLevel {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, fmt.Sprintf("escalation limit of %d reached", maxLevel))
	}
	level := approval.EscalationLevel + 1
	if err := s.approvals.Reassign(ctx, approval.ID, workflow.EscalationApprover, level); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval was decided during escalation")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to escalate approval")
	}
	note := fmt.Sprintf("escalated to level %d", level)
	s.appendHistory(ctx, approval.ID, models.ApprovalStatusPending, models.ApprovalStatusPending, actor.UserID, &note)
	return s.getApproval(ctx, announcementID)
}

// GetApproval returns the approval of an announcement.
func (s *ApprovalService) GetApproval(ctx context.Context, announcementID string) (*models.Approval, error) {
	return s.getApproval(ctx, announcementID)
}

// History returns the transition log of an approval.
func (s *ApprovalService) History(ctx context.Context, announcementID string) ([]models.ApprovalHistory, error) {
	approval, err := s.getApproval(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	history, err := s.approvals.ListHistory(ctx, approval.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}
	return history, nil
}

// ScanSLABreaches flags pending approvals past their deadline exactly once.
func (s *ApprovalService) ScanSLABreaches(ctx context.Context) ([]string, error) {
	ids, err := s.approvals.MarkSLABreaches(ctx, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan approval SLA breaches")
	}
	if len(ids) > 0 {
		s.logger.Warn("approval SLA breaches detected", zap.Int("count", len(ids)))
	}
	return ids, nil
}

func (s *ApprovalService) decide(ctx context.Context, announcementID string, actor *models.JWTClaims, status models.ApprovalStatus, allowResubmission bool, notes *string) (*models.Approval, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	approval, err := s.getApproval(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if err := s.approvals.Decide(ctx, approval.ID, status, actor.UserID, allowResubmission); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "approval is not pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide approval")
	}
	s.appendHistory(ctx, approval.ID, models.ApprovalStatusPending, status, actor.UserID, notes)
	return s.getApproval(ctx, announcementID)
}

func (s *ApprovalService) getApproval(ctx context.Context, announcementID string) (*models.Approval, error) {
	approval, err := s.approvals.GetByAnnouncement(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval")
	}
	return approval, nil
}

// matchAutoApproval evaluates the hostel's rules in ascending priority order.
func (s *ApprovalService) matchAutoApproval(ctx context.Context, announcement *models.Announcement) (bool, error) {
	rules, err := s.approvals.ListAutoApprovalRules(ctx, announcement.HostelID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load auto-approval rules")
	}
	for _, rule := range rules {
		var conditions models.AutoApprovalConditions
		if err := json.Unmarshal(rule.Conditions, &conditions); err != nil {
			s.logger.Warn("skipping auto-approval rule with invalid conditions", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if conditionsMatch(conditions, announcement) {
			return true, nil
		}
	}
	return false, nil
}

func conditionsMatch(conditions models.AutoApprovalConditions, announcement *models.Announcement) bool {
	if len(conditions.Categories) > 0 {
		found := false
		for _, c := range conditions.Categories {
			if c == announcement.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if conditions.MaxPriority != "" &&
		models.PriorityRank(announcement.Priority) > models.PriorityRank(conditions.MaxPriority) {
		return false
	}
	if len(conditions.CreatedBy) > 0 {
		found := false
		for _, id := range conditions.CreatedBy {
			if id == announcement.CreatedBy {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// pickAssignee prefers the requested approver, falling back to the default
// approver with the fewest pending requests.
func (s *ApprovalService) pickAssignee(ctx context.Context, hostelID string, preferred *string) (*string, error) {
	if preferred != nil && *preferred != "" {
		return preferred, nil
	}
	workflow, err := s.approvals.GetWorkflow(ctx, hostelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval workflow")
	}
	var approvers []string
	if len(workflow.DefaultApprovers) > 0 {
		if err := json.Unmarshal(workflow.DefaultApprovers, &approvers); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode default approvers")
		}
	}
	if len(approvers) == 0 {
		return nil, nil
	}
	best := approvers[0]
	bestLoad := -1
	for _, approver := range approvers {
		load, err := s.approvals.CountPendingByApprover(ctx, approver)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count approver workload")
		}
		if bestLoad == -1 || load < bestLoad {
			best = approver
			bestLoad = load
		}
	}
	return &best, nil
}

func (s *ApprovalService) appendHistory(ctx context.Context, approvalID string, prev, next models.ApprovalStatus, actor string, notes *string) {
	history := &models.ApprovalHistory{
		ApprovalID:     approvalID,
		PreviousStatus: prev,
		NewStatus:      next,
		Actor:          actor,
		Notes:          notes,
	}
	if err := s.approvals.AppendHistory(ctx, history); err != nil {
		s.logger.Warn("failed to append approval history", zap.String("approval_id", approvalID), zap.Error(err))
	}
}
