package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type approvalRepoStub struct {
	approvals map[string]models.Approval
	history   []models.ApprovalHistory
	rules     []models.AutoApprovalRule
	workflow  *models.ApprovalWorkflow
	pending   map[string]int
}

func (a *approvalRepoStub) Create(ctx context.Context, approval *models.Approval) error {
	if a.approvals == nil {
		a.approvals = make(map[string]models.Approval)
	}
	approval.ID = "appr-" + approval.AnnouncementID
	a.approvals[approval.AnnouncementID] = *approval
	return nil
}

func (a *approvalRepoStub) GetByAnnouncement(ctx context.Context, announcementID string) (*models.Approval, error) {
	if approval, ok := a.approvals[announcementID]; ok {
		return &approval, nil
	}
	return nil, sql.ErrNoRows
}

func (a *approvalRepoStub) Decide(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, allowResubmission bool) error {
	for key, approval := range a.approvals {
		if approval.ID != id {
			continue
		}
		if approval.Status != models.ApprovalStatusPending {
			return sql.ErrNoRows
		}
		approval.Status = status
		approval.DecidedBy = &decidedBy
		approval.AllowResubmission = allowResubmission
		a.approvals[key] = approval
		return nil
	}
	return sql.ErrNoRows
}

func (a *approvalRepoStub) Resubmit(ctx context.Context, id string, slaDeadline time.Time) error {
	for key, approval := range a.approvals {
		if approval.ID != id {
			continue
		}
		if approval.Status != models.ApprovalStatusRejected || !approval.AllowResubmission {
			return sql.ErrNoRows
		}
		approval.Status = models.ApprovalStatusPending
		approval.SLADeadline = slaDeadline
		a.approvals[key] = approval
		return nil
	}
	return sql.ErrNoRows
}

func (a *approvalRepoStub) Reassign(ctx context.Context, id, assignee string, escalationLevel int) error {
	for key, approval := range a.approvals {
		if approval.ID != id {
			continue
		}
		if approval.Status != models.ApprovalStatusPending {
			return sql.ErrNoRows
		}
		approval.AssignedTo = &assignee
		approval.EscalationLevel = escalationLevel
		a.approvals[key] = approval
		return nil
	}
	return sql.ErrNoRows
}

func (a *approvalRepoStub) AppendHistory(ctx context.Context, history *models.ApprovalHistory) error {
	a.history = append(a.history, *history)
	return nil
}

func (a *approvalRepoStub) ListHistory(ctx context.Context, approvalID string) ([]models.ApprovalHistory, error) {
	result := []models.ApprovalHistory{}
	for _, entry := range a.history {
		if entry.ApprovalID == approvalID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (a *approvalRepoStub) CountPendingByApprover(ctx context.Context, approverID string) (int, error) {
	return a.pending[approverID], nil
}

func (a *approvalRepoStub) ListAutoApprovalRules(ctx context.Context, hostelID string) ([]models.AutoApprovalRule, error) {
	return a.rules, nil
}

func (a *approvalRepoStub) GetWorkflow(ctx context.Context, hostelID string) (*models.ApprovalWorkflow, error) {
	if a.workflow == nil {
		return nil, sql.ErrNoRows
	}
	return a.workflow, nil
}

func (a *approvalRepoStub) MarkSLABreaches(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

type approvalAnnouncementStub struct {
	announcements map[string]models.Announcement
}

func (a *approvalAnnouncementStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	if announcement, ok := a.announcements[id]; ok {
		return &announcement, nil
	}
	return nil, sql.ErrNoRows
}

func mustConditions(t *testing.T, conditions models.AutoApprovalConditions) []byte {
	t.Helper()
	raw, err := json.Marshal(conditions)
	require.NoError(t, err)
	return raw
}

func newApprovalFixture(repo *approvalRepoStub, announcements map[string]models.Announcement) *ApprovalService {
	reader := &approvalAnnouncementStub{announcements: announcements}
	return NewApprovalService(repo, reader, validator.New(), nil, ApprovalServiceConfig{SLADeadline: 4 * time.Hour, MaxEscalations: 3})
}

func TestSubmitForApprovalAutoApprovesOnRuleMatch(t *testing.T) {
	repo := &approvalRepoStub{
		rules: []models.AutoApprovalRule{
			{ID: "r1", Conditions: mustConditions(t, models.AutoApprovalConditions{
				Categories:  []models.AnnouncementCategory{models.AnnouncementCategoryGeneral},
				MaxPriority: models.AnnouncementPriorityNormal,
			})},
		},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusDraft,
			Category: models.AnnouncementCategoryGeneral, Priority: models.AnnouncementPriorityLow},
	})
	approval, err := service.SubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.SubmitApprovalRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, approval.Status)
	assert.True(t, approval.AutoApproved)
	require.NotNil(t, approval.DecidedAt)
}

func TestSubmitForApprovalRuleRejectsHigherPriority(t *testing.T) {
	repo := &approvalRepoStub{
		rules: []models.AutoApprovalRule{
			{ID: "r1", Conditions: mustConditions(t, models.AutoApprovalConditions{
				MaxPriority: models.AnnouncementPriorityNormal,
			})},
		},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusDraft,
			Category: models.AnnouncementCategoryGeneral, Priority: models.AnnouncementPriorityUrgent},
	})
	approval, err := service.SubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.SubmitApprovalRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)
	assert.False(t, approval.AutoApproved)
}

func TestSubmitForApprovalAssignsLeastLoadedApprover(t *testing.T) {
	approvers, _ := json.Marshal([]string{"warden-a", "warden-b"})
	repo := &approvalRepoStub{
		workflow: &models.ApprovalWorkflow{DefaultApprovers: approvers, EscalationApprover: "chief"},
		pending:  map[string]int{"warden-a": 4, "warden-b": 1},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusDraft},
	})
	approval, err := service.SubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.SubmitApprovalRequest{})
	require.NoError(t, err)
	require.NotNil(t, approval.AssignedTo)
	assert.Equal(t, "warden-b", *approval.AssignedTo)
}

func TestSubmitForApprovalPrefersRequestedAssignee(t *testing.T) {
	repo := &approvalRepoStub{}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusDraft},
	})
	preferred := "warden-x"
	approval, err := service.SubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.SubmitApprovalRequest{AssignTo: &preferred})
	require.NoError(t, err)
	require.NotNil(t, approval.AssignedTo)
	assert.Equal(t, "warden-x", *approval.AssignedTo)
}

func TestSubmitForApprovalConflictsWhenPending(t *testing.T) {
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusPending},
		},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusDraft},
	})
	_, err := service.SubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.SubmitApprovalRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRejectThenResubmitHonorsResubmissionFlag(t *testing.T) {
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusPending},
		},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusDraft},
	})
	actor := &models.JWTClaims{UserID: "warden-a"}

	rejected, err := service.Reject(context.Background(), "a1", actor, dto.ApprovalDecisionRequest{AllowResubmission: true})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, rejected.Status)

	resubmitted, err := service.ResubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.ResubmitApprovalRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, resubmitted.Status)
}

func TestResubmitDeniedWhenNotAllowed(t *testing.T) {
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusRejected, AllowResubmission: false},
		},
	}
	service := newApprovalFixture(repo, nil)
	_, err := service.ResubmitForApproval(context.Background(), "a1", &models.JWTClaims{UserID: "u1"}, dto.ResubmitApprovalRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code)
}

func TestEscalateBumpsLevelAndReassigns(t *testing.T) {
	approvers, _ := json.Marshal([]string{"warden-a"})
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusPending, EscalationLevel: 0},
		},
		workflow: &models.ApprovalWorkflow{DefaultApprovers: approvers, EscalationApprover: "chief", MaxEscalations: 2},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusDraft},
	})
	approval, err := service.Escalate(context.Background(), "a1", &models.JWTClaims{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, approval.EscalationLevel)
	require.NotNil(t, approval.AssignedTo)
	assert.Equal(t, "chief", *approval.AssignedTo)
}

func TestEscalateStopsAtWorkflowLimit(t *testing.T) {
	approvers, _ := json.Marshal([]string{"warden-a"})
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusPending, EscalationLevel: 2},
		},
		workflow: &models.ApprovalWorkflow{DefaultApprovers: approvers, EscalationApprover: "chief", MaxEscalations: 2},
	}
	service := newApprovalFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusDraft},
	})
	_, err := service.Escalate(context.Background(), "a1", &models.JWTClaims{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code)
}

func TestApproveRecordsHistoryTransition(t *testing.T) {
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusPending},
		},
	}
	service := newApprovalFixture(repo, nil)
	approval, err := service.Approve(context.Background(), "a1", &models.JWTClaims{UserID: "warden-a"}, dto.ApprovalDecisionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, approval.Status)
	require.Len(t, repo.history, 1)
	assert.Equal(t, models.ApprovalStatusPending, repo.history[0].PreviousStatus)
	assert.Equal(t, models.ApprovalStatusApproved, repo.history[0].NewStatus)
	assert.Equal(t, "warden-a", repo.history[0].Actor)
}

func TestApproveRejectsDecidedApproval(t *testing.T) {
	repo := &approvalRepoStub{
		approvals: map[string]models.Approval{
			"a1": {ID: "appr-a1", AnnouncementID: "a1", Status: models.ApprovalStatusApproved},
		},
	}
	service := newApprovalFixture(repo, nil)
	_, err := service.Approve(context.Background(), "a1", &models.JWTClaims{UserID: "warden-a"}, dto.ApprovalDecisionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code)
}
