package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
	"github.com/noah-isme/hostel-announce-api/pkg/response"
)

type approvalService interface {
	SubmitForApproval(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.SubmitApprovalRequest) (*models.Approval, error)
	Reject(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ApprovalDecisionRequest) (*models.Approval, error)
	ResubmitForApproval(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ResubmitApprovalRequest) (*models.Approval, error)
	Escalate(ctx context.Context, announcementID string, actor *models.JWTClaims) (*models.Approval, error)
	GetApproval(ctx context.Context, announcementID string) (*models.Approval, error)
	History(ctx context.Context, announcementID string) ([]models.ApprovalHistory, error)
}

type approvalPublisher interface {
	ProcessApprovalAndPublish(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.ApprovalDecisionRequest) (*models.Approval, error)
}

// ApprovalHandler exposes the approval workflow endpoints. Approvals go
// through the orchestrator so an approval and its follow-up publication
// commit atomically.
type ApprovalHandler struct {
	service   approvalService
	publisher approvalPublisher
}

// NewApprovalHandler builds a new handler.
func NewApprovalHandler(service approvalService, publisher approvalPublisher) *ApprovalHandler {
	return &ApprovalHandler{service: service, publisher: publisher}
}

// Submit godoc
// @Summary Submit announcement for approval
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.SubmitApprovalRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /announcements/{id}/approval [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	var req dto.SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid submission payload"))
		return
	}
	approval, err := h.service.SubmitForApproval(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, approval)
}

// Approve godoc
// @Summary Approve announcement
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.ApprovalDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/approval/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	var req dto.ApprovalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	approval, err := h.publisher.ProcessApprovalAndPublish(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// Reject godoc
// @Summary Reject announcement
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.ApprovalDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/approval/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	var req dto.ApprovalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	approval, err := h.service.Reject(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// Resubmit godoc
// @Summary Resubmit rejected announcement for approval
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.ResubmitApprovalRequest true "Resubmission payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/approval/resubmit [post]
func (h *ApprovalHandler) Resubmit(c *gin.Context) {
	var req dto.ResubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resubmission payload"))
		return
	}
	approval, err := h.service.ResubmitForApproval(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// Escalate godoc
// @Summary Escalate pending approval to the fallback approver
// @Tags Approvals
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/approval/escalate [post]
func (h *ApprovalHandler) Escalate(c *gin.Context) {
	approval, err := h.service.Escalate(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// Get godoc
// @Summary Get approval state
// @Tags Approvals
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/approval [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	approval, err := h.service.GetApproval(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, approval, nil)
}

// History godoc
// @Summary Get approval decision history
// @Tags Approvals
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id}/approval/history [get]
func (h *ApprovalHandler) History(c *gin.Context) {
	history, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}
