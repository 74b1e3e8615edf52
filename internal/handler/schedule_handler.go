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

type schedulingService interface {
	CreateSchedule(ctx context.Context, announcementID string, req dto.ScheduleRequest) (*models.Schedule, error)
	GetSchedule(ctx context.Context, announcementID string) (*models.Schedule, error)
	CancelSchedule(ctx context.Context, announcementID string) error
	CreateRecurringTemplate(ctx context.Context, hostelID, createdBy string, req dto.CreateRecurringAnnouncementRequest) (*models.RecurringAnnouncement, error)
	ListRecurringTemplates(ctx context.Context, hostelID string) ([]models.RecurringAnnouncement, error)
	DeactivateRecurringTemplate(ctx context.Context, id string) error
}

// ScheduleHandler exposes scheduling and recurrence endpoints.
type ScheduleHandler struct {
	service schedulingService
}

// NewScheduleHandler builds a new handler.
func NewScheduleHandler(service schedulingService) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// Create godoc
// @Summary Schedule announcement publication
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.ScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /announcements/{id}/schedule [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req dto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}
	schedule, err := h.service.CreateSchedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, schedule)
}

// Get godoc
// @Summary Get announcement schedule
// @Tags Scheduling
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/schedule [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	schedule, err := h.service.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Cancel godoc
// @Summary Cancel pending schedule
// @Tags Scheduling
// @Param id path string true "Announcement ID"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/schedule [delete]
func (h *ScheduleHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelSchedule(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateRecurring godoc
// @Summary Create recurring announcement template
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param payload body dto.CreateRecurringAnnouncementRequest true "Recurring template payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /recurring-announcements [post]
func (h *ScheduleHandler) CreateRecurring(c *gin.Context) {
	var req dto.CreateRecurringAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid recurring template payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	template, err := h.service.CreateRecurringTemplate(c.Request.Context(), claims.HostelID, claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, template)
}

// ListRecurring godoc
// @Summary List recurring announcement templates
// @Tags Scheduling
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /recurring-announcements [get]
func (h *ScheduleHandler) ListRecurring(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	templates, err := h.service.ListRecurringTemplates(c.Request.Context(), claims.HostelID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// DeactivateRecurring godoc
// @Summary Deactivate recurring announcement template
// @Tags Scheduling
// @Param id path string true "Template ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /recurring-announcements/{id} [delete]
func (h *ScheduleHandler) DeactivateRecurring(c *gin.Context) {
	if err := h.service.DeactivateRecurringTemplate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
