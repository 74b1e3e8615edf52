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

type targetingService interface {
	SetTarget(ctx context.Context, announcementID string, req dto.TargetRequest) (*models.Target, error)
	GetTarget(ctx context.Context, announcementID string) (*models.Target, error)
	CalculateTargetReach(ctx context.Context, announcementID string) (*dto.ReachResponse, error)
}

// TargetHandler exposes audience targeting endpoints.
type TargetHandler struct {
	service targetingService
}

// NewTargetHandler builds a new handler.
func NewTargetHandler(service targetingService) *TargetHandler {
	return &TargetHandler{service: service}
}

// Set godoc
// @Summary Set announcement target audience
// @Tags Targeting
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.TargetRequest true "Target payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /announcements/{id}/target [put]
func (h *TargetHandler) Set(c *gin.Context) {
	var req dto.TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid target payload"))
		return
	}
	target, err := h.service.SetTarget(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, target, nil)
}

// Get godoc
// @Summary Get announcement target audience
// @Tags Targeting
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/target [get]
func (h *TargetHandler) Get(c *gin.Context) {
	target, err := h.service.GetTarget(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, target, nil)
}

// Reach godoc
// @Summary Estimate target audience reach
// @Tags Targeting
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/target/reach [get]
func (h *TargetHandler) Reach(c *gin.Context) {
	reach, err := h.service.CalculateTargetReach(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reach, nil)
}
