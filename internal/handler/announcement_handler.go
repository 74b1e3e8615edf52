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

type announcementService interface {
	Create(ctx context.Context, hostelID string, actor *models.JWTClaims, req dto.CreateAnnouncementRequest) (*models.Announcement, error)
	Get(ctx context.Context, id string) (*models.Announcement, error)
	List(ctx context.Context, hostelID string, query dto.ListAnnouncementsQuery) (*dto.AnnouncementListResponse, error)
	Update(ctx context.Context, id string, actor *models.JWTClaims, req dto.UpdateAnnouncementRequest) (*models.Announcement, error)
	Delete(ctx context.Context, id string) error
	Publish(ctx context.Context, id string, actor *models.JWTClaims) (*models.Announcement, error)
	Archive(ctx context.Context, id string, actor *models.JWTClaims) (*models.Announcement, error)
	Versions(ctx context.Context, id string) ([]models.AnnouncementVersion, error)
	CreateCompleteAnnouncement(ctx context.Context, hostelID string, actor *models.JWTClaims, req dto.CreateCompleteAnnouncementRequest) (*dto.CompleteAnnouncementResponse, error)
}

// AnnouncementHandler exposes the announcement lifecycle endpoints.
type AnnouncementHandler struct {
	service announcementService
}

// NewAnnouncementHandler builds a new handler.
func NewAnnouncementHandler(service announcementService) *AnnouncementHandler {
	return &AnnouncementHandler{service: service}
}

// Create godoc
// @Summary Create announcement draft
// @Tags Announcements
// @Accept json
// @Produce json
// @Param payload body dto.CreateAnnouncementRequest true "Announcement payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	var req dto.CreateAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid announcement payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	announcement, err := h.service.Create(c.Request.Context(), claims.HostelID, claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, announcement)
}

// Get godoc
// @Summary Get announcement by ID
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id} [get]
func (h *AnnouncementHandler) Get(c *gin.Context) {
	announcement, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}

// List godoc
// @Summary List announcements
// @Tags Announcements
// @Produce json
// @Param status query string false "Filter by status"
// @Param category query string false "Filter by category"
// @Param created_by query string false "Filter by author"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	var query dto.ListAnnouncementsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid list query"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.List(c.Request.Context(), claims.HostelID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res.Items, &res.Pagination)
}

// Update godoc
// @Summary Update announcement draft
// @Tags Announcements
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.UpdateAnnouncementRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id} [put]
func (h *AnnouncementHandler) Update(c *gin.Context) {
	var req dto.UpdateAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid update payload"))
		return
	}
	announcement, err := h.service.Update(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}

// Delete godoc
// @Summary Delete announcement draft
// @Tags Announcements
// @Param id path string true "Announcement ID"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id} [delete]
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Publish godoc
// @Summary Publish announcement immediately
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/publish [post]
func (h *AnnouncementHandler) Publish(c *gin.Context) {
	announcement, err := h.service.Publish(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}

// Archive godoc
// @Summary Archive published announcement
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/archive [post]
func (h *AnnouncementHandler) Archive(c *gin.Context) {
	announcement, err := h.service.Archive(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}

// Versions godoc
// @Summary List announcement content versions
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id}/versions [get]
func (h *AnnouncementHandler) Versions(c *gin.Context) {
	versions, err := h.service.Versions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, versions, nil)
}

// CreateComplete godoc
// @Summary Create announcement with target, schedule and approval in one call
// @Tags Announcements
// @Accept json
// @Produce json
// @Param payload body dto.CreateCompleteAnnouncementRequest true "Complete announcement payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /workflows/announcements [post]
func (h *AnnouncementHandler) CreateComplete(c *gin.Context) {
	var req dto.CreateCompleteAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid complete announcement payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.CreateCompleteAnnouncement(c.Request.Context(), claims.HostelID, claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}
