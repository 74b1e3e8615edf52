package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/middleware"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
	"github.com/noah-isme/hostel-announce-api/pkg/response"
)

type engagementService interface {
	RecordView(ctx context.Context, announcementID, studentID string, req dto.RecordViewRequest) (*models.AnnouncementView, error)
	RecordReadReceipt(ctx context.Context, announcementID, studentID string, req dto.ReadReceiptRequest) error
	Acknowledge(ctx context.Context, announcementID, studentID string, req dto.AcknowledgeRequest) (*models.Acknowledgment, error)
	CalculateEngagementMetrics(ctx context.Context, announcementID string) (*models.EngagementMetric, error)
	GetEngagementMetrics(ctx context.Context, announcementID string) (*models.EngagementMetric, bool, error)
	ReadingTimeAnalytics(ctx context.Context, announcementID string) (*models.ReadingTimeReport, error)
	ExportEngagementReport(ctx context.Context, announcementID, format string) ([]byte, string, error)
}

// EngagementHandler exposes view, acknowledgment and analytics endpoints.
type EngagementHandler struct {
	service engagementService
}

// NewEngagementHandler builds a new handler.
func NewEngagementHandler(service engagementService) *EngagementHandler {
	return &EngagementHandler{service: service}
}

// Student-facing endpoints act on behalf of the authenticated resident.
// Staff may act for a specific resident via the student_id query parameter.
func studentIDFromRequest(c *gin.Context) string {
	if id := c.Query("student_id"); id != "" {
		return id
	}
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// RecordView godoc
// @Summary Record announcement view
// @Tags Engagement
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.RecordViewRequest true "View payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/views [post]
func (h *EngagementHandler) RecordView(c *gin.Context) {
	var req dto.RecordViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid view payload"))
		return
	}
	studentID := studentIDFromRequest(c)
	if studentID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.service.RecordView(c.Request.Context(), c.Param("id"), studentID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// RecordRead godoc
// @Summary Record read receipt
// @Tags Engagement
// @Accept json
// @Param id path string true "Announcement ID"
// @Param payload body dto.ReadReceiptRequest true "Read receipt payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/read [post]
func (h *EngagementHandler) RecordRead(c *gin.Context) {
	var req dto.ReadReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid read receipt payload"))
		return
	}
	studentID := studentIDFromRequest(c)
	if studentID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.RecordReadReceipt(c.Request.Context(), c.Param("id"), studentID, req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Acknowledge godoc
// @Summary Acknowledge announcement
// @Tags Engagement
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.AcknowledgeRequest true "Acknowledgment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /announcements/{id}/acknowledge [post]
func (h *EngagementHandler) Acknowledge(c *gin.Context) {
	var req dto.AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid acknowledgment payload"))
		return
	}
	studentID := studentIDFromRequest(c)
	if studentID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ack, err := h.service.Acknowledge(c.Request.Context(), c.Param("id"), studentID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, ack)
}

// Metrics godoc
// @Summary Get engagement metrics
// @Tags Engagement
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/engagement [get]
func (h *EngagementHandler) Metrics(c *gin.Context) {
	start := time.Now()
	metric, cacheHit, err := h.service.GetEngagementMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, metric, nil, meta)
}

// Recalculate godoc
// @Summary Recalculate engagement metrics
// @Tags Engagement
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id}/engagement/recalculate [post]
func (h *EngagementHandler) Recalculate(c *gin.Context) {
	metric, err := h.service.CalculateEngagementMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, metric, nil)
}

// ReadingTime godoc
// @Summary Get reading time distribution
// @Tags Engagement
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id}/engagement/reading-time [get]
func (h *EngagementHandler) ReadingTime(c *gin.Context) {
	report, err := h.service.ReadingTimeAnalytics(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Export engagement report
// @Tags Engagement
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Announcement ID"
// @Param format query string false "Export format (csv or pdf)"
// @Success 200 {file} file
// @Failure 422 {object} response.Envelope
// @Router /announcements/{id}/engagement/export [get]
func (h *EngagementHandler) Export(c *gin.Context) {
	payload, contentType, err := h.service.ExportEngagementReport(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="engagement-report"`)
	c.Data(http.StatusOK, contentType, payload)
}
