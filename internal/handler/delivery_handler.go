package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
	"github.com/noah-isme/hostel-announce-api/pkg/response"
)

type deliveryService interface {
	GetBatch(ctx context.Context, batchID string) (*models.DeliveryBatch, error)
	Summary(ctx context.Context, announcementID string) (*models.DeliverySummary, error)
	RecordResult(ctx context.Context, deliveryID string, success bool, providerMessageID *string, errorCode, errorMessage string, permanent bool) error
	ProcessDueRetries(ctx context.Context, limit int) (int, error)
}

type deliveryInitializer interface {
	InitializeDelivery(ctx context.Context, announcementID string, actor *models.JWTClaims, req dto.InitializeDeliveryRequest) ([]models.DeliveryBatch, error)
}

// DeliveryHandler exposes delivery fan-out and tracking endpoints.
type DeliveryHandler struct {
	service     deliveryService
	initializer deliveryInitializer
}

// NewDeliveryHandler builds a new handler.
func NewDeliveryHandler(service deliveryService, initializer deliveryInitializer) *DeliveryHandler {
	return &DeliveryHandler{service: service, initializer: initializer}
}

// Initialize godoc
// @Summary Initialize delivery fan-out for a published announcement
// @Tags Deliveries
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body dto.InitializeDeliveryRequest true "Delivery options"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements/{id}/deliveries [post]
func (h *DeliveryHandler) Initialize(c *gin.Context) {
	var req dto.InitializeDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid delivery payload"))
		return
	}
	batches, err := h.initializer.InitializeDelivery(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, batches)
}

// Summary godoc
// @Summary Get delivery summary for an announcement
// @Tags Deliveries
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /announcements/{id}/deliveries [get]
func (h *DeliveryHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// GetBatch godoc
// @Summary Get delivery batch progress
// @Tags Deliveries
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /deliveries/batches/{batchId} [get]
func (h *DeliveryHandler) GetBatch(c *gin.Context) {
	batch, err := h.service.GetBatch(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// RecordResult godoc
// @Summary Record provider delivery result
// @Description Callback endpoint for channel providers reporting per-recipient outcomes
// @Tags Deliveries
// @Accept json
// @Param deliveryId path string true "Delivery ID"
// @Param payload body dto.DeliveryResultRequest true "Provider result"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /deliveries/{deliveryId}/result [post]
func (h *DeliveryHandler) RecordResult(c *gin.Context) {
	var req dto.DeliveryResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid result payload"))
		return
	}
	err := h.service.RecordResult(c.Request.Context(), c.Param("deliveryId"), req.Success, req.ProviderMessageID, req.ErrorCode, req.ErrorMessage, req.Permanent)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ProcessRetries godoc
// @Summary Trigger the delivery retry sweep
// @Tags Deliveries
// @Produce json
// @Param limit query int false "Maximum rows to process" default(100)
// @Success 200 {object} response.Envelope
// @Router /deliveries/retries/process [post]
func (h *DeliveryHandler) ProcessRetries(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
		return
	}
	retried, err := h.service.ProcessDueRetries(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"retried": retried}, nil)
}
