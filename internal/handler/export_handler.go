package handler

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
	"github.com/noah-isme/hostel-announce-api/pkg/response"
	"github.com/noah-isme/hostel-announce-api/pkg/storage"
)

// ExportHandler persists generated reports and hands out signed download
// links so large files are not re-rendered on every fetch.
type ExportHandler struct {
	service engagementService
	store   *storage.LocalStorage
	signer  *storage.SignedURLSigner
}

// NewExportHandler builds a new handler.
func NewExportHandler(service engagementService, store *storage.LocalStorage, signer *storage.SignedURLSigner) *ExportHandler {
	return &ExportHandler{service: service, store: store, signer: signer}
}

// CreateExport godoc
// @Summary Generate and store an engagement report
// @Tags Engagement
// @Produce json
// @Param id path string true "Announcement ID"
// @Param format query string false "Export format (csv or pdf)"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /announcements/{id}/engagement/exports [post]
func (h *ExportHandler) CreateExport(c *gin.Context) {
	announcementID := c.Param("id")
	payload, contentType, err := h.service.ExportEngagementReport(c.Request.Context(), announcementID, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}

	jobID := uuid.NewString()
	relPath := path.Join("engagement", announcementID, fmt.Sprintf("%s%s", jobID, extensionFor(contentType)))
	if _, err := h.store.Save(relPath, payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export"))
		return
	}

	token, expiresAt, err := h.signer.Generate(jobID, relPath)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link"))
		return
	}

	response.Created(c, gin.H{
		"job_id":       jobID,
		"download_url": "/api/v1/exports/" + token,
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
		"content_type": contentType,
	})
}

// Download godoc
// @Summary Download a stored report via signed token
// @Tags Engagement
// @Produce text/csv
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	_, relPath, _, err := h.signer.Parse(c.Param("token"), false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link"))
		return
	}

	file, err := h.store.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export no longer available"))
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(relPath)))
	c.Header("Content-Type", contentTypeFor(relPath))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}

func extensionFor(contentType string) string {
	if strings.Contains(contentType, "pdf") {
		return ".pdf"
	}
	return ".csv"
}

func contentTypeFor(relPath string) string {
	if strings.HasSuffix(relPath, ".pdf") {
		return "application/pdf"
	}
	return "text/csv"
}
