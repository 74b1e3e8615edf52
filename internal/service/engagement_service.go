package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
	"github.com/noah-isme/hostel-announce-api/pkg/export"
)

// completedReadScrollDepth is the scroll depth treated as having read to the
// end, both for auto-receipts and the completion rate.
const completedReadScrollDepth = 0.9

type engagementRepo interface {
	UpsertView(ctx context.Context, view *models.AnnouncementView) error
	GetView(ctx context.Context, announcementID, studentID, sessionID string) (*models.AnnouncementView, error)
	UpsertReadReceipt(ctx context.Context, receipt *models.ReadReceipt) (bool, error)
	InsertAcknowledgment(ctx context.Context, ack *models.Acknowledgment) error
	GetAcknowledgment(ctx context.Context, announcementID, studentID string) (*models.Acknowledgment, error)
	Counts(ctx context.Context, announcementID string) (*models.EngagementCounts, error)
	CountCompletedReads(ctx context.Context, announcementID string, minScrollDepth float64) (int, error)
	UpsertMetric(ctx context.Context, metric *models.EngagementMetric) error
	GetMetric(ctx context.Context, announcementID string) (*models.EngagementMetric, error)
	ReadingSeconds(ctx context.Context, announcementID string) ([]int, error)
	ReadHourDistribution(ctx context.Context, announcementID string) (map[int]int, error)
}

type engagementAnnouncementRepo interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	IncrementReadCount(ctx context.Context, id string) error
	IncrementAcknowledgedCount(ctx context.Context, id string) error
	SyncEngagementCounts(ctx context.Context, id string, read, acknowledged int) error
}

type engagementCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// EngagementServiceConfig carries the score weighting policy.
type EngagementServiceConfig struct {
	DeliveryWeight   float64
	ReadWeight       float64
	CompletionWeight float64
	AckWeight        float64
	CacheTTL         time.Duration
}

// EngagementService records view, read and acknowledgment events and derives
// engagement metrics from them.
type EngagementService struct {
	engagement    engagementRepo
	announcements engagementAnnouncementRepo
	cache         engagementCache
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           EngagementServiceConfig
	now           func() time.Time
}

// NewEngagementService constructs an EngagementService.
func NewEngagementService(engagement engagementRepo, announcements engagementAnnouncementRepo, cache engagementCache, validate *validator.Validate, logger *zap.Logger, cfg EngagementServiceConfig) *EngagementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeliveryWeight <= 0 && cfg.ReadWeight <= 0 && cfg.CompletionWeight <= 0 && cfg.AckWeight <= 0 {
		cfg.DeliveryWeight = 0.3
		cfg.ReadWeight = 0.3
		cfg.CompletionWeight = 0.2
		cfg.AckWeight = 0.2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &EngagementService{
		engagement:    engagement,
		announcements: announcements,
		cache:         cache,
		validator:     validate,
		logger:        logger,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RecordView registers a view. Repeated views from the same session increment
// the counter instead of creating rows. Scrolling past the completion depth
// auto-creates a read receipt.
func (s *EngagementService) RecordView(ctx context.Context, announcementID, studentID string, req dto.RecordViewRequest) (*models.AnnouncementView, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid view payload")
	}
	announcement, err := s.getAnnouncement(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if announcement.Status != models.AnnouncementStatusPublished && announcement.Status != models.AnnouncementStatusArchived {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "announcement is not visible")
	}
	view := &models.AnnouncementView{
		AnnouncementID: announcementID,
		StudentID:      studentID,
		SessionID:      req.SessionID,
		ScrollDepth:    req.ScrollDepth,
	}
	if err := s.engagement.UpsertView(ctx, view); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record view")
	}
	if req.ScrollDepth >= completedReadScrollDepth {
		if _, err := s.upsertReceipt(ctx, announcementID, studentID, 0, req.ScrollDepth); err != nil {
			return nil, err
		}
	}
	stored, err := s.engagement.GetView(ctx, announcementID, studentID, req.SessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load view")
	}
	return stored, nil
}

// RecordReadReceipt upserts the single receipt of (announcement, student).
// The denormalized read counter increments only on first creation.
func (s *EngagementService) RecordReadReceipt(ctx context.Context, announcementID, studentID string, req dto.ReadReceiptRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid read receipt payload")
	}
	if _, err := s.getAnnouncement(ctx, announcementID); err != nil {
		return err
	}
	_, err := s.upsertReceipt(ctx, announcementID, studentID, req.ReadingSeconds, req.ScrollDepth)
	return err
}

// Acknowledge confirms an announcement that requires acknowledgment. A second
// acknowledgment by the same student is a conflict; the first is immutable.
func (s *EngagementService) Acknowledge(ctx context.Context, announcementID, studentID string, req dto.AcknowledgeRequest) (*models.Acknowledgment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid acknowledgment payload")
	}
	announcement, err := s.getAnnouncement(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if !announcement.RequiresAcknowledgment {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "announcement does not require acknowledgment")
	}
	ack := &models.Acknowledgment{
		AnnouncementID: announcementID,
		StudentID:      studentID,
		Note:           req.Note,
	}
	if err := s.engagement.InsertAcknowledgment(ctx, ack); err != nil {
		return nil, err
	}
	if err := s.announcements.IncrementAcknowledgedCount(ctx, announcementID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bump acknowledgment counter")
	}
	s.invalidateMetrics(ctx, announcementID)
	return ack, nil
}

// CalculateEngagementMetrics recomputes the derived metric row purely from the
// event tables. Running it twice with no new events produces identical output.
func (s *EngagementService) CalculateEngagementMetrics(ctx context.Context, announcementID string) (*models.EngagementMetric, error) {
	announcement, err := s.getAnnouncement(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	counts, err := s.engagement.Counts(ctx, announcementID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load engagement counts")
	}
	completed, err := s.engagement.CountCompletedReads(ctx, announcementID, completedReadScrollDepth)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed reads")
	}

	metric := s.deriveMetric(announcement, counts, completed)
	if err := s.engagement.UpsertMetric(ctx, metric); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save engagement metric")
	}
	if err := s.announcements.SyncEngagementCounts(ctx, announcementID, counts.Read, counts.Acknowledged); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sync engagement counters")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, metricsCacheKey(announcementID), metric, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache engagement metric", zap.String("announcement_id", announcementID), zap.Error(err))
		}
	}
	return metric, nil
}

// GetEngagementMetrics returns the derived metric, from cache when fresh, and
// computes it when it was never calculated. The second return reports whether
// the cache served the read.
func (s *EngagementService) GetEngagementMetrics(ctx context.Context, announcementID string) (*models.EngagementMetric, bool, error) {
	if s.cache != nil {
		var cached models.EngagementMetric
		if hit, err := s.cache.Get(ctx, metricsCacheKey(announcementID), &cached); err == nil && hit {
			return &cached, true, nil
		}
	}
	metric, err := s.engagement.GetMetric(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metric, err = s.CalculateEngagementMetrics(ctx, announcementID)
			return metric, false, err
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load engagement metric")
	}
	return metric, false, nil
}

// ReadingTimeAnalytics buckets readers into quick (<30s), normal (30-120s) and
// thorough (>120s) shares plus an hour-of-day read distribution.
func (s *EngagementService) ReadingTimeAnalytics(ctx context.Context, announcementID string) (*models.ReadingTimeReport, error) {
	if _, err := s.getAnnouncement(ctx, announcementID); err != nil {
		return nil, err
	}
	seconds, err := s.engagement.ReadingSeconds(ctx, announcementID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reading times")
	}
	distribution, err := s.engagement.ReadHourDistribution(ctx, announcementID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load read distribution")
	}
	report := &models.ReadingTimeReport{
		AnnouncementID:   announcementID,
		Readers:          len(seconds),
		HourDistribution: distribution,
	}
	if len(seconds) == 0 {
		return report, nil
	}
	var quick, normal, thorough int
	for _, sec := range seconds {
		switch {
		case sec < 30:
			quick++
		case sec <= 120:
			normal++
		default:
			thorough++
		}
	}
	total := float64(len(seconds))
	report.QuickPercent = float64(quick) / total * 100
	report.NormalPercent = float64(normal) / total * 100
	report.ThoroughPercent = float64(thorough) / total * 100
	return report, nil
}

// ExportEngagementReport renders the engagement metric and reading-time report
// of an announcement as CSV or PDF.
func (s *EngagementService) ExportEngagementReport(ctx context.Context, announcementID, format string) ([]byte, string, error) {
	metric, _, err := s.GetEngagementMetrics(ctx, announcementID)
	if err != nil {
		return nil, "", err
	}
	reading, err := s.ReadingTimeAnalytics(ctx, announcementID)
	if err != nil {
		return nil, "", err
	}
	dataset := export.Dataset{
		Headers: []string{"metric", "value"},
		Rows: []map[string]string{
			{"metric": "total_recipients", "value": fmt.Sprintf("%d", metric.TotalRecipients)},
			{"metric": "delivered_count", "value": fmt.Sprintf("%d", metric.DeliveredCount)},
			{"metric": "read_count", "value": fmt.Sprintf("%d", metric.ReadCount)},
			{"metric": "acknowledged_count", "value": fmt.Sprintf("%d", metric.AcknowledgedCount)},
			{"metric": "delivery_rate", "value": fmt.Sprintf("%.4f", metric.DeliveryRate)},
			{"metric": "read_rate", "value": fmt.Sprintf("%.4f", metric.ReadRate)},
			{"metric": "completion_rate", "value": fmt.Sprintf("%.4f", metric.CompletionRate)},
			{"metric": "acknowledgment_rate", "value": fmt.Sprintf("%.4f", metric.AcknowledgmentRate)},
			{"metric": "engagement_score", "value": fmt.Sprintf("%.4f", metric.EngagementScore)},
			{"metric": "quick_readers_percent", "value": fmt.Sprintf("%.2f", reading.QuickPercent)},
			{"metric": "normal_readers_percent", "value": fmt.Sprintf("%.2f", reading.NormalPercent)},
			{"metric": "thorough_readers_percent", "value": fmt.Sprintf("%.2f", reading.ThoroughPercent)},
		},
	}
	switch format {
	case "csv", "":
		payload, err := export.NewCSVExporter().Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return payload, "text/csv", nil
	case "pdf":
		payload, err := export.NewPDFExporter().Render(dataset, "engagement report")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format "+format)
	}
}

func (s *EngagementService) deriveMetric(announcement *models.Announcement, counts *models.EngagementCounts, completedReads int) *models.EngagementMetric {
	total := announcement.TotalRecipients
	metric := &models.EngagementMetric{
		AnnouncementID:    announcement.ID,
		TotalRecipients:   total,
		DeliveredCount:    counts.Delivered,
		ReadCount:         counts.Read,
		AcknowledgedCount: counts.Acknowledged,
		ComputedAt:        s.now(),
	}
	if total > 0 {
		metric.DeliveryRate = float64(counts.Delivered) / float64(total)
		metric.ReadRate = float64(counts.Read) / float64(total)
		metric.AcknowledgmentRate = float64(counts.Acknowledged) / float64(total)
	}
	if counts.Read > 0 {
		metric.CompletionRate = float64(completedReads) / float64(counts.Read)
	}

	readWeight := s.cfg.ReadWeight
	ackWeight := s.cfg.AckWeight
	ackRate := metric.AcknowledgmentRate
	if !announcement.RequiresAcknowledgment {
		// The acknowledgment share moves to the read rate when no
		// acknowledgment is expected.
		readWeight += ackWeight
		ackWeight = 0
		ackRate = 0
	}
	metric.EngagementScore = s.cfg.DeliveryWeight*metric.DeliveryRate +
		readWeight*metric.ReadRate +
		s.cfg.CompletionWeight*metric.CompletionRate +
		ackWeight*ackRate
	return metric
}

func (s *EngagementService) upsertReceipt(ctx context.Context, announcementID, studentID string, readingSeconds int, scrollDepth float64) (bool, error) {
	receipt := &models.ReadReceipt{
		AnnouncementID: announcementID,
		StudentID:      studentID,
		ReadingSeconds: readingSeconds,
		ScrollDepth:    scrollDepth,
	}
	inserted, err := s.engagement.UpsertReadReceipt(ctx, receipt)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record read receipt")
	}
	if inserted {
		if err := s.announcements.IncrementReadCount(ctx, announcementID); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bump read counter")
		}
	}
	s.invalidateMetrics(ctx, announcementID)
	return inserted, nil
}

func (s *EngagementService) getAnnouncement(ctx context.Context, announcementID string) (*models.Announcement, error) {
	announcement, err := s.announcements.GetByID(ctx, announcementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	return announcement, nil
}

func (s *EngagementService) invalidateMetrics(ctx context.Context, announcementID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, metricsCacheKey(announcementID)); err != nil {
		s.logger.Warn("failed to invalidate engagement metric cache",
			zap.String("announcement_id", announcementID), zap.Error(err))
	}
}

func metricsCacheKey(announcementID string) string {
	return "engagement:metrics:" + announcementID
}
