package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type deliveryRepo interface {
	CreateBatch(ctx context.Context, batch *models.DeliveryBatch) error
	CreateDeliveries(ctx context.Context, deliveries []models.Delivery) error
	GetByID(ctx context.Context, id string) (*models.Delivery, error)
	GetBatch(ctx context.Context, id string) (*models.DeliveryBatch, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, providerMessageID *string) error
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	CreateFailure(ctx context.Context, failure *models.DeliveryFailure) error
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.Delivery, error)
	CompleteBatch(ctx context.Context, batchID string) error
	Summary(ctx context.Context, announcementID string) (*models.DeliverySummary, error)
	ChannelSuccessRates(ctx context.Context, hostelID string) ([]models.ChannelSuccessRate, error)
}

type deliveryAnnouncementRepo interface {
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	SetTotalRecipients(ctx context.Context, id string, total int) error
}

// ChannelSender pushes one delivery through a provider. Implementations exist
// per channel; the default is a logging no-op.
type ChannelSender interface {
	Send(ctx context.Context, announcement *models.Announcement, delivery *models.Delivery) (providerMessageID *string, err error)
}

// LoggingChannelSender acknowledges every delivery without contacting a
// provider. Used for in-app deliveries and as the stand-in for unwired
// channels.
type LoggingChannelSender struct {
	logger *zap.Logger
}

// NewLoggingChannelSender constructs the no-op sender.
func NewLoggingChannelSender(logger *zap.Logger) *LoggingChannelSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingChannelSender{logger: logger}
}

// Send logs the dispatch and fabricates a provider message id.
func (l *LoggingChannelSender) Send(_ context.Context, announcement *models.Announcement, delivery *models.Delivery) (*string, error) {
	id := uuid.NewString()
	l.logger.Debug("delivery dispatched",
		zap.String("announcement_id", announcement.ID),
		zap.String("recipient_id", delivery.RecipientID),
		zap.String("channel", string(delivery.Channel)))
	return &id, nil
}

// DeliveryServiceConfig tunes fan-out batching and retry backoff.
type DeliveryServiceConfig struct {
	DefaultBatchSize int
	MaxRetries       int
	MaxBackoff       time.Duration
}

// DeliveryService fans announcements out across channels and drives the retry
// lifecycle of individual deliveries.
type DeliveryService struct {
	deliveries    deliveryRepo
	announcements deliveryAnnouncementRepo
	sender        ChannelSender
	logger        *zap.Logger
	cfg           DeliveryServiceConfig
	now           func() time.Time
}

// NewDeliveryService constructs a DeliveryService.
func NewDeliveryService(deliveries deliveryRepo, announcements deliveryAnnouncementRepo, sender ChannelSender, logger *zap.Logger, cfg DeliveryServiceConfig) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = NewLoggingChannelSender(logger)
	}
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	return &DeliveryService{
		deliveries:    deliveries,
		announcements: announcements,
		sender:        sender,
		logger:        logger,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// InitializeDelivery fans a published announcement out to the given
// recipients. Every recipient gets an in-app delivery; recipients additionally
// get their optimal notification channel among the announcement's enabled
// channels. Rows are grouped into batches of at most batchSize.
func (s *DeliveryService) InitializeDelivery(ctx context.Context, announcement *models.Announcement, recipients []models.TargetCandidate, batchSize int) ([]models.DeliveryBatch, error) {
	if announcement.Status != models.AnnouncementStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrBusinessLogic, "delivery requires a published announcement")
	}
	if batchSize <= 0 {
		batchSize = s.cfg.DefaultBatchSize
	}
	if len(recipients) == 0 {
		if err := s.announcements.SetTotalRecipients(ctx, announcement.ID, 0); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record recipient count")
		}
		return []models.DeliveryBatch{}, nil
	}

	rates, err := s.successRates(ctx, announcement.HostelID)
	if err != nil {
		return nil, err
	}
	enabled := enabledChannels(announcement)

	perChannel := map[models.DeliveryChannel][]string{
		models.ChannelInApp: make([]string, 0, len(recipients)),
	}
	for _, recipient := range recipients {
		perChannel[models.ChannelInApp] = append(perChannel[models.ChannelInApp], recipient.StudentID)
		if channel, ok := s.OptimalChannel(recipient, enabled, rates); ok {
			perChannel[channel] = append(perChannel[channel], recipient.StudentID)
		}
	}

	batches := make([]models.DeliveryBatch, 0)
	for _, channel := range []models.DeliveryChannel{models.ChannelInApp, models.ChannelPush, models.ChannelEmail, models.ChannelSMS} {
		ids := perChannel[channel]
		for start := 0; start < len(ids); start += batchSize {
			end := start + batchSize
			if end > len(ids) {
				end = len(ids)
			}
			batch, err := s.createBatch(ctx, announcement, channel, ids[start:end])
			if err != nil {
				return nil, err
			}
			batches = append(batches, *batch)
		}
	}

	if err := s.announcements.SetTotalRecipients(ctx, announcement.ID, len(recipients)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record recipient count")
	}
	s.logger.Info("delivery initialized",
		zap.String("announcement_id", announcement.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("batches", len(batches)))
	return batches, nil
}

// OptimalChannel picks the notification channel for one recipient: the
// intersection of their opt-ins with the announcement's enabled channels,
// broken by the hostel's historical channel success rate. Returns false when
// the recipient opted out of every enabled channel.
func (s *DeliveryService) OptimalChannel(recipient models.TargetCandidate, enabled []models.DeliveryChannel, rates map[models.DeliveryChannel]float64) (models.DeliveryChannel, bool) {
	var prefs models.NotificationPreferences
	if len(recipient.NotificationPrefs) > 0 {
		if err := json.Unmarshal(recipient.NotificationPrefs, &prefs); err != nil {
			prefs = models.NotificationPreferences{}
		}
	}
	var best models.DeliveryChannel
	bestRate := -1.0
	for _, channel := range enabled {
		if !optedIn(prefs, channel) {
			continue
		}
		rate, ok := rates[channel]
		if !ok {
			rate = 1
		}
		if rate > bestRate {
			best = channel
			bestRate = rate
		}
	}
	return best, bestRate >= 0
}

// DispatchBatch sends every pending delivery of a batch and finalises the
// batch aggregates.
func (s *DeliveryService) DispatchBatch(ctx context.Context, batchID string) error {
	batch, err := s.deliveries.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "delivery batch not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load delivery batch")
	}
	announcement, err := s.announcements.GetByID(ctx, batch.AnnouncementID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	rows, err := s.deliveries.ListByBatch(ctx, batchID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batch deliveries")
	}
	for i := range rows {
		if rows[i].Status != models.DeliveryStatusPending {
			continue
		}
		s.dispatchOne(ctx, announcement, &rows[i])
	}
	if err := s.deliveries.CompleteBatch(ctx, batchID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete delivery batch")
	}
	return nil
}

// RecordResult applies a provider-reported outcome to one delivery.
func (s *DeliveryService) RecordResult(ctx context.Context, deliveryID string, success bool, providerMessageID *string, errorCode, errorMessage string, permanent bool) error {
	delivery, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "delivery not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load delivery")
	}
	if success {
		if err := s.deliveries.MarkCompleted(ctx, deliveryID, providerMessageID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete delivery")
		}
		return nil
	}
	return s.handleFailure(ctx, delivery, errorCode, errorMessage, permanent)
}

// ProcessDueRetries re-dispatches pending deliveries whose retry time has
// passed. Failures are isolated per delivery.
func (s *DeliveryService) ProcessDueRetries(ctx context.Context, limit int) (int, error) {
	due, err := s.deliveries.ListDueRetries(ctx, s.now(), limit)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due retries")
	}
	processed := 0
	for i := range due {
		announcement, err := s.announcements.GetByID(ctx, due[i].AnnouncementID)
		if err != nil {
			s.logger.Warn("skipping retry for missing announcement",
				zap.String("delivery_id", due[i].ID), zap.Error(err))
			continue
		}
		s.dispatchOne(ctx, announcement, &due[i])
		processed++
	}
	return processed, nil
}

// GetBatch returns one delivery batch.
func (s *DeliveryService) GetBatch(ctx context.Context, batchID string) (*models.DeliveryBatch, error) {
	batch, err := s.deliveries.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "delivery batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load delivery batch")
	}
	return batch, nil
}

// Summary aggregates delivery state for one announcement.
func (s *DeliveryService) Summary(ctx context.Context, announcementID string) (*models.DeliverySummary, error) {
	summary, err := s.deliveries.Summary(ctx, announcementID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to summarize deliveries")
	}
	return summary, nil
}

func (s *DeliveryService) createBatch(ctx context.Context, announcement *models.Announcement, channel models.DeliveryChannel, recipientIDs []string) (*models.DeliveryBatch, error) {
	now := s.now()
	batch := &models.DeliveryBatch{
		AnnouncementID: announcement.ID,
		Channel:        channel,
		Status:         models.BatchStatusPending,
		TotalCount:     len(recipientIDs),
		StartedAt:      &now,
	}
	if err := s.deliveries.CreateBatch(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create delivery batch")
	}
	rows := make([]models.Delivery, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		rows = append(rows, models.Delivery{
			AnnouncementID: announcement.ID,
			BatchID:        batch.ID,
			RecipientID:    recipientID,
			Channel:        channel,
			Status:         models.DeliveryStatusPending,
			MaxRetries:     s.cfg.MaxRetries,
		})
	}
	if err := s.deliveries.CreateDeliveries(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create deliveries")
	}
	return batch, nil
}

func (s *DeliveryService) dispatchOne(ctx context.Context, announcement *models.Announcement, delivery *models.Delivery) {
	if err := s.deliveries.MarkProcessing(ctx, delivery.ID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to claim delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
		}
		return
	}
	providerMessageID, err := s.sender.Send(ctx, announcement, delivery)
	if err != nil {
		if failErr := s.handleFailure(ctx, delivery, "SEND_ERROR", err.Error(), false); failErr != nil {
			s.logger.Error("failed to record delivery failure",
				zap.String("delivery_id", delivery.ID), zap.Error(failErr))
		}
		return
	}
	if err := s.deliveries.MarkCompleted(ctx, delivery.ID, providerMessageID); err != nil {
		s.logger.Error("failed to complete delivery", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}
}

// handleFailure records the failure and either schedules a retry with
// exponential backoff or parks the delivery as failed. Permanent failures and
// exhausted retry budgets never retry.
func (s *DeliveryService) handleFailure(ctx context.Context, delivery *models.Delivery, errorCode, errorMessage string, permanent bool) error {
	failure := &models.DeliveryFailure{
		DeliveryID:   delivery.ID,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Permanent:    permanent,
	}
	if err := s.deliveries.CreateFailure(ctx, failure); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record delivery failure")
	}
	if permanent {
		if err := s.deliveries.MarkFailed(ctx, delivery.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to park delivery")
		}
		return nil
	}
	next := s.now().Add(retryBackoff(delivery.RetryCount, s.cfg.MaxBackoff))
	if err := s.deliveries.ScheduleRetry(ctx, delivery.ID, next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if err := s.deliveries.MarkFailed(ctx, delivery.ID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to park delivery")
			}
			s.logger.Info("delivery retry budget exhausted", zap.String("delivery_id", delivery.ID))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule delivery retry")
	}
	return nil
}

func (s *DeliveryService) successRates(ctx context.Context, hostelID string) (map[models.DeliveryChannel]float64, error) {
	rows, err := s.deliveries.ChannelSuccessRates(ctx, hostelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load channel success rates")
	}
	rates := make(map[models.DeliveryChannel]float64, len(rows))
	for _, row := range rows {
		rates[row.Channel] = row.SuccessRate
	}
	return rates, nil
}

// retryBackoff doubles per attempt, starting at one minute, capped at max.
func retryBackoff(retryCount int, max time.Duration) time.Duration {
	if retryCount > 10 {
		retryCount = 10
	}
	backoff := time.Duration(1<<uint(retryCount)) * time.Minute
	if backoff > max {
		backoff = max
	}
	return backoff
}

func enabledChannels(announcement *models.Announcement) []models.DeliveryChannel {
	channels := make([]models.DeliveryChannel, 0, 3)
	if announcement.NotifyPush {
		channels = append(channels, models.ChannelPush)
	}
	if announcement.NotifyEmail {
		channels = append(channels, models.ChannelEmail)
	}
	if announcement.NotifySMS {
		channels = append(channels, models.ChannelSMS)
	}
	return channels
}

func optedIn(prefs models.NotificationPreferences, channel models.DeliveryChannel) bool {
	switch channel {
	case models.ChannelPush:
		return prefs.Push
	case models.ChannelEmail:
		return prefs.Email
	case models.ChannelSMS:
		return prefs.SMS
	default:
		return true
	}
}
