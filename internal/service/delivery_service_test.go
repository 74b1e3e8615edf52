package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type deliveryRepoStub struct {
	batches    map[string]models.DeliveryBatch
	deliveries map[string]models.Delivery
	failures   []models.DeliveryFailure
	rates      []models.ChannelSuccessRate
	retryErr   error
	nextID     int
}

func (d *deliveryRepoStub) CreateBatch(ctx context.Context, batch *models.DeliveryBatch) error {
	if d.batches == nil {
		d.batches = make(map[string]models.DeliveryBatch)
	}
	d.nextID++
	batch.ID = fmt.Sprintf("batch-%d", d.nextID)
	d.batches[batch.ID] = *batch
	return nil
}

func (d *deliveryRepoStub) CreateDeliveries(ctx context.Context, deliveries []models.Delivery) error {
	if d.deliveries == nil {
		d.deliveries = make(map[string]models.Delivery)
	}
	for i := range deliveries {
		d.nextID++
		deliveries[i].ID = fmt.Sprintf("del-%d", d.nextID)
		d.deliveries[deliveries[i].ID] = deliveries[i]
	}
	return nil
}

func (d *deliveryRepoStub) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	if delivery, ok := d.deliveries[id]; ok {
		return &delivery, nil
	}
	return nil, sql.ErrNoRows
}

func (d *deliveryRepoStub) GetBatch(ctx context.Context, id string) (*models.DeliveryBatch, error) {
	if batch, ok := d.batches[id]; ok {
		return &batch, nil
	}
	return nil, sql.ErrNoRows
}

func (d *deliveryRepoStub) MarkProcessing(ctx context.Context, id string) error {
	delivery, ok := d.deliveries[id]
	if !ok {
		return sql.ErrNoRows
	}
	delivery.Status = models.DeliveryStatusProcessing
	d.deliveries[id] = delivery
	return nil
}

func (d *deliveryRepoStub) MarkCompleted(ctx context.Context, id string, providerMessageID *string) error {
	delivery, ok := d.deliveries[id]
	if !ok {
		return sql.ErrNoRows
	}
	delivery.Status = models.DeliveryStatusCompleted
	delivery.ProviderMessageID = providerMessageID
	d.deliveries[id] = delivery
	return nil
}

func (d *deliveryRepoStub) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time) error {
	if d.retryErr != nil {
		return d.retryErr
	}
	delivery, ok := d.deliveries[id]
	if !ok {
		return sql.ErrNoRows
	}
	delivery.Status = models.DeliveryStatusPending
	delivery.RetryCount++
	delivery.NextRetryAt = &nextRetryAt
	d.deliveries[id] = delivery
	return nil
}

func (d *deliveryRepoStub) MarkFailed(ctx context.Context, id string) error {
	delivery, ok := d.deliveries[id]
	if !ok {
		return sql.ErrNoRows
	}
	delivery.Status = models.DeliveryStatusFailed
	d.deliveries[id] = delivery
	return nil
}

func (d *deliveryRepoStub) CreateFailure(ctx context.Context, failure *models.DeliveryFailure) error {
	d.failures = append(d.failures, *failure)
	return nil
}

func (d *deliveryRepoStub) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.Delivery, error) {
	due := []models.Delivery{}
	for _, delivery := range d.deliveries {
		if delivery.Status == models.DeliveryStatusPending && delivery.NextRetryAt != nil && !delivery.NextRetryAt.After(now) {
			due = append(due, delivery)
		}
	}
	return due, nil
}

func (d *deliveryRepoStub) ListByBatch(ctx context.Context, batchID string) ([]models.Delivery, error) {
	rows := []models.Delivery{}
	for _, delivery := range d.deliveries {
		if delivery.BatchID == batchID {
			rows = append(rows, delivery)
		}
	}
	return rows, nil
}

func (d *deliveryRepoStub) CompleteBatch(ctx context.Context, batchID string) error {
	batch, ok := d.batches[batchID]
	if !ok {
		return sql.ErrNoRows
	}
	batch.Status = models.BatchStatusCompleted
	d.batches[batchID] = batch
	return nil
}

func (d *deliveryRepoStub) Summary(ctx context.Context, announcementID string) (*models.DeliverySummary, error) {
	return &models.DeliverySummary{AnnouncementID: announcementID}, nil
}

func (d *deliveryRepoStub) ChannelSuccessRates(ctx context.Context, hostelID string) ([]models.ChannelSuccessRate, error) {
	return d.rates, nil
}

type deliveryAnnouncementStub struct {
	announcements map[string]models.Announcement
	totals        map[string]int
}

func (a *deliveryAnnouncementStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	if announcement, ok := a.announcements[id]; ok {
		return &announcement, nil
	}
	return nil, sql.ErrNoRows
}

func (a *deliveryAnnouncementStub) SetTotalRecipients(ctx context.Context, id string, total int) error {
	if a.totals == nil {
		a.totals = make(map[string]int)
	}
	a.totals[id] = total
	return nil
}

func prefsJSON(push, email, sms bool) []byte {
	raw, _ := json.Marshal(models.NotificationPreferences{Push: push, Email: email, SMS: sms})
	return raw
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Minute, retryBackoff(0, time.Hour))
	assert.Equal(t, 2*time.Minute, retryBackoff(1, time.Hour))
	assert.Equal(t, 4*time.Minute, retryBackoff(2, time.Hour))
	assert.Equal(t, 32*time.Minute, retryBackoff(5, time.Hour))
	assert.Equal(t, time.Hour, retryBackoff(6, time.Hour))
	assert.Equal(t, time.Hour, retryBackoff(50, time.Hour))
}

func TestOptimalChannelPrefersHigherSuccessRate(t *testing.T) {
	service := NewDeliveryService(&deliveryRepoStub{}, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	recipient := models.TargetCandidate{StudentID: "s1", NotificationPrefs: prefsJSON(true, true, false)}
	enabled := []models.DeliveryChannel{models.ChannelPush, models.ChannelEmail}
	rates := map[models.DeliveryChannel]float64{
		models.ChannelPush:  0.4,
		models.ChannelEmail: 0.9,
	}
	channel, ok := service.OptimalChannel(recipient, enabled, rates)
	require.True(t, ok)
	assert.Equal(t, models.ChannelEmail, channel)
}

func TestOptimalChannelHonorsOptOut(t *testing.T) {
	service := NewDeliveryService(&deliveryRepoStub{}, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	recipient := models.TargetCandidate{StudentID: "s1", NotificationPrefs: prefsJSON(false, false, false)}
	enabled := []models.DeliveryChannel{models.ChannelPush, models.ChannelEmail, models.ChannelSMS}
	_, ok := service.OptimalChannel(recipient, enabled, nil)
	assert.False(t, ok)
}

func TestOptimalChannelTreatsUnknownRateAsPerfect(t *testing.T) {
	service := NewDeliveryService(&deliveryRepoStub{}, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	recipient := models.TargetCandidate{StudentID: "s1", NotificationPrefs: prefsJSON(true, true, false)}
	enabled := []models.DeliveryChannel{models.ChannelPush, models.ChannelEmail}
	rates := map[models.DeliveryChannel]float64{models.ChannelPush: 0.95}
	channel, ok := service.OptimalChannel(recipient, enabled, rates)
	require.True(t, ok)
	assert.Equal(t, models.ChannelEmail, channel)
}

func TestInitializeDeliveryRequiresPublished(t *testing.T) {
	service := NewDeliveryService(&deliveryRepoStub{}, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	announcement := &models.Announcement{ID: "a1", Status: models.AnnouncementStatusDraft}
	_, err := service.InitializeDelivery(context.Background(), announcement, nil, 0)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code)
}

func TestInitializeDeliveryCreatesInAppAndOptimalChannel(t *testing.T) {
	repo := &deliveryRepoStub{}
	announcements := &deliveryAnnouncementStub{}
	service := NewDeliveryService(repo, announcements, nil, nil, DeliveryServiceConfig{})
	announcement := &models.Announcement{
		ID:         "a1",
		HostelID:   "h1",
		Status:     models.AnnouncementStatusPublished,
		NotifyPush: true,
	}
	recipients := []models.TargetCandidate{
		{StudentID: "s1", NotificationPrefs: prefsJSON(true, false, false)},
		{StudentID: "s2", NotificationPrefs: prefsJSON(false, false, false)},
	}
	batches, err := service.InitializeDelivery(context.Background(), announcement, recipients, 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	byChannel := map[models.DeliveryChannel]int{}
	for _, batch := range batches {
		byChannel[batch.Channel] = batch.TotalCount
	}
	assert.Equal(t, 2, byChannel[models.ChannelInApp])
	assert.Equal(t, 1, byChannel[models.ChannelPush])
	assert.Equal(t, 2, announcements.totals["a1"])
}

func TestInitializeDeliverySplitsBatchesBySize(t *testing.T) {
	repo := &deliveryRepoStub{}
	service := NewDeliveryService(repo, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	announcement := &models.Announcement{ID: "a1", HostelID: "h1", Status: models.AnnouncementStatusPublished}
	recipients := []models.TargetCandidate{
		{StudentID: "s1"}, {StudentID: "s2"}, {StudentID: "s3"},
	}
	batches, err := service.InitializeDelivery(context.Background(), announcement, recipients, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 2, batches[0].TotalCount)
	assert.Equal(t, 1, batches[1].TotalCount)
}

func TestInitializeDeliveryEmptyAudienceRecordsZero(t *testing.T) {
	announcements := &deliveryAnnouncementStub{}
	service := NewDeliveryService(&deliveryRepoStub{}, announcements, nil, nil, DeliveryServiceConfig{})
	announcement := &models.Announcement{ID: "a1", Status: models.AnnouncementStatusPublished}
	batches, err := service.InitializeDelivery(context.Background(), announcement, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Equal(t, 0, announcements.totals["a1"])
}

func TestRecordResultPermanentFailureParksDelivery(t *testing.T) {
	repo := &deliveryRepoStub{
		deliveries: map[string]models.Delivery{
			"d1": {ID: "d1", Status: models.DeliveryStatusProcessing},
		},
	}
	service := NewDeliveryService(repo, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	err := service.RecordResult(context.Background(), "d1", false, nil, "INVALID_NUMBER", "number unreachable", true)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, repo.deliveries["d1"].Status)
	require.Len(t, repo.failures, 1)
	assert.True(t, repo.failures[0].Permanent)
	assert.Nil(t, repo.deliveries["d1"].NextRetryAt)
}

func TestRecordResultTransientFailureSchedulesRetry(t *testing.T) {
	repo := &deliveryRepoStub{
		deliveries: map[string]models.Delivery{
			"d1": {ID: "d1", Status: models.DeliveryStatusProcessing, RetryCount: 1},
		},
	}
	service := NewDeliveryService(repo, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	err := service.RecordResult(context.Background(), "d1", false, nil, "TIMEOUT", "provider timeout", false)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPending, repo.deliveries["d1"].Status)
	require.NotNil(t, repo.deliveries["d1"].NextRetryAt)
}

func TestRecordResultExhaustedBudgetParksDelivery(t *testing.T) {
	repo := &deliveryRepoStub{
		deliveries: map[string]models.Delivery{
			"d1": {ID: "d1", Status: models.DeliveryStatusProcessing, RetryCount: 3, MaxRetries: 3},
		},
		retryErr: sql.ErrNoRows,
	}
	service := NewDeliveryService(repo, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	err := service.RecordResult(context.Background(), "d1", false, nil, "TIMEOUT", "provider timeout", false)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, repo.deliveries["d1"].Status)
}

func TestRecordResultSuccessCompletesDelivery(t *testing.T) {
	repo := &deliveryRepoStub{
		deliveries: map[string]models.Delivery{
			"d1": {ID: "d1", Status: models.DeliveryStatusProcessing},
		},
	}
	service := NewDeliveryService(repo, &deliveryAnnouncementStub{}, nil, nil, DeliveryServiceConfig{})
	messageID := "msg-42"
	err := service.RecordResult(context.Background(), "d1", true, &messageID, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusCompleted, repo.deliveries["d1"].Status)
	require.NotNil(t, repo.deliveries["d1"].ProviderMessageID)
	assert.Equal(t, "msg-42", *repo.deliveries["d1"].ProviderMessageID)
}

func TestDispatchBatchCompletesPendingDeliveries(t *testing.T) {
	repo := &deliveryRepoStub{
		batches: map[string]models.DeliveryBatch{
			"b1": {ID: "b1", AnnouncementID: "a1", Channel: models.ChannelInApp, Status: models.BatchStatusPending},
		},
		deliveries: map[string]models.Delivery{
			"d1": {ID: "d1", BatchID: "b1", AnnouncementID: "a1", Status: models.DeliveryStatusPending},
			"d2": {ID: "d2", BatchID: "b1", AnnouncementID: "a1", Status: models.DeliveryStatusCompleted},
		},
	}
	announcements := &deliveryAnnouncementStub{
		announcements: map[string]models.Announcement{
			"a1": {ID: "a1", Status: models.AnnouncementStatusPublished},
		},
	}
	service := NewDeliveryService(repo, announcements, nil, nil, DeliveryServiceConfig{})
	require.NoError(t, service.DispatchBatch(context.Background(), "b1"))
	assert.Equal(t, models.DeliveryStatusCompleted, repo.deliveries["d1"].Status)
	assert.Equal(t, models.BatchStatusCompleted, repo.batches["b1"].Status)
}
