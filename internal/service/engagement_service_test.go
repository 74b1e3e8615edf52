package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

type engagementRepoStub struct {
	views          map[string]models.AnnouncementView
	receipts       map[string]models.ReadReceipt
	acks           map[string]models.Acknowledgment
	counts         models.EngagementCounts
	completedReads int
	metric         *models.EngagementMetric
	readingSeconds []int
	hours          map[int]int
	ackErr         error
}

func viewKey(announcementID, studentID, sessionID string) string {
	return announcementID + "/" + studentID + "/" + sessionID
}

func (e *engagementRepoStub) UpsertView(ctx context.Context, view *models.AnnouncementView) error {
	if e.views == nil {
		e.views = make(map[string]models.AnnouncementView)
	}
	key := viewKey(view.AnnouncementID, view.StudentID, view.SessionID)
	existing, ok := e.views[key]
	if ok {
		existing.ViewCount++
		if view.ScrollDepth > existing.ScrollDepth {
			existing.ScrollDepth = view.ScrollDepth
		}
		e.views[key] = existing
		return nil
	}
	view.ViewCount = 1
	e.views[key] = *view
	return nil
}

func (e *engagementRepoStub) GetView(ctx context.Context, announcementID, studentID, sessionID string) (*models.AnnouncementView, error) {
	if view, ok := e.views[viewKey(announcementID, studentID, sessionID)]; ok {
		return &view, nil
	}
	return nil, sql.ErrNoRows
}

func (e *engagementRepoStub) UpsertReadReceipt(ctx context.Context, receipt *models.ReadReceipt) (bool, error) {
	if e.receipts == nil {
		e.receipts = make(map[string]models.ReadReceipt)
	}
	key := receipt.AnnouncementID + "/" + receipt.StudentID
	_, exists := e.receipts[key]
	e.receipts[key] = *receipt
	return !exists, nil
}

func (e *engagementRepoStub) InsertAcknowledgment(ctx context.Context, ack *models.Acknowledgment) error {
	if e.ackErr != nil {
		return e.ackErr
	}
	if e.acks == nil {
		e.acks = make(map[string]models.Acknowledgment)
	}
	key := ack.AnnouncementID + "/" + ack.StudentID
	if _, exists := e.acks[key]; exists {
		return appErrors.Clone(appErrors.ErrConflict, "announcement already acknowledged")
	}
	e.acks[key] = *ack
	return nil
}

func (e *engagementRepoStub) GetAcknowledgment(ctx context.Context, announcementID, studentID string) (*models.Acknowledgment, error) {
	if ack, ok := e.acks[announcementID+"/"+studentID]; ok {
		return &ack, nil
	}
	return nil, sql.ErrNoRows
}

func (e *engagementRepoStub) Counts(ctx context.Context, announcementID string) (*models.EngagementCounts, error) {
	counts := e.counts
	return &counts, nil
}

func (e *engagementRepoStub) CountCompletedReads(ctx context.Context, announcementID string, minScrollDepth float64) (int, error) {
	return e.completedReads, nil
}

func (e *engagementRepoStub) UpsertMetric(ctx context.Context, metric *models.EngagementMetric) error {
	e.metric = metric
	return nil
}

func (e *engagementRepoStub) GetMetric(ctx context.Context, announcementID string) (*models.EngagementMetric, error) {
	if e.metric == nil {
		return nil, sql.ErrNoRows
	}
	return e.metric, nil
}

func (e *engagementRepoStub) ReadingSeconds(ctx context.Context, announcementID string) ([]int, error) {
	return e.readingSeconds, nil
}

func (e *engagementRepoStub) ReadHourDistribution(ctx context.Context, announcementID string) (map[int]int, error) {
	return e.hours, nil
}

type engagementAnnouncementStub struct {
	announcements map[string]models.Announcement
	readBumps     int
	ackBumps      int
	synced        bool
}

func (a *engagementAnnouncementStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	if announcement, ok := a.announcements[id]; ok {
		return &announcement, nil
	}
	return nil, sql.ErrNoRows
}

func (a *engagementAnnouncementStub) IncrementReadCount(ctx context.Context, id string) error {
	a.readBumps++
	return nil
}

func (a *engagementAnnouncementStub) IncrementAcknowledgedCount(ctx context.Context, id string) error {
	a.ackBumps++
	return nil
}

func (a *engagementAnnouncementStub) SyncEngagementCounts(ctx context.Context, id string, read, acknowledged int) error {
	a.synced = true
	return nil
}

func newEngagementFixture(repo *engagementRepoStub, announcements map[string]models.Announcement) (*EngagementService, *engagementAnnouncementStub) {
	reader := &engagementAnnouncementStub{announcements: announcements}
	service := NewEngagementService(repo, reader, nil, validator.New(), nil, EngagementServiceConfig{})
	return service, reader
}

func TestRecordViewIncrementsSessionCounter(t *testing.T) {
	repo := &engagementRepoStub{}
	service, _ := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished},
	})
	req := dto.RecordViewRequest{SessionID: "sess-1", ScrollDepth: 0.2}

	first, err := service.RecordView(context.Background(), "a1", "s1", req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ViewCount)

	second, err := service.RecordView(context.Background(), "a1", "s1", req)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ViewCount)
}

func TestRecordViewDeepScrollCreatesReadReceipt(t *testing.T) {
	repo := &engagementRepoStub{}
	service, reader := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished},
	})
	_, err := service.RecordView(context.Background(), "a1", "s1", dto.RecordViewRequest{SessionID: "sess-1", ScrollDepth: 0.95})
	require.NoError(t, err)
	assert.Contains(t, repo.receipts, "a1/s1")
	assert.Equal(t, 1, reader.readBumps)
}

func TestRecordViewRejectsDraftAnnouncement(t *testing.T) {
	service, _ := newEngagementFixture(&engagementRepoStub{}, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusDraft},
	})
	_, err := service.RecordView(context.Background(), "a1", "s1", dto.RecordViewRequest{SessionID: "sess-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code)
}

func TestRecordReadReceiptBumpsCounterOnceOnly(t *testing.T) {
	repo := &engagementRepoStub{}
	service, reader := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished},
	})
	req := dto.ReadReceiptRequest{ReadingSeconds: 40, ScrollDepth: 0.5}
	require.NoError(t, service.RecordReadReceipt(context.Background(), "a1", "s1", req))
	require.NoError(t, service.RecordReadReceipt(context.Background(), "a1", "s1", req))
	assert.Equal(t, 1, reader.readBumps)
}

func TestAcknowledgeRequiresFlag(t *testing.T) {
	service, _ := newEngagementFixture(&engagementRepoStub{}, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, RequiresAcknowledgment: false},
	})
	_, err := service.Acknowledge(context.Background(), "a1", "s1", dto.AcknowledgeRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code)
}

func TestAcknowledgeSecondTimeConflicts(t *testing.T) {
	repo := &engagementRepoStub{}
	service, reader := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, RequiresAcknowledgment: true},
	})
	_, err := service.Acknowledge(context.Background(), "a1", "s1", dto.AcknowledgeRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, reader.ackBumps)

	_, err = service.Acknowledge(context.Background(), "a1", "s1", dto.AcknowledgeRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, reader.ackBumps)
}

func TestCalculateEngagementMetricsDerivesRates(t *testing.T) {
	repo := &engagementRepoStub{
		counts:         models.EngagementCounts{Delivered: 10, Read: 5, Acknowledged: 2},
		completedReads: 4,
	}
	service, reader := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, TotalRecipients: 10, RequiresAcknowledgment: true},
	})
	metric, err := service.CalculateEngagementMetrics(context.Background(), "a1")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, metric.DeliveryRate, 1e-9)
	assert.InDelta(t, 0.5, metric.ReadRate, 1e-9)
	assert.InDelta(t, 0.8, metric.CompletionRate, 1e-9)
	assert.InDelta(t, 0.2, metric.AcknowledgmentRate, 1e-9)
	// 0.3*1.0 + 0.3*0.5 + 0.2*0.8 + 0.2*0.2
	assert.InDelta(t, 0.65, metric.EngagementScore, 1e-9)
	assert.True(t, reader.synced)
}

func TestCalculateEngagementMetricsRecomputeIsStable(t *testing.T) {
	repo := &engagementRepoStub{
		counts:         models.EngagementCounts{Delivered: 10, Read: 5, Acknowledged: 2},
		completedReads: 4,
	}
	service, _ := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, TotalRecipients: 10, RequiresAcknowledgment: true},
	})
	service.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	first, err := service.CalculateEngagementMetrics(context.Background(), "a1")
	require.NoError(t, err)
	second, err := service.CalculateEngagementMetrics(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, first, second, "recompute without new events must be identical")
}

func TestEngagementScoreRedistributesAckWeight(t *testing.T) {
	repo := &engagementRepoStub{
		counts:         models.EngagementCounts{Delivered: 10, Read: 5},
		completedReads: 4,
	}
	service, _ := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, TotalRecipients: 10, RequiresAcknowledgment: false},
	})
	metric, err := service.CalculateEngagementMetrics(context.Background(), "a1")
	require.NoError(t, err)
	// Read weight absorbs the acknowledgment weight: 0.3*1.0 + 0.5*0.5 + 0.2*0.8
	assert.InDelta(t, 0.71, metric.EngagementScore, 1e-9)
}

func TestCalculateEngagementMetricsZeroRecipients(t *testing.T) {
	repo := &engagementRepoStub{}
	service, _ := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, TotalRecipients: 0},
	})
	metric, err := service.CalculateEngagementMetrics(context.Background(), "a1")
	require.NoError(t, err)
	assert.Zero(t, metric.DeliveryRate)
	assert.Zero(t, metric.EngagementScore)
}

func TestReadingTimeAnalyticsBucketsReaders(t *testing.T) {
	repo := &engagementRepoStub{
		readingSeconds: []int{10, 29, 30, 45, 121, 200},
		hours:          map[int]int{8: 3, 21: 3},
	}
	service, _ := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished},
	})
	report, err := service.ReadingTimeAnalytics(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 6, report.Readers)
	assert.InDelta(t, 100.0/3, report.QuickPercent, 1e-9)
	assert.InDelta(t, 100.0/3, report.NormalPercent, 1e-9)
	assert.InDelta(t, 100.0/3, report.ThoroughPercent, 1e-9)
	assert.Equal(t, 3, report.HourDistribution[8])
}

func TestReadingTimeAnalyticsNoReaders(t *testing.T) {
	service, _ := newEngagementFixture(&engagementRepoStub{}, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished},
	})
	report, err := service.ReadingTimeAnalytics(context.Background(), "a1")
	require.NoError(t, err)
	assert.Zero(t, report.Readers)
	assert.Zero(t, report.QuickPercent)
}

func TestExportEngagementReportFormats(t *testing.T) {
	repo := &engagementRepoStub{
		counts: models.EngagementCounts{Delivered: 1, Read: 1},
	}
	service, _ := newEngagementFixture(repo, map[string]models.Announcement{
		"a1": {ID: "a1", Status: models.AnnouncementStatusPublished, TotalRecipients: 1},
	})

	payload, contentType, err := service.ExportEngagementReport(context.Background(), "a1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(payload), "engagement_score")

	_, contentType, err = service.ExportEngagementReport(context.Background(), "a1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)

	_, _, err = service.ExportEngagementReport(context.Background(), "a1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
