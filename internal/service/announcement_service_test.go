package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/dto"
	"github.com/noah-isme/hostel-announce-api/internal/models"
	"github.com/noah-isme/hostel-announce-api/internal/repository"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

// uowStub runs workflow bodies against the fixture's repository bundle without
// a real transaction, or short-circuits with a canned error.
type uowStub struct {
	repos *repository.Repositories
	err   error
}

func (u *uowStub) Do(ctx context.Context, fn func(r *repository.Repositories) error) error {
	if u.err != nil {
		return u.err
	}
	return fn(u.repos)
}

func newOrchestratorFixture(t *testing.T, uowErr error) (*AnnouncementService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	repos := repository.NewRepositories(sqlxDB)
	uow := &uowStub{repos: repos, err: uowErr}
	svc := NewAnnouncementService(uow, repos, nil, nil, nil, nil, AnnouncementServiceConfig{})
	return svc, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func completeRequest() dto.CreateCompleteAnnouncementRequest {
	return dto.CreateCompleteAnnouncementRequest{
		Announcement: dto.CreateAnnouncementRequest{
			Title:    "Water maintenance",
			Content:  "Supply pauses on block A",
			Category: "MAINTENANCE",
			Priority: "HIGH",
		},
		Target: dto.TargetRequest{Type: "ALL"},
	}
}

var announcementRowColumns = []string{
	"id", "hostel_id", "title", "content", "category", "priority", "status", "requires_acknowledgment",
	"notify_push", "notify_email", "notify_sms", "total_recipients", "read_count", "acknowledged_count",
	"expires_at", "published_at", "archived_at", "created_by", "created_at", "updated_at",
}

func announcementRow(id, status string, requiresAck bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(announcementRowColumns).
		AddRow(id, "h1", "Water maintenance", "Supply pauses on block A", "MAINTENANCE", "NORMAL", status, requiresAck,
			false, false, false, 0, 0, 0, nil, now, nil, "u1", now, now)
}

func candidateRows(studentIDs ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"student_id", "status", "year_of_study", "department", "gender",
		"room_id", "room_number", "floor", "block", "room_type", "notification_prefs",
	})
	for _, id := range studentIDs {
		rows.AddRow(id, "ACTIVE", 2, "CS", "F", nil, nil, nil, nil, nil, nil)
	}
	return rows
}

func dueQueueRows(id, announcementID string, attempts int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "announcement_id", "scheduled_for", "priority", "urgent", "status",
		"worker_id", "lock_expires_at", "attempts", "error_history", "created_at", "updated_at",
	}).
		AddRow(id, announcementID, now.Add(-time.Minute), 2, false, "PENDING", nil, nil, attempts, nil, now, now)
}

func scheduleRows(id, announcementID string, pattern models.RecurrencePattern) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "announcement_id", "publish_at", "timezone", "pattern", "end_date", "max_occurrences",
		"occurrence_count", "sla_deadline", "sla_breached", "status", "created_at", "updated_at",
	}).
		AddRow(id, announcementID, now.Add(-time.Minute), "UTC", string(pattern), nil, nil,
			0, now.Add(-time.Hour), false, "PENDING", now, now)
}

func TestCreateCompleteAnnouncementNormalizesWorkflowErrors(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, errors.New("targets table unavailable"))
	defer cleanup()

	_, err := svc.CreateCompleteAnnouncement(context.Background(), "h1",
		&models.JWTClaims{UserID: "u1"}, completeRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBusinessLogic.Code, appErrors.FromError(err).Code,
		"workflow failures must surface as one business-logic error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCompleteAnnouncementRequiresActor(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, nil)
	defer cleanup()

	_, err := svc.CreateCompleteAnnouncement(context.Background(), "h1", nil, completeRequest())
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCompleteAnnouncementCreatesTargetAndReach(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, nil)
	defer cleanup()

	mock.ExpectExec("INSERT INTO announcements").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO announcement_targets").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE target_audience_caches SET stale").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM announcements WHERE id").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(announcementRow("a1", "DRAFT", false))
	mock.ExpectQuery("SELECT (.+) FROM announcement_targets").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "announcement_id", "type", "params", "created_at", "updated_at"}).
			AddRow("t1", "a1", "ALL", []byte(`{}`), time.Now().UTC(), time.Now().UTC()))
	mock.ExpectQuery("SELECT (.+) FROM students s").
		WithArgs("h1").
		WillReturnRows(candidateRows("st1", "st2"))
	mock.ExpectExec("INSERT INTO target_audience_caches").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	resp, err := svc.CreateCompleteAnnouncement(context.Background(), "h1",
		&models.JWTClaims{UserID: "u1"}, completeRequest())
	require.NoError(t, err)
	require.NotNil(t, resp.Announcement)
	assert.NotEmpty(t, resp.Announcement.ID)
	assert.Equal(t, models.TargetTypeAll, resp.Target.Type)
	assert.Equal(t, 2, resp.Reach)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessScheduledPublicationsPublishesDueEntry(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, nil)
	defer cleanup()
	var created []string
	svc.OnBatchCreated(func(batchID string) { created = append(created, batchID) })

	mock.ExpectQuery("SELECT (.+) FROM publish_queue").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(dueQueueRows("q1", "a1", 0))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("worker-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE announcements SET status").
		WithArgs("PUBLISHED", sqlmock.AnyArg(), sqlmock.AnyArg(), "a1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM announcements WHERE id").
		WithArgs("a1").
		WillReturnRows(announcementRow("a1", "PUBLISHED", true))
	mock.ExpectQuery("SELECT (.+) FROM schedules").
		WithArgs("a1").
		WillReturnRows(scheduleRows("s1", "a1", models.RecurrenceNone))
	mock.ExpectExec("UPDATE schedules").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs(sqlmock.AnyArg(), "q1", "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM announcement_targets").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "announcement_id", "type", "params", "created_at", "updated_at"}).
			AddRow("t1", "a1", "ALL", []byte(`{}`), time.Now().UTC(), time.Now().UTC()))
	mock.ExpectQuery("SELECT (.+) FROM students s").
		WithArgs("h1").
		WillReturnRows(candidateRows("st1"))
	mock.ExpectQuery("SELECT recipient_id").
		WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "count"}))
	mock.ExpectQuery("JOIN announcements a").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"channel", "total", "completed", "success_rate"}))
	mock.ExpectExec("INSERT INTO delivery_batches").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO deliveries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE announcements SET total_recipients").
		WithArgs(1, sqlmock.AnyArg(), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	published, err := svc.ProcessScheduledPublications(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Len(t, created, 1, "the committed in-app batch must reach the dispatch hook")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessScheduledPublicationsReenqueuesRecurringSchedule(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, nil)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM publish_queue").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(dueQueueRows("q1", "a1", 0))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("worker-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE announcements SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM announcements WHERE id").
		WithArgs("a1").
		WillReturnRows(announcementRow("a1", "PUBLISHED", false))
	mock.ExpectQuery("SELECT (.+) FROM schedules").
		WithArgs("a1").
		WillReturnRows(scheduleRows("s1", "a1", models.RecurrenceDaily))
	mock.ExpectExec("UPDATE schedules").WillReturnResult(sqlmock.NewResult(0, 1))
	// A daily schedule re-enqueues the next occurrence instead of completing
	// the entry.
	mock.ExpectExec("INSERT INTO publish_queue").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM announcement_targets").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "announcement_id", "type", "params", "created_at", "updated_at"}).
			AddRow("t1", "a1", "ALL", []byte(`{}`), time.Now().UTC(), time.Now().UTC()))
	mock.ExpectQuery("SELECT (.+) FROM students s").
		WithArgs("h1").
		WillReturnRows(candidateRows())
	mock.ExpectExec("UPDATE announcements SET total_recipients").
		WithArgs(0, sqlmock.AnyArg(), "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	published, err := svc.ProcessScheduledPublications(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessScheduledPublicationsRetriesFailedEntry(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, nil)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM publish_queue").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(dueQueueRows("q1", "a1", 0))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("worker-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The guarded transition finds no publishable announcement, failing the
	// attempt.
	mock.ExpectExec("UPDATE announcements SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("PENDING", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1", "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	published, err := svc.ProcessScheduledPublications(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Zero(t, published)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessScheduledPublicationsParksEntryAfterFinalAttempt(t *testing.T) {
	svc, mock, cleanup := newOrchestratorFixture(t, nil)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM publish_queue").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(dueQueueRows("q1", "a1", 2))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("worker-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE announcements SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("FAILED", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1", "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	published, err := svc.ProcessScheduledPublications(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Zero(t, published)
	require.NoError(t, mock.ExpectationsWereMet())
}
