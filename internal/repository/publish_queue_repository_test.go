package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

func newQueueRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestPublishQueueAcquireLockGuardsConcurrentClaims(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewPublishQueueRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("worker-a", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE publish_queue").
		WithArgs("worker-b", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	locked, err := repo.AcquireLock(context.Background(), "q1", "worker-a", 5*time.Minute, now)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = repo.AcquireLock(context.Background(), "q1", "worker-b", 5*time.Minute, now)
	require.NoError(t, err)
	assert.False(t, locked, "second claimant must lose the guarded update")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishQueueAcquireLockReclaimsExpiredClaim(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewPublishQueueRepository(db)
	now := time.Now().UTC()

	// The guard must accept a PROCESSING entry whose lock has run out, so an
	// entry abandoned by a crashed worker is claimable again.
	mock.ExpectExec(`UPDATE publish_queue.+status = 'PENDING' OR .status = 'PROCESSING' AND lock_expires_at`).
		WithArgs("worker-b", sqlmock.AnyArg(), sqlmock.AnyArg(), "q1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	locked, err := repo.AcquireLock(context.Background(), "q1", "worker-b", 5*time.Minute, now)
	require.NoError(t, err)
	assert.True(t, locked, "expired claims must be reclaimable")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishQueueUpsertAssignsID(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewPublishQueueRepository(db)

	mock.ExpectExec("INSERT INTO publish_queue").
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.PublishQueueEntry{
		AnnouncementID: "a1",
		ScheduledFor:   time.Now().UTC().Add(time.Hour),
		Priority:       2,
	}
	require.NoError(t, repo.Upsert(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, models.QueueStatusPending, entry.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishQueueMarkCompletedRequiresOwnership(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewPublishQueueRepository(db)

	mock.ExpectExec("UPDATE publish_queue").
		WithArgs(sqlmock.AnyArg(), "q1", "worker-b").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(context.Background(), "q1", "worker-b")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishQueueListDueOrdersUrgentFirst(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewPublishQueueRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "announcement_id", "scheduled_for", "priority", "urgent", "status",
		"worker_id", "lock_expires_at", "attempts", "error_history", "created_at", "updated_at",
	}).
		AddRow("q1", "a1", now, 4, true, "PENDING", nil, nil, 0, nil, now, now).
		AddRow("q2", "a2", now, 2, false, "PENDING", nil, nil, 0, nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM publish_queue").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	entries, err := repo.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Urgent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishQueueListDueIncludesExpiredProcessingEntries(t *testing.T) {
	db, mock, cleanup := newQueueRepoMock(t)
	defer cleanup()
	repo := NewPublishQueueRepository(db)
	now := time.Now().UTC()
	staleLock := now.Add(-time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "announcement_id", "scheduled_for", "priority", "urgent", "status",
		"worker_id", "lock_expires_at", "attempts", "error_history", "created_at", "updated_at",
	}).
		AddRow("q1", "a1", now.Add(-time.Hour), 2, false, "PROCESSING", "worker-a", staleLock, 1, nil, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM publish_queue.+status = 'PENDING' OR .status = 'PROCESSING' AND lock_expires_at`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	entries, err := repo.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.QueueStatusProcessing, entries[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
