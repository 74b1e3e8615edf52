package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

func newAnnouncementRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestTransitionStatusGuardedUpdate(t *testing.T) {
	db, mock, cleanup := newAnnouncementRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectExec("UPDATE announcements").
		WithArgs("SCHEDULED", sqlmock.AnyArg(), "a1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.TransitionStatus(context.Background(), "a1",
		[]models.AnnouncementStatus{models.AnnouncementStatusDraft}, models.AnnouncementStatusScheduled))

	mock.ExpectExec("UPDATE announcements").
		WithArgs("SCHEDULED", sqlmock.AnyArg(), "a1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.TransitionStatus(context.Background(), "a1",
		[]models.AnnouncementStatus{models.AnnouncementStatusDraft}, models.AnnouncementStatusScheduled)
	assert.ErrorIs(t, err, sql.ErrNoRows, "transition from the wrong state must not apply")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusToPublishedStampsPublishedAt(t *testing.T) {
	db, mock, cleanup := newAnnouncementRepoMock(t)
	defer cleanup()
	repo := NewAnnouncementRepository(db)

	mock.ExpectExec("UPDATE announcements SET status = (.+), published_at = (.+)").
		WithArgs("PUBLISHED", sqlmock.AnyArg(), sqlmock.AnyArg(), "a1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(context.Background(), "a1",
		[]models.AnnouncementStatus{models.AnnouncementStatusScheduled, models.AnnouncementStatusDraft},
		models.AnnouncementStatusPublished)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
