package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
)

func newEngagementRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestInsertAcknowledgmentDuplicateIsConflict(t *testing.T) {
	db, mock, cleanup := newEngagementRepoMock(t)
	defer cleanup()
	repo := NewEngagementRepository(db)

	mock.ExpectExec("INSERT INTO acknowledgments").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.InsertAcknowledgment(context.Background(), &models.Acknowledgment{
		AnnouncementID: "a1",
		StudentID:      "s1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestInsertAcknowledgmentAssignsID(t *testing.T) {
	db, mock, cleanup := newEngagementRepoMock(t)
	defer cleanup()
	repo := NewEngagementRepository(db)

	mock.ExpectExec("INSERT INTO acknowledgments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ack := &models.Acknowledgment{AnnouncementID: "a1", StudentID: "s1"}
	require.NoError(t, repo.InsertAcknowledgment(context.Background(), ack))
	assert.NotEmpty(t, ack.ID)
	assert.False(t, ack.AcknowledgedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReadReceiptReportsInsertion(t *testing.T) {
	db, mock, cleanup := newEngagementRepoMock(t)
	defer cleanup()
	repo := NewEngagementRepository(db)

	mock.ExpectQuery("INSERT INTO read_receipts").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	inserted, err := repo.UpsertReadReceipt(context.Background(), &models.ReadReceipt{
		AnnouncementID: "a1",
		StudentID:      "s1",
		ReadingSeconds: 40,
		ScrollDepth:    0.8,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	mock.ExpectQuery("INSERT INTO read_receipts").
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
	inserted, err = repo.UpsertReadReceipt(context.Background(), &models.ReadReceipt{
		AnnouncementID: "a1",
		StudentID:      "s1",
	})
	require.NoError(t, err)
	assert.False(t, inserted, "existing receipt is updated, not recreated")
	require.NoError(t, mock.ExpectationsWereMet())
}
