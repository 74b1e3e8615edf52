package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Execer is the query surface repositories run against. Both *sqlx.DB and
// *sqlx.Tx satisfy it, so the same repository code serves plain calls and
// unit-of-work transactions.
type Execer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// Repositories bundles every repository bound to a single Execer. Inside a
// unit of work the bundle is rebound to the transaction.
type Repositories struct {
	Announcements *AnnouncementRepository
	Targets       *TargetRepository
	Students      *StudentRepository
	Schedules     *ScheduleRepository
	Queue         *PublishQueueRepository
	Recurring     *RecurringAnnouncementRepository
	Approvals     *ApprovalRepository
	Deliveries    *DeliveryRepository
	Engagement    *EngagementRepository
	Users         *UserRepository
}

// NewRepositories binds the full repository set to the given Execer.
func NewRepositories(db Execer) *Repositories {
	return &Repositories{
		Announcements: NewAnnouncementRepository(db),
		Targets:       NewTargetRepository(db),
		Students:      NewStudentRepository(db),
		Schedules:     NewScheduleRepository(db),
		Queue:         NewPublishQueueRepository(db),
		Recurring:     NewRecurringAnnouncementRepository(db),
		Approvals:     NewApprovalRepository(db),
		Deliveries:    NewDeliveryRepository(db),
		Engagement:    NewEngagementRepository(db),
		Users:         NewUserRepository(db),
	}
}

// UnitOfWork runs multi-repository workflows inside one transaction.
type UnitOfWork struct {
	db *sqlx.DB
}

// NewUnitOfWork constructs the unit of work.
func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do begins a transaction, hands a transaction-bound repository set to fn and
// commits. Any error (or panic) rolls back every intermediate write.
func (u *UnitOfWork) Do(ctx context.Context, fn func(r *Repositories) error) (err error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(NewRepositories(tx))
	return err
}
