package models

import "time"

// RecurrencePattern enumerates supported repeat cadences.
type RecurrencePattern string

const (
	RecurrenceNone     RecurrencePattern = "NONE"
	RecurrenceDaily    RecurrencePattern = "DAILY"
	RecurrenceWeekly   RecurrencePattern = "WEEKLY"
	RecurrenceBiweekly RecurrencePattern = "BIWEEKLY"
	RecurrenceMonthly  RecurrencePattern = "MONTHLY"
)

// ScheduleStatus captures the lifecycle of a publish schedule.
type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "PENDING"
	ScheduleStatusCompleted ScheduleStatus = "COMPLETED"
	ScheduleStatusCancelled ScheduleStatus = "CANCELLED"
)

// Schedule is the single active publish schedule of an announcement.
type Schedule struct {
	ID              string            `db:"id" json:"id"`
	AnnouncementID  string            `db:"announcement_id" json:"announcement_id"`
	PublishAt       time.Time         `db:"publish_at" json:"publish_at"`
	Timezone        string            `db:"timezone" json:"timezone"`
	Pattern         RecurrencePattern `db:"pattern" json:"pattern"`
	EndDate         *time.Time        `db:"end_date" json:"end_date,omitempty"`
	MaxOccurrences  *int              `db:"max_occurrences" json:"max_occurrences,omitempty"`
	OccurrenceCount int               `db:"occurrence_count" json:"occurrence_count"`
	SLADeadline     time.Time         `db:"sla_deadline" json:"sla_deadline"`
	SLABreached     bool              `db:"sla_breached" json:"sla_breached"`
	Status          ScheduleStatus    `db:"status" json:"status"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// QueueStatus captures the lifecycle of a publish queue entry.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusCompleted  QueueStatus = "COMPLETED"
	QueueStatusFailed     QueueStatus = "FAILED"
	QueueStatusCancelled  QueueStatus = "CANCELLED"
)

// PublishQueueEntry is one pending publish, keyed by announcement. WorkerID and
// LockExpiresAt implement the time-bounded claim used by concurrent sweeps.
type PublishQueueEntry struct {
	ID             string      `db:"id" json:"id"`
	AnnouncementID string      `db:"announcement_id" json:"announcement_id"`
	ScheduledFor   time.Time   `db:"scheduled_for" json:"scheduled_for"`
	Priority       int         `db:"priority" json:"priority"`
	Urgent         bool        `db:"urgent" json:"urgent"`
	Status         QueueStatus `db:"status" json:"status"`
	WorkerID       *string     `db:"worker_id" json:"worker_id,omitempty"`
	LockExpiresAt  *time.Time  `db:"lock_expires_at" json:"lock_expires_at,omitempty"`
	Attempts       int         `db:"attempts" json:"attempts"`
	ErrorHistory   []byte      `db:"error_history" json:"error_history,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// QueueError is one entry of PublishQueueEntry.ErrorHistory.
type QueueError struct {
	Attempt    int       `json:"attempt"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecurringAnnouncement is a long-lived template that periodically spawns
// announcement instances. TargetSpec carries the JSON targeting configuration
// copied onto each spawned instance.
type RecurringAnnouncement struct {
	ID                     string               `db:"id" json:"id"`
	HostelID               string               `db:"hostel_id" json:"hostel_id"`
	Title                  string               `db:"title" json:"title"`
	Content                string               `db:"content" json:"content"`
	Category               AnnouncementCategory `db:"category" json:"category"`
	Priority               AnnouncementPriority `db:"priority" json:"priority"`
	Pattern                RecurrencePattern    `db:"pattern" json:"pattern"`
	Timezone               string               `db:"timezone" json:"timezone"`
	NextRunAt              time.Time            `db:"next_run_at" json:"next_run_at"`
	EndDate                *time.Time           `db:"end_date" json:"end_date,omitempty"`
	MaxOccurrences         *int                 `db:"max_occurrences" json:"max_occurrences,omitempty"`
	SpawnCount             int                  `db:"spawn_count" json:"spawn_count"`
	Active                 bool                 `db:"active" json:"active"`
	RequiresAcknowledgment bool                 `db:"requires_acknowledgment" json:"requires_acknowledgment"`
	TargetSpec             []byte               `db:"target_spec" json:"target_spec,omitempty"`
	CreatedBy              string               `db:"created_by" json:"created_by"`
	CreatedAt              time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time            `db:"updated_at" json:"updated_at"`
}
