package dto

import "time"

// ScheduleRequest schedules an announcement for future publication.
type ScheduleRequest struct {
	PublishAt      time.Time  `json:"publish_at" validate:"required"`
	Timezone       string     `json:"timezone"`
	Pattern        string     `json:"pattern" validate:"omitempty,oneof=NONE DAILY WEEKLY BIWEEKLY MONTHLY"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences *int       `json:"max_occurrences,omitempty" validate:"omitempty,gt=0"`
}

// CreateRecurringAnnouncementRequest creates a recurring template.
type CreateRecurringAnnouncementRequest struct {
	Title                  string        `json:"title" validate:"required,min=3,max=200"`
	Content                string        `json:"content" validate:"required,min=1"`
	Category               string        `json:"category" validate:"required,oneof=GENERAL MAINTENANCE EVENT MESS EMERGENCY"`
	Priority               string        `json:"priority" validate:"required,oneof=LOW NORMAL HIGH URGENT"`
	Pattern                string        `json:"pattern" validate:"required,oneof=DAILY WEEKLY BIWEEKLY MONTHLY"`
	Timezone               string        `json:"timezone"`
	FirstRunAt             time.Time     `json:"first_run_at" validate:"required"`
	EndDate                *time.Time    `json:"end_date,omitempty"`
	MaxOccurrences         *int          `json:"max_occurrences,omitempty" validate:"omitempty,gt=0"`
	RequiresAcknowledgment bool          `json:"requires_acknowledgment"`
	Target                 TargetRequest `json:"target" validate:"required"`
}
