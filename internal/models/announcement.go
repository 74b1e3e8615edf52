package models

import "time"

// AnnouncementStatus captures the lifecycle of an announcement.
type AnnouncementStatus string

const (
	AnnouncementStatusDraft     AnnouncementStatus = "DRAFT"
	AnnouncementStatusScheduled AnnouncementStatus = "SCHEDULED"
	AnnouncementStatusPublished AnnouncementStatus = "PUBLISHED"
	AnnouncementStatusArchived  AnnouncementStatus = "ARCHIVED"
)

// AnnouncementCategory classifies announcements for filtering and auto-approval rules.
type AnnouncementCategory string

const (
	AnnouncementCategoryGeneral     AnnouncementCategory = "GENERAL"
	AnnouncementCategoryMaintenance AnnouncementCategory = "MAINTENANCE"
	AnnouncementCategoryEvent       AnnouncementCategory = "EVENT"
	AnnouncementCategoryMess        AnnouncementCategory = "MESS"
	AnnouncementCategoryEmergency   AnnouncementCategory = "EMERGENCY"
)

// AnnouncementPriority defines ordering and urgency for announcements.
type AnnouncementPriority string

const (
	AnnouncementPriorityLow    AnnouncementPriority = "LOW"
	AnnouncementPriorityNormal AnnouncementPriority = "NORMAL"
	AnnouncementPriorityHigh   AnnouncementPriority = "HIGH"
	AnnouncementPriorityUrgent AnnouncementPriority = "URGENT"
)

// PriorityRank maps priorities onto a comparable scale for rule checks and queue ordering.
func PriorityRank(p AnnouncementPriority) int {
	switch p {
	case AnnouncementPriorityLow:
		return 1
	case AnnouncementPriorityNormal:
		return 2
	case AnnouncementPriorityHigh:
		return 3
	case AnnouncementPriorityUrgent:
		return 4
	default:
		return 0
	}
}

// Announcement represents a persisted announcement row. Audience counters are
// denormalized from the engagement tables and always recomputable from them.
type Announcement struct {
	ID                     string               `db:"id" json:"id"`
	HostelID               string               `db:"hostel_id" json:"hostel_id"`
	Title                  string               `db:"title" json:"title"`
	Content                string               `db:"content" json:"content"`
	Category               AnnouncementCategory `db:"category" json:"category"`
	Priority               AnnouncementPriority `db:"priority" json:"priority"`
	Status                 AnnouncementStatus   `db:"status" json:"status"`
	RequiresAcknowledgment bool                 `db:"requires_acknowledgment" json:"requires_acknowledgment"`
	NotifyPush             bool                 `db:"notify_push" json:"notify_push"`
	NotifyEmail            bool                 `db:"notify_email" json:"notify_email"`
	NotifySMS              bool                 `db:"notify_sms" json:"notify_sms"`
	TotalRecipients        int                  `db:"total_recipients" json:"total_recipients"`
	ReadCount              int                  `db:"read_count" json:"read_count"`
	AcknowledgedCount      int                  `db:"acknowledged_count" json:"acknowledged_count"`
	ExpiresAt              *time.Time           `db:"expires_at" json:"expires_at,omitempty"`
	PublishedAt            *time.Time           `db:"published_at" json:"published_at,omitempty"`
	ArchivedAt             *time.Time           `db:"archived_at" json:"archived_at,omitempty"`
	CreatedBy              string               `db:"created_by" json:"created_by"`
	CreatedAt              time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time            `db:"updated_at" json:"updated_at"`
}

// AnnouncementVersion snapshots title/content before an edit.
type AnnouncementVersion struct {
	ID             string    `db:"id" json:"id"`
	AnnouncementID string    `db:"announcement_id" json:"announcement_id"`
	Version        int       `db:"version" json:"version"`
	Title          string    `db:"title" json:"title"`
	Content        string    `db:"content" json:"content"`
	EditedBy       string    `db:"edited_by" json:"edited_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AnnouncementFilter allows listing announcements.
type AnnouncementFilter struct {
	HostelID  string
	Statuses  []AnnouncementStatus
	Category  AnnouncementCategory
	CreatedBy string
	Page      int
	PageSize  int
}
