package dto

import (
	"time"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// CreateAnnouncementRequest creates a draft announcement.
type CreateAnnouncementRequest struct {
	Title                  string     `json:"title" validate:"required,min=3,max=200"`
	Content                string     `json:"content" validate:"required,min=1"`
	Category               string     `json:"category" validate:"required,oneof=GENERAL MAINTENANCE EVENT MESS EMERGENCY"`
	Priority               string     `json:"priority" validate:"required,oneof=LOW NORMAL HIGH URGENT"`
	RequiresAcknowledgment bool       `json:"requires_acknowledgment"`
	NotifyPush             bool       `json:"notify_push"`
	NotifyEmail            bool       `json:"notify_email"`
	NotifySMS              bool       `json:"notify_sms"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
}

// UpdateAnnouncementRequest edits a draft. Every edit snapshots the previous
// content into the version history.
type UpdateAnnouncementRequest struct {
	Title                  *string    `json:"title,omitempty" validate:"omitempty,min=3,max=200"`
	Content                *string    `json:"content,omitempty" validate:"omitempty,min=1"`
	Category               *string    `json:"category,omitempty" validate:"omitempty,oneof=GENERAL MAINTENANCE EVENT MESS EMERGENCY"`
	Priority               *string    `json:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	RequiresAcknowledgment *bool      `json:"requires_acknowledgment,omitempty"`
	NotifyPush             *bool      `json:"notify_push,omitempty"`
	NotifyEmail            *bool      `json:"notify_email,omitempty"`
	NotifySMS              *bool      `json:"notify_sms,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
}

// ListAnnouncementsQuery filters the announcement listing.
type ListAnnouncementsQuery struct {
	Statuses  []string `form:"status"`
	Category  string   `form:"category"`
	CreatedBy string   `form:"created_by"`
	Page      int      `form:"page"`
	PageSize  int      `form:"page_size"`
}

// AnnouncementListResponse pairs rows with pagination metadata.
type AnnouncementListResponse struct {
	Items      []models.Announcement `json:"items"`
	Pagination models.Pagination     `json:"pagination"`
}

// CreateCompleteAnnouncementRequest creates an announcement together with its
// targeting, optional schedule and optional approval request in one atomic
// operation.
type CreateCompleteAnnouncementRequest struct {
	Announcement    CreateAnnouncementRequest `json:"announcement" validate:"required"`
	Target          TargetRequest             `json:"target" validate:"required"`
	Schedule        *ScheduleRequest          `json:"schedule,omitempty"`
	RequireApproval bool                      `json:"require_approval"`
}

// CompleteAnnouncementResponse reports everything the atomic create produced.
type CompleteAnnouncementResponse struct {
	Announcement *models.Announcement `json:"announcement"`
	Target       *models.Target       `json:"target"`
	Schedule     *models.Schedule     `json:"schedule,omitempty"`
	Approval     *models.Approval     `json:"approval,omitempty"`
	Reach        int                  `json:"reach"`
}
