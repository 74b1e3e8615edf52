package models

import "time"

// ApprovalStatus captures the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Approval is the optional publication gate of an announcement (at most one).
type Approval struct {
	ID                string         `db:"id" json:"id"`
	AnnouncementID    string         `db:"announcement_id" json:"announcement_id"`
	Status            ApprovalStatus `db:"status" json:"status"`
	AssignedTo        *string        `db:"assigned_to" json:"assigned_to,omitempty"`
	AutoApproved      bool           `db:"auto_approved" json:"auto_approved"`
	AllowResubmission bool           `db:"allow_resubmission" json:"allow_resubmission"`
	EscalationLevel   int            `db:"escalation_level" json:"escalation_level"`
	SLADeadline       time.Time      `db:"sla_deadline" json:"sla_deadline"`
	SLABreached       bool           `db:"sla_breached" json:"sla_breached"`
	DecidedBy         *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt         *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
	RequestedBy       string         `db:"requested_by" json:"requested_by"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// ApprovalHistory is one immutable transition record.
type ApprovalHistory struct {
	ID             string         `db:"id" json:"id"`
	ApprovalID     string         `db:"approval_id" json:"approval_id"`
	PreviousStatus ApprovalStatus `db:"previous_status" json:"previous_status"`
	NewStatus      ApprovalStatus `db:"new_status" json:"new_status"`
	Actor          string         `db:"actor" json:"actor"`
	Notes          *string        `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// AutoApprovalRule is one hostel-level rule evaluated at submission time.
// Conditions is a JSON object; the first matching rule (by ascending priority)
// approves the request without manual review.
type AutoApprovalRule struct {
	ID         string    `db:"id" json:"id"`
	HostelID   string    `db:"hostel_id" json:"hostel_id"`
	Priority   int       `db:"priority" json:"priority"`
	Conditions []byte    `db:"conditions" json:"conditions"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AutoApprovalConditions is the decoded form of AutoApprovalRule.Conditions.
type AutoApprovalConditions struct {
	Categories  []AnnouncementCategory `json:"categories,omitempty"`
	MaxPriority AnnouncementPriority   `json:"max_priority,omitempty"`
	CreatedBy   []string               `json:"created_by,omitempty"`
}

// ApprovalWorkflow is the hostel-level approval configuration.
// DefaultApprovers is a JSON array of user IDs.
type ApprovalWorkflow struct {
	ID                 string    `db:"id" json:"id"`
	HostelID           string    `db:"hostel_id" json:"hostel_id"`
	DefaultApprovers   []byte    `db:"default_approvers" json:"default_approvers"`
	EscalationApprover string    `db:"escalation_approver" json:"escalation_approver"`
	MaxEscalations     int       `db:"max_escalations" json:"max_escalations"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
