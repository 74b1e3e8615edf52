package dto

import (
	"encoding/json"

	"github.com/noah-isme/hostel-announce-api/internal/models"
)

// TargetRequest sets the targeting configuration of an announcement.
type TargetRequest struct {
	Type       string                 `json:"type" validate:"required,oneof=ALL ROOMS FLOORS STUDENTS CUSTOM"`
	RoomIDs    []string               `json:"room_ids,omitempty"`
	Floors     []int                  `json:"floors,omitempty"`
	StudentIDs []string               `json:"student_ids,omitempty"`
	Rules      []TargetingRuleRequest `json:"rules,omitempty" validate:"dive"`
}

// TargetingRuleRequest is one rule of a CUSTOM target. Value carries the raw
// JSON operand so scalars, lists and [low, high] pairs all pass through.
type TargetingRuleRequest struct {
	Field    string          `json:"field" validate:"required"`
	Operator string          `json:"operator" validate:"required,oneof=EQUALS IN CONTAINS GREATER_THAN LESS_THAN BETWEEN"`
	Value    json.RawMessage `json:"value" validate:"required"`
	Exclude  bool            `json:"exclude"`
	Priority int             `json:"priority"`
}

// ReachResponse reports the resolved audience size with its breakdown.
type ReachResponse struct {
	AnnouncementID string                `json:"announcement_id"`
	Breakdown      models.ReachBreakdown `json:"breakdown"`
	Cached         bool                  `json:"cached"`
}
