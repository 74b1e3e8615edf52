package models

import "time"

// TargetType declares how an announcement audience is described.
type TargetType string

const (
	TargetTypeAll      TargetType = "ALL"
	TargetTypeRooms    TargetType = "ROOMS"
	TargetTypeFloors   TargetType = "FLOORS"
	TargetTypeStudents TargetType = "STUDENTS"
	TargetTypeCustom   TargetType = "CUSTOM"
)

// RuleOperator enumerates comparison operators for custom targeting rules.
type RuleOperator string

const (
	RuleOperatorEquals      RuleOperator = "EQUALS"
	RuleOperatorIn          RuleOperator = "IN"
	RuleOperatorContains    RuleOperator = "CONTAINS"
	RuleOperatorGreaterThan RuleOperator = "GREATER_THAN"
	RuleOperatorLessThan    RuleOperator = "LESS_THAN"
	RuleOperatorBetween     RuleOperator = "BETWEEN"
)

// Target holds the single targeting configuration of an announcement.
// Params carries the type-specific payload (room/floor/student lists) as JSON.
type Target struct {
	ID             string     `db:"id" json:"id"`
	AnnouncementID string     `db:"announcement_id" json:"announcement_id"`
	Type           TargetType `db:"type" json:"type"`
	Params         []byte     `db:"params" json:"params,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TargetParams is the decoded form of Target.Params.
type TargetParams struct {
	RoomIDs    []string `json:"room_ids,omitempty"`
	Floors     []int    `json:"floors,omitempty"`
	StudentIDs []string `json:"student_ids,omitempty"`
}

// TargetingRule is one ordered rule of a CUSTOM target. Value holds the
// JSON-encoded comparison operand (scalar, list, or [low, high] for BETWEEN).
type TargetingRule struct {
	ID        string       `db:"id" json:"id"`
	TargetID  string       `db:"target_id" json:"target_id"`
	Field     string       `db:"field" json:"field"`
	Operator  RuleOperator `db:"operator" json:"operator"`
	Value     []byte       `db:"value" json:"value"`
	Exclude   bool         `db:"exclude" json:"exclude"`
	Priority  int          `db:"priority" json:"priority"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// TargetAudienceCache stores the last resolved recipient list for a target.
type TargetAudienceCache struct {
	ID             string    `db:"id" json:"id"`
	AnnouncementID string    `db:"announcement_id" json:"announcement_id"`
	RecipientIDs   []byte    `db:"recipient_ids" json:"recipient_ids"`
	Breakdown      []byte    `db:"breakdown" json:"breakdown,omitempty"`
	Stale          bool      `db:"stale" json:"stale"`
	ComputedAt     time.Time `db:"computed_at" json:"computed_at"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
}

// ReachBreakdown summarises a resolved audience.
type ReachBreakdown struct {
	Total    int            `json:"total"`
	ByRoom   map[string]int `json:"by_room"`
	ByFloor  map[string]int `json:"by_floor"`
	ByStatus map[string]int `json:"by_status"`
}

// OverMessagingResult partitions candidates by messaging pressure.
type OverMessagingResult struct {
	Eligible    []string `json:"eligible"`
	FilteredOut []string `json:"filtered_out"`
	WindowHours int      `json:"window_hours"`
	MaxMessages int      `json:"max_messages"`
}
