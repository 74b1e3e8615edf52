package models

import "time"

// AnnouncementView tracks views per (announcement, student, session).
// A repeated view in the same session bumps ViewCount instead of a new row.
type AnnouncementView struct {
	ID             string    `db:"id" json:"id"`
	AnnouncementID string    `db:"announcement_id" json:"announcement_id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	ViewCount      int       `db:"view_count" json:"view_count"`
	ScrollDepth    float64   `db:"scroll_depth" json:"scroll_depth"`
	FirstViewedAt  time.Time `db:"first_viewed_at" json:"first_viewed_at"`
	LastViewedAt   time.Time `db:"last_viewed_at" json:"last_viewed_at"`
}

// ReadReceipt is upserted once per (announcement, student).
type ReadReceipt struct {
	ID             string    `db:"id" json:"id"`
	AnnouncementID string    `db:"announcement_id" json:"announcement_id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	ReadingSeconds int       `db:"reading_seconds" json:"reading_seconds"`
	ScrollDepth    float64   `db:"scroll_depth" json:"scroll_depth"`
	ReadAt         time.Time `db:"read_at" json:"read_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Acknowledgment is created once per (announcement, student) and immutable after.
type Acknowledgment struct {
	ID             string    `db:"id" json:"id"`
	AnnouncementID string    `db:"announcement_id" json:"announcement_id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	Note           *string   `db:"note" json:"note,omitempty"`
	AcknowledgedAt time.Time `db:"acknowledged_at" json:"acknowledged_at"`
}

// EngagementMetric is the single derived aggregate per announcement. It is
// never authoritative: CalculateEngagementMetrics can rebuild it from the
// delivery and receipt tables at any time.
type EngagementMetric struct {
	AnnouncementID     string    `db:"announcement_id" json:"announcement_id"`
	TotalRecipients    int       `db:"total_recipients" json:"total_recipients"`
	DeliveredCount     int       `db:"delivered_count" json:"delivered_count"`
	ReadCount          int       `db:"read_count" json:"read_count"`
	AcknowledgedCount  int       `db:"acknowledged_count" json:"acknowledged_count"`
	DeliveryRate       float64   `db:"delivery_rate" json:"delivery_rate"`
	ReadRate           float64   `db:"read_rate" json:"read_rate"`
	CompletionRate     float64   `db:"completion_rate" json:"completion_rate"`
	AcknowledgmentRate float64   `db:"acknowledgment_rate" json:"acknowledgment_rate"`
	EngagementScore    float64   `db:"engagement_score" json:"engagement_score"`
	ComputedAt         time.Time `db:"computed_at" json:"computed_at"`
}

// EngagementCounts are raw aggregates read from the event tables.
type EngagementCounts struct {
	Delivered    int `db:"delivered"`
	Read         int `db:"read"`
	Acknowledged int `db:"acknowledged"`
}

// ReadingTimeReport classifies readers by time spent.
type ReadingTimeReport struct {
	AnnouncementID   string      `json:"announcement_id"`
	Readers          int         `json:"readers"`
	QuickPercent     float64     `json:"quick_percent"`
	NormalPercent    float64     `json:"normal_percent"`
	ThoroughPercent  float64     `json:"thorough_percent"`
	HourDistribution map[int]int `json:"hour_distribution"`
}
