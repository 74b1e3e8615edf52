package models

import "time"

// DeliveryChannel enumerates supported delivery channels.
type DeliveryChannel string

const (
	ChannelInApp DeliveryChannel = "IN_APP"
	ChannelPush  DeliveryChannel = "PUSH"
	ChannelEmail DeliveryChannel = "EMAIL"
	ChannelSMS   DeliveryChannel = "SMS"
)

// DeliveryStatus captures the lifecycle of one delivery row.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "PENDING"
	DeliveryStatusProcessing DeliveryStatus = "PROCESSING"
	DeliveryStatusCompleted  DeliveryStatus = "COMPLETED"
	DeliveryStatusFailed     DeliveryStatus = "FAILED"
)

// BatchStatus captures the lifecycle of a delivery batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
)

// Delivery is one (announcement, recipient, channel) fan-out row.
type Delivery struct {
	ID                string          `db:"id" json:"id"`
	AnnouncementID    string          `db:"announcement_id" json:"announcement_id"`
	BatchID           string          `db:"batch_id" json:"batch_id"`
	RecipientID       string          `db:"recipient_id" json:"recipient_id"`
	Channel           DeliveryChannel `db:"channel" json:"channel"`
	Status            DeliveryStatus  `db:"status" json:"status"`
	RetryCount        int             `db:"retry_count" json:"retry_count"`
	MaxRetries        int             `db:"max_retries" json:"max_retries"`
	NextRetryAt       *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	ProviderMessageID *string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// DeliveryBatch groups deliveries of one announcement by channel.
type DeliveryBatch struct {
	ID              string          `db:"id" json:"id"`
	AnnouncementID  string          `db:"announcement_id" json:"announcement_id"`
	Channel         DeliveryChannel `db:"channel" json:"channel"`
	Status          BatchStatus     `db:"status" json:"status"`
	TotalCount      int             `db:"total_count" json:"total_count"`
	SentCount       int             `db:"sent_count" json:"sent_count"`
	FailedCount     int             `db:"failed_count" json:"failed_count"`
	AvgDeliveryMS   *float64        `db:"avg_delivery_ms" json:"avg_delivery_ms,omitempty"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// DeliveryFailure records one provider-reported failure.
type DeliveryFailure struct {
	ID           string    `db:"id" json:"id"`
	DeliveryID   string    `db:"delivery_id" json:"delivery_id"`
	ErrorCode    string    `db:"error_code" json:"error_code"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	Permanent    bool      `db:"permanent" json:"permanent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ChannelSuccessRate is an aggregate success ratio per channel for a hostel.
type ChannelSuccessRate struct {
	Channel     DeliveryChannel `db:"channel" json:"channel"`
	Total       int             `db:"total" json:"total"`
	Completed   int             `db:"completed" json:"completed"`
	SuccessRate float64         `db:"success_rate" json:"success_rate"`
}

// DeliverySummary aggregates fan-out state for one announcement.
type DeliverySummary struct {
	AnnouncementID string                  `json:"announcement_id"`
	Batches        int                     `json:"batches"`
	Total          int                     `json:"total"`
	ByStatus       map[DeliveryStatus]int  `json:"by_status"`
	ByChannel      map[DeliveryChannel]int `json:"by_channel"`
}
