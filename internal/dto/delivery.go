package dto

// InitializeDeliveryRequest starts delivery fan-out for a published
// announcement.
type InitializeDeliveryRequest struct {
	BatchSize int `json:"batch_size" validate:"omitempty,gt=0,lte=1000"`
}

// DeliveryResultRequest reports a provider outcome for one delivery.
type DeliveryResultRequest struct {
	Success           bool    `json:"success"`
	ProviderMessageID *string `json:"provider_message_id,omitempty"`
	ErrorCode         string  `json:"error_code,omitempty"`
	ErrorMessage      string  `json:"error_message,omitempty"`
	Permanent         bool    `json:"permanent"`
}
