package dto

// RecordViewRequest registers a view event from a client session.
type RecordViewRequest struct {
	SessionID   string  `json:"session_id" validate:"required"`
	ScrollDepth float64 `json:"scroll_depth" validate:"gte=0,lte=1"`
}

// ReadReceiptRequest records reading progress for a student.
type ReadReceiptRequest struct {
	ReadingSeconds int     `json:"reading_seconds" validate:"gte=0"`
	ScrollDepth    float64 `json:"scroll_depth" validate:"gte=0,lte=1"`
}

// AcknowledgeRequest confirms an announcement that requires acknowledgment.
type AcknowledgeRequest struct {
	Note *string `json:"note,omitempty" validate:"omitempty,max=500"`
}
