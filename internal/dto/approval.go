package dto

// ApprovalDecisionRequest approves or rejects a pending request.
type ApprovalDecisionRequest struct {
	Notes             *string `json:"notes,omitempty"`
	AllowResubmission bool    `json:"allow_resubmission"`
	AutoPublish       bool    `json:"auto_publish"`
}

// SubmitApprovalRequest asks for publication approval of a draft.
type SubmitApprovalRequest struct {
	AssignTo *string `json:"assign_to,omitempty"`
}

// ResubmitApprovalRequest returns a rejected announcement to review.
type ResubmitApprovalRequest struct {
	Notes *string `json:"notes,omitempty"`
}
