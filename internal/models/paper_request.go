package models

import "time"

// RequestStatus is the state of a paper request. approved and rejected are terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// IsDecision reports whether s is a valid processing outcome.
func (s RequestStatus) IsDecision() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// PaperRequest asks an administrator for access to a paper the viewer cannot download.
type PaperRequest struct {
	ID             string        `db:"id" json:"id"`
	PaperID        string        `db:"paper_id" json:"paperId"`
	UserID         string        `db:"user_id" json:"userId"`
	PaperTitle     string        `db:"paper_title" json:"paperTitle"`
	Reason         string        `db:"reason" json:"reason"`
	Status         RequestStatus `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	ProcessedAt    *time.Time    `db:"processed_at" json:"processedAt,omitempty"`
	ProcessedBy    *string       `db:"processed_by" json:"processedBy,omitempty"`
	AdminMessage   *string       `db:"admin_message" json:"adminMessage,omitempty"`
	RequesterEmail *string       `db:"requester_email" json:"requesterEmail,omitempty"`
	RequesterName  *string       `db:"requester_name" json:"requesterName,omitempty"`
}

// PaperRequestFilter constrains request listings.
type PaperRequestFilter struct {
	Status *RequestStatus
	UserID string
}

// SubmitPaperRequest is the body of a new request. PaperTitle is accepted for
// compatibility but the catalog title is always snapshotted instead.
type SubmitPaperRequest struct {
	PaperID    string `json:"paperId" validate:"required"`
	UserID     string `json:"userId"`
	Reason     string `json:"reason" validate:"required,max=2000"`
	PaperTitle string `json:"paperTitle"`
}

// SubmitPaperResponse acknowledges a stored request.
type SubmitPaperResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// ProcessPaperRequest records an administrator decision.
type ProcessPaperRequest struct {
	Status       RequestStatus `json:"status" validate:"required"`
	AdminID      string        `json:"adminId"`
	AdminMessage *string       `json:"adminMessage" validate:"omitempty,max=2000"`
}

// NotificationOutcome reports what happened to one notification step.
type NotificationOutcome string

const (
	NotificationSent          NotificationOutcome = "sent"
	NotificationFailed        NotificationOutcome = "failed"
	NotificationPaperNotFound NotificationOutcome = "paper_not_found"
	NotificationSkipped       NotificationOutcome = "skipped"
)

// NotificationStep is the outcome of one mail together with its failure cause.
type NotificationStep struct {
	Outcome NotificationOutcome `json:"outcome"`
	Error   string              `json:"error,omitempty"`
}

// ProcessResult is the persisted request plus the per-step notification report.
type ProcessResult struct {
	Request    *PaperRequest    `json:"request"`
	Decision   NotificationStep `json:"decisionNotification"`
	Attachment NotificationStep `json:"attachmentNotification"`
	Message    string           `json:"message"`
}
