package models

import "time"

// Viewer is the identity evaluated against a paper. A nil *Viewer is anonymous.
type Viewer struct {
	ID   string
	Role UserRole
}

// Access decision reasons.
const (
	AccessReasonSignIn  = "sign-in required"
	AccessReasonAdmin   = "administrator access"
	AccessReasonOwner   = "owner access"
	AccessReasonRequest = "must request access from an administrator"
)

// AccessDecision is the result of evaluating download rights.
type AccessDecision struct {
	Allowed bool
	Reason  string
}

// DownloadPermission is returned by the permission endpoint.
type DownloadPermission struct {
	CanDownload bool       `json:"canDownload"`
	Reason      string     `json:"reason"`
	PaperTitle  string     `json:"paperTitle"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}
