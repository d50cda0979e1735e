package models

import "time"

// Audited administrative actions.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionUserStatusChange = "USER_STATUS_CHANGE"
	AuditActionUserRoleChange   = "USER_ROLE_CHANGE"
	AuditActionUserDelete       = "USER_DELETE"
	AuditActionPaperDelete      = "PAPER_DELETE"
	AuditActionRequestProcess   = "PAPER_REQUEST_PROCESS"
	AuditActionStatsExport      = "AUTHOR_STATS_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"userId,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resourceId,omitempty"`
	OldValues  []byte    `db:"old_values" json:"oldValues,omitempty"`
	NewValues  []byte    `db:"new_values" json:"newValues,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ipAddress"`
	UserAgent  string    `db:"user_agent" json:"userAgent"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
