package models

import "time"

// CredentialBundle holds the externally obtained values needed to
// authenticate remote calls. The core treats it as read-only input and
// never mutates or logs its secret fields.
type CredentialBundle struct {
	SessionKey     string    `json:"session_key"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id,omitempty"`
	CSRFToken      string    `json:"csrf_token,omitempty"`
	ExtractedFrom  string    `json:"extracted_from,omitempty"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

// Valid reports whether the bundle carries the minimum fields required to
// attempt an authenticated call.
func (c *CredentialBundle) Valid() bool {
	return c != nil && c.SessionKey != "" && c.OrganizationID != ""
}
