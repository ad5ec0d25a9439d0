// Data model for synced conversations
package models

import "time"

// Message roles
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// SyncIndexVersion is written into every persisted index file.
const SyncIndexVersion = "1.0.0"

// Conversation is the metadata record for one remote conversation.
// At most one record per ID may exist in an index.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	MessageCount   int       `json:"message_count"`
	IsDownloaded   bool      `json:"is_downloaded"`
	OrganizationID string    `json:"organization_id,omitempty"`
}

// Message is one entry in a conversation's history. ParentMessageID links
// to a prior message in the same conversation, so the history forms a tree,
// not necessarily a line.
type Message struct {
	ID              string    `json:"id"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	ConversationID  string    `json:"conversation_id"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
}

// FullConversation is a conversation plus its downloaded message history.
type FullConversation struct {
	Conversation
	Messages      []Message `json:"messages"`
	LocalOnly     bool      `json:"local_only"`
	Placeholder   bool      `json:"placeholder,omitempty"`
	NeedsDownload bool      `json:"needs_download,omitempty"`
}

// SyncIndex is the persisted conversation index. It is always read and
// written as a single unit; partial updates are never performed.
type SyncIndex struct {
	Conversations []Conversation `json:"conversations"`
	LastSync      time.Time      `json:"last_sync"`
	Version       string         `json:"version"`
}

// SyncResult summarizes one reconciliation pass. Per-item failures are
// accumulated in Errors and do not abort the pass.
type SyncResult struct {
	NewCount     int      `json:"new_count"`
	UpdatedCount int      `json:"updated_count"`
	Total        int      `json:"total"`
	Errors       []string `json:"errors,omitempty"`
}

// StoreStats reports the state of the local store.
type StoreStats struct {
	Total           int       `json:"total"`
	DownloadedCount int       `json:"downloaded_count"`
	LastSync        time.Time `json:"last_sync"`
}
