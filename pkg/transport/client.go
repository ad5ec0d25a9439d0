package transport

import (
	"context"
	"fmt"

	"github.com/consync/consync/pkg/models"
)

// Client is one execution path to the remote service. All implementations
// reach the same logical endpoints; only the mechanism differs.
type Client interface {
	// Name identifies the execution path in logs.
	Name() string

	// ListConversations fetches the remote conversation list.
	ListConversations(ctx context.Context, cred *models.CredentialBundle) ([]models.Conversation, error)

	// CreateConversation creates a remote conversation and returns its id.
	CreateConversation(ctx context.Context, cred *models.CredentialBundle, title string) (string, error)

	// FetchConversation returns the raw detail payload for one conversation.
	FetchConversation(ctx context.Context, cred *models.CredentialBundle, id string) ([]byte, error)

	// SendMessage posts a prompt to a conversation's completion endpoint and
	// decodes the streamed reply. When onUpdate is non-nil it is invoked
	// with the cumulative decoded text after each received chunk, in
	// arrival order. The final cumulative text is returned.
	SendMessage(ctx context.Context, cred *models.CredentialBundle, conversationID, prompt, parentMessageID string, onUpdate func(string)) (string, error)
}

// cookieHeader builds the authentication cookie for a request. The session
// key must never be logged; use utils.RedactSecret for diagnostics.
func cookieHeader(cred *models.CredentialBundle) string {
	return fmt.Sprintf("sessionKey=%s; lastActiveOrg=%s", cred.SessionKey, cred.OrganizationID)
}

// listEndpoints returns the ordered endpoint candidates for the list
// operation, primary first.
func listEndpoints(orgID string) []string {
	return []string{
		fmt.Sprintf("/organizations/%s/chat_conversations", orgID),
		"/chat_conversations",
		fmt.Sprintf("/organizations/%s/conversations", orgID),
		"/conversations",
	}
}

// completionPayload is the JSON body posted to the completion endpoint.
type completionPayload struct {
	Prompt            string   `json:"prompt"`
	ParentMessageUUID *string  `json:"parent_message_uuid"`
	Timezone          string   `json:"timezone"`
	Locale            string   `json:"locale"`
	Tools             []tool   `json:"tools"`
	Attachments       []string `json:"attachments"`
	Files             []string `json:"files"`
	SyncSources       []string `json:"sync_sources"`
	RenderingMode     string   `json:"rendering_mode"`
}

type tool struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func newCompletionPayload(prompt, parentMessageID, locale string) completionPayload {
	var parent *string
	if parentMessageID != "" {
		parent = &parentMessageID
	}
	return completionPayload{
		Prompt:            prompt,
		ParentMessageUUID: parent,
		Timezone:          "America/New_York",
		Locale:            locale,
		Tools: []tool{
			{Type: "web_search_v0", Name: "web_search"},
			{Type: "artifacts_v0", Name: "artifacts"},
			{Type: "repl_v0", Name: "repl"},
		},
		Attachments:   []string{},
		Files:         []string{},
		SyncSources:   []string{},
		RenderingMode: "messages",
	}
}
