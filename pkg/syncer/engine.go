// Reconciliation of the remote conversation list against the local store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/store"
	"github.com/consync/consync/pkg/transport"
	"github.com/consync/consync/pkg/utils"
)

// Transport is the remote surface the engine needs. *transport.Gateway
// satisfies it; tests substitute fakes.
type Transport interface {
	ListConversations(ctx context.Context, cred *models.CredentialBundle) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, cred *models.CredentialBundle, title string) (string, error)
	FetchConversation(ctx context.Context, cred *models.CredentialBundle, id string) ([]byte, error)
	SendMessage(ctx context.Context, cred *models.CredentialBundle, conversationID, prompt, parentMessageID string, onUpdate func(string)) (string, bool, error)
	TestConnection(ctx context.Context, cred *models.CredentialBundle) bool
}

// Options controls one reconciliation pass.
type Options struct {
	// Force updates every known record from remote metadata regardless of
	// timestamps. Download state is still preserved.
	Force bool

	// CreatePlaceholders writes a placeholder artifact for each newly
	// discovered conversation.
	CreatePlaceholders bool
}

// Engine merges the remote conversation list into the local index and
// orchestrates full-conversation downloads. Store-mutating operations are
// serialized within one engine; two engines over the same root are an
// out-of-scope hazard.
type Engine struct {
	gateway Transport
	store   *store.Store
	cred    *models.CredentialBundle
	logger  *slog.Logger
}

func New(gateway Transport, st *store.Store, cred *models.CredentialBundle) *Engine {
	return &Engine{
		gateway: gateway,
		store:   st,
		cred:    cred,
		logger:  utils.GetLogger(),
	}
}

// Sync fetches the remote list and merges it into the persisted index.
// Per-item placeholder failures are recorded in the result's Errors and do
// not abort the pass; transport exhaustion and index-write failures do.
func (e *Engine) Sync(ctx context.Context, opts Options) (*models.SyncResult, error) {
	result := &models.SyncResult{}

	remote, err := e.gateway.ListConversations(ctx, e.cred)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	if len(remote) == 0 {
		e.logger.Warn("no conversations found in remote account")
		return result, nil
	}

	index, err := e.store.LoadIndex()
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	local := make(map[string]models.Conversation, len(index.Conversations))
	for _, conv := range index.Conversations {
		local[conv.ID] = conv
	}

	merged := make([]models.Conversation, 0, len(index.Conversations)+len(remote))
	seen := make(map[string]struct{}, len(remote))

	for _, remoteConv := range remote {
		seen[remoteConv.ID] = struct{}{}
		localConv, known := local[remoteConv.ID]

		switch {
		case !known:
			e.logger.Debug("new conversation", "id", remoteConv.ID, "title", remoteConv.Title)
			merged = append(merged, remoteConv)
			result.NewCount++

			if opts.CreatePlaceholders {
				if err := e.store.CreatePlaceholder(remoteConv); err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("create placeholder for %s: %v", remoteConv.ID, err))
				}
			}

		case shouldUpdate(localConv, remoteConv, opts.Force):
			e.logger.Debug("updated conversation", "id", remoteConv.ID, "title", remoteConv.Title)
			merged = append(merged, mergeRecord(localConv, remoteConv))
			result.UpdatedCount++

		default:
			merged = append(merged, localConv)
		}
	}

	// Local records absent from the remote list are carried forward
	// unchanged; remote deletion detection is out of scope.
	for _, conv := range index.Conversations {
		if _, ok := seen[conv.ID]; !ok {
			merged = append(merged, conv)
		}
	}

	if err := e.store.SaveIndex(merged); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	result.Total = len(merged)

	e.logger.Info("conversation sync completed",
		"total", result.Total, "new", result.NewCount,
		"updated", result.UpdatedCount, "errors", len(result.Errors))
	return result, nil
}

// shouldUpdate decides update vs unchanged for a known id.
func shouldUpdate(local, remote models.Conversation, force bool) bool {
	if force {
		return true
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return true
	}
	if remote.Title != local.Title {
		return true
	}
	if remote.MessageCount != local.MessageCount {
		return true
	}
	return false
}

// mergeRecord takes all remote fields but carries the local download state:
// a metadata refresh never regresses isDownloaded.
func mergeRecord(local, remote models.Conversation) models.Conversation {
	remote.IsDownloaded = local.IsDownloaded
	return remote
}

// SyncSingle refreshes one conversation's metadata from the remote list.
// No single-item metadata endpoint is assumed to exist.
func (e *Engine) SyncSingle(ctx context.Context, id string) error {
	remote, err := e.gateway.ListConversations(ctx, e.cred)
	if err != nil {
		return fmt.Errorf("sync conversation %s: %w", id, err)
	}

	var match *models.Conversation
	for i := range remote {
		if remote[i].ID == id {
			match = &remote[i]
			break
		}
	}
	if match == nil {
		return fmt.Errorf("%w: %s", transport.ErrNotFoundRemotely, id)
	}

	index, err := e.store.LoadIndex()
	if err != nil {
		return fmt.Errorf("sync conversation %s: %w", id, err)
	}

	replaced := false
	for i, conv := range index.Conversations {
		if conv.ID == id {
			index.Conversations[i] = mergeRecord(conv, *match)
			replaced = true
		}
	}
	if !replaced {
		index.Conversations = append(index.Conversations, *match)
	}

	return e.store.SaveIndex(index.Conversations)
}

// Download fetches a conversation's full message history and persists it,
// completing the placeholder lifecycle. The transition to downloaded is
// one-way.
func (e *Engine) Download(ctx context.Context, id string) error {
	known, err := e.store.HasConversation(id)
	if err != nil {
		return err
	}
	if !known {
		e.logger.Warn("conversation not in local index, syncing first", "id", id)
		if err := e.SyncSingle(ctx, id); err != nil {
			return err
		}
	}

	payload, err := e.gateway.FetchConversation(ctx, e.cred, id)
	if err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}

	messages, ok := extractMessages(payload, id)
	if !ok {
		// A conversation with zero recoverable messages is not a failure.
		e.logger.Warn("no messages found in conversation payload", "id", id)
		return nil
	}

	index, err := e.store.LoadIndex()
	if err != nil {
		return err
	}
	var meta models.Conversation
	for _, conv := range index.Conversations {
		if conv.ID == id {
			meta = conv
			break
		}
	}
	if meta.ID == "" {
		meta.ID = id
	}
	meta.MessageCount = len(messages)

	record := &models.FullConversation{
		Conversation: meta,
		Messages:     messages,
	}
	record.IsDownloaded = true
	if err := e.store.SaveFullConversation(record); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	if err := e.store.MarkDownloaded(id); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}

	e.logger.Info("conversation downloaded", "id", id, "messages", len(messages))
	return nil
}

// extractMessages locates and normalizes the message list in a raw detail
// payload. The list is found under "messages", then "chat_messages", then
// the payload itself being an array.
func extractMessages(payload []byte, conversationID string) ([]models.Message, bool) {
	if !gjson.ValidBytes(payload) {
		return nil, false
	}
	root := gjson.ParseBytes(payload)

	var raw []gjson.Result
	switch {
	case root.Get("messages").IsArray():
		raw = root.Get("messages").Array()
	case root.Get("chat_messages").IsArray():
		raw = root.Get("chat_messages").Array()
	case root.IsArray():
		raw = root.Array()
	default:
		return nil, false
	}

	messages := make([]models.Message, 0, len(raw))
	for i, item := range raw {
		messages = append(messages, normalizeMessage(item, i, conversationID))
	}
	return messages, true
}

// normalizeMessage maps one raw message onto the local record shape.
// Missing ids are synthesized, missing timestamps default to now, and the
// role is human iff the sender tag equals the human sentinel.
func normalizeMessage(item gjson.Result, index int, conversationID string) models.Message {
	id := item.Get("uuid").String()
	if id == "" {
		id = item.Get("id").String()
	}
	if id == "" {
		id = fmt.Sprintf("msg_%d", index)
	}

	role := models.RoleAssistant
	if item.Get("sender").String() == models.RoleHuman {
		role = models.RoleHuman
	}

	content := item.Get("text").String()
	if content == "" {
		content = item.Get("content").String()
	}

	timestamp := time.Now()
	for _, key := range []string{"created_at", "timestamp"} {
		if v := item.Get(key); v.Exists() {
			if t, err := parseMessageTime(v.String()); err == nil {
				timestamp = t
				break
			}
		}
	}

	return models.Message{
		ID:              id,
		Role:            role,
		Content:         content,
		Timestamp:       timestamp,
		ConversationID:  conversationID,
		ParentMessageID: item.Get("parent_message_uuid").String(),
	}
}

func parseMessageTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// SendMessage sends a prompt to a conversation and records both sides of
// the exchange locally. When conversationID is empty a new conversation is
// created remotely; if creation fails for a non-auth reason, a local-only
// conversation is kept so the exchange is not lost.
func (e *Engine) SendMessage(ctx context.Context, conversationID, prompt, title string, onUpdate func(string)) (string, string, error) {
	localOnly := false

	if conversationID == "" {
		id, err := e.gateway.CreateConversation(ctx, e.cred, title)
		if err != nil {
			if transport.IsAuthRejected(err) {
				return "", "", err
			}
			e.logger.Warn("remote conversation creation failed, keeping local-only record", "error", err)
			id = "local_" + uuid.New().String()
			localOnly = true
		}
		conversationID = id
	}

	record, err := e.store.LoadFullConversation(conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFoundLocally) {
			return "", "", err
		}
		record = &models.FullConversation{
			Conversation: models.Conversation{
				ID:             conversationID,
				Title:          title,
				CreatedAt:      time.Now(),
				OrganizationID: e.cred.OrganizationID,
			},
			LocalOnly: localOnly,
		}
		if record.Title == "" {
			record.Title = "New Conversation"
		}
	}

	parentID := ""
	if n := len(record.Messages); n > 0 {
		parentID = record.Messages[n-1].ID
	}

	now := time.Now()
	humanMsg := models.Message{
		ID:              uuid.New().String(),
		Role:            models.RoleHuman,
		Content:         prompt,
		Timestamp:       now,
		ConversationID:  conversationID,
		ParentMessageID: parentID,
	}

	if record.LocalOnly {
		// The prompt is kept locally; there is no remote side to reply.
		record.Messages = append(record.Messages, humanMsg)
		record.MessageCount = len(record.Messages)
		record.UpdatedAt = now
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		if err := e.store.SaveFullConversation(record); err != nil {
			return conversationID, "", err
		}
		if err := e.updateIndexEntry(record); err != nil {
			return conversationID, "", err
		}
		return conversationID, "", fmt.Errorf("%w: conversation %s kept local-only", transport.ErrTransportUnavailable, conversationID)
	}

	reply, _, err := e.gateway.SendMessage(ctx, e.cred, conversationID, prompt, parentID, onUpdate)
	if err != nil {
		return conversationID, "", err
	}

	assistantMsg := models.Message{
		ID:              uuid.New().String(),
		Role:            models.RoleAssistant,
		Content:         reply,
		Timestamp:       time.Now(),
		ConversationID:  conversationID,
		ParentMessageID: humanMsg.ID,
	}
	record.Messages = append(record.Messages, humanMsg, assistantMsg)
	record.MessageCount = len(record.Messages)
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	if err := e.store.SaveFullConversation(record); err != nil {
		return conversationID, reply, err
	}
	if err := e.updateIndexEntry(record); err != nil {
		return conversationID, reply, err
	}
	return conversationID, reply, nil
}

// updateIndexEntry upserts one conversation's metadata into the index.
func (e *Engine) updateIndexEntry(record *models.FullConversation) error {
	index, err := e.store.LoadIndex()
	if err != nil {
		return err
	}

	found := false
	for i, conv := range index.Conversations {
		if conv.ID == record.ID {
			index.Conversations[i].Title = record.Title
			index.Conversations[i].MessageCount = record.MessageCount
			index.Conversations[i].UpdatedAt = record.UpdatedAt
			found = true
		}
	}
	if !found {
		index.Conversations = append(index.Conversations, record.Conversation)
	}
	return e.store.SaveIndex(index.Conversations)
}

// Stats reports connectivity plus local store statistics.
type Stats struct {
	APIConnected bool
	Local        models.StoreStats
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	local, err := e.store.Stats()
	if err != nil {
		return nil, err
	}
	return &Stats{
		APIConnected: e.gateway.TestConnection(ctx, e.cred),
		Local:        *local,
	}, nil
}
