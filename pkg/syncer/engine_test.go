package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/store"
	"github.com/consync/consync/pkg/transport"
)

// fakeTransport scripts the remote surface for engine tests.
type fakeTransport struct {
	conversations []models.Conversation
	listErr       error
	detail        map[string][]byte
	detailErr     error
	reply         string
	createdID     string
	createErr     error
	listCalls     int
}

func (f *fakeTransport) ListConversations(ctx context.Context, cred *models.CredentialBundle) ([]models.Conversation, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.conversations, nil
}

func (f *fakeTransport) CreateConversation(ctx context.Context, cred *models.CredentialBundle, title string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createdID, nil
}

func (f *fakeTransport) FetchConversation(ctx context.Context, cred *models.CredentialBundle, id string) ([]byte, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	payload, ok := f.detail[id]
	if !ok {
		return nil, transport.ErrNotFoundRemotely
	}
	return payload, nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, cred *models.CredentialBundle, conversationID, prompt, parentMessageID string, onUpdate func(string)) (string, bool, error) {
	if onUpdate != nil {
		onUpdate(f.reply)
	}
	return f.reply, onUpdate != nil, nil
}

func (f *fakeTransport) TestConnection(ctx context.Context, cred *models.CredentialBundle) bool {
	return f.listErr == nil
}

var testCred = &models.CredentialBundle{SessionKey: "sk-test", OrganizationID: "org-1"}

func remoteConv(id, title string, updated time.Time, count int) models.Conversation {
	return models.Conversation{
		ID:           id,
		Title:        title,
		CreatedAt:    updated.Add(-time.Hour),
		UpdatedAt:    updated,
		MessageCount: count,
	}
}

func newTestEngine(t *testing.T, remote *fakeTransport) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir())
	return New(remote, st, testCred), st
}

func TestSync_NewConversations(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{conversations: []models.Conversation{
		remoteConv("c1", "A", base, 3),
		remoteConv("c2", "B", base, 5),
	}}
	engine, st := newTestEngine(t, remote)

	result, err := engine.Sync(context.Background(), Options{CreatePlaceholders: true})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.NewCount != 2 || result.UpdatedCount != 0 || result.Total != 2 {
		t.Fatalf("result = %+v", result)
	}
	if !st.HasPlaceholder("c1") || !st.HasPlaceholder("c2") {
		t.Fatalf("expected placeholder artifacts for both conversations")
	}

	index, err := st.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	for _, conv := range index.Conversations {
		if conv.IsDownloaded {
			t.Fatalf("conversation %s IsDownloaded = true, want false", conv.ID)
		}
	}
}

func TestSync_SecondPassIsIdempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{conversations: []models.Conversation{
		remoteConv("c1", "A", base, 3),
	}}
	engine, _ := newTestEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	result, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if result.NewCount != 0 || result.UpdatedCount != 0 {
		t.Fatalf("second pass result = %+v, want no changes", result)
	}
}

func TestSync_PreservesDownloadState(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{conversations: []models.Conversation{
		remoteConv("c1", "A", base, 3),
	}}
	engine, st := newTestEngine(t, remote)

	local := remoteConv("c1", "A", base.Add(-time.Hour), 3)
	local.IsDownloaded = true
	if err := st.SaveIndex([]models.Conversation{local}); err != nil {
		t.Fatalf("SaveIndex() error = %v", err)
	}

	result, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("UpdatedCount = %d, want 1", result.UpdatedCount)
	}

	index, _ := st.LoadIndex()
	got := index.Conversations[0]
	if !got.UpdatedAt.Equal(base) {
		t.Fatalf("UpdatedAt = %v, want refreshed %v", got.UpdatedAt, base)
	}
	if !got.IsDownloaded {
		t.Fatalf("IsDownloaded = false, metadata refresh must not regress download state")
	}
}

func TestSync_CarriesForwardLocalOnlyRecords(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{conversations: []models.Conversation{
		remoteConv("c1", "A", base, 3),
	}}
	engine, st := newTestEngine(t, remote)

	localOnly := remoteConv("local-9", "Draft", base, 1)
	if err := st.SaveIndex([]models.Conversation{localOnly}); err != nil {
		t.Fatalf("SaveIndex() error = %v", err)
	}

	result, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("Total = %d, want 2 (remote + carried-forward local)", result.Total)
	}

	index, _ := st.LoadIndex()
	found := false
	for _, conv := range index.Conversations {
		if conv.ID == "local-9" {
			found = true
		}
	}
	if !found {
		t.Fatalf("local-only record was dropped by the pass")
	}
}

func TestSync_TransportFailureDoesNotTouchStore(t *testing.T) {
	remote := &fakeTransport{listErr: transport.ErrTransportUnavailable}
	engine, st := newTestEngine(t, remote)

	_, err := engine.Sync(context.Background(), Options{})
	if !errors.Is(err, transport.ErrTransportUnavailable) {
		t.Fatalf("Sync() error = %v, want ErrTransportUnavailable", err)
	}

	index, err := st.LoadIndex()
	if err != nil {
		t.Fatalf("LoadIndex() error = %v", err)
	}
	if !index.LastSync.IsZero() {
		t.Fatalf("index was written despite transport failure")
	}
}

func TestSync_ForceUpdatesUnchangedRecords(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{conversations: []models.Conversation{
		remoteConv("c1", "A", base, 3),
	}}
	engine, _ := newTestEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	result, err := engine.Sync(context.Background(), Options{Force: true})
	if err != nil {
		t.Fatalf("forced Sync() error = %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("forced UpdatedCount = %d, want 1", result.UpdatedCount)
	}
}

func TestSyncSingle_NotFoundRemotely(t *testing.T) {
	remote := &fakeTransport{conversations: nil}
	engine, _ := newTestEngine(t, remote)

	err := engine.SyncSingle(context.Background(), "ghost")
	if !errors.Is(err, transport.ErrNotFoundRemotely) {
		t.Fatalf("SyncSingle() error = %v, want ErrNotFoundRemotely", err)
	}
}

func TestDownload_CompletesPlaceholderLifecycle(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	detail := []byte(`{"chat_messages":[
		{"uuid":"m1","sender":"human","text":"hi","created_at":"2025-06-01T12:00:00Z"},
		{"uuid":"m2","sender":"assistant","text":"hello","created_at":"2025-06-01T12:00:05Z","parent_message_uuid":"m1"},
		{"sender":"human","text":"thanks"}
	]}`)
	remote := &fakeTransport{
		conversations: []models.Conversation{
			remoteConv("c1", "A", base, 3),
			remoteConv("c2", "B", base, 2),
		},
		detail: map[string][]byte{"c1": detail},
	}
	engine, st := newTestEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{CreatePlaceholders: true}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if err := engine.Download(context.Background(), "c1"); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	if st.HasPlaceholder("c1") {
		t.Fatalf("placeholder for c1 still present after download")
	}
	if !st.HasPlaceholder("c2") {
		t.Fatalf("placeholder for c2 should be unaffected")
	}

	record, err := st.LoadFullConversation("c1")
	if err != nil {
		t.Fatalf("LoadFullConversation() error = %v", err)
	}
	if len(record.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(record.Messages))
	}
	if record.Messages[0].Role != models.RoleHuman || record.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("roles = %s/%s", record.Messages[0].Role, record.Messages[1].Role)
	}
	if record.Messages[1].ParentMessageID != "m1" {
		t.Fatalf("ParentMessageID = %q, want m1", record.Messages[1].ParentMessageID)
	}
	// Missing id is synthesized from the position.
	if record.Messages[2].ID != "msg_2" {
		t.Fatalf("synthesized id = %q, want msg_2", record.Messages[2].ID)
	}
	if !record.IsDownloaded {
		t.Fatalf("record IsDownloaded = false, want true")
	}

	index, _ := st.LoadIndex()
	for _, conv := range index.Conversations {
		switch conv.ID {
		case "c1":
			if !conv.IsDownloaded {
				t.Fatalf("index entry c1 IsDownloaded = false, want true")
			}
		case "c2":
			if conv.IsDownloaded {
				t.Fatalf("index entry c2 IsDownloaded = true, want false")
			}
		}
	}
}

func TestDownload_UnknownIDSyncsFirst(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{
		conversations: []models.Conversation{remoteConv("c1", "A", base, 1)},
		detail: map[string][]byte{
			"c1": []byte(`{"messages":[{"uuid":"m1","sender":"human","text":"hi"}]}`),
		},
	}
	engine, st := newTestEngine(t, remote)

	// No prior sync: the index is empty.
	if err := engine.Download(context.Background(), "c1"); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if remote.listCalls == 0 {
		t.Fatalf("expected a metadata sync before download")
	}

	index, _ := st.LoadIndex()
	if len(index.Conversations) != 1 || !index.Conversations[0].IsDownloaded {
		t.Fatalf("index after download = %+v", index.Conversations)
	}
}

func TestDownload_PayloadWithoutMessagesIsNotAFailure(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{
		conversations: []models.Conversation{remoteConv("c1", "A", base, 0)},
		detail:        map[string][]byte{"c1": []byte(`{"uuid":"c1","name":"A"}`)},
	}
	engine, st := newTestEngine(t, remote)

	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if err := engine.Download(context.Background(), "c1"); err != nil {
		t.Fatalf("Download() error = %v, want nil for zero recoverable messages", err)
	}

	// Nothing was persisted and the record is still not downloaded.
	if _, err := st.LoadFullConversation("c1"); !errors.Is(err, store.ErrNotFoundLocally) {
		t.Fatalf("LoadFullConversation() error = %v, want ErrNotFoundLocally", err)
	}
}

func TestSendMessage_RecordsBothSides(t *testing.T) {
	remote := &fakeTransport{createdID: "new-1", reply: "Hello there"}
	engine, st := newTestEngine(t, remote)

	var updates []string
	id, reply, err := engine.SendMessage(context.Background(), "", "hi", "Chat", func(cumulative string) {
		updates = append(updates, cumulative)
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if id != "new-1" {
		t.Fatalf("conversation id = %q, want new-1", id)
	}
	if reply != "Hello there" {
		t.Fatalf("reply = %q", reply)
	}
	if len(updates) == 0 {
		t.Fatalf("expected incremental updates")
	}

	record, err := st.LoadFullConversation("new-1")
	if err != nil {
		t.Fatalf("LoadFullConversation() error = %v", err)
	}
	if len(record.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(record.Messages))
	}
	if record.Messages[0].Role != models.RoleHuman || record.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("roles = %s/%s", record.Messages[0].Role, record.Messages[1].Role)
	}
	if record.Messages[1].ParentMessageID != record.Messages[0].ID {
		t.Fatalf("assistant parent = %q, want %q", record.Messages[1].ParentMessageID, record.Messages[0].ID)
	}

	index, _ := st.LoadIndex()
	if len(index.Conversations) != 1 || index.Conversations[0].MessageCount != 2 {
		t.Fatalf("index = %+v", index.Conversations)
	}
}

func TestSendMessage_CreateFailureKeepsLocalOnlyRecord(t *testing.T) {
	remote := &fakeTransport{createErr: errors.New("network down")}
	engine, st := newTestEngine(t, remote)

	id, _, err := engine.SendMessage(context.Background(), "", "hi", "Chat", nil)
	if !errors.Is(err, transport.ErrTransportUnavailable) {
		t.Fatalf("SendMessage() error = %v, want ErrTransportUnavailable", err)
	}
	if id == "" {
		t.Fatalf("expected a local-only conversation id")
	}

	record, err := st.LoadFullConversation(id)
	if err != nil {
		t.Fatalf("LoadFullConversation() error = %v", err)
	}
	if !record.LocalOnly {
		t.Fatalf("record LocalOnly = false, want true")
	}
	if len(record.Messages) != 1 || record.Messages[0].Role != models.RoleHuman {
		t.Fatalf("messages = %+v, want the prompt only", record.Messages)
	}
}

func TestStats(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	remote := &fakeTransport{conversations: []models.Conversation{remoteConv("c1", "A", base, 1)}}
	engine, st := newTestEngine(t, remote)

	local := remoteConv("c1", "A", base, 1)
	local.IsDownloaded = true
	if err := st.SaveIndex([]models.Conversation{local}); err != nil {
		t.Fatalf("SaveIndex() error = %v", err)
	}

	stats, err := engine.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if !stats.APIConnected {
		t.Fatalf("APIConnected = false, want true")
	}
	if stats.Local.Total != 1 || stats.Local.DownloadedCount != 1 {
		t.Fatalf("local stats = %+v", stats.Local)
	}
}
