// On-disk conversation store: one index file plus per-conversation records
// and placeholder artifacts under a sessions directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/utils"
)

// ErrNotFoundLocally indicates the requested conversation has no local
// record.
var ErrNotFoundLocally = errors.New("conversation not found locally")

const (
	indexFileName     = "sessions.json"
	sessionsDirName   = "sessions"
	placeholderSuffix = "_placeholder"
	recordFileExt     = ".json"
	dirPerm           = 0o700
	filePerm          = 0o600
)

// Store owns the persisted conversation index and per-conversation files.
// The root directory is an explicit constructor argument so tests can point
// at an isolated temporary root. All writes are whole-file replacements; an
// observer never sees a torn record.
type Store struct {
	root   string
	logger *slog.Logger
}

func New(root string) *Store {
	return &Store{root: root, logger: utils.GetLogger()}
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFileName)
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.root, sessionsDirName)
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+recordFileExt)
}

func (s *Store) placeholderPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+placeholderSuffix+recordFileExt)
}

func (s *Store) ensureDirs() error {
	if err := os.MkdirAll(s.sessionsDir(), dirPerm); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// LoadIndex reads the persisted index. A missing index file is the initial
// state, not an error: it yields an empty index.
func (s *Store) LoadIndex() (*models.SyncIndex, error) {
	b, err := os.ReadFile(s.indexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &models.SyncIndex{Version: models.SyncIndexVersion}, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var index models.SyncIndex
	if err := json.Unmarshal(b, &index); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &index, nil
}

// SaveIndex atomically replaces the whole index with the given records and
// stamps the sync time.
func (s *Store) SaveIndex(conversations []models.Conversation) error {
	if err := s.ensureDirs(); err != nil {
		return err
	}

	index := models.SyncIndex{
		Conversations: conversations,
		LastSync:      time.Now(),
		Version:       models.SyncIndexVersion,
	}
	b, err := json.MarshalIndent(&index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := writeFileAtomic(s.indexPath(), b); err != nil {
		return err
	}

	s.logger.Debug("saved conversation index", "count", len(conversations))
	return nil
}

// HasConversation reports whether the index contains the id.
func (s *Store) HasConversation(id string) (bool, error) {
	index, err := s.LoadIndex()
	if err != nil {
		return false, err
	}
	for _, conv := range index.Conversations {
		if conv.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// SaveFullConversation persists a conversation's full record, messages
// included.
func (s *Store) SaveFullConversation(record *models.FullConversation) error {
	if err := s.ensureDirs(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", record.ID, err)
	}
	return writeFileAtomic(s.recordPath(record.ID), b)
}

// LoadFullConversation reads a conversation's full record.
func (s *Store) LoadFullConversation(id string) (*models.FullConversation, error) {
	b, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFoundLocally, id)
		}
		return nil, fmt.Errorf("read conversation %s: %w", id, err)
	}

	var record models.FullConversation
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("parse conversation %s: %w", id, err)
	}
	return &record, nil
}

// CreatePlaceholder writes the placeholder artifact for a conversation
// whose metadata is known but whose messages have not been fetched.
func (s *Store) CreatePlaceholder(conv models.Conversation) error {
	if err := s.ensureDirs(); err != nil {
		return err
	}

	placeholder := models.FullConversation{
		Conversation:  conv,
		Messages:      []models.Message{},
		Placeholder:   true,
		NeedsDownload: true,
	}
	b, err := json.MarshalIndent(&placeholder, "", "  ")
	if err != nil {
		return fmt.Errorf("encode placeholder %s: %w", conv.ID, err)
	}
	return writeFileAtomic(s.placeholderPath(conv.ID), b)
}

// HasPlaceholder reports whether the placeholder artifact exists.
func (s *Store) HasPlaceholder(id string) bool {
	_, err := os.Stat(s.placeholderPath(id))
	return err == nil
}

// MarkDownloaded flips the index entry's download flag and removes the
// placeholder artifact. A missing artifact is fine; the operation is
// idempotent.
func (s *Store) MarkDownloaded(id string) error {
	index, err := s.LoadIndex()
	if err != nil {
		return err
	}

	found := false
	for i := range index.Conversations {
		if index.Conversations[i].ID == id {
			index.Conversations[i].IsDownloaded = true
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFoundLocally, id)
	}
	if err := s.SaveIndex(index.Conversations); err != nil {
		return err
	}

	if err := os.Remove(s.placeholderPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove placeholder %s: %w", id, err)
	}
	return nil
}

// Find returns index records whose title or id contains the search term,
// case-insensitively.
func (s *Store) Find(term string) ([]models.Conversation, error) {
	index, err := s.LoadIndex()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	var matches []models.Conversation
	for _, conv := range index.Conversations {
		if strings.Contains(strings.ToLower(conv.Title), needle) ||
			strings.Contains(strings.ToLower(conv.ID), needle) {
			matches = append(matches, conv)
		}
	}
	return matches, nil
}

// Stats summarizes the local store.
func (s *Store) Stats() (*models.StoreStats, error) {
	index, err := s.LoadIndex()
	if err != nil {
		return nil, err
	}

	downloaded := 0
	for _, conv := range index.Conversations {
		if conv.IsDownloaded {
			downloaded++
		}
	}
	return &models.StoreStats{
		Total:           len(index.Conversations),
		DownloadedCount: downloaded,
		LastSync:        index.LastSync,
	}, nil
}
