// Credential bundle storage. Extraction of credentials from a browser
// profile happens out-of-band; this package only reads and writes the
// bundle the user (or an external tool) has placed on disk.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/consync/consync/pkg/models"
)

// ErrCredentialMissing indicates that no credential bundle is available.
// The user must re-authenticate out-of-band.
var ErrCredentialMissing = errors.New("no credential bundle available")

const authFileName = "auth.json"

// Store reads and writes the credential bundle under a fixed root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path() string {
	return filepath.Join(s.root, authFileName)
}

// Load reads the credential bundle. A missing or unreadable file maps to
// ErrCredentialMissing so callers can prompt for re-authentication.
func (s *Store) Load() (*models.CredentialBundle, error) {
	b, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCredentialMissing
		}
		return nil, fmt.Errorf("read credential bundle: %w", err)
	}

	var bundle models.CredentialBundle
	if err := json.Unmarshal(b, &bundle); err != nil {
		return nil, fmt.Errorf("parse credential bundle: %w", err)
	}
	if !bundle.Valid() {
		return nil, ErrCredentialMissing
	}
	return &bundle, nil
}

// Save writes the credential bundle with restrictive permissions.
func (s *Store) Save(bundle *models.CredentialBundle) error {
	if !bundle.Valid() {
		return fmt.Errorf("credential bundle missing session key or organization id")
	}
	if bundle.ExtractedAt.IsZero() {
		bundle.ExtractedAt = time.Now()
	}

	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", s.root, err)
	}

	b, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential bundle: %w", err)
	}
	if err := os.WriteFile(s.path(), b, 0o600); err != nil {
		return fmt.Errorf("write credential bundle: %w", err)
	}
	return nil
}

// Exists reports whether a credential bundle file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}
