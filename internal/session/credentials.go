package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/nfrund/chatlink/internal/domain"
)

// Durable client-side state lives under two keys: the raw bearer token and
// the identity profile JSON. Both are cleared together on logout.
const (
	tokenFile   = "token"
	profileFile = "user.json"
)

// CredentialStore persists the identity and credential across restarts. It
// is filesystem-backed; tests hand it an afero.NewMemMapFs().
type CredentialStore struct {
	fs  afero.Fs
	dir string
}

// NewCredentialStore creates a store rooted at dir.
func NewCredentialStore(fs afero.Fs, dir string) *CredentialStore {
	return &CredentialStore{fs: fs, dir: dir}
}

type profile struct {
	UserID   domain.ID `json:"userId"`
	Username string    `json:"username"`
}

// Save persists the identity and its credential.
func (s *CredentialStore) Save(id *domain.Identity) error {
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("credential dir: %w", err)
	}

	if err := afero.WriteFile(s.fs, filepath.Join(s.dir, tokenFile), []byte(id.Credential), 0o600); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	data, err := json.Marshal(profile{UserID: id.UserID, Username: id.Username})
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, filepath.Join(s.dir, profileFile), data, 0o600); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

// Load reads the persisted identity. A missing or partial record reads as
// nil without error; chatlink treats that as "not logged in".
func (s *CredentialStore) Load() (*domain.Identity, error) {
	token, err := afero.ReadFile(s.fs, filepath.Join(s.dir, tokenFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, profileFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	return &domain.Identity{
		UserID:     p.UserID,
		Username:   p.Username,
		Credential: strings.TrimSpace(string(token)),
	}, nil
}

// Clear removes both keys. Logout depends on this running to completion
// before it reports success.
func (s *CredentialStore) Clear() error {
	var firstErr error
	for _, name := range []string{tokenFile, profileFile} {
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
