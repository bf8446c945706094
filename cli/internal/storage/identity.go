package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IdentityFile is the file name of the persisted client identity.
const IdentityFile = "client_id"

// GenerateIdentity returns a new random client identity.
func GenerateIdentity() string {
	return uuid.NewString()
}

// LoadIdentity reads the client identity stored at path.
func LoadIdentity(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid identity in %s: %w", path, err)
	}
	return id, nil
}

// SaveIdentity writes id to path with restrictive permissions.
func SaveIdentity(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// GetOrCreateIdentity loads the identity at path, generating and saving one
// on first use. The identity stays stable for the lifetime of the install.
func GetOrCreateIdentity(path string) (string, error) {
	id, err := LoadIdentity(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	id = GenerateIdentity()
	if err := SaveIdentity(path, id); err != nil {
		return "", err
	}
	return id, nil
}
