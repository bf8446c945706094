package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bhandras/codetutor/cli/internal/storage"
)

// DefaultServerURL is the tutor server used when none is configured.
const DefaultServerURL = "http://localhost:8000"

type Config struct {
	// ServerURL is the base URL of the tutor server.
	ServerURL string
	// HomeDir is where the CLI stores local state.
	HomeDir string
	// IdentityPath is the path to the persisted client identity.
	IdentityPath string
	// Debug enables verbose logging.
	Debug bool
}

// Overrides optionally overrides values from the environment.
type Overrides struct {
	ServerURL *string
	HomeDir   *string
	Debug     *bool
}

// Load loads configuration from environment and defaults
func Load(overrides Overrides) (*Config, error) {
	homeDir := os.Getenv("CODETUTOR_HOME_DIR")
	if overrides.HomeDir != nil {
		homeDir = *overrides.HomeDir
	}
	if homeDir == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		homeDir = filepath.Join(userHome, ".codetutor")
	}
	if err := os.MkdirAll(homeDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create home dir: %w", err)
	}

	serverURL := os.Getenv("CODETUTOR_SERVER_URL")
	if overrides.ServerURL != nil {
		serverURL = *overrides.ServerURL
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	serverURL = strings.TrimRight(serverURL, "/")

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	return &Config{
		ServerURL:    serverURL,
		HomeDir:      homeDir,
		IdentityPath: filepath.Join(homeDir, storage.IdentityFile),
		Debug:        debug,
	}, nil
}
