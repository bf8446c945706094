package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	home := filepath.Join(t.TempDir(), "tutor")
	t.Setenv("CODETUTOR_HOME_DIR", home)
	t.Setenv("CODETUTOR_SERVER_URL", "https://tutor.example/")
	t.Setenv("DEBUG", "1")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, "https://tutor.example", cfg.ServerURL)
	require.Equal(t, home, cfg.HomeDir)
	require.Equal(t, filepath.Join(home, "client_id"), cfg.IdentityPath)
	require.True(t, cfg.Debug)
	require.DirExists(t, home)

	server, debug := "http://127.0.0.1:9000", false
	cfg, err = Load(Overrides{ServerURL: &server, Debug: &debug})
	require.NoError(t, err)
	require.Equal(t, server, cfg.ServerURL)
	require.False(t, cfg.Debug)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CODETUTOR_HOME_DIR", t.TempDir())
	t.Setenv("CODETUTOR_SERVER_URL", "")
	t.Setenv("DEBUG", "")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.False(t, cfg.Debug)
}
