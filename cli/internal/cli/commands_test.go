package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/bhandras/codetutor/cli/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *config.Config {
	return &config.Config{ServerURL: url}
}

func healthServer(t *testing.T, status string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write([]byte(`{"status":"` + status + `","services":{"explainer":"offline","code_executor":"2/2 interpreters"},"sessions":3,"clients":1,"indexed_chunks":12}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestHealthCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, HealthCommand(context.Background(), testConfig(healthServer(t, "healthy")), &out))
	require.Contains(t, out.String(), "Status:   healthy")
	require.Contains(t, out.String(), "Sessions: 3 (1 connected)")
	require.Contains(t, out.String(), "Chunks:   12")
	require.Less(t, bytes.Index(out.Bytes(), []byte("code_executor")), bytes.Index(out.Bytes(), []byte("explainer")))

	out.Reset()
	err := HealthCommand(context.Background(), testConfig(healthServer(t, "degraded")), &out)
	require.EqualError(t, err, "server is degraded")
	require.Contains(t, out.String(), "Status:   degraded")
}

func TestUploadCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if r.URL.Path != "/upload-document" || err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		file.Close()
		w.Write([]byte(`{"message":"Document ` + header.Filename + ` uploaded and processed successfully","chunks_created":2}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes"), 0o600))

	var out bytes.Buffer
	require.NoError(t, UploadCommand(context.Background(), testConfig(srv.URL), path, &out))
	require.Equal(t, "Document notes.md uploaded and processed successfully (2 chunks)\n", out.String())
}

func TestSessionAndResetCommands(t *testing.T) {
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/editor-1" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"session":{"client_id":"editor-1","status":"connected"}}`))
		case http.MethodDelete:
			deleted.Store(true)
			w.Write([]byte(`{"success":true}`))
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, SessionCommand(context.Background(), testConfig(srv.URL), "editor-1", &out))
	require.JSONEq(t, `{"client_id":"editor-1","status":"connected"}`, out.String())
	require.Contains(t, out.String(), "\n  \"status\"")

	out.Reset()
	require.NoError(t, ResetCommand(context.Background(), testConfig(srv.URL), "editor-1", &out))
	require.True(t, deleted.Load())
	require.Equal(t, "Session editor-1 reset\n", out.String())
}
