package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload-document", r.URL.Path)
		require.Equal(t, "codetutor-cli/test", r.Header.Get("User-Agent"))

		f, fh, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"error":"missing file"}`, http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message":        "Document " + fh.Filename + " uploaded and processed successfully",
			"chunks_created": len(data),
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Loops"), 0o600))

	c, err := NewClient(srv.URL, "codetutor-cli/test")
	require.NoError(t, err)
	res, err := c.Upload(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 7, res.ChunksCreated)
	require.Equal(t, "Document notes.md uploaded and processed successfully", res.Message)
}

func TestErrorsCarryServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"session not found"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Session(context.Background(), "editor-1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "session not found", apiErr.Message)

	require.Error(t, c.ResetSession(context.Background(), "editor-1"))
}

func TestSessionAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sessions/editor-1":
			w.Write([]byte(`{"session":{"client_id":"editor-1","status":"connected"}}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/sessions/editor-1":
			w.Write([]byte(`{"success":true}`))
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded","services":{"document_manager":"unavailable"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "")
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := c.Session(ctx, "editor-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"client_id":"editor-1","status":"connected"}`, string(snap))
	require.NoError(t, c.ResetSession(ctx, "editor-1"))

	h, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "degraded", h.Status)
	require.Equal(t, "unavailable", h.Services["document_manager"])
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ws://tutor.example", "")
	require.Error(t, err)
	_, err = NewClient("localhost:8000", "")
	require.Error(t, err)
}
