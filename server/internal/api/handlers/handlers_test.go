package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bhandras/codetutor/server/internal/documents"
	"github.com/bhandras/codetutor/server/internal/session"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/server/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	maxBytes int64
	ingest   func(filename string, body string) (documents.Document, error)
	docs     []documents.Document
	pingErr  error
}

func (s *fakeStore) Ingest(_ context.Context, filename string, r io.Reader) (documents.Document, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return documents.Document{}, err
	}
	return s.ingest(filename, string(body))
}

func (s *fakeStore) List(context.Context) ([]documents.Document, error) { return s.docs, nil }
func (s *fakeStore) MaxBytes() int64                                   { return s.maxBytes }
func (s *fakeStore) Ping(context.Context) error                        { return s.pingErr }
func (s *fakeStore) ChunkCount(context.Context) (int, error)           { return 7, nil }

type fakeInterpreters map[runtime.Language]bool

func (f fakeInterpreters) Available() map[runtime.Language]bool { return f }

type fakeCounters struct{ sessions, clients int }

func (f fakeCounters) Sessions() int { return f.sessions }
func (f fakeCounters) Clients() int  { return f.clients }

type fakeRegistry struct {
	snapshots map[session.ClientIdentity]session.Snapshot
	evicted   []session.ClientIdentity
}

func (r *fakeRegistry) Snapshot(id session.ClientIdentity) (session.Snapshot, bool) {
	s, ok := r.snapshots[id]
	return s, ok
}

func (r *fakeRegistry) Evict(id session.ClientIdentity) bool {
	if _, ok := r.snapshots[id]; !ok {
		return false
	}
	delete(r.snapshots, id)
	r.evicted = append(r.evicted, id)
	return true
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func upload(t *testing.T, h *DocumentHandler, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST("/upload-document", h.Upload)

	req := httptest.NewRequest(http.MethodPost, "/upload-document", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUpload_Success(t *testing.T) {
	var gotName, gotBody string
	store := &fakeStore{maxBytes: 1 << 20, ingest: func(name, body string) (documents.Document, error) {
		gotName, gotBody = name, body
		return documents.Document{ID: "doc-1", Filename: name, ChunkCount: 4}, nil
	}}

	body, ct := multipartBody(t, "file", "loops.md", "# Loops")
	w := upload(t, NewDocumentHandler(store), body, ct)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 4, resp.ChunksCreated)
	require.Equal(t, "Document loops.md uploaded and processed successfully", resp.Message)
	require.Equal(t, "loops.md", gotName)
	require.Equal(t, "# Loops", gotBody)
}

func TestUpload_Errors(t *testing.T) {
	ingestErr := errors.New("disk full")
	store := &fakeStore{maxBytes: 16, ingest: func(string, string) (documents.Document, error) {
		return documents.Document{}, ingestErr
	}}
	h := NewDocumentHandler(store)

	w := upload(t, h, strings.NewReader("not multipart"), "text/plain")
	require.Equal(t, http.StatusBadRequest, w.Code)

	body, ct := multipartBody(t, "other", "a.txt", "x")
	w = upload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartBody(t, "file", "slides.pptx", "x")
	w = upload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartBody(t, "file", "big.txt", strings.Repeat("x", 100))
	w = upload(t, h, body, ct)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	body, ct = multipartBody(t, "file", "a.txt", "x")
	w = upload(t, h, body, ct)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	ingestErr = documents.ErrEmpty
	body, ct = multipartBody(t, "file", "a.txt", " ")
	w = upload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)

	ingestErr = fmt.Errorf("extract broken.pdf: %w", documents.ErrUnreadable)
	body, ct = multipartBody(t, "file", "broken.pdf", "x")
	w = upload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDocuments_EmptyIsArray(t *testing.T) {
	r := gin.New()
	r.GET("/v1/documents", NewDocumentHandler(&fakeStore{}).ListDocuments)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"documents":[]}`, w.Body.String())
}

func health(t *testing.T, h *HealthHandler) (int, types.HealthResponse) {
	t.Helper()
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp types.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	interp := fakeInterpreters{runtime.Python: true, runtime.JavaScript: false}
	store := &fakeStore{}

	code, resp := health(t, NewHealthHandler(interp, store, fakeCounters{sessions: 2, clients: 1}, "offline"))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, types.StatusHealthy, resp.Status)
	require.Equal(t, types.ServiceReady, resp.Services["code_executor.python"])
	require.Equal(t, "missing", resp.Services["code_executor.javascript"])
	require.Equal(t, "1/2 interpreters", resp.Services["code_executor"])
	require.Equal(t, "offline", resp.Services["explainer"])
	require.Equal(t, 7, resp.Chunks)
	require.Equal(t, 2, resp.Sessions)
	require.Equal(t, 1, resp.Clients)

	store.pingErr = errors.New("database is locked")
	code, resp = health(t, NewHealthHandler(interp, store, nil, "offline"))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, types.StatusDegraded, resp.Status)
	require.Equal(t, "unavailable", resp.Services["document_manager"])
}

func TestHealth_NoInterpreterIsDegraded(t *testing.T) {
	interp := fakeInterpreters{runtime.Python: false, runtime.JavaScript: false}

	code, resp := health(t, NewHealthHandler(interp, &fakeStore{}, nil, "offline"))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, types.StatusDegraded, resp.Status)
	require.Equal(t, "0/2 interpreters", resp.Services["code_executor"])
	require.Equal(t, types.ServiceReady, resp.Services["document_manager"])
}

func TestSessions_GetAndDelete(t *testing.T) {
	reg := &fakeRegistry{snapshots: map[session.ClientIdentity]session.Snapshot{
		"editor-1": {ID: "editor-1", Status: session.StatusConnected, CreatedAt: time.Unix(0, 0).UTC()},
	}}
	h := NewSessionHandler(reg)
	r := gin.New()
	r.GET("/v1/sessions/:client_id", h.GetSession)
	r.DELETE("/v1/sessions/:client_id", h.DeleteSession)

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	w := do(http.MethodGet, "/v1/sessions/editor-1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"client_id":"editor-1"`)

	require.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/v1/sessions/bad%20id").Code)
	require.Equal(t, http.StatusNotFound, do(http.MethodGet, "/v1/sessions/nobody").Code)

	require.Equal(t, http.StatusOK, do(http.MethodDelete, "/v1/sessions/editor-1").Code)
	require.Equal(t, []session.ClientIdentity{"editor-1"}, reg.evicted)
	require.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/v1/sessions/editor-1").Code)
}

func TestRoot(t *testing.T) {
	r := gin.New()
	r.GET("/", Root)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"message":"Smart Code Tutor API is running"}`, w.Body.String())
}
