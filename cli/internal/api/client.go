package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// defaultTimeout bounds each API request, uploads included.
	defaultTimeout = 60 * time.Second
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 4 << 10
)

// APIError is a non-2xx response from the tutor server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// UploadResult is the server's reply to a document upload.
type UploadResult struct {
	Message       string `json:"message"`
	ChunksCreated int    `json:"chunks_created"`
	DocumentID    string `json:"document_id,omitempty"`
}

// Health is the server's health report.
type Health struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Sessions int               `json:"sessions"`
	Clients  int               `json:"clients"`
	Chunks   int               `json:"indexed_chunks"`
}

// Client talks to the tutor server's HTTP API.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL, userAgent string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Upload sends the file at path to POST /upload-document.
func (c *Client) Upload(ctx context.Context, path string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return UploadResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload-document", &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out UploadResult
	return out, c.do(req, &out)
}

// Session returns the server's snapshot of the session for clientID.
func (c *Client) Session(ctx context.Context, clientID string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(clientID), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Session json.RawMessage `json:"session"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// ResetSession tears down the server session for clientID.
func (c *Client) ResetSession(ctx context.Context, clientID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(clientID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Health fetches GET /health. A degraded server answers 503 with a report,
// which is returned without error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Health{}, err
	}
	defer resp.Body.Close()

	var out Health
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Health{}, readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
