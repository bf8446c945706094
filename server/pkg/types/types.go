package types

// Common response types

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// UploadResponse is returned by POST /upload-document.
type UploadResponse struct {
	Message       string `json:"message"`
	ChunksCreated int    `json:"chunks_created"`
	DocumentID    string `json:"document_id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Sessions int               `json:"sessions"`
	Clients  int               `json:"clients"`
	Chunks   int               `json:"indexed_chunks"`
}

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	ServiceReady   = "ready"
)
