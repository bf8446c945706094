package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bhandras/codetutor/server/internal/documents"
	"github.com/bhandras/codetutor/server/pkg/types"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gin-gonic/gin"
)

// multipartSlack covers multipart framing around the file part.
const multipartSlack = 64 << 10

// DocumentStore is the subset of the document store used by the upload API.
type DocumentStore interface {
	Ingest(ctx context.Context, filename string, r io.Reader) (documents.Document, error)
	List(ctx context.Context) ([]documents.Document, error)
	MaxBytes() int64
}

type DocumentHandler struct {
	store DocumentStore
}

func NewDocumentHandler(store DocumentStore) *DocumentHandler {
	return &DocumentHandler{store: store}
}

// Upload handles POST /upload-document
func (h *DocumentHandler) Upload(c *gin.Context) {
	limit := h.store.MaxBytes()
	tooLarge := types.ErrorResponse{Error: fmt.Sprintf("file exceeds %d bytes", limit)}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "missing file"})
		return
	}
	if !documents.Supported(fh.Filename) {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: fmt.Sprintf("unsupported file type: %s", fh.Filename)})
		return
	}
	if fh.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to read upload"})
		return
	}
	defer f.Close()

	doc, err := h.store.Ingest(c.Request.Context(), fh.Filename, f)
	switch {
	case err == nil:
	case errors.Is(err, documents.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
		return
	case errors.Is(err, documents.ErrUnsupportedType), errors.Is(err, documents.ErrEmpty),
		errors.Is(err, documents.ErrUnreadable):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return
	default:
		logger.Errorf("[upload] %s: %v", fh.Filename, err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to process document"})
		return
	}

	c.JSON(http.StatusOK, types.UploadResponse{
		Message:       fmt.Sprintf("Document %s uploaded and processed successfully", doc.Filename),
		ChunksCreated: doc.ChunkCount,
		DocumentID:    doc.ID,
	})
}

// ListDocuments handles GET /v1/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	docs, err := h.store.List(c.Request.Context())
	if err != nil {
		logger.Errorf("[upload] list documents: %v", err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to list documents"})
		return
	}
	if docs == nil {
		docs = []documents.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}
