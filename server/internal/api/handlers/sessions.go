package handlers

import (
	"net/http"

	"github.com/bhandras/codetutor/server/internal/session"
	"github.com/bhandras/codetutor/server/pkg/types"
	"github.com/gin-gonic/gin"
)

// SessionRegistry is the subset of the session registry used by the
// inspection API.
type SessionRegistry interface {
	Snapshot(id session.ClientIdentity) (session.Snapshot, bool)
	Evict(id session.ClientIdentity) bool
}

type SessionHandler struct {
	registry SessionRegistry
}

func NewSessionHandler(registry SessionRegistry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// GetSession handles GET /v1/sessions/:client_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := clientID(c)
	if !ok {
		return
	}
	snap, found := h.registry.Snapshot(id)
	if !found {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

// DeleteSession handles DELETE /v1/sessions/:client_id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id, ok := clientID(c)
	if !ok {
		return
	}
	if !h.registry.Evict(id) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "session not found"})
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse{Success: true})
}

func clientID(c *gin.Context) (session.ClientIdentity, bool) {
	id, err := session.ParseClientIdentity(c.Param("client_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
		return "", false
	}
	return id, true
}
