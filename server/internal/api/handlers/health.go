package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/server/pkg/types"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// Interpreters reports which languages have an interpreter on the host.
type Interpreters interface {
	Available() map[runtime.Language]bool
}

// DocumentIndex is the subset of the document store used by health checks.
type DocumentIndex interface {
	Ping(ctx context.Context) error
	ChunkCount(ctx context.Context) (int, error)
}

// Counters reports live session and client counts.
type Counters interface {
	Sessions() int
	Clients() int
}

type HealthHandler struct {
	interpreters Interpreters
	docs         DocumentIndex
	counters     Counters
	explainer    string
}

// NewHealthHandler builds the health handler. explainer names the explainer
// backend in the report.
func NewHealthHandler(interpreters Interpreters, docs DocumentIndex, counters Counters, explainer string) *HealthHandler {
	return &HealthHandler{
		interpreters: interpreters,
		docs:         docs,
		counters:     counters,
		explainer:    explainer,
	}
}

// Health handles GET /health
//
// The response is 200 while the document store is reachable and at least one
// interpreter is installed, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := types.HealthResponse{
		Status:   types.StatusHealthy,
		Services: make(map[string]string),
	}

	avail := h.interpreters.Available()
	langs := make([]string, 0, len(avail))
	for lang := range avail {
		langs = append(langs, string(lang))
	}
	sort.Strings(langs)
	ready := 0
	for _, lang := range langs {
		state := "missing"
		if avail[runtime.Language(lang)] {
			state = types.ServiceReady
			ready++
		}
		resp.Services["code_executor."+lang] = state
	}
	if ready == 0 {
		resp.Status = types.StatusDegraded
	}
	resp.Services["code_executor"] = fmt.Sprintf("%d/%d interpreters", ready, len(langs))
	resp.Services["explainer"] = h.explainer

	if err := h.docs.Ping(ctx); err != nil {
		logger.Warnf("[health] document store: %v", err)
		resp.Services["document_manager"] = "unavailable"
		resp.Status = types.StatusDegraded
	} else {
		resp.Services["document_manager"] = types.ServiceReady
		if n, err := h.docs.ChunkCount(ctx); err == nil {
			resp.Chunks = n
		}
	}

	if h.counters != nil {
		resp.Sessions = h.counters.Sessions()
		resp.Clients = h.counters.Clients()
	}

	code := http.StatusOK
	if resp.Status != types.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
