package handlers

import (
	"github.com/bhandras/codetutor/server/internal/session"
)

// Sessions is the subset of the session registry used by websocket handlers.
type Sessions interface {
	Submit(id session.ClientIdentity, epoch uint64, sub session.Submission) (string, error)
}

// Deps holds the narrow dependencies required by websocket handlers.
type Deps struct {
	sessions Sessions
}

// NewDeps builds a dependency bundle for handler calls.
func NewDeps(sessions Sessions) Deps {
	return Deps{sessions: sessions}
}

func (d Deps) Sessions() Sessions { return d.sessions }
