package handlers

import (
	"errors"
	"strings"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/server/internal/session"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/shared/logger"
)

// RunCode starts a run for the calling session. Policy rejections are
// returned as an error reply; the run itself streams through the session.
func RunCode(deps Deps, conn ConnContext, req wire.RunCode) EventResult {
	if strings.TrimSpace(req.Code) == "" {
		logger.Infof("[ws] %s: run_code rejected: %s", conn.ClientID(), runtime.CodeEmptyCode)
		return NewEventResult(runtime.ErrEmptyCode.Wire())
	}
	lang := runtime.Language(strings.ToLower(strings.TrimSpace(req.Language)))

	runID, err := deps.Sessions().Submit(conn.ClientID(), conn.Epoch(), session.Submission{
		Code:     req.Code,
		Language: lang,
	})
	if err != nil {
		var policy *runtime.PolicyError
		if errors.As(err, &policy) {
			logger.Infof("[ws] %s: run_code rejected: %s", conn.ClientID(), policy.Code)
			return NewEventResult(policy.Wire())
		}
		logger.Errorf("[ws] %s: run_code failed: %v", conn.ClientID(), err)
		return NewEventResult(wire.Error{Code: "internal", Message: "could not start run"})
	}

	return EventResult{runID: runID}
}
