package websocket

import (
	"net/url"
	"strconv"
	"sync"

	"github.com/bhandras/codetutor/protocol/wire"
)

// Resume query parameters understood by the server.
const (
	paramRun  = "run"
	paramOut  = "out"
	paramExpl = "expl"
	paramDone = "done"
)

// RunTracker counts what the client has received for the most recent run so
// a reconnect can ask the server for the missing tail only.
type RunTracker struct {
	mu          sync.Mutex
	runID       string
	output      int
	explanation int
	terminal    bool
}

// Observe records a received frame. Frames without a run id are ignored; a
// new run id resets the counts.
func (t *RunTracker) Observe(f wire.Frame) {
	if f.RunID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.RunID != t.runID {
		t.runID = f.RunID
		t.output = 0
		t.explanation = 0
		t.terminal = false
	}
	switch {
	case f.Message == nil:
	case f.Message.MessageType() == wire.TypeExecutionOutput:
		t.output++
	case f.Message.MessageType() == wire.TypeRAGExplanation:
		t.explanation++
	case wire.IsTerminal(f.Message):
		t.terminal = true
	default:
		// The server gave up on the run; nothing more will arrive for it.
		if e, ok := f.Message.(wire.Error); ok && e.Code == wire.CodeSessionGone {
			t.terminal = true
		}
	}
}

// RunID returns the most recent run id.
func (t *RunTracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runID
}

// Query returns the resume parameters, or nil before any run was seen.
func (t *RunTracker) Query() url.Values {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runID == "" {
		return nil
	}
	q := url.Values{}
	q.Set(paramRun, t.runID)
	q.Set(paramOut, strconv.Itoa(t.output))
	q.Set(paramExpl, strconv.Itoa(t.explanation))
	q.Set(paramDone, strconv.FormatBool(t.terminal))
	return q
}
