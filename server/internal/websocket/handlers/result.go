package handlers

import "github.com/bhandras/codetutor/protocol/wire"

// EventResult is the output of a handler invocation.
type EventResult struct {
	replies []wire.Message
	runID   string
}

// NewEventResult constructs a handler result.
func NewEventResult(replies ...wire.Message) EventResult {
	return EventResult{replies: replies}
}

// Replies returns the connection-level messages to send back to the caller.
func (r EventResult) Replies() []wire.Message { return r.replies }

// RunID returns the id of the run the handler started, if any.
func (r EventResult) RunID() string { return r.runID }
