package runtime

import (
	"context"

	"github.com/bhandras/codetutor/protocol/wire"
)

// Language is the declared language tag of a submission.
type Language string

const (
	// Python runs with the python3 interpreter.
	Python Language = "python"
	// JavaScript runs with node.
	JavaScript Language = "javascript"
)

// OutputChunk is one immutable piece of program output.
type OutputChunk struct {
	Stream wire.Stream
	Data   string
}

// Request is the input shared by both producers of a run.
type Request struct {
	RunID    string
	Code     string
	Language Language
}

// ExplainRequest is the explainer input: the run request plus any reference
// material retrieved from uploaded documents.
type ExplainRequest struct {
	Request
	// References holds retrieved document fragments, best match first.
	References []string
}

// Executor runs code and streams its output.
//
// Execute must not call emit concurrently, must call it in arrival order, and
// must return promptly once ctx is canceled. A nil return means the program ran to
// completion successfully; any error is fatal for the run.
type Executor interface {
	Supports(lang Language) bool
	Execute(ctx context.Context, req Request, emit func(OutputChunk) error) error
}

// Explainer streams a natural-language explanation of the code.
//
// The same emit and cancellation rules as Executor apply.
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest, emit func(fragment string) error) error
}

// Retriever looks up reference material for the explainer.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Outbox accepts messages for delivery to the client currently attached to
// the run's session.
type Outbox interface {
	Enqueue(ctx context.Context, runID string, msg wire.Message) error
}

// Host owns run state and knows where messages should go right now.
//
// Apply and Finish must be atomic with respect to changes of the returned
// Outbox so that a reattaching client sees every message exactly once: either
// in its catch-up tail or live. A nil Outbox means no client is attached.
type Host interface {
	// Apply feeds ev to the run's state machine.
	Apply(run *Run, ev Event) ([]Effect, Outbox)
	// Finish returns the run's terminal message and where to send it. The
	// run stays busy until Release.
	Finish(run *Run) (wire.Message, Outbox)
	// Release marks the terminal message delivered to out. A client that
	// attached after Finish and has not seen the terminal gets it primed.
	Release(run *Run, out Outbox)
}
