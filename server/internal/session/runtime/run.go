package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

// StatusRunningMessage is the status line sent when a run is accepted.
const StatusRunningMessage = "Running"

// Event is an input to the run state machine.
type Event interface {
	isRunEvent()
}

// Submitted starts the run.
type Submitted struct{ At time.Time }

// OutputProduced carries one executor chunk.
type OutputProduced struct{ Chunk OutputChunk }

// FragmentProduced carries one explainer fragment.
type FragmentProduced struct{ Text string }

// ExecutorFinished reports that the executor returned.
type ExecutorFinished struct {
	Err error
	At  time.Time
}

// ExplainerFinished reports that the explainer returned.
type ExplainerFinished struct {
	Err error
	At  time.Time
}

// TimedOut reports that the run saw no activity for After.
type TimedOut struct {
	After time.Duration
	At    time.Time
}

func (Submitted) isRunEvent()         {}
func (OutputProduced) isRunEvent()    {}
func (FragmentProduced) isRunEvent()  {}
func (ExecutorFinished) isRunEvent()  {}
func (ExplainerFinished) isRunEvent() {}
func (TimedOut) isRunEvent()          {}

// Effect is a side effect requested by the state machine. Effects are data;
// the driver interprets them.
type Effect interface {
	isRunEffect()
}

// Emit delivers a non-terminal message to the client right away.
type Emit struct{ Msg wire.Message }

// StartProducers launches the executor and the explainer.
type StartProducers struct{}

// CancelProducers cancels any producer that is still running.
type CancelProducers struct{}

// Finish carries the single terminal message of the run. It is delivered
// only after both producers have returned.
type Finish struct{ Msg wire.Message }

func (Emit) isRunEffect()            {}
func (StartProducers) isRunEffect()  {}
func (CancelProducers) isRunEffect() {}
func (Finish) isRunEffect()          {}

// Run is one execute-and-explain cycle.
//
// Run is not safe for concurrent use; its Host serializes access.
type Run struct {
	ID       string
	Code     string
	Language Language

	Status Status
	// Output and Explanation only ever grow.
	Output      []OutputChunk
	Explanation []string

	ExecutorDone  bool
	ExplainerDone bool
	// Err is the terminal error message when Status is StatusErrored.
	Err string

	StartedAt time.Time
	EndedAt   time.Time

	released bool
}

// NewRun returns an idle run.
func NewRun(id, code string, lang Language) *Run {
	return &Run{ID: id, Code: code, Language: lang, Status: StatusIdle}
}

// Active reports whether the run is still running.
func (r *Run) Active() bool { return r.Status == StatusRunning }

// Request returns the producer input for the run.
func (r *Run) Request() Request {
	return Request{RunID: r.ID, Code: r.Code, Language: r.Language}
}

// Handle applies ev and returns the effects to perform.
//
// Handle performs no I/O. Events that arrive outside StatusRunning (other
// than Submitted while idle) are ignored, which is how output produced after
// cancellation is discarded.
func (r *Run) Handle(ev Event) []Effect {
	if e, ok := ev.(Submitted); ok {
		if r.Status != StatusIdle {
			return nil
		}
		r.Status = StatusRunning
		r.StartedAt = e.At
		r.Output = nil
		r.Explanation = nil
		return []Effect{
			Emit{Msg: wire.Status{Message: StatusRunningMessage}},
			StartProducers{},
		}
	}
	if r.Status != StatusRunning {
		return nil
	}

	switch e := ev.(type) {
	case OutputProduced:
		r.Output = append(r.Output, e.Chunk)
		return []Effect{Emit{Msg: wire.ExecutionOutput{Stream: e.Chunk.Stream, Data: e.Chunk.Data}}}

	case FragmentProduced:
		r.Explanation = append(r.Explanation, e.Text)
		return []Effect{Emit{Msg: wire.RAGExplanation{Data: e.Text}}}

	case ExecutorFinished:
		if e.Err != nil {
			return r.fail(errorMessage(e.Err), e.At)
		}
		r.ExecutorDone = true
		return r.maybeComplete(e.At)

	case ExplainerFinished:
		if e.Err != nil {
			return r.fail(errorMessage(e.Err), e.At)
		}
		r.ExplainerDone = true
		return r.maybeComplete(e.At)

	case TimedOut:
		return r.fail(fmt.Sprintf("run timed out after %s without activity", e.After), e.At)
	}
	return nil
}

func (r *Run) maybeComplete(at time.Time) []Effect {
	if !r.ExecutorDone || !r.ExplainerDone {
		return nil
	}
	r.Status = StatusCompleted
	r.EndedAt = at
	return []Effect{Finish{Msg: wire.ExecutionComplete{}}}
}

func (r *Run) fail(msg string, at time.Time) []Effect {
	r.Status = StatusErrored
	r.Err = msg
	r.EndedAt = at
	return []Effect{
		CancelProducers{},
		Finish{Msg: wire.ExecutionError{Message: msg}},
	}
}

// Terminal returns the run's terminal message, or nil while it is running.
func (r *Run) Terminal() wire.Message {
	switch r.Status {
	case StatusCompleted:
		return wire.ExecutionComplete{}
	case StatusErrored:
		return wire.ExecutionError{Message: r.Err}
	default:
		return nil
	}
}

// MarkReleased records that the terminal message has been handed to the
// driver for delivery and returns it.
func (r *Run) MarkReleased() wire.Message {
	r.released = true
	return r.Terminal()
}

// Released reports whether the terminal message has been released.
func (r *Run) Released() bool { return r.released }

// Tail returns the messages a client that has already seen outSeen output
// chunks and explSeen fragments is missing, in per-stream order. The terminal
// message is appended when it has been released and the client has not seen
// it yet.
func (r *Run) Tail(outSeen, explSeen int, sawTerminal bool) []wire.Message {
	var msgs []wire.Message
	for _, c := range r.Output[clamp(outSeen, len(r.Output)):] {
		msgs = append(msgs, wire.ExecutionOutput{Stream: c.Stream, Data: c.Data})
	}
	for _, f := range r.Explanation[clamp(explSeen, len(r.Explanation)):] {
		msgs = append(msgs, wire.RAGExplanation{Data: f})
	}
	if r.released && !sawTerminal {
		if t := r.Terminal(); t != nil {
			msgs = append(msgs, t)
		}
	}
	return msgs
}

func clamp(n, limit int) int {
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}

func errorMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "run cancelled"
	}
	return err.Error()
}
