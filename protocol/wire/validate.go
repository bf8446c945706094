package wire

import (
	"errors"
	"fmt"
)

// Blank code or language in a run_code is a policy matter for the server,
// not a framing fault.
func (RunCode) validate() error           { return nil }
func (Ping) validate() error              { return nil }
func (Pong) validate() error              { return nil }
func (ExecutionComplete) validate() error { return nil }

func (m ExecutionOutput) validate() error {
	if !m.Stream.Valid() {
		return fmt.Errorf("invalid stream %q", m.Stream)
	}
	return nil
}

func (RAGExplanation) validate() error { return nil }
func (Status) validate() error         { return nil }
func (ExecutionError) validate() error { return nil }

func (m Error) validate() error {
	if m.Code == "" {
		return errors.New("code is required")
	}
	return nil
}
