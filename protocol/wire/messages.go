package wire

// Message type tags carried in the envelope "type" field.
const (
	// TypeRunCode submits code for execution and explanation.
	TypeRunCode = "run_code"
	// TypePing is the client liveness check.
	TypePing = "ping"

	// TypeExecutionOutput carries one chunk of program output.
	TypeExecutionOutput = "execution_output"
	// TypeExecutionComplete reports that both producers finished cleanly.
	TypeExecutionComplete = "execution_complete"
	// TypeRAGExplanation carries one explanation fragment.
	TypeRAGExplanation = "rag_explanation"
	// TypeStatus is an informational, non-terminal status line.
	TypeStatus = "status"
	// TypeExecutionError is the terminal failure message of a run.
	TypeExecutionError = "execution_error"
	// TypePong answers a ping.
	TypePong = "pong"
	// TypeError reports a rejected request (policy error). It is not
	// terminal for any run.
	TypeError = "error"
)

// Error codes carried in Error.Code.
const (
	CodeRunAlreadyActive    = "run_already_active"
	CodeUnsupportedLanguage = "unsupported_language"
	CodeEmptyCode           = "empty_code"
	// CodeSessionGone ends a run the client resumed after its session was
	// destroyed. It carries the run id of that run.
	CodeSessionGone = "session_gone"
)

// Message is one member of the protocol's tagged union.
type Message interface {
	// MessageType returns the envelope tag for the message.
	MessageType() string
	validate() error
}

// Stream discriminates program output.
type Stream string

const (
	// Stdout is the program's standard output.
	Stdout Stream = "stdout"
	// Stderr is the program's standard error.
	Stderr Stream = "stderr"
)

// Valid reports whether s is a known stream.
func (s Stream) Valid() bool {
	return s == Stdout || s == Stderr
}

// RunCode is the client request to start a run.
type RunCode struct {
	// Code is the submitted source text.
	Code string `json:"code"`
	// Language is the declared language tag (python, javascript, ...).
	Language string `json:"language"`
}

// MessageType implements Message.
func (RunCode) MessageType() string { return TypeRunCode }

// Ping is the client keep-alive message.
type Ping struct{}

// MessageType implements Message.
func (Ping) MessageType() string { return TypePing }

// ExecutionOutput is one chunk of program output.
type ExecutionOutput struct {
	// Stream is stdout or stderr.
	Stream Stream `json:"stream"`
	// Data is the raw text produced by the program.
	Data string `json:"data"`
}

// MessageType implements Message.
func (ExecutionOutput) MessageType() string { return TypeExecutionOutput }

// ExecutionComplete is the terminal success message of a run.
type ExecutionComplete struct{}

// MessageType implements Message.
func (ExecutionComplete) MessageType() string { return TypeExecutionComplete }

// RAGExplanation is one explanation fragment. Clients concatenate fragments
// in arrival order.
type RAGExplanation struct {
	// Data is the fragment text.
	Data string `json:"data"`
}

// MessageType implements Message.
func (RAGExplanation) MessageType() string { return TypeRAGExplanation }

// Status is an informational message.
type Status struct {
	// Message is the human readable status line.
	Message string `json:"message"`
}

// MessageType implements Message.
func (Status) MessageType() string { return TypeStatus }

// ExecutionError is the terminal failure message of a run.
type ExecutionError struct {
	// Message is the producer error, verbatim.
	Message string `json:"message"`
}

// MessageType implements Message.
func (ExecutionError) MessageType() string { return TypeExecutionError }

// Pong answers a Ping.
type Pong struct{}

// MessageType implements Message.
func (Pong) MessageType() string { return TypePong }

// Error reports a request the server refused without changing any state.
type Error struct {
	// Code is a stable machine readable reason, e.g. "run_already_active".
	Code string `json:"code"`
	// Message is a human readable explanation.
	Message string `json:"message"`
}

// MessageType implements Message.
func (Error) MessageType() string { return TypeError }

// IsTerminal reports whether m ends a run.
func IsTerminal(m Message) bool {
	switch m.(type) {
	case ExecutionComplete, ExecutionError:
		return true
	default:
		return false
	}
}
