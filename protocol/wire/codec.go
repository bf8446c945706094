package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownMessageType is matched by decode errors for envelopes whose
	// tag this build does not know. The frame should be dropped and the
	// connection kept open.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrMalformedMessage is matched by decode errors for envelopes that
	// cannot be trusted: invalid JSON, missing tag, wrong payload shape or a
	// missing required field.
	ErrMalformedMessage = errors.New("malformed message")
)

// DecodeError describes why a frame could not be decoded.
type DecodeError struct {
	// Kind is ErrUnknownMessageType or ErrMalformedMessage.
	Kind error
	// Type is the envelope tag, if one could be read.
	Type string
	// Err is the underlying cause, if any.
	Err error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Type != "" {
		fmt.Fprintf(&b, " %q", e.Type)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is makes errors.Is match the decode error kind.
func (e *DecodeError) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Envelope is the JSON frame shape shared by both directions.
type Envelope struct {
	// Type is the message tag.
	Type string `json:"type"`
	// RunID scopes server messages to a run. Empty for connection-level
	// messages (pong, error) and for client requests.
	RunID string `json:"run_id,omitempty"`
	// Payload is the type specific body. Omitted for empty messages.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame is a decoded envelope.
type Frame struct {
	// RunID is the envelope run id (may be empty).
	RunID string
	// Message is the decoded payload.
	Message Message
}

// Encode serializes m into a single frame.
func Encode(runID string, m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode: nil message")
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	env := Envelope{Type: m.MessageType(), RunID: runID}
	if !isEmpty(m) {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a single frame.
func Decode(data []byte) (Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, &DecodeError{Kind: ErrMalformedMessage, Err: err}
	}
	if env.Type == "" {
		return Frame{}, &DecodeError{Kind: ErrMalformedMessage, Err: errors.New("missing type")}
	}

	m, ok := newMessage(env.Type)
	if !ok {
		return Frame{}, &DecodeError{Kind: ErrUnknownMessageType, Type: env.Type}
	}

	if !isEmpty(m) {
		if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
			return Frame{}, &DecodeError{
				Kind: ErrMalformedMessage,
				Type: env.Type,
				Err:  errors.New("missing payload"),
			}
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(env.Payload, &fields); err != nil {
			return Frame{}, &DecodeError{Kind: ErrMalformedMessage, Type: env.Type, Err: err}
		}
		for _, name := range requiredFields[env.Type] {
			if _, ok := fields[name]; !ok {
				return Frame{}, &DecodeError{
					Kind: ErrMalformedMessage,
					Type: env.Type,
					Err:  fmt.Errorf("missing field %q", name),
				}
			}
		}
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return Frame{}, &DecodeError{Kind: ErrMalformedMessage, Type: env.Type, Err: err}
		}
	}

	msg := deref(m)
	if err := msg.validate(); err != nil {
		return Frame{}, &DecodeError{Kind: ErrMalformedMessage, Type: env.Type, Err: err}
	}
	return Frame{RunID: env.RunID, Message: msg}, nil
}

// requiredFields lists the payload keys that must be present per tag.
var requiredFields = map[string][]string{
	TypeRunCode:         {"code", "language"},
	TypeExecutionOutput: {"stream", "data"},
	TypeRAGExplanation:  {"data"},
	TypeStatus:          {"message"},
	TypeExecutionError:  {"message"},
	TypeError:           {"code", "message"},
}

// newMessage returns a pointer to a zero value of the tagged type.
func newMessage(tag string) (any, bool) {
	switch tag {
	case TypeRunCode:
		return &RunCode{}, true
	case TypePing:
		return &Ping{}, true
	case TypeExecutionOutput:
		return &ExecutionOutput{}, true
	case TypeExecutionComplete:
		return &ExecutionComplete{}, true
	case TypeRAGExplanation:
		return &RAGExplanation{}, true
	case TypeStatus:
		return &Status{}, true
	case TypeExecutionError:
		return &ExecutionError{}, true
	case TypePong:
		return &Pong{}, true
	case TypeError:
		return &Error{}, true
	default:
		return nil, false
	}
}

func deref(v any) Message {
	switch m := v.(type) {
	case *RunCode:
		return *m
	case *Ping:
		return *m
	case *ExecutionOutput:
		return *m
	case *ExecutionComplete:
		return *m
	case *RAGExplanation:
		return *m
	case *Status:
		return *m
	case *ExecutionError:
		return *m
	case *Pong:
		return *m
	case *Error:
		return *m
	default:
		panic(fmt.Sprintf("wire: unexpected message %T", v))
	}
}

// isEmpty reports whether the message has no payload fields.
func isEmpty(v any) bool {
	switch v.(type) {
	case Ping, *Ping, Pong, *Pong, ExecutionComplete, *ExecutionComplete:
		return true
	default:
		return false
	}
}
