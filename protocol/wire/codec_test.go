package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessages(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Message
	}{
		{
			name:  "run_code",
			input: `{"type":"run_code","payload":{"code":"print(1)","language":"python"}}`,
			want:  RunCode{Code: "print(1)", Language: "python"},
		},
		{
			name:  "run_code ignores unknown payload fields",
			input: `{"type":"run_code","payload":{"code":"1","language":"javascript","theme":"dark"}}`,
			want:  RunCode{Code: "1", Language: "javascript"},
		},
		{
			name:  "ping without payload",
			input: `{"type":"ping"}`,
			want:  Ping{},
		},
		{
			name:  "ping with empty payload",
			input: `{"type":"ping","payload":{}}`,
			want:  Ping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			require.Equal(t, tt.want, frame.Message)
		})
	}
}

func TestDecodeUnknownTypeIsRecoverable(t *testing.T) {
	_, err := Decode([]byte(`{"type":"cursor_moved","payload":{"line":3}}`))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownMessageType))
	require.False(t, errors.Is(err, ErrMalformedMessage))

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	require.Equal(t, "cursor_moved", decErr.Type)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: `run_code`},
		{name: "not an object", input: `[1,2]`},
		{name: "missing type", input: `{"payload":{}}`},
		{name: "missing payload", input: `{"type":"run_code"}`},
		{name: "null payload", input: `{"type":"run_code","payload":null}`},
		{name: "payload is a string", input: `{"type":"run_code","payload":"print(1)"}`},
		{name: "missing language", input: `{"type":"run_code","payload":{"code":"x"}}`},
		{name: "code wrong type", input: `{"type":"run_code","payload":{"code":5,"language":"python"}}`},
		{name: "bad stream", input: `{"type":"execution_output","payload":{"stream":"stdin","data":"x"}}`},
		{name: "fragment without data", input: `{"type":"rag_explanation","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedMessage), "got %v", err)
		})
	}
}

func TestDecodeBlankRunCodeIsWellFormed(t *testing.T) {
	f, err := Decode([]byte(`{"type":"run_code","payload":{"code":"  ","language":""}}`))
	require.NoError(t, err)
	require.Equal(t, RunCode{Code: "  ", Language: ""}, f.Message)
}

func TestEncodeEnvelopeShape(t *testing.T) {
	raw, err := Encode("r1", ExecutionOutput{Stream: Stdout, Data: "1\n"})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "execution_output", env["type"])
	require.Equal(t, "r1", env["run_id"])
	require.Equal(t, map[string]any{"stream": "stdout", "data": "1\n"}, env["payload"])

	raw, err = Encode("", Pong{})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(raw))
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode("r1", ExecutionOutput{Stream: "both", Data: "x"})
	require.Error(t, err)

	_, err = Encode("", nil)
	require.Error(t, err)
}

func TestServerMessagesDecode(t *testing.T) {
	msgs := []Message{
		Status{Message: "Running"},
		ExecutionOutput{Stream: Stderr, Data: "Traceback"},
		RAGExplanation{Data: "This program "},
		ExecutionComplete{},
		ExecutionError{Message: "exit status 1"},
		Error{Code: "run_already_active", Message: "a run is already active"},
		Pong{},
	}
	for _, m := range msgs {
		raw, err := Encode("r7", m)
		require.NoError(t, err)
		frame, err := Decode(raw)
		require.NoError(t, err, m.MessageType())
		require.Equal(t, m, frame.Message)
		require.Equal(t, "r7", frame.RunID)
	}
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(ExecutionComplete{}))
	require.True(t, IsTerminal(ExecutionError{Message: "x"}))
	require.False(t, IsTerminal(Status{Message: "Running"}))
	require.False(t, IsTerminal(Error{Code: "run_already_active"}))
}
