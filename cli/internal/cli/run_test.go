package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers the first run_code with replies.
func scriptedServer(t *testing.T, replies func(req wire.RunCode) []wire.Frame) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := wire.Decode(data)
			if err != nil {
				continue
			}
			req, ok := f.Message.(wire.RunCode)
			if !ok {
				continue
			}
			for _, out := range replies(req) {
				data, err := wire.Encode(out.RunID, out.Message)
				if err != nil {
					panic(err)
				}
				if conn.WriteMessage(websocket.TextMessage, data) != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func runOpts(url string, stdout, stderr *bytes.Buffer) RunOptions {
	return RunOptions{
		ServerURL: url,
		Identity:  "editor-1",
		Code:      "print(1)",
		Language:  "python",
		Stdout:    stdout,
		Stderr:    stderr,
	}
}

func TestRunCode_PrintsOutputThenExplanation(t *testing.T) {
	seen := make(chan wire.RunCode, 1)
	url := scriptedServer(t, func(req wire.RunCode) []wire.Frame {
		seen <- req
		return []wire.Frame{
			{RunID: "r1", Message: wire.Status{Message: "Running"}},
			{RunID: "r1", Message: wire.ExecutionOutput{Stream: wire.Stdout, Data: "1\n"}},
			{RunID: "r1", Message: wire.RAGExplanation{Data: "Prints "}},
			{RunID: "r1", Message: wire.ExecutionOutput{Stream: wire.Stderr, Data: "warn\n"}},
			{RunID: "r1", Message: wire.RAGExplanation{Data: "one."}},
			{RunID: "r1", Message: wire.ExecutionComplete{}},
		}
	})

	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, RunCode(ctx, runOpts(url, &stdout, &stderr)))
	require.Equal(t, wire.RunCode{Code: "print(1)", Language: "python"}, <-seen)
	require.Equal(t, "1\n\n--- Explanation ---\nPrints one.\n", stdout.String())
	require.Equal(t, "warn\n", stderr.String())
}

func TestRunCode_ExecutionError(t *testing.T) {
	url := scriptedServer(t, func(wire.RunCode) []wire.Frame {
		return []wire.Frame{
			{RunID: "r1", Message: wire.Status{Message: "Running"}},
			{RunID: "r1", Message: wire.ExecutionError{Message: "exit status 1"}},
		}
	})

	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RunCode(ctx, runOpts(url, &stdout, &stderr))
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	require.Equal(t, "exit status 1", runErr.Message)
}

func TestRunCode_Rejected(t *testing.T) {
	url := scriptedServer(t, func(wire.RunCode) []wire.Frame {
		return []wire.Frame{
			{Message: wire.Error{Code: "unsupported_language", Message: `language "cobol" is not supported`}},
		}
	})

	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := RunCode(ctx, runOpts(url, &stdout, &stderr))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, "unsupported_language", rejected.Code)
}

func TestPrinter_IgnoresOtherRuns(t *testing.T) {
	var stdout, stderr bytes.Buffer
	p := &printer{stdout: &stdout, stderr: &stderr}

	done, err := p.handle(wire.Frame{RunID: "r2", Message: wire.Status{Message: "Running"}})
	require.False(t, done)
	require.NoError(t, err)

	done, _ = p.handle(wire.Frame{RunID: "r1", Message: wire.ExecutionComplete{}})
	require.False(t, done)

	p.handle(wire.Frame{RunID: "r2", Message: wire.ExecutionOutput{Stream: wire.Stdout, Data: "ok\n"}})
	done, err = p.handle(wire.Frame{RunID: "r2", Message: wire.ExecutionComplete{}})
	require.True(t, done)
	require.NoError(t, err)
	require.Equal(t, "ok\n", stdout.String())
}

func TestLanguageFromPath(t *testing.T) {
	require.Equal(t, "python", LanguageFromPath("hello.py"))
	require.Equal(t, "javascript", LanguageFromPath("/tmp/app.JS"))
	require.Equal(t, "", LanguageFromPath("notes.txt"))
}
