package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bhandras/codetutor/cli/internal/version"
	"github.com/bhandras/codetutor/cli/internal/websocket"
	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/shared/logger"
)

// frameBuffer bounds frames waiting for the printer.
const frameBuffer = 256

// RunOptions describes one run_code request and where its results go.
type RunOptions struct {
	ServerURL string
	Identity  string
	Code      string
	Language  string

	Stdout io.Writer
	Stderr io.Writer

	// Supervisor tunes the connection; ServerURL, Identity and the hooks
	// are filled in by RunCode.
	Supervisor websocket.Config
}

// RunError is an execution_error received for the run.
type RunError struct {
	Message string
}

func (e *RunError) Error() string { return e.Message }

// RejectedError is a server error frame that refused the request.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected the run (%s): %s", e.Code, e.Message)
}

// LanguageFromPath guesses the language from a source file extension.
func LanguageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".mjs":
		return "javascript"
	}
	return ""
}

// RunCode connects, submits one run and streams its output until the
// terminal message. Program output goes to Stdout and Stderr as it arrives;
// the explanation is printed once the run ends.
func RunCode(ctx context.Context, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan wire.Frame, frameBuffer)
	states := make(chan websocket.State, 16)

	cfg := opts.Supervisor
	cfg.ServerURL = opts.ServerURL
	cfg.Identity = opts.Identity
	if cfg.Header == nil {
		cfg.Header = http.Header{}
	}
	cfg.Header.Set("User-Agent", version.UserAgent())
	cfg.OnMessage = func(f wire.Frame) {
		select {
		case frames <- f:
		case <-ctx.Done():
		}
	}
	cfg.OnState = func(s websocket.State, err error) {
		if err != nil {
			logger.Debugf("[run] %s: %v", s, err)
		}
		select {
		case states <- s:
		default:
		}
	}

	sup, err := websocket.NewSupervisor(cfg)
	if err != nil {
		return err
	}
	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	// Wait for the first connection.
	for connected := false; !connected; {
		select {
		case s := <-states:
			connected = s == websocket.StateConnected
		case err := <-supDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := sup.Submit(opts.Code, opts.Language); err != nil {
		return err
	}

	p := &printer{stdout: opts.Stdout, stderr: opts.Stderr}
	for {
		select {
		case f := <-frames:
			done, err := p.handle(f)
			if done {
				return err
			}

		case s := <-states:
			if s == websocket.StateDisconnected {
				fmt.Fprintln(opts.Stderr, "[disconnected, reconnecting...]")
			}

		case err := <-supDone:
			if errors.Is(err, websocket.ErrGaveUp) {
				return fmt.Errorf("lost connection to %s: %w", opts.ServerURL, err)
			}
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// printer renders the frames of one run.
type printer struct {
	stdout, stderr io.Writer

	runID       string
	explanation strings.Builder
}

// handle renders f and reports whether the run is over.
func (p *printer) handle(f wire.Frame) (bool, error) {
	if f.RunID != "" {
		if p.runID == "" {
			p.runID = f.RunID
		}
		if f.RunID != p.runID {
			logger.Debugf("[run] ignoring frame for run %s", f.RunID)
			return false, nil
		}
	}

	switch m := f.Message.(type) {
	case wire.Status:
		logger.Debugf("[run] status: %s", m.Message)

	case wire.ExecutionOutput:
		w := p.stdout
		if m.Stream == wire.Stderr {
			w = p.stderr
		}
		io.WriteString(w, m.Data)

	case wire.RAGExplanation:
		p.explanation.WriteString(m.Data)

	case wire.ExecutionComplete:
		p.flushExplanation()
		return true, nil

	case wire.ExecutionError:
		p.flushExplanation()
		return true, &RunError{Message: m.Message}

	case wire.Error:
		return true, &RejectedError{Code: m.Code, Message: m.Message}
	}
	return false, nil
}

func (p *printer) flushExplanation() {
	text := strings.TrimSpace(p.explanation.String())
	if text == "" {
		return
	}
	fmt.Fprintf(p.stdout, "\n--- Explanation ---\n%s\n", text)
}
