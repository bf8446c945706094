// Package executor runs submitted code as a local subprocess and streams its
// output.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/shared/logger"
)

const (
	// DefaultTimeout is the hard limit for one execution.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxOutputBytes caps the combined output of one execution.
	DefaultMaxOutputBytes = 1 << 20

	// fileArg is replaced with the path of the source file.
	fileArg = "{file}"
	// waitDelay bounds how long Wait blocks on output pipes held open by
	// orphaned grandchildren after the process was killed.
	waitDelay = 500 * time.Millisecond
)

// ErrOutputLimit is returned when a program writes more than the configured
// output cap.
var ErrOutputLimit = errors.New("output limit exceeded")

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with status %d", e.Code)
}

// TimeoutError reports that the execution hit its hard limit.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.After)
}

// Command describes how to run one language.
type Command struct {
	// Name is the interpreter binary.
	Name string `yaml:"name"`
	// Args are passed to Name; "{file}" is replaced with the source path.
	Args []string `yaml:"args"`
	// Extension is the source file extension, including the dot.
	Extension string `yaml:"extension"`
}

// DefaultCommands returns the built-in command table.
func DefaultCommands() map[runtime.Language]Command {
	return map[runtime.Language]Command{
		runtime.Python:     {Name: "python3", Args: []string{"-u", fileArg}, Extension: ".py"},
		runtime.JavaScript: {Name: "node", Args: []string{fileArg}, Extension: ".js"},
	}
}

// Config configures a Local executor.
type Config struct {
	// Commands maps languages to interpreters. Nil means DefaultCommands.
	Commands       map[runtime.Language]Command
	Timeout        time.Duration
	MaxOutputBytes int
	// WorkDir is where per-run scratch directories are created. Empty means
	// the system temp dir.
	WorkDir string
}

// Local runs code with interpreters installed on the host.
type Local struct {
	commands  map[runtime.Language]Command
	timeout   time.Duration
	maxOutput int
	workDir   string
}

// NewLocal creates a Local executor.
func NewLocal(cfg Config) *Local {
	commands := cfg.Commands
	if commands == nil {
		commands = DefaultCommands()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Local{
		commands:  commands,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		workDir:   cfg.WorkDir,
	}
}

// Supports implements runtime.Executor.
func (l *Local) Supports(lang runtime.Language) bool {
	_, ok := l.commands[lang]
	return ok
}

// Languages returns the configured languages in sorted order.
func (l *Local) Languages() []runtime.Language {
	langs := make([]runtime.Language, 0, len(l.commands))
	for lang := range l.commands {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// Available reports, per language, whether its interpreter is on PATH.
func (l *Local) Available() map[runtime.Language]bool {
	out := make(map[runtime.Language]bool, len(l.commands))
	for lang, cmd := range l.commands {
		_, err := exec.LookPath(cmd.Name)
		out[lang] = err == nil
	}
	return out
}

// Execute implements runtime.Executor.
func (l *Local) Execute(ctx context.Context, req runtime.Request, emit func(runtime.OutputChunk) error) error {
	command, ok := l.commands[req.Language]
	if !ok {
		return fmt.Errorf("no interpreter configured for %q", req.Language)
	}

	dir, err := os.MkdirTemp(l.workDir, "run-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "main"+command.Extension)
	if err := os.WriteFile(file, []byte(req.Code), 0o600); err != nil {
		return fmt.Errorf("write source: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := make([]string, len(command.Args))
	for i, a := range command.Args {
		args[i] = strings.ReplaceAll(a, fileArg, file)
	}

	cmd := exec.CommandContext(runCtx, command.Name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay

	out := &sink{emit: emit, limit: l.maxOutput, cancel: cancel}
	stdout := &streamWriter{stream: wire.Stdout, sink: out}
	stderr := &streamWriter{stream: wire.Stderr, sink: out}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debugf("[executor] run %s: %s %s", req.RunID, command.Name, strings.Join(args, " "))
	started := time.Now()
	waitErr := cmd.Run()

	stdout.flush()
	stderr.flush()

	if err := out.failure(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: l.timeout}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("run %s: %w", command.Name, waitErr)
	}
	logger.Debugf("[executor] run %s finished in %s", req.RunID, time.Since(started).Round(time.Millisecond))
	return nil
}

// sink serializes chunks from both streams into emit and enforces the output
// cap.
type sink struct {
	mu      sync.Mutex
	emit    func(runtime.OutputChunk) error
	limit   int
	written int
	err     error
	cancel  context.CancelFunc
}

func (s *sink) write(stream wire.Stream, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if s.written+len(data) > s.limit {
		s.err = fmt.Errorf("%w: more than %d bytes", ErrOutputLimit, s.limit)
		s.cancel()
		return s.err
	}
	s.written += len(data)
	if err := s.emit(runtime.OutputChunk{Stream: stream, Data: data}); err != nil {
		s.err = err
		s.cancel()
		return err
	}
	return nil
}

func (s *sink) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
