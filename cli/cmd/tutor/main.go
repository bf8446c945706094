package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bhandras/codetutor/cli/internal/cli"
	"github.com/bhandras/codetutor/cli/internal/config"
	"github.com/bhandras/codetutor/cli/internal/storage"
	"github.com/bhandras/codetutor/cli/internal/version"
	"github.com/bhandras/codetutor/shared/logger"
)

func main() {
	err := run(os.Args[1:])
	var runErr *cli.RunError
	switch {
	case err == nil:
	case errors.As(err, &runErr):
		fmt.Fprintf(os.Stderr, "execution failed: %s\n", runErr.Message)
		os.Exit(1)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	overrides, args, err := parseFlags(args)
	if err != nil {
		printUsage(os.Stderr)
		return err
	}

	// Load configuration
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
		logger.Debugf("Config: ServerURL=%s, Home=%s", cfg.ServerURL, cfg.HomeDir)
	} else {
		logger.SetLevel(logger.LevelWarn)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) == 0 {
		printUsage(os.Stderr)
		return flag.ErrHelp
	}

	switch args[0] {
	case "run":
		return runCommand(ctx, cfg, args[1:])

	case "upload":
		if len(args) != 2 {
			return fmt.Errorf("usage: tutor upload <file>")
		}
		return cli.UploadCommand(ctx, cfg, args[1], os.Stdout)

	case "session":
		identity, err := storage.GetOrCreateIdentity(cfg.IdentityPath)
		if err != nil {
			return err
		}
		if len(args) > 1 && args[1] == "reset" {
			return cli.ResetCommand(ctx, cfg, identity, os.Stdout)
		}
		if len(args) > 1 && args[1] != "show" {
			return fmt.Errorf("usage: tutor session [show|reset]")
		}
		return cli.SessionCommand(ctx, cfg, identity, os.Stdout)

	case "health":
		return cli.HealthCommand(ctx, cfg, os.Stdout)

	case "version", "--version", "-v":
		fmt.Println(version.RichVersion())
		return nil

	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return nil
	}

	printUsage(os.Stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func parseFlags(args []string) (config.Overrides, []string, error) {
	fs := flag.NewFlagSet("tutor", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("server", "", "Tutor server URL")
	home := fs.String("home", "", "Directory for local state")
	debug := fs.Bool("debug", false, "Enable debug logging")

	var o config.Overrides
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	if *serverURL != "" {
		o.ServerURL = serverURL
	}
	if *home != "" {
		o.HomeDir = home
	}
	if *debug {
		o.Debug = debug
	}
	return o, fs.Args(), nil
}

func runCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	lang := fs.String("lang", "", "Language (python|javascript); guessed from the file extension")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tutor run [-lang python|javascript] <file|->")
	}

	path := fs.Arg(0)
	var (
		code []byte
		err  error
	)
	if path == "-" {
		code, err = io.ReadAll(os.Stdin)
	} else {
		code, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}

	language := *lang
	if language == "" {
		language = cli.LanguageFromPath(path)
	}
	if language == "" {
		return fmt.Errorf("cannot tell the language of %q; pass -lang", path)
	}

	identity, err := storage.GetOrCreateIdentity(cfg.IdentityPath)
	if err != nil {
		return err
	}
	logger.Debugf("Client identity: %s", identity)

	return cli.RunCode(ctx, cli.RunOptions{
		ServerURL: cfg.ServerURL,
		Identity:  identity,
		Code:      string(code),
		Language:  language,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	})
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: tutor [flags] <command> [args]

Commands:
  run [-lang L] <file|->   Run code on the tutor server and print the explanation
  upload <file>            Upload a reference document (.txt .md .html .py .js)
  session [show|reset]     Show or reset this client's server session
  health                   Show server health
  version                  Print the version

Flags:
  -server URL   Tutor server (default $CODETUTOR_SERVER_URL or http://localhost:8000)
  -home DIR     Local state directory (default ~/.codetutor)
  -debug        Enable debug logging
`)
}
