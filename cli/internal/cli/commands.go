package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/bhandras/codetutor/cli/internal/api"
	"github.com/bhandras/codetutor/cli/internal/config"
	"github.com/bhandras/codetutor/cli/internal/version"
)

func newAPIClient(cfg *config.Config) (*api.Client, error) {
	return api.NewClient(cfg.ServerURL, version.UserAgent())
}

// UploadCommand uploads a reference document.
func UploadCommand(ctx context.Context, cfg *config.Config, path string, out io.Writer) error {
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	res, err := client.Upload(ctx, path)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	fmt.Fprintf(out, "%s (%d chunks)\n", res.Message, res.ChunksCreated)
	return nil
}

// SessionCommand prints the server's view of this client's session.
func SessionCommand(ctx context.Context, cfg *config.Config, identity string, out io.Writer) error {
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	raw, err := client.Session(ctx, identity)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(out)
	return err
}

// ResetCommand drops this client's session on the server.
func ResetCommand(ctx context.Context, cfg *config.Config, identity string, out io.Writer) error {
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	if err := client.ResetSession(ctx, identity); err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s reset\n", identity)
	return nil
}

// HealthCommand prints the server health report. It returns an error when
// the server reports itself degraded.
func HealthCommand(ctx context.Context, cfg *config.Config, out io.Writer) error {
	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	h, err := client.Health(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Server:   %s\n", cfg.ServerURL)
	fmt.Fprintf(out, "Status:   %s\n", h.Status)
	fmt.Fprintf(out, "Sessions: %d (%d connected)\n", h.Sessions, h.Clients)
	fmt.Fprintf(out, "Chunks:   %d\n", h.Chunks)

	names := make([]string, 0, len(h.Services))
	for name := range h.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-26s %s\n", name, h.Services[name])
	}

	if h.Status != "healthy" {
		return fmt.Errorf("server is %s", h.Status)
	}
	return nil
}
