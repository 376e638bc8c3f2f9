// ABOUTME: ask command: one turn from the terminal against a fresh thread
// ABOUTME: terminalUI prints the placeholder and rewrites it in place on a TTY

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/2389/coven-relay/internal/orchestrator"
)

const cliFrontend = "cli"

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message to the agent and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), opts, cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}
}

func runAsk(ctx context.Context, opts *rootOptions, out io.Writer, text string) error {
	cfg, _, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	be, err := newBackend(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}

	sess := orchestrator.NewSession(cliFrontend, cliFrontend)
	if _, err := be.orch.EnsureThread(ctx, sess); err != nil {
		// HandleTurn reports the missing thread.
		logger.Error("thread bootstrap failed", "error", err)
	}

	ui := newTerminalUI(out)
	if _, err := be.orch.HandleTurn(ctx, sess, ui, text); err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}
	return nil
}

// terminalUI implements orchestrator.UI on a writer.
type terminalUI struct {
	out io.Writer
	tty bool

	mu   sync.Mutex
	next int
	// open is the ID of a placeholder left on an unterminated line.
	open string
}

func newTerminalUI(out io.Writer) *terminalUI {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}
	return &terminalUI{out: out, tty: tty}
}

func (t *terminalUI) Send(_ context.Context, m *orchestrator.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	m.ID = strconv.Itoa(t.next)

	if err := t.closeLine(); err != nil {
		return err
	}
	if t.tty && m.Content == orchestrator.ThinkingText {
		t.open = m.ID
		_, err := fmt.Fprint(t.out, label(m.Author)+" "+m.Content)
		return err
	}
	_, err := fmt.Fprintln(t.out, label(m.Author)+" "+m.Content)
	return err
}

func (t *terminalUI) Update(_ context.Context, m *orchestrator.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.ID == "" {
		return errors.New("update without message id")
	}
	if t.open == m.ID {
		t.open = ""
		// Carriage return plus erase-line
		_, err := fmt.Fprintln(t.out, "\r\x1b[K"+label(m.Author)+" "+m.Content)
		return err
	}
	if err := t.closeLine(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(t.out, label(m.Author)+" "+m.Content)
	return err
}

func (t *terminalUI) closeLine() error {
	if t.open == "" {
		return nil
	}
	t.open = ""
	_, err := fmt.Fprintln(t.out)
	return err
}

func label(author string) string {
	if author == orchestrator.AuthorSystem {
		return color.YellowString("relay>")
	}
	return color.CyanString("agent>")
}
