// ABOUTME: serve command: runs the web chat and Matrix frontends over one orchestrator
// ABOUTME: Also builds the agent service client shared with the ask command

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-relay/internal/agentsvc"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/credential"
	"github.com/2389/coven-relay/internal/gateway"
	"github.com/2389/coven-relay/internal/matrix"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/orchestrator"
	"github.com/2389/coven-relay/internal/webchat"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// backend is the orchestrator with the credential it authenticates with.
type backend struct {
	orch   *orchestrator.Orchestrator
	tokens credential.Provider
}

func newBackend(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, logger *slog.Logger) (*backend, error) {
	tokens, err := credential.FromEnvironment(ctx)
	if err != nil {
		return nil, err
	}

	wait := agentsvc.WaiterConfig{
		Interval: cfg.Run.PollInterval,
		MaxWait:  cfg.Run.MaxWait,
	}
	client, err := agentsvc.New(agentsvc.Config{
		Endpoint:       cfg.AgentService.Endpoint,
		APIVersion:     cfg.AgentService.APIVersion,
		Tokens:         tokens,
		RequestTimeout: cfg.AgentService.RequestTimeout,
		Wait:           wait,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent service client: %w", err)
	}

	orch, err := orchestrator.New(client, orchestrator.Config{
		AgentID:   cfg.AgentService.AgentID,
		Bootstrap: orchestrator.BootstrapPolicy(cfg.Bootstrap.Policy),
		Greeting:  cfg.Bootstrap.Greeting,
		Strategy:  orchestrator.CompletionStrategy(cfg.Run.Strategy),
		Wait:      wait,
		Metrics:   rec,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	return &backend{orch: orch, tokens: tokens}, nil
}

// ready reports whether a bearer token can be obtained.
func (b *backend) ready(ctx context.Context) error {
	_, err := b.tokens.Token(ctx)
	return err
}

// tokenExpiryWarning is how close to expiry a static token draws a warning.
const tokenExpiryWarning = time.Hour

// logTokenExpiry reports when a static JWT stops being accepted.
func logTokenExpiry(logger *slog.Logger, p credential.Provider) {
	static, ok := p.(*credential.Static)
	if !ok || static.Expires().IsZero() {
		return
	}
	expires := static.Expires()
	left := time.Until(expires).Round(time.Second)
	if left < tokenExpiryWarning {
		logger.Warn("agent service token expires soon", "expires_at", expires.Format(time.RFC3339), "remaining", left)
		return
	}
	logger.Info("agent service token expiry", "expires_at", expires.Format(time.RFC3339), "remaining", left)
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if configPath == "" {
		configPath = "(environment only)"
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	rec := metrics.New()
	be, err := newBackend(ctx, cfg, rec, logger)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:     %s ", cfg.AgentService.AgentID)
	gray.Printf("(%s)\n", be.tokens.Name())
	green.Print("    ▶ ")
	fmt.Printf("Threads:   %s, %s\n", cfg.Bootstrap.Policy, cfg.Run.Strategy)
	if cfg.Frontends.Web.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Web chat:  http://%s/\n", cfg.Server.HTTPAddr)
	}
	if cfg.Frontends.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s on %s\n", cfg.Frontends.Matrix.UserID, cfg.Frontends.Matrix.Homeserver)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logTokenExpiry(logger, be.tokens)
	if cfg.Run.MaxWait == 0 {
		logger.Warn("run.max_wait is 0, turns wait for their run without limit")
	}

	logger.Info("starting coven-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"bootstrap", cfg.Bootstrap.Policy,
		"strategy", cfg.Run.Strategy,
	)

	gwOpts := gateway.Options{
		Config:  cfg,
		Metrics: rec,
		Ready:   be.ready,
		Logger:  logger,
	}
	if cfg.Frontends.Web.Enabled {
		gwOpts.Web = webchat.New(be.orch, webchat.Config{
			Metrics: rec,
			Logger:  logger,
		})
	}
	if m := cfg.Frontends.Matrix; m.Enabled {
		bridge, err := matrix.New(matrix.Config{
			Homeserver:      m.Homeserver,
			UserID:          m.UserID,
			AccessToken:     m.AccessToken,
			AllowedRooms:    m.AllowedRooms,
			CommandPrefix:   m.CommandPrefix,
			TypingIndicator: true,
			Metrics:         rec,
			Logger:          logger,
		}, be.orch)
		if err != nil {
			return err
		}
		gwOpts.Matrix = bridge
	}

	gw, err := gateway.New(gwOpts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
