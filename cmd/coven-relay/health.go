// ABOUTME: health command: probes a running relay's HTTP health endpoints
// ABOUTME: Reads the address from --addr or server.http_addr

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type healthOptions struct {
	addr  string
	ready bool
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	hopts := &healthOptions{}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check relay health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := hopts.addr
			if addr == "" {
				cfg, err := opts.readConfig()
				if err != nil {
					return err
				}
				addr = cfg.Server.HTTPAddr
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), addr, hopts.ready)
		},
	}
	cmd.Flags().StringVar(&hopts.addr, "addr", "", "relay HTTP address (default: server.http_addr from config)")
	cmd.Flags().BoolVar(&hopts.ready, "ready", false, "check readiness instead of liveness")
	return cmd
}

func runHealth(ctx context.Context, out io.Writer, addr string, ready bool) error {
	path := "/health"
	if ready {
		path = "/health/ready"
	}
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if ready {
		fmt.Fprintln(out, "ready")
	} else {
		fmt.Fprintln(out, "healthy")
	}
	return nil
}
