// ABOUTME: Tailscale node for the relay: a tsnet server plus an HTTP, HTTPS or Funnel listener
// ABOUTME: State dir and auth key fall back to ~/.local/share/coven-relay/tailscale and TS_AUTHKEY

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/2389/coven-relay/internal/config"
)

// tailnetMode is how the relay is exposed on the tailnet.
type tailnetMode int

const (
	tailnetHTTP tailnetMode = iota
	// tailnetHTTPS serves with certificates provisioned by the tailnet.
	tailnetHTTPS
	// tailnetFunnel is public HTTPS through Tailscale Funnel.
	tailnetFunnel
)

func modeOf(cfg config.TailscaleConfig) tailnetMode {
	switch {
	case cfg.Funnel:
		return tailnetFunnel
	case cfg.HTTPS:
		return tailnetHTTPS
	default:
		return tailnetHTTP
	}
}

func (m tailnetMode) String() string {
	switch m {
	case tailnetHTTPS:
		return "https"
	case tailnetFunnel:
		return "funnel"
	default:
		return "http"
	}
}

func (m tailnetMode) addr() string {
	if m == tailnetHTTP {
		return ":80"
	}
	return ":443"
}

type tailnet struct {
	srv    *tsnet.Server
	logger *slog.Logger
}

// startTailnet brings a tsnet node up and waits until it is running.
func startTailnet(ctx context.Context, cfg config.TailscaleConfig, logger *slog.Logger) (*tailnet, error) {
	stateDir, err := tailnetStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := tailnetAuthKey(cfg.AuthKey)
	if err != nil {
		return nil, err
	}

	t := &tailnet{
		srv: &tsnet.Server{
			Hostname:  cfg.Hostname,
			Dir:       stateDir,
			Ephemeral: cfg.Ephemeral,
			AuthKey:   authKey,
		},
		logger: logger,
	}

	logger.Info("starting tailscale node", "hostname", cfg.Hostname, "state_dir", stateDir, "ephemeral", cfg.Ephemeral)
	status, err := t.srv.Up(ctx)
	if err != nil {
		_ = t.srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	} else {
		logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	logger.Info("tailscale node ready", "hostname", cfg.Hostname, "tailscale_ip", ip, "dns_name", dnsName)
	return t, nil
}

// listen opens the relay's listener on the node.
func (t *tailnet) listen(mode tailnetMode) (net.Listener, error) {
	t.logger.Info("listening on tailnet", "mode", mode.String(), "addr", mode.addr())

	if mode == tailnetFunnel {
		ln, err := t.srv.ListenFunnel("tcp", mode.addr())
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}

	ln, err := t.srv.Listen("tcp", mode.addr())
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale %s port: %w", mode, err)
	}
	if mode == tailnetHTTP {
		return ln, nil
	}

	lc, err := t.srv.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (t *tailnet) Close() error {
	return t.srv.Close()
}

func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(home, ".local", "share", "coven-relay", "tailscale"), nil
}

func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}
