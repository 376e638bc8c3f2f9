// ABOUTME: Server lifecycle for coven-relay: HTTP listener, optional Tailscale node and Matrix sync
// ABOUTME: Serves the web chat, health and metrics endpoints and shuts everything down together

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/webchat"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// Runner is a long-running frontend such as the Matrix bridge.
type Runner interface {
	Run(ctx context.Context) error
}

// ReadyFunc reports whether the relay can reach the agent service.
type ReadyFunc func(ctx context.Context) error

// Options wires the gateway's components. Nil components are disabled.
type Options struct {
	Config  *config.Config
	Web     *webchat.Server
	Matrix  Runner
	Metrics *metrics.Recorder
	Ready   ReadyFunc
	Logger  *slog.Logger
}

// Gateway owns the relay's listeners and frontends.
type Gateway struct {
	config     *config.Config
	web        *webchat.Server
	matrix     Runner
	ready      ReadyFunc
	httpServer *http.Server
	tailnet    *tailnet
	logger     *slog.Logger
}

// New creates a Gateway and its HTTP routes.
func New(opts Options) (*Gateway, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Web == nil && opts.Matrix == nil {
		return nil, errors.New("no frontend enabled")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: opts.Config,
		web:    opts.Web,
		matrix: opts.Matrix,
		ready:  opts.Ready,
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if opts.Config.Metrics.Enabled {
		mux.Handle("GET "+opts.Config.Metrics.Path, opts.Metrics.Handler())
	}
	if g.web != nil {
		g.web.Register(mux)
	}

	g.httpServer = &http.Server{
		Addr:              opts.Config.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves until ctx is cancelled or a component fails, then shuts everything down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "web", g.web != nil)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.matrix != nil {
		group.Go(func() error {
			return g.matrix.Run(gctx)
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return group.Wait()
}

// setupListener creates a Tailscale or TCP listener based on configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		tn, err := startTailnet(ctx, g.config.Tailscale, g.logger)
		if err != nil {
			return nil, err
		}
		ln, err := tn.listen(modeOf(g.config.Tailscale))
		if err != nil {
			_ = tn.Close()
			return nil, err
		}
		g.tailnet = tn
		return ln, nil
	}

	g.logger.Info("starting relay", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, the web chat sessions and the Tailscale node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down relay")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websockets are not closed by http.Server.Shutdown
	if g.web != nil {
		g.web.Close()
	}
	if g.tailnet != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tailnet.Close())
	}

	return errors.Join(errs...)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the agent service credentials work.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := g.ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "not ready: %v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
