// ABOUTME: Websocket chat server: one orchestrator session per socket
// ABOUTME: Read pump queues turns, a worker runs them in order, a write pump owns the socket

package webchat

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/orchestrator"
)

const frontendName = "web"

//go:embed static/index.html
var indexHTML []byte

// errClosed is returned by UI calls after the socket went away.
var errClosed = errors.New("chat connection closed")

// Conversation is the part of the orchestrator the chat server drives.
type Conversation interface {
	EnsureThread(ctx context.Context, sess *orchestrator.Session) (string, error)
	HandleTurn(ctx context.Context, sess *orchestrator.Session, ui orchestrator.UI, text string) (string, error)
}

// Config tunes the websocket server. Zero values get defaults.
type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// QueueSize bounds pending turns per socket.
	QueueSize int
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Server accepts chat sockets.
type Server struct {
	conv     Conversation
	upgrader websocket.Upgrader
	cfg      Config
	metrics  *metrics.Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

// New creates a Server over conv.
func New(conv Conversation, cfg Config) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 << 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		conv: conv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "webchat"),
		conns:   make(map[string]*conn),
	}
}

// Register mounts the page and the socket on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.ServeIndex)
	mux.HandleFunc("GET /ws", s.ServeWS)
}

// ServeIndex writes the embedded chat page.
func (s *Server) ServeIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(indexHTML)
}

// ActiveSessions returns the number of open sockets.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ServeWS upgrades the request and serves the socket until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		server: s,
		ws:     ws,
		sess:   orchestrator.NewSession(uuid.NewString(), frontendName),
		send:   make(chan []byte, 64),
		turns:  make(chan string, s.cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if !s.add(c) {
		cancel()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	defer s.remove(c)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.worker()
	}()

	c.readPump()
}

func (s *Server) add(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	// Counts the read pump, which runs on the handler goroutine.
	s.wg.Add(1)
	s.conns[c.sess.ID] = c
	s.metrics.SessionOpened(frontendName)
	s.logger.Info("session opened", "session_id", c.sess.ID)
	return true
}

func (s *Server) remove(c *conn) {
	c.cancel()

	s.mu.Lock()
	if _, ok := s.conns[c.sess.ID]; ok {
		delete(s.conns, c.sess.ID)
		s.metrics.SessionClosed(frontendName)
		s.logger.Info("session closed", "session_id", c.sess.ID, "thread_id", c.sess.ThreadID())
	}
	s.mu.Unlock()

	s.wg.Done()
}

// Close disconnects every socket and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		_ = c.ws.Close()
	}
	s.wg.Wait()
}

// conn is one browser socket. It implements orchestrator.UI.
type conn struct {
	server *Server
	ws     *websocket.Conn
	sess   *orchestrator.Session
	send   chan []byte
	turns  chan string
	ctx    context.Context
	cancel context.CancelFunc
}

// readPump decodes frames until the socket fails, queueing user messages.
func (c *conn) readPump() {
	cfg := c.server.cfg
	logger := c.server.logger.With("session_id", c.sess.ID)

	c.ws.SetReadLimit(cfg.MaxMessageSize)
	readWait := 2 * cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))

		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.notice("Error: could not read message")
			continue
		}
		if f.Type != frameUserMessage {
			c.notice("Error: unsupported message type " + f.Type)
			continue
		}
		text := strings.TrimSpace(f.Content)
		if text == "" {
			continue
		}

		select {
		case c.turns <- text:
		default:
			logger.Warn("turn queue full, dropping message")
			c.notice("Error: too many pending messages, please wait for a reply")
		}
	}
}

// worker bootstraps the thread, then runs queued turns one at a time.
func (c *conn) worker() {
	logger := c.server.logger.With("session_id", c.sess.ID)

	if _, err := c.server.conv.EnsureThread(c.ctx, c.sess); err != nil {
		// Turns will report the missing thread to the user.
		logger.Error("thread bootstrap failed", "error", err)
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case text := <-c.turns:
			if _, err := c.server.conv.HandleTurn(c.ctx, c.sess, c, text); err != nil {
				logger.Debug("turn ended with error", "error", err)
			}
		}
	}
}

// writePump owns all writes to the socket.
func (c *conn) writePump() {
	cfg := c.server.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Debug("websocket write failed", "session_id", c.sess.ID, "error", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// Send implements orchestrator.UI.
func (c *conn) Send(ctx context.Context, m *orchestrator.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return c.enqueue(ctx, newOutFrame(frameMessage, m))
}

// Update implements orchestrator.UI.
func (c *conn) Update(ctx context.Context, m *orchestrator.Message) error {
	if m.ID == "" {
		return errors.New("update without message id")
	}
	return c.enqueue(ctx, newOutFrame(frameUpdate, m))
}

func (c *conn) enqueue(ctx context.Context, f outFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return errClosed
	}
}

// notice shows a system message without blocking the read pump.
func (c *conn) notice(text string) {
	data, err := json.Marshal(newOutFrame(frameMessage, &orchestrator.Message{
		ID:      uuid.NewString(),
		Author:  orchestrator.AuthorSystem,
		Content: text,
	}))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
