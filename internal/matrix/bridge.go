// ABOUTME: Matrix frontend: each room is one orchestrator session
// ABOUTME: Placeholders are sent as m.text and replaced in place with m.replace edits

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/orchestrator"
)

const frontendName = "matrix"

// networkTimeout bounds Matrix API calls that are not part of a turn.
const networkTimeout = 10 * time.Second

// queueFullText is posted when a room already has QueueSize turns waiting.
const queueFullText = "Error: too many pending messages, please wait for a reply"

// typingTimeout is how long the typing indicator shows per turn.
const typingTimeout = 30 * time.Second

// Conversation is the part of the orchestrator the bridge drives.
type Conversation interface {
	EnsureThread(ctx context.Context, sess *orchestrator.Session) (string, error)
	HandleTurn(ctx context.Context, sess *orchestrator.Session, ui orchestrator.UI, text string) (string, error)
}

// Messenger is the subset of *mautrix.Client the bridge writes with.
type Messenger interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	JoinRoomByID(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinRoom, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Config configures the bridge.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AllowedRooms limits the rooms served; empty serves every joined room.
	AllowedRooms []string
	// CommandPrefix, when set, must start a message for it to be handled.
	CommandPrefix   string
	TypingIndicator bool
	// QueueSize bounds pending turns per room.
	QueueSize int
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Bridge connects Matrix rooms to the orchestrator.
type Bridge struct {
	cfg     Config
	userID  id.UserID
	conv    Conversation
	client  *mautrix.Client
	out     Messenger
	seen    *dedupe.Cache
	metrics *metrics.Recorder
	logger  *slog.Logger

	// startedAt filters out history replayed by the first sync.
	startedAt time.Time

	mu    sync.Mutex
	rooms map[id.RoomID]*room
	ctx   context.Context
	wg    sync.WaitGroup
}

// New creates a bridge with a mautrix client for cfg.
func New(cfg Config, conv Conversation) (*Bridge, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix homeserver, user id and access token are required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	b := newBridge(cfg, conv, client)
	b.client = client
	return b, nil
}

func newBridge(cfg Config, conv Conversation, out Messenger) *Bridge {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		userID:  id.UserID(cfg.UserID),
		conv:    conv,
		out:     out,
		seen:    dedupe.New(time.Hour, 10000),
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "matrix"),
		rooms:   make(map[id.RoomID]*room),
		ctx:     context.Background(),
	}
}

// Run syncs with the homeserver until ctx is cancelled or sync fails.
// Room workers are stopped before it returns.
func (b *Bridge) Run(ctx context.Context) error {
	if b.client == nil {
		return errors.New("bridge has no matrix client")
	}
	b.logger.Info("starting matrix bridge",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		b.wg.Wait()
	}()

	b.mu.Lock()
	b.ctx = ctx
	b.startedAt = time.Now()
	b.mu.Unlock()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessage)
	syncer.OnEventType(event.StateMember, b.handleMember)

	err := b.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		b.logger.Info("shutting down matrix bridge")
		return nil
	}
	return fmt.Errorf("matrix sync failed: %w", err)
}

// handleMember joins rooms the bot is invited to.
func (b *Bridge) handleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != b.userID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if !b.isRoomAllowed(evt.RoomID) {
		b.logger.Debug("ignoring invite to non-allowed room", "room", evt.RoomID.String())
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.out.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// handleMessage queues a text message as a turn for its room.
func (b *Bridge) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}
	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping duplicate event", "event_id", evt.ID.String())
		return
	}
	if b.isHistory(evt) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	// Edits of earlier messages are not new turns.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}
	if !b.isRoomAllowed(evt.RoomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}

	text, ok := b.stripPrefix(content.Body)
	if !ok || text == "" {
		return
	}

	b.logger.Info("received message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"content", truncate(text, 50),
	)

	r := b.room(evt.RoomID)
	select {
	case r.turns <- text:
	default:
		b.logger.Warn("turn queue full, dropping message", "room", evt.RoomID.String())
		b.notice(ctx, evt.RoomID, queueFullText)
	}
}

// notice posts a relay notice outside any turn.
func (b *Bridge) notice(ctx context.Context, roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	msg := &orchestrator.Message{Author: orchestrator.AuthorSystem, Content: text}
	if _, err := b.out.SendMessageEvent(ctx, roomID, event.EventMessage, messageContent(msg)); err != nil {
		b.logger.Error("failed to send notice", "room", roomID.String(), "error", err)
	}
}

// room returns the room's worker, starting it on first use.
func (b *Bridge) room(roomID id.RoomID) *room {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.rooms[roomID]; ok {
		return r
	}
	r := &room{
		bridge: b,
		id:     roomID,
		sess:   orchestrator.NewSession(roomID.String(), frontendName),
		turns:  make(chan string, b.cfg.QueueSize),
	}
	b.rooms[roomID] = r
	b.metrics.SessionOpened(frontendName)

	ctx := b.ctx
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.metrics.SessionClosed(frontendName)
		r.run(ctx)
	}()
	return r
}

func (b *Bridge) isHistory(evt *event.Event) bool {
	b.mu.Lock()
	started := b.startedAt
	b.mu.Unlock()
	return !started.IsZero() && evt.Timestamp < started.UnixMilli()
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID id.RoomID) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true
	}
	return slices.Contains(b.cfg.AllowedRooms, roomID.String())
}

// stripPrefix removes the command prefix, reporting false when it is required and absent.
func (b *Bridge) stripPrefix(body string) (string, bool) {
	body = strings.TrimSpace(body)
	if b.cfg.CommandPrefix == "" {
		return body, true
	}
	if !strings.HasPrefix(body, b.cfg.CommandPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(body, b.cfg.CommandPrefix)), true
}

// setTyping toggles the typing indicator in a room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.out.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
