// ABOUTME: Per-room turn worker and the orchestrator.UI backed by Matrix events
// ABOUTME: Message ids handed to the orchestrator are Matrix event ids

package matrix

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/orchestrator"
	"github.com/2389/coven-relay/internal/render"
)

// room is one Matrix room's session and turn queue.
type room struct {
	bridge *Bridge
	id     id.RoomID
	sess   *orchestrator.Session
	turns  chan string
}

// run bootstraps the room's thread, then handles turns in order until ctx ends.
func (r *room) run(ctx context.Context) {
	logger := r.bridge.logger.With("room", r.id.String())

	if _, err := r.bridge.conv.EnsureThread(ctx, r.sess); err != nil {
		logger.Error("thread bootstrap failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-r.turns:
			if r.bridge.cfg.TypingIndicator {
				r.bridge.setTyping(r.id, true)
			}
			if _, err := r.bridge.conv.HandleTurn(ctx, r.sess, r, text); err != nil {
				logger.Debug("turn ended with error", "error", err)
			}
			if r.bridge.cfg.TypingIndicator {
				r.bridge.setTyping(r.id, false)
			}
		}
	}
}

// Send posts m as a new event and stores the event id in m.ID.
func (r *room) Send(ctx context.Context, m *orchestrator.Message) error {
	resp, err := r.bridge.out.SendMessageEvent(ctx, r.id, event.EventMessage, messageContent(m))
	if err != nil {
		return fmt.Errorf("sending to %s: %w", r.id, err)
	}
	m.ID = resp.EventID.String()
	return nil
}

// Update replaces the event m.ID with m's content.
func (r *room) Update(ctx context.Context, m *orchestrator.Message) error {
	if m.ID == "" {
		return errors.New("update without event id")
	}
	content := messageContent(m)
	content.SetEdit(id.EventID(m.ID))
	if _, err := r.bridge.out.SendMessageEvent(ctx, r.id, event.EventMessage, content); err != nil {
		return fmt.Errorf("editing %s in %s: %w", m.ID, r.id, err)
	}
	return nil
}

// messageContent builds the event body, adding formatted HTML when the text has markup.
func messageContent(m *orchestrator.Message) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: m.Content}
	if m.Author == orchestrator.AuthorSystem {
		content.MsgType = event.MsgNotice
	}
	if html, err := render.Markdown(m.Content); err == nil && !render.IsPlain(m.Content, html) {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}
