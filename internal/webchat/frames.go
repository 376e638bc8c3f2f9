// ABOUTME: JSON frames exchanged with the browser over the chat websocket
// ABOUTME: Outbound frames carry both raw text and rendered HTML

package webchat

import (
	"github.com/2389/coven-relay/internal/orchestrator"
	"github.com/2389/coven-relay/internal/render"
)

const (
	frameUserMessage = "user_message"
	frameMessage     = "message"
	frameUpdate      = "update"
)

// inFrame is sent by the browser.
type inFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// outFrame is sent to the browser.
type outFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Author  string `json:"author"`
	Content string `json:"content"`
	HTML    string `json:"html,omitempty"`
}

func newOutFrame(typ string, m *orchestrator.Message) outFrame {
	f := outFrame{Type: typ, ID: m.ID, Author: m.Author, Content: m.Content}
	if html, err := render.Markdown(m.Content); err == nil {
		f.HTML = html
	}
	return f
}
