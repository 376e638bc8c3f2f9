// ABOUTME: The two display primitives a frontend provides to the orchestrator
// ABOUTME: Send shows a new message, Update replaces the content of a sent one

package orchestrator

import "context"

// Authors of relay-generated messages.
const (
	AuthorAgent  = "agent"
	AuthorSystem = "system"
)

// Message is a message displayed in a frontend.
type Message struct {
	// ID is assigned by the frontend on Send.
	ID      string
	Author  string
	Content string
}

// UI is implemented by each frontend for one session.
type UI interface {
	// Send displays m and sets m.ID.
	Send(ctx context.Context, m *Message) error
	// Update re-renders a previously sent m with its current Content.
	Update(ctx context.Context, m *Message) error
}
