// ABOUTME: Wire types for the hosted agent service: threads, messages, runs
// ABOUTME: RunStatus carries the active/terminal classification used when waiting

package agentsvc

// RunStatus is the lifecycle state of a run as reported by the service.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether the run will not change status again.
// Unknown values are not terminal so that callers keep waiting on them.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	default:
		return false
	}
}

// Role identifies the author of a thread message.
type Role string

const (
	RoleUser Role = "user"
	// RoleAgent is serialized as "assistant" by the service.
	RoleAgent Role = "assistant"
)

// Thread is a server-side conversation.
type Thread struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// RunError is the last error recorded on a run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RunError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Run is a unit of agent work against a thread.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"thread_id"`
	AgentID     string    `json:"assistant_id"`
	Status      RunStatus `json:"status"`
	LastError   *RunError `json:"last_error,omitempty"`
	CreatedAt   int64     `json:"created_at"`
	CompletedAt *int64    `json:"completed_at,omitempty"`
}

// MessageOptions describes a message to seed into a new thread.
type MessageOptions struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ContentPart is one part of a message body. Only text parts carry Text.
type ContentPart struct {
	Type string    `json:"type"`
	Text *TextPart `json:"text,omitempty"`
}

// TextPart holds the value of a text content part.
type TextPart struct {
	Value string `json:"value"`
}

// Message is a message stored on a thread.
type Message struct {
	ID        string        `json:"id"`
	ThreadID  string        `json:"thread_id"`
	Role      Role          `json:"role"`
	Content   []ContentPart `json:"content"`
	RunID     string        `json:"run_id,omitempty"`
	CreatedAt int64         `json:"created_at"`
}

// Text returns the value of the last text part, "" if the message has none.
func (m *Message) Text() string {
	for i := len(m.Content) - 1; i >= 0; i-- {
		if p := m.Content[i]; p.Type == "text" && p.Text != nil {
			return p.Text.Value
		}
	}
	return ""
}

// SortOrder selects the order ListMessages returns messages in.
type SortOrder string

const (
	OrderAscending  SortOrder = "asc"
	OrderDescending SortOrder = "desc"
)

type messageList struct {
	Data    []*Message `json:"data"`
	FirstID string     `json:"first_id"`
	LastID  string     `json:"last_id"`
	HasMore bool       `json:"has_more"`
}

type createMessageRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type createRunRequest struct {
	AgentID string `json:"assistant_id"`
}

type threadOptions struct {
	Messages []MessageOptions `json:"messages,omitempty"`
}

type createThreadAndRunRequest struct {
	AgentID string        `json:"assistant_id"`
	Thread  threadOptions `json:"thread"`
}

type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
