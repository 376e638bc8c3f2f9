// ABOUTME: Conversation orchestrator: thread bootstrap and the per-message turn
// ABOUTME: Every turn error is caught here and shown in place of the placeholder

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-relay/internal/agentsvc"
	"github.com/2389/coven-relay/internal/metrics"
)

// finalUpdateTimeout bounds the update that replaces a placeholder.
const finalUpdateTimeout = 10 * time.Second

// Display texts.
const (
	ThinkingText       = "thinking..."
	NoActiveThreadText = "Error: No active thread. Please restart the chat."
	DefaultGreeting    = "Hi! Tell me your favorite programming joke."
)

var (
	// ErrNoActiveThread is returned by HandleTurn when the session has no thread.
	ErrNoActiveThread = errors.New("no active thread")
	// ErrNoResponse is returned when the thread holds no reply from the agent.
	ErrNoResponse = errors.New("no response from the model")
)

// BootstrapPolicy selects how a session's thread is created.
type BootstrapPolicy string

const (
	BootstrapEmpty    BootstrapPolicy = "empty"
	BootstrapGreeting BootstrapPolicy = "greeting"
)

// CompletionStrategy selects how a turn waits for its run.
type CompletionStrategy string

const (
	StrategyPolling  CompletionStrategy = "polling"
	StrategyBlocking CompletionStrategy = "blocking"
)

// AgentService is the remote surface the orchestrator drives.
// *agentsvc.Client implements it.
type AgentService interface {
	CreateThread(ctx context.Context) (*agentsvc.Thread, error)
	CreateThreadAndRun(ctx context.Context, agentID string, messages []agentsvc.MessageOptions) (*agentsvc.Run, error)
	CreateMessage(ctx context.Context, threadID string, role agentsvc.Role, content string) (*agentsvc.Message, error)
	CreateRun(ctx context.Context, threadID, agentID string) (*agentsvc.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*agentsvc.Run, error)
	CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*agentsvc.Run, error)
	ListMessages(ctx context.Context, threadID string, order agentsvc.SortOrder) ([]*agentsvc.Message, error)
}

// Config configures an Orchestrator.
type Config struct {
	AgentID   string
	Bootstrap BootstrapPolicy
	// Greeting seeds new threads under BootstrapGreeting.
	Greeting string
	Strategy CompletionStrategy
	// Wait configures the polling strategy and the greeting run.
	Wait    agentsvc.WaiterConfig
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Orchestrator is shared by all sessions of a process.
type Orchestrator struct {
	agents    AgentService
	agentID   string
	bootstrap BootstrapPolicy
	greeting  string
	strategy  CompletionStrategy
	waiter    *agentsvc.Waiter
	clock     agentsvc.Clock
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// New creates an Orchestrator over agents.
func New(agents AgentService, cfg Config) (*Orchestrator, error) {
	if agents == nil {
		return nil, errors.New("agent service is required")
	}
	if cfg.AgentID == "" {
		return nil, errors.New("agent id is required")
	}

	switch cfg.Bootstrap {
	case "":
		cfg.Bootstrap = BootstrapEmpty
	case BootstrapEmpty, BootstrapGreeting:
	default:
		return nil, fmt.Errorf("unknown bootstrap policy %q", cfg.Bootstrap)
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyPolling
	case StrategyPolling, StrategyBlocking:
	default:
		return nil, fmt.Errorf("unknown completion strategy %q", cfg.Strategy)
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Wait.Clock == nil {
		cfg.Wait.Clock = agentsvc.RealClock()
	}
	logger := cfg.Logger.With("component", "orchestrator")
	if cfg.Wait.Logger == nil {
		cfg.Wait.Logger = logger
	}

	return &Orchestrator{
		agents:    agents,
		agentID:   cfg.AgentID,
		bootstrap: cfg.Bootstrap,
		greeting:  cfg.Greeting,
		strategy:  cfg.Strategy,
		waiter:    agentsvc.NewWaiter(agents, cfg.Wait),
		clock:     cfg.Wait.Clock,
		metrics:   cfg.Metrics,
		logger:    logger,
	}, nil
}

// EnsureThread returns the session's thread id, creating the thread on first use.
func (o *Orchestrator) EnsureThread(ctx context.Context, sess *Session) (string, error) {
	if id := sess.ThreadID(); id != "" {
		return id, nil
	}

	sess.boot.Lock()
	defer sess.boot.Unlock()

	// Another caller may have finished bootstrap while we waited for the lock.
	if id := sess.ThreadID(); id != "" {
		return id, nil
	}

	var (
		threadID string
		err      error
	)
	switch o.bootstrap {
	case BootstrapGreeting:
		threadID, err = o.createGreetingThread(ctx, sess)
	default:
		var thread *agentsvc.Thread
		thread, err = o.agents.CreateThread(ctx)
		if err == nil {
			threadID = thread.ID
		}
	}
	if err != nil {
		return "", fmt.Errorf("bootstrapping thread: %w", err)
	}
	if threadID == "" {
		return "", errors.New("bootstrapping thread: service returned no thread id")
	}

	sess.setThreadID(threadID)
	o.metrics.ThreadCreated(string(o.bootstrap))
	o.logger.Info("thread created",
		"session_id", sess.ID,
		"frontend", sess.Frontend,
		"thread_id", threadID,
		"policy", o.bootstrap)
	return threadID, nil
}

// createGreetingThread creates a seeded thread and waits for its first run.
// Only failing to create the thread is an error; the run outcome is logged.
func (o *Orchestrator) createGreetingThread(ctx context.Context, sess *Session) (string, error) {
	run, err := o.agents.CreateThreadAndRun(ctx, o.agentID, []agentsvc.MessageOptions{
		{Role: agentsvc.RoleUser, Content: o.greeting},
	})
	if err != nil {
		return "", err
	}

	done, err := o.waiter.Wait(ctx, run)
	switch {
	case err != nil:
		o.logger.Warn("greeting run did not finish",
			"session_id", sess.ID,
			"thread_id", run.ThreadID,
			"run_id", run.ID,
			"error", err)
	case done.Status != agentsvc.RunStatusCompleted:
		o.logger.Warn("greeting run failed",
			"session_id", sess.ID,
			"thread_id", run.ThreadID,
			"run_id", run.ID,
			"status", done.Status,
			"error", done.LastError.String())
	default:
		o.logger.Debug("greeting run completed", "thread_id", run.ThreadID, "run_id", run.ID)
	}
	return run.ThreadID, nil
}

// HandleTurn sends text on the session's thread and displays the agent's reply.
//
// Without a thread it shows NoActiveThreadText and returns ErrNoActiveThread
// without calling the service. Otherwise it shows one placeholder and updates
// it once, with the reply or with "Error: <message>". The returned error is
// informational: it has already been shown to the user.
func (o *Orchestrator) HandleTurn(ctx context.Context, sess *Session, ui UI, text string) (string, error) {
	threadID := sess.ThreadID()
	if threadID == "" {
		o.metrics.TurnFinished(metrics.OutcomeNoThread)
		if err := ui.Send(ctx, &Message{Author: AuthorSystem, Content: NoActiveThreadText}); err != nil {
			o.logger.Error("failed to show no-thread error", "session_id", sess.ID, "error", err)
		}
		return "", ErrNoActiveThread
	}

	placeholder := &Message{Author: AuthorAgent, Content: ThinkingText}
	if err := ui.Send(ctx, placeholder); err != nil {
		o.metrics.TurnFinished(metrics.OutcomeError)
		o.logger.Error("failed to show placeholder", "session_id", sess.ID, "error", err)
		return "", fmt.Errorf("sending placeholder: %w", err)
	}

	reply, turnErr := o.runTurn(ctx, threadID, text)
	outcome := metrics.OutcomeReply
	if turnErr != nil {
		outcome = metrics.OutcomeError
		placeholder.Content = "Error: " + turnErr.Error()
		o.logger.Warn("turn failed",
			"session_id", sess.ID,
			"thread_id", threadID,
			"error", turnErr)
	} else {
		placeholder.Content = reply
		o.logger.Debug("agent reply", "thread_id", threadID, "reply", truncate(reply, 80))
	}

	// The placeholder is replaced even when the turn's context was cancelled.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalUpdateTimeout)
	err := ui.Update(updateCtx, placeholder)
	cancel()
	if err != nil {
		o.logger.Error("failed to update placeholder",
			"session_id", sess.ID,
			"message_id", placeholder.ID,
			"error", err)
		if turnErr == nil {
			outcome = metrics.OutcomeError
			turnErr = fmt.Errorf("updating reply: %w", err)
		}
	}
	o.metrics.TurnFinished(outcome)

	if turnErr != nil {
		return "", turnErr
	}
	return reply, nil
}

// runTurn performs the remote half of a turn and returns the reply text.
func (o *Orchestrator) runTurn(ctx context.Context, threadID, text string) (string, error) {
	if _, err := o.agents.CreateMessage(ctx, threadID, agentsvc.RoleUser, text); err != nil {
		return "", err
	}

	run, err := o.process(ctx, threadID)
	if err != nil {
		return "", err
	}
	if err := agentsvc.CheckRun(run); err != nil {
		return "", err
	}

	msgs, err := o.agents.ListMessages(ctx, threadID, agentsvc.OrderAscending)
	if err != nil {
		return "", err
	}
	last := agentsvc.LastByRole(msgs, agentsvc.RoleAgent)
	if last == nil || last.Text() == "" {
		return "", ErrNoResponse
	}
	// A reply tagged with an older run means this run produced nothing.
	if last.RunID != "" && run.ID != "" && last.RunID != run.ID {
		return "", ErrNoResponse
	}
	return last.Text(), nil
}

// process triggers a run with the configured strategy and returns it terminal.
func (o *Orchestrator) process(ctx context.Context, threadID string) (*agentsvc.Run, error) {
	start := o.clock.Now()
	defer func() { o.metrics.ObserveRunWait(o.clock.Now().Sub(start)) }()

	if o.strategy == StrategyBlocking {
		return o.agents.CreateAndProcessRun(ctx, threadID, o.agentID)
	}

	run, err := o.agents.CreateRun(ctx, threadID, o.agentID)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("run created", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
	return o.waiter.Wait(ctx, run)
}

// truncate shortens s to maxLen runes for logging.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
