// Package orchestrator runs chat sessions against the hosted agent service.
//
// # Overview
//
// Every frontend (web chat, Matrix, the CLI) hands the orchestrator two
// events:
//
//   - session started: EnsureThread gives the session a thread
//   - message received: HandleTurn runs one turn on that thread
//
// A turn always shows the user exactly one placeholder ("thinking...") and
// applies exactly one update to it: the agent's reply, or "Error: ..." when
// anything on the way failed.
//
// # Sessions
//
// A Session belongs to the frontend connection that created it and holds at
// most one thread id. Sessions share nothing but the AgentService, so many of
// them can run turns at the same time. Turns inside one session are expected
// to be serialized by the frontend.
//
// # Bootstrap policies
//
//   - empty: create an empty thread
//   - greeting: create a thread seeded with a greeting and run the agent on
//     it; a failed greeting run is logged and the thread is kept
//
// # Completion strategies
//
//   - polling: create the run, then poll it with agentsvc.Waiter
//   - blocking: one CreateAndProcessRun call on the service client
//
// Both wait with the same bounded completion protocol.
package orchestrator
