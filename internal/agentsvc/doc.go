// Package agentsvc is the client for the hosted agent service.
//
// # Overview
//
// The agent service owns every piece of conversation state: threads, the
// messages on them and the runs that let an agent process a thread. This
// package speaks its REST/JSON API and exposes the handful of operations the
// relay needs:
//
//   - CreateThread: start an empty thread
//   - CreateThreadAndRun: start a thread seeded with messages and run it
//   - CreateMessage: append a message to a thread
//   - CreateRun / GetRun: trigger a run and read its status
//   - ListMessages: read the thread back; LastByRole picks the newest reply
//   - CreateAndProcessRun: trigger a run and return once it is terminal
//
// # Runs
//
// A run moves through queued, in_progress and optionally requires_action
// before it lands on completed, failed, cancelled or expired. The relay never
// sets a status; it only reads it. Waiter implements the polling side:
//
//	w := agentsvc.NewWaiter(client, agentsvc.WaiterConfig{
//	    Interval: time.Second,
//	    MaxWait:  5 * time.Minute,
//	})
//	run, err := w.Wait(ctx, run)
//
// Waiter takes a Clock so tests can drive status sequences without sleeping.
//
// # Errors
//
// Non-2xx responses are returned as *APIError. A run that ends in failed is
// reported by callers as *RunFailedError carrying the service's last_error.
// Waiting longer than MaxWait returns ErrRunTimeout.
//
// # Concurrency
//
// A Client is safe for concurrent use. One Client (one pooled http.Client and
// one token source) is meant to be shared by every session in the process.
package agentsvc
