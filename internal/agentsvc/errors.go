// ABOUTME: Error types returned by the agent service client
// ABOUTME: APIError for HTTP failures, RunFailedError for failed runs, ErrRunTimeout for bounded waits

package agentsvc

import (
	"errors"
	"fmt"
)

// ErrRunTimeout is returned when a run does not reach a terminal status within MaxWait.
var ErrRunTimeout = errors.New("run did not finish in time")

// APIError is a non-2xx response from the agent service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("agent service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("agent service returned %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("agent service returned %d", e.StatusCode)
	}
}

// RunFailedError reports a run that ended in a non-completed terminal status.
type RunFailedError struct {
	RunID     string
	Status    RunStatus
	LastError *RunError
}

func (e *RunFailedError) Error() string {
	if e.Status == RunStatusFailed {
		return fmt.Sprintf("run %s failed: %s", e.RunID, e.LastError.String())
	}
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}

// CheckRun converts a terminal run into an error unless it completed.
func CheckRun(run *Run) error {
	if run.Status == RunStatusCompleted {
		return nil
	}
	return &RunFailedError{RunID: run.ID, Status: run.Status, LastError: run.LastError}
}
