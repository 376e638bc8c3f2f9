// Package dedupe remembers recently seen keys for a limited time so that
// redelivered events are handled once.
package dedupe
