// Package dispatch runs starlake commands and resolves their outcome.
//
// A command runs either as a Kubernetes Job (JobRunner) or as a local subprocess (LocalRunner).
// Both behave like a local subprocess to the caller: logs go to stdout,
// and the exit code is reported in Outcome.
package dispatch

import "context"

// Runner runs an Invocation until it terminates.
type Runner interface {
	// Run runs the invocation.
	//
	// # Returns
	//
	// - Outcome: the exit code of the command and how it is determined.
	// A non-zero exit code of the command is not an error.
	//
	// - error: failure of dispatching itself. Use ExitCode to get the exit code for it.
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}
