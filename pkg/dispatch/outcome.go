package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is a misconfiguration found before submission:
	// no command, no template, no credentials or no kubectl.
	ErrConfiguration = errors.New("configuration error")

	// ErrPodNotFound is returned when no pod of the job starts in time.
	ErrPodNotFound = errors.New("pod not found")

	// ErrTimeout is returned when the job does not terminate in time.
	ErrTimeout = errors.New("timeout")

	// ErrIndeterminate is returned in strict mode, when the job and its pod
	// have gone before the exit code is observed.
	ErrIndeterminate = errors.New("job disappeared before its exit code was observed")
)

// Resolution tells how an Outcome has been determined.
type Resolution string

const (
	// the exit code is read from the terminated container.
	ResolutionExitCode Resolution = "exit-code-observed"

	// the exit code is inferred from the condition of the job.
	ResolutionJobCondition Resolution = "job-condition-observed"

	// the job and the pod have gone with no evidence of failure.
	//
	// This is a convention, not an observation.
	ResolutionAssumedSuccess Resolution = "assumed-success"

	// nothing has been submitted.
	ResolutionDryRun Resolution = "dry-run"
)

// Outcome of an Invocation.
type Outcome struct {
	ExitCode   int
	Resolution Resolution
}

func (o Outcome) Success() bool {
	return o.ExitCode == 0
}

func (o Outcome) String() string {
	return fmt.Sprintf("exit code %d (%s)", o.ExitCode, o.Resolution)
}

// State of an Invocation, for logging.
type State string

const (
	Submitted                State = "Submitted"
	PodPending               State = "PodPending"
	PodRunning               State = "PodRunning"
	ExitObserved             State = "ExitObserved"
	JobDeletedAssumedSuccess State = "JobDeletedAssumedSuccess"
	Timeout                  State = "Timeout"
)

// ExitCode maps an error to the exit code of the dispatcher.
//
// nil is 0. An error which has `ExitCode() int` in its chain
// (for example, a failed kubectl) is that code. Others are 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		if c := coded.ExitCode(); 0 < c {
			return c
		}
	}
	return 1
}
