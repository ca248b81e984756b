package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// LocalRunner runs an Invocation as a subprocess: `<executable> <command> <args...>`.
//
// Environment assignments of the invocation are added to the environment of the dispatcher.
type LocalRunner struct {
	executable string
	environ    []string
	logger     *zap.Logger
	stdout     io.Writer
	stderr     io.Writer
}

var _ Runner = &LocalRunner{}

func NewLocalRunner(executable string, logger *zap.Logger, stdout io.Writer, stderr io.Writer) *LocalRunner {
	return &LocalRunner{
		executable: executable,
		environ:    os.Environ(),
		logger:     logger,
		stdout:     stdout,
		stderr:     stderr,
	}
}

// WithEnviron replaces the base environment. It returns the receiver.
func (l *LocalRunner) WithEnviron(environ []string) *LocalRunner {
	l.environ = environ
	return l
}

func (l *LocalRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	args := inv.FinalArgs()
	cmd := exec.CommandContext(ctx, l.executable, args...)
	cmd.Env = append(append([]string{}, l.environ...), inv.EnvList()...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr

	log := l.logger.With(zap.String("executable", l.executable), zap.String("command", inv.Command))
	log.Debug("starting local process", zap.Strings("args", args))

	err := cmd.Run()
	if err == nil {
		log.Info("local process has exited", zap.Int("exitCode", 0))
		return Outcome{ExitCode: 0, Resolution: ResolutionExitCode}, nil
	}
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	exitErr := new(exec.ExitError)
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// terminated by a signal
			code = 1
		}
		log.Info("local process has exited", zap.Int("exitCode", code))
		return Outcome{ExitCode: code, Resolution: ResolutionExitCode}, nil
	}
	return Outcome{}, fmt.Errorf("%w: cannot start %s: %w", ErrConfiguration, l.executable, err)
}
