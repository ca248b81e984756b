package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/starlake-ai/starlake-data-stack/pkg/utils/retry"
	k8s "github.com/starlake-ai/starlake-data-stack/pkg/workloads/k8s"
	"go.uber.org/zap"
)

// JobOptions configures JobRunner.
type JobOptions struct {
	// Container is the container whose logs and exit code are observed.
	// Empty means the first container.
	Container string

	// Root fills PlaceholderRoot, unless the invocation has an assignment for `SL_ROOT`.
	Root string

	// EnvPrefix selects variables of Environ forwarded into the environment block.
	EnvPrefix string

	// Environ is the environment of the dispatcher, as `KEY=VALUE` list.
	Environ []string

	// how to wait for a pod: Attempts times, at Interval.
	PodWaitAttempts int
	PodWaitInterval time.Duration

	// how to wait for the job termination after logs are closed.
	CompletionTimeout  time.Duration
	CompletionInterval time.Duration

	// Strict makes an assumed-success outcome an error (ErrIndeterminate).
	Strict bool

	// DryRun prints the manifest to stdout instead of submitting it.
	DryRun bool
}

// DefaultJobOptions returns options with the default waits:
// 60 attempts at 2 seconds for pods, and 3600 seconds at 5 seconds for completion.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		EnvPrefix:          DefaultEnvPrefix,
		Environ:            os.Environ(),
		PodWaitAttempts:    60,
		PodWaitInterval:    2 * time.Second,
		CompletionTimeout:  3600 * time.Second,
		CompletionInterval: 5 * time.Second,
	}
}

// JobRunner runs an Invocation as a Kubernetes Job.
type JobRunner struct {
	cluster  k8s.Cluster
	template *Template
	options  JobOptions
	logger   *zap.Logger
	stdout   io.Writer

	now    func() time.Time
	suffix func() string
}

var _ Runner = &JobRunner{}

// NewJobRunner creates a JobRunner.
//
// cluster can be nil in dry-run.
func NewJobRunner(cluster k8s.Cluster, template *Template, options JobOptions, logger *zap.Logger, stdout io.Writer) *JobRunner {
	return &JobRunner{
		cluster:  cluster,
		template: template,
		options:  options,
		logger:   logger,
		stdout:   stdout,
		now:      time.Now,
		suffix:   RandomSuffix,
	}
}

// WithNaming replaces the clock and the random suffix used for job names.
// It returns the receiver.
func (r *JobRunner) WithNaming(now func() time.Time, suffix func() string) *JobRunner {
	r.now = now
	r.suffix = suffix
	return r
}

// Manifest renders the Job manifest for the invocation.
//
// # Returns
//
// - string: the name of the job.
//
// - []byte: the manifest.
func (r *JobRunner) Manifest(inv Invocation) (string, []byte) {
	name := JobName(inv.Command, r.now(), r.suffix())
	env := r.environment(inv)

	root := r.options.Root
	if v, ok := env["SL_ROOT"]; ok && v != "" {
		root = v
	}

	return name, r.template.Render(Values{
		JobName: name,
		Args:    inv.FinalArgs(),
		Root:    root,
		Env:     env,
	})
}

// environment merges prefixed variables of the dispatcher with assignments of the invocation.
// Assignments of the invocation win.
func (r *JobRunner) environment(inv Invocation) map[string]string {
	prefix := r.options.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	env := map[string]string{}
	for _, kv := range r.options.Environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		env[k] = v
	}
	for k, v := range inv.Env {
		env[k] = v
	}
	return env
}

func (r *JobRunner) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	if r.options.DryRun {
		name, manifest := r.Manifest(inv)
		r.logger.Info("dry run: job is not submitted", zap.String("job", name))
		if _, err := r.stdout.Write(manifest); err != nil {
			return Outcome{}, err
		}
		return Outcome{ExitCode: 0, Resolution: ResolutionDryRun}, nil
	}

	jobName, err := r.Submit(ctx, inv)
	if err != nil {
		return Outcome{}, err
	}

	podName, err := r.AwaitPod(ctx, jobName)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := r.StreamAndResolve(ctx, jobName, podName)
	if err != nil {
		return outcome, err
	}

	if outcome.Resolution == ResolutionAssumedSuccess && r.options.Strict {
		return Outcome{ExitCode: 1, Resolution: outcome.Resolution}, fmt.Errorf(
			"%w: job %s", ErrIndeterminate, jobName,
		)
	}
	return outcome, nil
}

// Submit renders the manifest and applies it.
//
// # Returns
//
// - string: the name of the submitted job.
//
// - error: error from the cluster, as is in its chain.
func (r *JobRunner) Submit(ctx context.Context, inv Invocation) (string, error) {
	name, manifest := r.Manifest(inv)
	log := r.logger.With(zap.String("job", name), zap.String("namespace", r.cluster.Namespace()))

	job, err := r.cluster.SubmitJob(ctx, manifest)
	if err != nil {
		log.Error("failed to submit job", zap.Error(err))
		return "", fmt.Errorf("submitting job %s: %w", name, err)
	}
	if job.Name() != "" {
		name = job.Name()
	}
	log.Info("job is submitted", zap.String("state", string(Submitted)))
	return name, nil
}

// AwaitPod waits for a pod of the job leaving phase Pending.
//
// When no such pod is found in time, it returns ErrPodNotFound with the dump of the job.
func (r *JobRunner) AwaitPod(ctx context.Context, jobName string) (string, error) {
	log := r.logger.With(zap.String("job", jobName))

	attempts := r.options.PodWaitAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.Immediately(
		retry.Limited(attempts-1, retry.StaticBackoff(r.options.PodWaitInterval)),
	)

	pending := false
	podName, err := retry.Blocking(ctx, backoff, func() (string, error) {
		pods, err := r.cluster.FindPods(ctx, jobName)
		if err != nil {
			log.Debug("failed to list pods; retry", zap.Error(err))
			return "", retry.ErrRetry
		}
		for _, p := range pods {
			if p.Phase() != k8s.PodPending {
				return p.Name(), nil
			}
		}
		if 0 < len(pods) && !pending {
			pending = true
			log.Info("pod is pending", zap.String("pod", pods[0].Name()), zap.String("state", string(PodPending)))
		}
		return "", retry.ErrRetry
	})
	if err != nil {
		if errors.Is(err, retry.ErrGaveUp) {
			return "", fmt.Errorf(
				"%w: no pod of job %s started after %d attempts\n%s",
				ErrPodNotFound, jobName, attempts, r.dumpJob(ctx, jobName),
			)
		}
		return "", err
	}

	log.Info("pod is running", zap.String("pod", podName), zap.String("state", string(PodRunning)))
	return podName, nil
}

// StreamAndResolve copies logs of the pod to stdout, and then resolves the outcome.
//
// After logs are closed, the exit code of the container is read at once.
// If it is not available yet, the pod and the job are polled until
// the exit code or a job condition is observed.
// When both of the job and the pod have gone, the outcome is ResolutionAssumedSuccess.
// When nothing is observed in time, it returns ErrTimeout.
func (r *JobRunner) StreamAndResolve(ctx context.Context, jobName string, podName string) (Outcome, error) {
	log := r.logger.With(zap.String("job", jobName), zap.String("pod", podName))

	if err := r.stream(ctx, podName); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Warn("log stream is broken", zap.Error(err))
	}

	if pod, err := r.cluster.GetPod(ctx, podName); err == nil {
		if code, reason, ok := pod.ExitCode(r.options.Container); ok {
			return r.observed(log, int(code), reason), nil
		}
	}

	backoff := retry.Within(
		r.options.CompletionTimeout, retry.StaticBackoff(r.options.CompletionInterval),
	)
	outcome, err := retry.Blocking(ctx, backoff, func() (Outcome, error) {
		pod, err := r.cluster.GetPod(ctx, podName)
		podGone := false
		switch {
		case err == nil:
			if code, reason, ok := pod.ExitCode(r.options.Container); ok {
				return r.observed(log, int(code), reason), nil
			}
		case k8s.IsMissing(err):
			podGone = true
		default:
			log.Debug("failed to get pod; retry", zap.Error(err))
		}

		job, err := r.cluster.GetJob(ctx, jobName)
		switch {
		case err == nil:
		case k8s.IsMissing(err):
			if !podGone {
				return Outcome{}, retry.ErrRetry
			}
			log.Warn(
				"job and pod have gone before the exit code is observed; assuming success",
				zap.String("state", string(JobDeletedAssumedSuccess)),
			)
			return Outcome{ExitCode: 0, Resolution: ResolutionAssumedSuccess}, nil
		default:
			log.Debug("failed to get job; retry", zap.Error(err))
			return Outcome{}, retry.ErrRetry
		}

		switch job.Status() {
		case k8s.Succeeded:
			log.Info("job is complete", zap.Int("exitCode", 0), zap.String("state", string(ExitObserved)))
			return Outcome{ExitCode: 0, Resolution: ResolutionJobCondition}, nil
		case k8s.Failed:
			log.Info("job has failed", zap.Int("exitCode", 1), zap.String("state", string(ExitObserved)))
			return Outcome{ExitCode: 1, Resolution: ResolutionJobCondition}, nil
		}
		return Outcome{}, retry.ErrRetry
	})
	if err != nil {
		if errors.Is(err, retry.ErrDeadlineExceeded) {
			log.Error("job did not terminate in time", zap.String("state", string(Timeout)))
			return Outcome{}, fmt.Errorf(
				"%w: job %s did not terminate in %s\n%s",
				ErrTimeout, jobName, r.options.CompletionTimeout, r.dumpJob(ctx, jobName),
			)
		}
		return Outcome{}, err
	}
	return outcome, nil
}

func (r *JobRunner) observed(log *zap.Logger, code int, reason string) Outcome {
	log.Info(
		"container has terminated",
		zap.Int("exitCode", code), zap.String("reason", reason),
		zap.String("state", string(ExitObserved)),
	)
	return Outcome{ExitCode: code, Resolution: ResolutionExitCode}
}

func (r *JobRunner) stream(ctx context.Context, podName string) error {
	logs, err := r.cluster.Log(ctx, podName, r.options.Container)
	if err != nil {
		return err
	}
	defer logs.Close()
	_, err = io.Copy(r.stdout, logs)
	return err
}

func (r *JobRunner) dumpJob(ctx context.Context, jobName string) string {
	job, err := r.cluster.GetJob(context.WithoutCancel(ctx), jobName)
	if err != nil {
		return fmt.Sprintf("(job %s is not available: %s)", jobName, err)
	}
	return job.Dump()
}
