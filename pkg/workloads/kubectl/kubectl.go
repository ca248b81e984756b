// Package kubectl implements k8s.K8sClient by running the kubectl command.
//
// It is for environments where the API discovery of client-go is not available,
// but a kubectl binary is shipped in the image.
package kubectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	k8s "github.com/starlake-ai/starlake-data-stack/pkg/workloads/k8s"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// where kubectl is searched, in order.
var DefaultSearchPath = []string{
	"/usr/local/bin/kubectl",
	"/usr/bin/kubectl",
	"/opt/kubectl/kubectl",
	"/opt/bitnami/kubectl/bin/kubectl",
}

// ErrNoBinary is returned when no kubectl is found in the search path.
var ErrNoBinary = errors.New("kubectl is not found")

// Find returns the first executable file in searchPath.
//
// When nothing is found, it returns ErrNoBinary listing what has been searched.
func Find(searchPath []string) (string, error) {
	for _, p := range searchPath {
		stat, err := os.Stat(p)
		if err != nil || stat.IsDir() {
			continue
		}
		if stat.Mode().Perm()&0o111 == 0 {
			continue
		}
		return p, nil
	}
	return "", fmt.Errorf("%w (searched: %s)", ErrNoBinary, strings.Join(searchPath, ", "))
}

// CommandError is an error of a kubectl invocation which exited with non-zero.
type CommandError struct {
	Args     []string
	Code     int
	Stderr   string
	causedBy error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf(
		"kubectl %s: exit status %d: %s",
		strings.Join(e.Args, " "), e.Code, strings.TrimSpace(e.Stderr),
	)
}

func (e *CommandError) Unwrap() error {
	return e.causedBy
}

// ExitCode is the exit code of kubectl.
func (e *CommandError) ExitCode() int {
	return e.Code
}

type client struct {
	bin         string
	globalFlags []string
	stderr      io.Writer
}

var _ k8s.K8sClient = &client{}

type Option func(*client) *client

// WithGlobalFlags adds flags to every kubectl invocation, like `--kubeconfig=...`.
func WithGlobalFlags(flags ...string) Option {
	return func(c *client) *client {
		c.globalFlags = append(c.globalFlags, flags...)
		return c
	}
}

// WithStderr sets where stderr of `kubectl logs` goes. Default is os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(c *client) *client {
		c.stderr = w
		return c
	}
}

// New creates K8sClient running the kubectl at bin.
func New(bin string, options ...Option) k8s.K8sClient {
	c := &client{bin: bin, stderr: os.Stderr}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

func (c *client) args(args ...string) []string {
	return append(append([]string{}, c.globalFlags...), args...)
}

func (c *client) run(ctx context.Context, resource schema.GroupResource, name string, args ...string) ([]byte, error) {
	full := c.args(args...)
	cmd := exec.CommandContext(ctx, c.bin, full...)
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitErr := new(exec.ExitError)
	if !errors.As(err, &exitErr) {
		return nil, err
	}
	if strings.Contains(stderr.String(), "(NotFound)") {
		return nil, kubeerr.NewNotFound(resource, name)
	}
	return nil, &CommandError{
		Args: args, Code: exitErr.ExitCode(), Stderr: stderr.String(), causedBy: err,
	}
}

var (
	jobsResource = schema.GroupResource{Group: "batch", Resource: "jobs"}
	podsResource = schema.GroupResource{Resource: "pods"}
)

// ApplyJob runs `kubectl apply -f <manifest> -n <namespace> --validate=false`.
//
// The manifest is written into a temporary file, which is removed before return.
func (c *client) ApplyJob(ctx context.Context, namespace string, manifest []byte) (*kubebatch.Job, error) {
	f, err := os.CreateTemp("", "starlake-job-*.yaml")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(manifest); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	out, err := c.run(
		ctx, jobsResource, "",
		"apply", "-f", f.Name(), "-n", namespace, "--validate=false", "-o", "json",
	)
	if err != nil {
		return nil, err
	}

	job := new(kubebatch.Job)
	if err := json.Unmarshal(out, job); err != nil {
		return nil, fmt.Errorf("unexpected output of kubectl apply: %w", err)
	}
	if job.Kind != "" && job.Kind != "Job" {
		return nil, fmt.Errorf("%w: got %s", k8s.ErrNotAJob, job.Kind)
	}
	return job, nil
}

func (c *client) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	out, err := c.run(ctx, jobsResource, name, "get", "job", name, "-n", namespace, "-o", "json")
	if err != nil {
		return nil, err
	}
	job := new(kubebatch.Job)
	if err := json.Unmarshal(out, job); err != nil {
		return nil, fmt.Errorf("unexpected output of kubectl get job: %w", err)
	}
	return job, nil
}

func (c *client) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	out, err := c.run(ctx, podsResource, name, "get", "pod", name, "-n", namespace, "-o", "json")
	if err != nil {
		return nil, err
	}
	pod := new(kubecore.Pod)
	if err := json.Unmarshal(out, pod); err != nil {
		return nil, fmt.Errorf("unexpected output of kubectl get pod: %w", err)
	}
	return pod, nil
}

func (c *client) FindPods(ctx context.Context, namespace string, ls k8s.LabelSelector) ([]kubecore.Pod, error) {
	out, err := c.run(
		ctx, podsResource, "",
		"get", "pods", "-l", ls.QueryString(), "-n", namespace, "-o", "json",
	)
	if err != nil {
		return nil, err
	}
	pods := new(kubecore.PodList)
	if err := json.Unmarshal(out, pods); err != nil {
		return nil, fmt.Errorf("unexpected output of kubectl get pods: %w", err)
	}
	return pods.Items, nil
}

// Log runs `kubectl logs -f <pod> -n <namespace> -c <container>`.
//
// Closing the returned stream waits for kubectl to exit.
func (c *client) Log(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error) {
	args := []string{"logs", "-f", pod, "-n", namespace}
	if container != "" {
		args = append(args, "-c", container)
	}
	cmd := exec.CommandContext(ctx, c.bin, c.args(args...)...)
	cmd.Stderr = c.stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &logStream{ReadCloser: out, cmd: cmd}, nil
}

type logStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (l *logStream) Close() error {
	// drain, so that kubectl does not block on writing.
	io.Copy(io.Discard, l.ReadCloser)
	err := l.cmd.Wait()
	exitErr := new(exec.ExitError)
	if errors.As(err, &exitErr) {
		// log streaming has been done anyway.
		return nil
	}
	return err
}
