package k8s

import (
	"context"
	"errors"
	"fmt"
	"io"

	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/yaml"
)

// ErrNotAJob is returned when a manifest does not describe a batch/v1 Job.
var ErrNotAJob = errors.New("manifest is not a batch/v1 Job")

// ErrConflict is returned when a Job with the same name already exists.
var ErrConflict = errors.New("job already exists")

// subset of k8s.Clientset, plus "apply a manifest".
//
// Implementations should report missing resources with errors
// for which `IsMissing` is true.
type K8sClient interface {
	// ApplyJob submits a Job manifest (YAML or JSON) into the namespace.
	//
	// Schema validation is not performed on the client side;
	// a malformed manifest is rejected by the server.
	ApplyJob(ctx context.Context, namespace string, manifest []byte) (*kubebatch.Job, error)
	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)

	GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
	FindPods(ctx context.Context, namespace string, labelSelector LabelSelector) ([]kubecore.Pod, error)

	// Log follows the log of the container until the container stops.
	Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error)
}

// IsMissing tells the error means "the resource is not found".
func IsMissing(err error) bool {
	return kubeerr.IsNotFound(err)
}

// server-side field validation directive; the same as `kubectl apply --validate=false`.
const fieldValidationIgnore = "Ignore"

// A wrapper for the type kubernetes.Interface; because it does not prefer method chain-style invocations of that type.
type k8sClient struct {
	client kubernetes.Interface
}

// type check: k8sClient implements K8sClient
var _ K8sClient = &k8sClient{}

func WrapK8sClient(c kubernetes.Interface) K8sClient {
	return &k8sClient{client: c}
}

// DecodeJob parses a manifest as a batch/v1 Job.
func DecodeJob(manifest []byte) (*kubebatch.Job, error) {
	obj, gvk, err := scheme.Codecs.UniversalDeserializer().Decode(manifest, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot decode manifest: %w", err)
	}
	job, ok := obj.(*kubebatch.Job)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotAJob, gvk.String())
	}
	return job, nil
}

func (k *k8sClient) ApplyJob(ctx context.Context, namespace string, manifest []byte) (*kubebatch.Job, error) {
	job, err := DecodeJob(manifest)
	if err != nil {
		return nil, err
	}
	job.Namespace = namespace

	created, err := k.client.BatchV1().Jobs(namespace).Create(
		ctx, job,
		kubeapimeta.CreateOptions{FieldValidation: fieldValidationIgnore},
	)
	if err != nil {
		if kubeerr.IsAlreadyExists(err) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return nil, err
	}
	return created, nil
}

func (k *k8sClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	return k.client.CoreV1().Pods(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) FindPods(ctx context.Context, namespace string, labels LabelSelector) ([]kubecore.Pod, error) {
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.QueryString(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error) {
	return k.client.
		CoreV1().
		Pods(namespace).
		GetLogs(podname, &kubecore.PodLogOptions{Container: container, Follow: true}).
		Stream(ctx)
}

type JobStatus string

const (
	// the job has no terminal condition yet.
	Pending JobStatus = "Pending"

	// at least one pod has started, and the job has not completed.
	Running JobStatus = "Running"

	// the job has condition "Complete".
	Succeeded JobStatus = "Succeeded"

	// the job has condition "Failed".
	Failed JobStatus = "Failed"
)

// abstraction of k8s job.
type Job interface {
	// the name of the job
	Name() string

	// the namespace where the job is placed in
	Namespace() string

	// how does the job progress, at least
	//
	// This value is just a SNAPSHOT of the job when you get the instance.
	// To refresh, get a new instance with `Cluster.GetJob`.
	Status() JobStatus

	// Dump returns the resource in YAML, for diagnostics.
	Dump() string
}

type job struct {
	job *kubebatch.Job
}

var _ Job = &job{}

func (j *job) Name() string {
	return j.job.Name
}

func (j *job) Namespace() string {
	return j.job.Namespace
}

func (j *job) Status() JobStatus {
	for _, sc := range j.job.Status.Conditions {
		if sc.Status != kubecore.ConditionTrue {
			continue
		}
		switch sc.Type {
		case kubebatch.JobComplete:
			return Succeeded
		case kubebatch.JobFailed:
			return Failed
		}
	}

	if 0 < j.job.Status.Active || 0 < j.job.Status.Succeeded || 0 < j.job.Status.Failed {
		return Running
	}
	return Pending
}

func (j *job) Dump() string {
	return dump(j.job)
}

type PodPhase kubecore.PodPhase

var (
	PodPending   PodPhase = PodPhase(kubecore.PodPending)
	PodRunning   PodPhase = PodPhase(kubecore.PodRunning)
	PodSucceeded PodPhase = PodPhase(kubecore.PodSucceeded)
	PodFailed    PodPhase = PodPhase(kubecore.PodFailed)
	PodUnknown   PodPhase = PodPhase(kubecore.PodUnknown)
)

type Pod interface {
	Name() string
	Phase() PodPhase

	//	ExitCode returns the exit code of a container in the pod.
	//
	// # Args
	//
	// - container: name of the container. When empty, the first container is used.
	//
	// # Return
	//
	// - exitCode : the exit code of the container.
	//
	// - reason: the reason of the termination.
	//
	// - ok : true if the container has terminated, false otherwise.
	ExitCode(container string) (int32, string, bool)

	// Dump returns the resource in YAML, for diagnostics.
	Dump() string
}

type pod struct {
	description *kubecore.Pod
}

var _ Pod = &pod{}

func (p *pod) Name() string {
	return p.description.Name
}

func (p *pod) Phase() PodPhase {
	return PodPhase(p.description.Status.Phase)
}

func (p *pod) ExitCode(container string) (int32, string, bool) {
	for _, c := range p.description.Status.ContainerStatuses {
		if container != "" && c.Name != container {
			continue
		}
		if term := c.State.Terminated; term != nil {
			return term.ExitCode, term.Reason, true
		}
		break
	}
	return 0, "", false
}

func (p *pod) Dump() string {
	return dump(p.description)
}

func dump(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("(cannot dump: %s)", err)
	}
	return string(b)
}

// Cluster is a K8sClient bound to a namespace.
type Cluster interface {
	Namespace() string

	// SubmitJob applies a Job manifest.
	//
	// # Return
	//
	// - Job: the created Job.
	//
	// - error: ErrConflict when the name is already taken, ErrNotAJob for a wrong manifest,
	// or others from the client.
	SubmitJob(ctx context.Context, manifest []byte) (Job, error)

	// GetJob gets the Job by name.
	//
	// When it is not found, the error satisfies IsMissing.
	GetJob(ctx context.Context, name string) (Job, error)

	// FindPods lists Pods created by the Job.
	FindPods(ctx context.Context, jobName string) ([]Pod, error)

	// GetPod gets the Pod by name.
	//
	// When it is not found, the error satisfies IsMissing.
	GetPod(ctx context.Context, name string) (Pod, error)

	// Log follows the log of a container in the Pod.
	Log(ctx context.Context, podName string, container string) (io.ReadCloser, error)
}

type k8sCluster struct {
	client    K8sClient
	namespace string
}

// type check: k8scluster implements Cluster
var _ Cluster = &k8sCluster{}

// Attach kubernetes cluster.
//
// args:
//   - client: k8s client
//   - namespace: k8s namespace where Jobs are submitted.
func AttachCluster(client K8sClient, namespace string) Cluster {
	return &k8sCluster{client: client, namespace: namespace}
}

func (c *k8sCluster) Namespace() string {
	return c.namespace
}

func (c *k8sCluster) SubmitJob(ctx context.Context, manifest []byte) (Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	j, err := c.client.ApplyJob(ctx, c.namespace, manifest)
	if err != nil {
		return nil, err
	}
	return &job{job: j}, nil
}

func (c *k8sCluster) GetJob(ctx context.Context, name string) (Job, error) {
	j, err := c.client.GetJob(ctx, c.namespace, name)
	if err != nil {
		return nil, err
	}
	return &job{job: j}, nil
}

func (c *k8sCluster) FindPods(ctx context.Context, jobName string) ([]Pod, error) {
	pods, err := c.client.FindPods(ctx, c.namespace, JobSelector(jobName))
	if err != nil {
		return nil, err
	}
	ret := make([]Pod, 0, len(pods))
	for i := range pods {
		ret = append(ret, &pod{description: &pods[i]})
	}
	return ret, nil
}

func (c *k8sCluster) GetPod(ctx context.Context, name string) (Pod, error) {
	p, err := c.client.GetPod(ctx, c.namespace, name)
	if err != nil {
		return nil, err
	}
	return &pod{description: p}, nil
}

func (c *k8sCluster) Log(ctx context.Context, podName string, container string) (io.ReadCloser, error) {
	return c.client.Log(ctx, c.namespace, podName, container)
}
