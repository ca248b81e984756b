package k8s_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	k8s "github.com/starlake-ai/starlake-data-stack/pkg/workloads/k8s"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

const jobManifest = `
apiVersion: batch/v1
kind: Job
metadata:
  name: ingest-20240101000000-abcdef
  namespace: somewhere-else
spec:
  backoffLimit: 0
  template:
    spec:
      restartPolicy: Never
      containers:
        - name: starlake
          image: starlakeai/starlake:latest
          args: ["ingest", "--domain", "sales"]
`

func TestK8SCluster_SubmitJob(t *testing.T) {
	t.Run("it creates a Job in the cluster's namespace", func(t *testing.T) {
		ctx := context.Background()
		clientset := fake.NewSimpleClientset()
		testee := k8s.AttachCluster(k8s.WrapK8sClient(clientset), "starlake")

		job, err := testee.SubmitJob(ctx, []byte(jobManifest))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.Name() != "ingest-20240101000000-abcdef" {
			t.Errorf("name: %s", job.Name())
		}
		if job.Namespace() != "starlake" {
			t.Errorf("namespace: %s", job.Namespace())
		}

		created, err := clientset.BatchV1().Jobs("starlake").Get(ctx, job.Name(), kubeapimeta.GetOptions{})
		if err != nil {
			t.Fatalf("job is not found in the cluster: %v", err)
		}
		if diff := cmp.Diff(
			[]string{"ingest", "--domain", "sales"},
			created.Spec.Template.Spec.Containers[0].Args,
		); diff != "" {
			t.Errorf("args (-want +got):\n%s", diff)
		}
	})

	t.Run("it reports ErrConflict when the name is taken", func(t *testing.T) {
		ctx := context.Background()
		testee := k8s.AttachCluster(k8s.WrapK8sClient(fake.NewSimpleClientset()), "starlake")

		if _, err := testee.SubmitJob(ctx, []byte(jobManifest)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := testee.SubmitJob(ctx, []byte(jobManifest)); !errors.Is(err, k8s.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("it rejects a manifest which is not a Job", func(t *testing.T) {
		podManifest := `
apiVersion: v1
kind: Pod
metadata:
  name: not-a-job
spec:
  containers:
    - name: main
      image: busybox
`
		testee := k8s.AttachCluster(k8s.WrapK8sClient(fake.NewSimpleClientset()), "starlake")
		if _, err := testee.SubmitJob(context.Background(), []byte(podManifest)); !errors.Is(err, k8s.ErrNotAJob) {
			t.Errorf("expected ErrNotAJob, got %v", err)
		}
	})

	t.Run("it rejects a broken manifest", func(t *testing.T) {
		testee := k8s.AttachCluster(k8s.WrapK8sClient(fake.NewSimpleClientset()), "starlake")
		if _, err := testee.SubmitJob(context.Background(), []byte("{{ not yaml")); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("it does not submit when the context is done", func(t *testing.T) {
		clientset := fake.NewSimpleClientset()
		testee := k8s.AttachCluster(k8s.WrapK8sClient(clientset), "starlake")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := testee.SubmitJob(ctx, []byte(jobManifest)); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if n := len(clientset.Actions()); n != 0 {
			t.Errorf("client is called %d times", n)
		}
	})
}

func TestK8SCluster_GetJob(t *testing.T) {
	for name, testcase := range map[string]struct {
		when kubebatch.JobStatus
		then k8s.JobStatus
	}{
		"a job without pods is pending": {
			when: kubebatch.JobStatus{},
			then: k8s.Pending,
		},
		"a job with active pods is running": {
			when: kubebatch.JobStatus{Active: 1},
			then: k8s.Running,
		},
		"a job with condition Complete is succeeded": {
			when: kubebatch.JobStatus{
				Succeeded: 1,
				Conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobComplete, Status: kubecore.ConditionTrue},
				},
			},
			then: k8s.Succeeded,
		},
		"a job with condition Failed is failed": {
			when: kubebatch.JobStatus{
				Failed: 1,
				Conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobFailed, Status: kubecore.ConditionTrue},
				},
			},
			then: k8s.Failed,
		},
		"a condition which is not True is ignored": {
			when: kubebatch.JobStatus{
				Active: 1,
				Conditions: []kubebatch.JobCondition{
					{Type: kubebatch.JobFailed, Status: kubecore.ConditionFalse},
				},
			},
			then: k8s.Running,
		},
	} {
		t.Run(name, func(t *testing.T) {
			clientset := fake.NewSimpleClientset(&kubebatch.Job{
				ObjectMeta: kubeapimeta.ObjectMeta{Name: "job", Namespace: "starlake"},
				Status:     testcase.when,
			})
			testee := k8s.AttachCluster(k8s.WrapK8sClient(clientset), "starlake")

			job, err := testee.GetJob(context.Background(), "job")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := job.Status(); got != testcase.then {
				t.Errorf("status: (actual, expected) = (%s, %s)", got, testcase.then)
			}
			if !strings.Contains(job.Dump(), "name: job") {
				t.Errorf("dump does not describe the job:\n%s", job.Dump())
			}
		})
	}

	t.Run("a missing job is reported with IsMissing", func(t *testing.T) {
		testee := k8s.AttachCluster(k8s.WrapK8sClient(fake.NewSimpleClientset()), "starlake")
		_, err := testee.GetJob(context.Background(), "nothing")
		if !k8s.IsMissing(err) {
			t.Errorf("expected missing, got %v", err)
		}
	})
}

func TestK8SCluster_Pods(t *testing.T) {
	podOf := func(name, jobName string, status kubecore.PodStatus) *kubecore.Pod {
		return &kubecore.Pod{
			ObjectMeta: kubeapimeta.ObjectMeta{
				Name:      name,
				Namespace: "starlake",
				Labels:    map[string]string{k8s.LabelJobName: jobName},
			},
			Status: status,
		}
	}

	clientset := fake.NewSimpleClientset(
		podOf("pod-a", "job-a", kubecore.PodStatus{
			Phase: kubecore.PodSucceeded,
			ContainerStatuses: []kubecore.ContainerStatus{
				{
					Name: "sidecar",
					State: kubecore.ContainerState{
						Terminated: &kubecore.ContainerStateTerminated{ExitCode: 9},
					},
				},
				{
					Name: "starlake",
					State: kubecore.ContainerState{
						Terminated: &kubecore.ContainerStateTerminated{ExitCode: 3, Reason: "Error"},
					},
				},
			},
		}),
		podOf("pod-b", "job-b", kubecore.PodStatus{
			Phase: kubecore.PodRunning,
			ContainerStatuses: []kubecore.ContainerStatus{
				{
					Name:  "starlake",
					State: kubecore.ContainerState{Running: &kubecore.ContainerStateRunning{}},
				},
			},
		}),
	)
	testee := k8s.AttachCluster(k8s.WrapK8sClient(clientset), "starlake")
	ctx := context.Background()

	t.Run("FindPods selects pods of the job", func(t *testing.T) {
		pods, err := testee.FindPods(ctx, "job-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pods) != 1 || pods[0].Name() != "pod-a" {
			t.Fatalf("unexpected pods: %+v", pods)
		}
		if pods[0].Phase() != k8s.PodSucceeded {
			t.Errorf("phase: %s", pods[0].Phase())
		}
	})

	t.Run("ExitCode reads the terminated state of the named container", func(t *testing.T) {
		pod, err := testee.GetPod(ctx, "pod-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		code, reason, ok := pod.ExitCode("starlake")
		if !ok || code != 3 || reason != "Error" {
			t.Errorf("(code, reason, ok) = (%d, %s, %v)", code, reason, ok)
		}

		code, _, ok = pod.ExitCode("")
		if !ok || code != 9 {
			t.Errorf("without container name, the first container is used: (code, ok) = (%d, %v)", code, ok)
		}
	})

	t.Run("ExitCode of a running container is not available", func(t *testing.T) {
		pod, err := testee.GetPod(ctx, "pod-b")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, _, ok := pod.ExitCode("starlake"); ok {
			t.Error("running container should not have exit code")
		}
		if _, _, ok := pod.ExitCode("missing"); ok {
			t.Error("missing container should not have exit code")
		}
	})

	t.Run("a missing pod is reported with IsMissing", func(t *testing.T) {
		_, err := testee.GetPod(ctx, "pod-z")
		if !k8s.IsMissing(err) {
			t.Errorf("expected missing, got %v", err)
		}
	})

	t.Run("Log streams the container log", func(t *testing.T) {
		r, err := testee.Log(ctx, "pod-a", "starlake")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// client-go's fake clientset always answers this.
		if string(b) != "fake logs" {
			t.Errorf("log: %q", string(b))
		}
	})
}
