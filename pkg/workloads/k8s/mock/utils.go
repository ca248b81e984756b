package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	k8s "github.com/starlake-ai/starlake-data-stack/pkg/workloads/k8s"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
)

// get mocked k8s.Cluster
//
// # returns
//
//   - k8s.Cluster : using *MockClient as base client, in namespace "fake-namespace".
//   - *MockClient : mock object.
//     you can fake k8s behaviours or spy its usage.
func NewCluster() (k8s.Cluster, *MockClient) {
	client := NewMockClient()
	return k8s.AttachCluster(client, "fake-namespace"), client
}

type MockClient struct {
	Impl struct {
		ApplyJob func(ctx context.Context, namespace string, manifest []byte) (*kubebatch.Job, error)
		GetJob   func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)

		GetPod   func(ctx context.Context, namespace string, name string) (*kubecore.Pod, error)
		FindPods func(ctx context.Context, namespace string, ls k8s.LabelSelector) ([]kubecore.Pod, error)

		Log func(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error)
	}
	Called struct {
		ApplyJob uint64
		GetJob   uint64

		GetPod   uint64
		FindPods uint64

		Log uint64
	}

	m sync.Mutex
}

// MockClient implements k8s.K8sClient
var _ k8s.K8sClient = &MockClient{}

func (m *MockClient) ApplyJob(ctx context.Context, namespace string, manifest []byte) (*kubebatch.Job, error) {
	m.m.Lock()
	m.Called.ApplyJob += 1
	m.m.Unlock()

	if m.Impl.ApplyJob == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.ApplyJob(ctx, namespace, manifest)
}

func (m *MockClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	m.m.Lock()
	m.Called.GetJob += 1
	m.m.Unlock()

	if m.Impl.GetJob == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetJob(ctx, namespace, name)
}

func (m *MockClient) GetPod(ctx context.Context, namespace string, name string) (*kubecore.Pod, error) {
	m.m.Lock()
	m.Called.GetPod += 1
	m.m.Unlock()

	if m.Impl.GetPod == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetPod(ctx, namespace, name)
}

func (m *MockClient) FindPods(ctx context.Context, namespace string, ls k8s.LabelSelector) ([]kubecore.Pod, error) {
	m.m.Lock()
	m.Called.FindPods += 1
	m.m.Unlock()

	if m.Impl.FindPods == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.FindPods(ctx, namespace, ls)
}

func (m *MockClient) Log(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error) {
	m.m.Lock()
	m.Called.Log += 1
	m.m.Unlock()

	if m.Impl.Log == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Log(ctx, namespace, pod, container)
}

func NewMockClient() *MockClient {
	return &MockClient{}
}
