package kubeutil_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/starlake-ai/starlake-data-stack/pkg/kubeutil"
	"k8s.io/client-go/tools/clientcmd"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func touch(t *testing.T, path string, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscover(t *testing.T) {
	t.Run("an explicit kubeconfig wins", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("HOME", dir)
		kc := touch(t, filepath.Join(dir, "explicit"), "")
		touch(t, filepath.Join(dir, "env"), "")

		creds, err := kubeutil.Discover(kubeutil.Sources{
			Kubeconfig: kc,
			LookupEnv:  envOf(map[string]string{"KUBECONFIG": filepath.Join(dir, "env")}),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if creds.Kubeconfig != kc || creds.InCluster() {
			t.Errorf("unexpected credentials: %+v", creds)
		}
		flags, cleanup, err := creds.KubectlFlags()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer cleanup()
		if diff := cmp.Diff([]string{"--kubeconfig=" + kc}, flags); diff != "" {
			t.Errorf("kubectl flags (-want +got):\n%s", diff)
		}
	})

	t.Run("KUBECONFIG is used when no kubeconfig is given", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("HOME", dir)
		kc := touch(t, filepath.Join(dir, "env"), "")

		creds, err := kubeutil.Discover(kubeutil.Sources{
			LookupEnv: envOf(map[string]string{"KUBECONFIG": kc}),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if creds.Kubeconfig != kc {
			t.Errorf("unexpected credentials: %+v", creds)
		}
	})

	t.Run("a missing explicit kubeconfig is an error, even if others exist", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("HOME", dir)
		touch(t, filepath.Join(dir, ".kube", "config"), "")
		other := touch(t, filepath.Join(dir, "other-cluster"), "")
		typo := filepath.Join(dir, "typo")

		creds, err := kubeutil.Discover(kubeutil.Sources{
			Kubeconfig: typo,
			LookupEnv:  envOf(map[string]string{"KUBECONFIG": other}),
		})
		if !errors.Is(err, kubeutil.ErrNoCredentials) {
			t.Fatalf("expected ErrNoCredentials, got (%+v, %v)", creds, err)
		}
		if !strings.Contains(err.Error(), typo) {
			t.Errorf("message does not mention %s: %s", typo, err)
		}
	})

	t.Run("service account credentials are used in cluster", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("HOME", dir)
		token := touch(t, filepath.Join(dir, "sa", "token"), "s3cr3t\n")
		ca := touch(t, filepath.Join(dir, "sa", "ca.crt"), "cert")

		creds, err := kubeutil.Discover(kubeutil.Sources{
			TokenFile: token,
			CAFile:    ca,
			LookupEnv: envOf(map[string]string{
				"KUBERNETES_SERVICE_HOST": "10.0.0.1",
				"KUBERNETES_SERVICE_PORT": "443",
			}),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := kubeutil.Credentials{
			Host: "https://10.0.0.1:443", TokenFile: token, CAFile: ca,
		}
		if diff := cmp.Diff(expected, creds); diff != "" {
			t.Errorf("credentials (-want +got):\n%s", diff)
		}

		flags, cleanup, err := creds.KubectlFlags()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(flags) != 1 || !strings.HasPrefix(flags[0], "--kubeconfig=") {
			t.Fatalf("unexpected kubectl flags: %v", flags)
		}
		for _, f := range flags {
			if strings.Contains(f, "s3cr3t") {
				t.Errorf("the token is in flags: %v", flags)
			}
		}
		kubeconfig := strings.TrimPrefix(flags[0], "--kubeconfig=")
		written, err := os.ReadFile(kubeconfig)
		if err != nil {
			t.Fatalf("kubeconfig is not written: %v", err)
		}
		if strings.Contains(string(written), "s3cr3t") {
			t.Errorf("the token is copied into kubeconfig:\n%s", written)
		}
		fromFile, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			t.Fatalf("kubeconfig is broken: %v\n%s", err, written)
		}
		if fromFile.Host != expected.Host || fromFile.BearerTokenFile != token || fromFile.TLSClientConfig.CAFile != ca {
			t.Errorf("unexpected config from kubeconfig: %+v", fromFile)
		}
		cleanup()
		if _, err := os.Stat(kubeconfig); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("kubeconfig is left after cleanup: %v", err)
		}

		conf, err := creds.RestConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if conf.Host != expected.Host || conf.BearerTokenFile != token || conf.TLSClientConfig.CAFile != ca {
			t.Errorf("unexpected rest config: %+v", conf)
		}
	})

	t.Run("it fails listing what has been searched", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("HOME", dir)
		token := filepath.Join(dir, "sa", "token")
		ca := touch(t, filepath.Join(dir, "sa", "ca.crt"), "cert")

		_, err := kubeutil.Discover(kubeutil.Sources{
			TokenFile: token,
			CAFile:    ca,
			LookupEnv: envOf(map[string]string{}),
		})
		if !errors.Is(err, kubeutil.ErrNoCredentials) {
			t.Fatalf("expected ErrNoCredentials, got %v", err)
		}
		for _, s := range []string{token, ca, filepath.Join(dir, ".kube", "config"), "KUBERNETES_SERVICE_HOST"} {
			if !strings.Contains(err.Error(), s) {
				t.Errorf("message does not mention %s: %s", s, err)
			}
		}
	})
}
