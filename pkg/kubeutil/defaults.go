package kubeutil

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
	"k8s.io/client-go/util/homedir"
)

const (
	// where the service account token is mounted in a pod.
	DefaultTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"

	// where the cluster CA certificate is mounted in a pod.
	DefaultCAFile = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

// ErrNoCredentials is returned when neither a kubeconfig nor service account credentials are found.
var ErrNoCredentials = errors.New("no cluster credentials")

// Where to search credentials.
type Sources struct {
	// explicit kubeconfig path. Empty means "not given".
	Kubeconfig string

	// service account token & CA certificate.
	TokenFile string
	CAFile    string

	// environment lookup. os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// Credentials to access the k8s API server.
//
// Either Kubeconfig is set, or Host, TokenFile and CAFile are set.
type Credentials struct {
	Kubeconfig string

	Host      string
	TokenFile string
	CAFile    string
}

// Discover detects cluster credentials.
//
// It searches, in order:
//
// - `Sources.Kubeconfig`. When it is given but not found, the search stops with ErrNoCredentials.
//
// - environmental variable `KUBECONFIG`
//
// - `~/.kube/config`
//
// - service account token and CA certificate (in-cluster),
// with the API server address from `KUBERNETES_SERVICE_HOST` and `KUBERNETES_SERVICE_PORT`.
//
// When nothing is found, it returns ErrNoCredentials listing what has been searched.
func Discover(src Sources) (Credentials, error) {
	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if src.Kubeconfig != "" {
		if !isFile(src.Kubeconfig) {
			return Credentials{}, fmt.Errorf(
				"%w: kubeconfig is not found (searched: %s)", ErrNoCredentials, src.Kubeconfig,
			)
		}
		return Credentials{Kubeconfig: src.Kubeconfig}, nil
	}

	searched := []string{}

	candidates := []string{}
	if k, ok := lookup("KUBECONFIG"); ok {
		// KUBECONFIG can be a list. The first one is enough to connect.
		candidates = append(candidates, filepath.SplitList(k)...)
	}
	if home := homedir.HomeDir(); home != "" {
		candidates = append(candidates, filepath.Join(home, ".kube", "config"))
	}
	for _, kc := range candidates {
		if kc == "" {
			continue
		}
		searched = append(searched, kc)
		if isFile(kc) {
			return Credentials{Kubeconfig: kc}, nil
		}
	}

	tokenFile := src.TokenFile
	if tokenFile == "" {
		tokenFile = DefaultTokenFile
	}
	caFile := src.CAFile
	if caFile == "" {
		caFile = DefaultCAFile
	}
	searched = append(searched, tokenFile, caFile)

	host, hasHost := lookup("KUBERNETES_SERVICE_HOST")
	port, hasPort := lookup("KUBERNETES_SERVICE_PORT")
	if isFile(tokenFile) && isFile(caFile) && hasHost && hasPort && host != "" && port != "" {
		return Credentials{
			Host:      "https://" + net.JoinHostPort(host, port),
			TokenFile: tokenFile,
			CAFile:    caFile,
		}, nil
	}
	if !hasHost || !hasPort {
		searched = append(searched, "$KUBERNETES_SERVICE_HOST, $KUBERNETES_SERVICE_PORT")
	}

	return Credentials{}, fmt.Errorf(
		"%w (searched: %s)", ErrNoCredentials, strings.Join(searched, ", "),
	)
}

func isFile(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}

// InCluster tells the credentials are of a service account.
func (c Credentials) InCluster() bool {
	return c.Kubeconfig == ""
}

// RestConfig builds a client-go config from the credentials.
func (c Credentials) RestConfig() (*rest.Config, error) {
	if !c.InCluster() {
		return clientcmd.BuildConfigFromFlags("", c.Kubeconfig)
	}
	return &rest.Config{
		Host:            c.Host,
		BearerTokenFile: c.TokenFile,
		TLSClientConfig: rest.TLSClientConfig{CAFile: c.CAFile},
	}, nil
}

// KubectlFlags are global flags of kubectl to use the credentials.
//
// For service account credentials, it writes a kubeconfig referring the token file
// into a temporary file, so that the token does not appear in command lines.
// Call cleanup to remove it once kubectl is no longer used.
func (c Credentials) KubectlFlags() (flags []string, cleanup func(), err error) {
	if !c.InCluster() {
		return []string{"--kubeconfig=" + c.Kubeconfig}, func() {}, nil
	}

	f, err := os.CreateTemp("", "starlake-kubeconfig-*.yaml")
	if err != nil {
		return nil, nil, err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, nil, err
	}
	cleanup = func() { os.Remove(path) }

	if err := clientcmd.WriteToFile(c.kubeconfig(), path); err != nil {
		cleanup()
		return nil, nil, err
	}
	return []string{"--kubeconfig=" + path}, cleanup, nil
}

const inCluster = "in-cluster"

func (c Credentials) kubeconfig() clientcmdapi.Config {
	conf := clientcmdapi.NewConfig()
	conf.Clusters[inCluster] = &clientcmdapi.Cluster{
		Server:               c.Host,
		CertificateAuthority: c.CAFile,
	}
	conf.AuthInfos[inCluster] = &clientcmdapi.AuthInfo{TokenFile: c.TokenFile}
	conf.Contexts[inCluster] = &clientcmdapi.Context{Cluster: inCluster, AuthInfo: inCluster}
	conf.CurrentContext = inCluster
	return *conf
}

// ConnectToK8s creates a clientset with the credentials.
func ConnectToK8s(c Credentials) (*kubernetes.Clientset, error) {
	config, err := c.RestConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(config)
}
