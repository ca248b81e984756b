package dispatcher

import "time"

// Mode is how commands run.
type Mode string

const (
	// ModeJob runs commands as Kubernetes Jobs.
	ModeJob Mode = "job"

	// ModeLocal runs commands as local subprocesses.
	ModeLocal Mode = "local"
)

// Client is how the dispatcher talks to Kubernetes.
type Client string

const (
	ClientGo      Client = "client-go"
	ClientKubectl Client = "kubectl"
)

// Configuration for the dispatcher.
//
// to get `Config` instance, use `Seal(*ConfigMarshall)` .
type Config struct {
	mode      Mode
	namespace string
	root      string
	envPrefix string
	local     *LocalConfig
	job       *JobConfig
	log       *LogConfig
}

func (c *Config) Mode() Mode {
	return c.mode
}

// k8s namespace where Jobs are submitted.
func (c *Config) Namespace() string {
	return c.namespace
}

// root path of starlake projects. default = "/projects"
func (c *Config) Root() string {
	return c.root
}

// prefix of option keys which are environment assignments. default = "SL_"
func (c *Config) EnvPrefix() string {
	return c.envPrefix
}

func (c *Config) Local() *LocalConfig {
	return c.local
}

func (c *Config) Job() *JobConfig {
	return c.job
}

func (c *Config) Log() *LogConfig {
	return c.log
}

type LocalConfig struct {
	executable string
}

// starlake executable for local mode.
func (l *LocalConfig) Executable() string {
	return l.executable
}

type JobConfig struct {
	template                     string
	container                    string
	podWait                      *PollConfig
	completion                   *PollConfig
	assumeSuccessOnDisappearance bool
	client                       Client
	kubectl                      *KubectlConfig
	credentials                  *CredentialsConfig
}

// path to the Job manifest template.
func (j *JobConfig) Template() string {
	return j.template
}

// container whose logs and exit code are observed. Empty means the first one.
func (j *JobConfig) Container() string {
	return j.container
}

// how to wait for a pod.
func (j *JobConfig) PodWait() *PollConfig {
	return j.podWait
}

// how to wait for the job termination after logs are closed.
func (j *JobConfig) Completion() *PollConfig {
	return j.completion
}

// whether a job disappearing before its exit code is observed is success.
func (j *JobConfig) AssumeSuccessOnDisappearance() bool {
	return j.assumeSuccessOnDisappearance
}

func (j *JobConfig) Client() Client {
	return j.client
}

func (j *JobConfig) Kubectl() *KubectlConfig {
	return j.kubectl
}

func (j *JobConfig) Credentials() *CredentialsConfig {
	return j.credentials
}

// Polling setting.
//
// For pod waiting, Attempts is used and Timeout is zero.
// For completion waiting, Timeout is used and Attempts is zero.
type PollConfig struct {
	attempts int
	timeout  time.Duration
	interval time.Duration
}

func (p *PollConfig) Attempts() int {
	return p.attempts
}

func (p *PollConfig) Timeout() time.Duration {
	return p.timeout
}

func (p *PollConfig) Interval() time.Duration {
	return p.interval
}

type KubectlConfig struct {
	searchPath []string
}

// where kubectl is searched, in order.
func (k *KubectlConfig) SearchPath() []string {
	return append([]string{}, k.searchPath...)
}

type CredentialsConfig struct {
	kubeconfig string
	tokenFile  string
	caFile     string
}

// explicit kubeconfig. Empty means "search it".
func (c *CredentialsConfig) Kubeconfig() string {
	return c.kubeconfig
}

func (c *CredentialsConfig) TokenFile() string {
	return c.tokenFile
}

func (c *CredentialsConfig) CAFile() string {
	return c.caFile
}

type LogConfig struct {
	level  string
	format string
}

func (l *LogConfig) Level() string {
	return l.level
}

func (l *LogConfig) Format() string {
	return l.format
}
