package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/starlake-ai/starlake-data-stack/pkg/workloads/kubectl"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig is returned when a misconfiguration is found on sealing.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default values.
const (
	DefaultMode       = ModeJob
	DefaultNamespace  = "starlake"
	DefaultRoot       = "/projects"
	DefaultEnvPrefix  = "SL_"
	DefaultExecutable = "starlake"
	DefaultTemplate   = "/etc/starlake/starlake-job.yaml"
	DefaultContainer  = "starlake"

	DefaultPodWaitAttempts    = 60
	DefaultPodWaitInterval    = 2 * time.Second
	DefaultCompletionTimeout  = 3600 * time.Second
	DefaultCompletionInterval = 5 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// where kubectl is searched by default, in order.
var DefaultKubectlSearchPath = kubectl.DefaultSearchPath

// Configuration of the dispatcher.
//
// This type is marshalling value and mutable.
// Consider to use immutable version, `Config`.
// You can get `Config` instance with `Seal`.
type ConfigMarshall struct {
	Mode      string               `yaml:"mode,omitempty"`
	Namespace string               `yaml:"namespace,omitempty"`
	Root      string               `yaml:"root,omitempty"`
	EnvPrefix string               `yaml:"envPrefix,omitempty"`
	Local     *LocalConfigMarshall `yaml:"local,omitempty"`
	Job       *JobConfigMarshall   `yaml:"job,omitempty"`
	Log       *LogConfigMarshall   `yaml:"log,omitempty"`
}

type LocalConfigMarshall struct {
	Executable string `yaml:"executable,omitempty"`
}

type JobConfigMarshall struct {
	Template   string              `yaml:"template,omitempty"`
	Container  string              `yaml:"container,omitempty"`
	PodWait    *PodWaitMarshall    `yaml:"podWait,omitempty"`
	Completion *CompletionMarshall `yaml:"completion,omitempty"`

	// pointer, to tell "false" from "not set".
	AssumeSuccessOnDisappearance *bool `yaml:"assumeSuccessOnDisappearance,omitempty"`

	Client      string                     `yaml:"client,omitempty"`
	Kubectl     *KubectlConfigMarshall     `yaml:"kubectl,omitempty"`
	Credentials *CredentialsConfigMarshall `yaml:"credentials,omitempty"`
}

type PodWaitMarshall struct {
	Attempts int    `yaml:"attempts,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

type CompletionMarshall struct {
	Timeout  string `yaml:"timeout,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

type KubectlConfigMarshall struct {
	SearchPath []string `yaml:"searchPath,omitempty"`
}

type CredentialsConfigMarshall struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	TokenFile  string `yaml:"tokenFile,omitempty"`
	CAFile     string `yaml:"caFile,omitempty"`
}

type LogConfigMarshall struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Seal verifies configuration values, fills defaults and creates "readonly" version of this.
//
// All misconfigurations found are reported at once, as ErrInvalidConfig.
func Seal(m *ConfigMarshall) (*Config, error) {
	if m == nil {
		m = &ConfigMarshall{}
	}
	p := &problems{}
	conf := m.trySeal("(root)", p)
	if err := p.err(); err != nil {
		return nil, err
	}
	return conf, nil
}

// problems collects misconfigurations.
type problems struct {
	found []error
}

func (p *problems) add(path string, format string, args ...any) {
	p.found = append(p.found, fmt.Errorf("%s: "+format, append([]any{path}, args...)...))
}

func (p *problems) err() error {
	if len(p.found) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(p.found...))
}

func (m *ConfigMarshall) trySeal(path string, p *problems) *Config {
	mode := Mode(or(m.Mode, string(DefaultMode)))
	switch mode {
	case ModeJob, ModeLocal:
	default:
		p.add(path+".mode", "should be %s or %s, but %q", ModeJob, ModeLocal, m.Mode)
	}

	return &Config{
		mode:      mode,
		namespace: or(m.Namespace, DefaultNamespace),
		root:      or(m.Root, DefaultRoot),
		envPrefix: or(m.EnvPrefix, DefaultEnvPrefix),
		local:     orNew(m.Local).trySeal(path+".local", p),
		job:       orNew(m.Job).trySeal(path+".job", p),
		log:       orNew(m.Log).trySeal(path+".log", p),
	}
}

func (l *LocalConfigMarshall) trySeal(_ string, _ *problems) *LocalConfig {
	return &LocalConfig{
		executable: or(l.Executable, DefaultExecutable),
	}
}

func (j *JobConfigMarshall) trySeal(path string, p *problems) *JobConfig {
	client := Client(or(j.Client, string(ClientGo)))
	switch client {
	case ClientGo, ClientKubectl:
	default:
		p.add(path+".client", "should be %s or %s, but %q", ClientGo, ClientKubectl, j.Client)
	}

	assumeSuccess := true
	if j.AssumeSuccessOnDisappearance != nil {
		assumeSuccess = *j.AssumeSuccessOnDisappearance
	}

	return &JobConfig{
		template:                     or(j.Template, DefaultTemplate),
		container:                    or(j.Container, DefaultContainer),
		podWait:                      orNew(j.PodWait).trySeal(path+".podWait", p),
		completion:                   orNew(j.Completion).trySeal(path+".completion", p),
		assumeSuccessOnDisappearance: assumeSuccess,
		client:                       client,
		kubectl:                      orNew(j.Kubectl).trySeal(path+".kubectl", p),
		credentials:                  orNew(j.Credentials).trySeal(path+".credentials", p),
	}
}

func (w *PodWaitMarshall) trySeal(path string, p *problems) *PollConfig {
	attempts := w.Attempts
	if attempts == 0 {
		attempts = DefaultPodWaitAttempts
	}
	if attempts < 0 {
		p.add(path+".attempts", "should be positive, but %d", w.Attempts)
	}
	return &PollConfig{
		attempts: attempts,
		interval: duration(w.Interval, DefaultPodWaitInterval, path+".interval", p),
	}
}

func (c *CompletionMarshall) trySeal(path string, p *problems) *PollConfig {
	return &PollConfig{
		timeout:  duration(c.Timeout, DefaultCompletionTimeout, path+".timeout", p),
		interval: duration(c.Interval, DefaultCompletionInterval, path+".interval", p),
	}
}

func (k *KubectlConfigMarshall) trySeal(_ string, _ *problems) *KubectlConfig {
	searchPath := k.SearchPath
	if len(searchPath) == 0 {
		searchPath = DefaultKubectlSearchPath
	}
	return &KubectlConfig{searchPath: append([]string{}, searchPath...)}
}

func (c *CredentialsConfigMarshall) trySeal(_ string, _ *problems) *CredentialsConfig {
	return &CredentialsConfig{
		kubeconfig: c.Kubeconfig,
		tokenFile:  c.TokenFile,
		caFile:     c.CAFile,
	}
}

func (l *LogConfigMarshall) trySeal(path string, p *problems) *LogConfig {
	level := or(l.Level, DefaultLogLevel)
	if _, err := zapcore.ParseLevel(level); err != nil {
		p.add(path+".level", "%s", err)
	}
	format := or(l.Format, DefaultLogFormat)
	switch format {
	case "console", "json":
	default:
		p.add(path+".format", "should be console or json, but %q", l.Format)
	}
	return &LogConfig{level: level, format: format}
}

func duration(v string, def time.Duration, path string, p *problems) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.add(path, "can not be parsed: %s", err)
		return def
	}
	if d <= 0 {
		p.add(path, "should be positive, but %s", v)
		return def
	}
	return d
}

func or(v string, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orNew[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}
