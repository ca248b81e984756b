package dispatcher

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Environmental variables read by the dispatcher.
const (
	EnvConfig    = "STARLAKE_DISPATCH_CONFIG"
	EnvMode      = "STARLAKE_DISPATCH_MODE"
	EnvNamespace = "STARLAKE_NAMESPACE"
	EnvRoot      = "SL_ROOT"
	EnvTemplate  = "STARLAKE_JOB_TEMPLATE"
)

// load dispatcher config from a file.
//
// args:
//   - filepath: filepath refers a config file. When empty, an empty config is returned.
//
// returns *ConfigMarshall, error:
//
//	When loading success, returns `(*ConfigMarshall, nil)`.
//	Otherwise, returns `(nil, error)`.
func Load(filepath string) (*ConfigMarshall, error) {
	if filepath == "" {
		return &ConfigMarshall{}, nil
	}
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*ConfigMarshall, error) {
	out := &ConfigMarshall{}
	if err := yaml.Unmarshal(conf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// OverrideWithEnv overwrites values with environmental variables.
//
// lookup is os.LookupEnv when nil. Empty variables are ignored.
func (m *ConfigMarshall) OverrideWithEnv(lookup func(string) (string, bool)) *ConfigMarshall {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	if v, ok := get(EnvMode); ok {
		m.Mode = v
	}
	if v, ok := get(EnvNamespace); ok {
		m.Namespace = v
	}
	if v, ok := get(EnvRoot); ok {
		m.Root = v
	}
	if v, ok := get(EnvTemplate); ok {
		if m.Job == nil {
			m.Job = &JobConfigMarshall{}
		}
		m.Job.Template = v
	}
	return m
}
