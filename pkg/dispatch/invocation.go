package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultEnvPrefix is the prefix of option keys which are environment assignments.
const DefaultEnvPrefix = "SL_"

// OptionsFlag is the flag which carries `key=value` options of the downstream command.
const OptionsFlag = "--options"

// Invocation is a command to be run, with its arguments and options.
//
// Use NewInvocation to create one.
type Invocation struct {
	// Command is the name of the starlake command, like "ingest".
	Command string

	// Args are positional arguments, in order.
	Args []string

	// Env are environment assignments taken from options.
	Env map[string]string

	// Options are pass-through options, `key=value` each, in order.
	Options []string
}

// NewInvocation creates an Invocation.
//
// # Args
//
// - command: name of the command. Empty command is ErrConfiguration.
//
// Any of command, args or options which is not valid UTF-8 is ErrConfiguration.
//
// - args: positional arguments.
//
// - options: comma separated `key=value` pairs.
//
// - envPrefix: options with keys starting with this are environment assignments.
// When empty, DefaultEnvPrefix is used.
func NewInvocation(command string, args []string, options string, envPrefix string) (Invocation, error) {
	if strings.TrimSpace(command) == "" {
		return Invocation{}, fmt.Errorf("%w: no command given", ErrConfiguration)
	}
	for _, s := range append([]string{command, options}, args...) {
		if !utf8.ValidString(s) {
			return Invocation{}, fmt.Errorf("%w: not a valid UTF-8 string: %q", ErrConfiguration, s)
		}
	}
	env, passThrough := ParseOptions(options, envPrefix)
	return Invocation{
		Command: command,
		Args:    append([]string{}, args...),
		Env:     env,
		Options: passThrough,
	}, nil
}

// ParseOptions splits comma separated `key=value` pairs into
// environment assignments and pass-through options.
//
// Matching surrounding quotes (`"` or `'`) of each value are stripped.
// An item without `=` is passed through as is.
func ParseOptions(options string, envPrefix string) (map[string]string, []string) {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	env := map[string]string{}
	passThrough := []string{}
	for _, item := range strings.Split(options, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			passThrough = append(passThrough, item)
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if strings.HasPrefix(key, envPrefix) {
			env[key] = value
			continue
		}
		passThrough = append(passThrough, key+"="+value)
	}
	return env, passThrough
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// FinalArgs is the argument list of the downstream CLI: the command first,
// then positional arguments, then `--options k=v,...` if any option is passed through.
func (i Invocation) FinalArgs() []string {
	args := make([]string, 0, len(i.Args)+3)
	args = append(args, i.Command)
	args = append(args, i.Args...)
	if len(i.Options) != 0 {
		args = append(args, OptionsFlag, strings.Join(i.Options, ","))
	}
	return args
}

// EnvList returns Env as `KEY=VALUE` list, sorted by key.
func (i Invocation) EnvList() []string {
	keys := make([]string, 0, len(i.Env))
	for k := range i.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ret := make([]string, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, k+"="+i.Env[k])
	}
	return ret
}

// SplitCommandLine splits a command line into command, positional arguments and options.
//
// Every `--options <value>` (or `--options=<value>`) after the command is removed
// from arguments, and their values are joined with comma.
// Other arguments are kept as is, in order.
func SplitCommandLine(argv []string) (command string, args []string, options string) {
	if len(argv) == 0 {
		return "", nil, ""
	}
	command = argv[0]

	opts := []string{}
	args = []string{}
	rest := argv[1:]
	for n := 0; n < len(rest); n++ {
		a := rest[n]
		switch {
		case a == OptionsFlag:
			if n+1 < len(rest) {
				opts = append(opts, rest[n+1])
				n += 1
			}
		case strings.HasPrefix(a, OptionsFlag+"="):
			opts = append(opts, strings.TrimPrefix(a, OptionsFlag+"="))
		default:
			args = append(args, a)
		}
	}
	return command, args, strings.Join(opts, ",")
}
