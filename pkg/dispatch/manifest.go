package dispatch

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Placeholders in a Job manifest template.
//
// They are replaced literally. Templates are not interpreted in any other way.
const (
	PlaceholderJobName = "__JOB_NAME__"
	PlaceholderArgs    = "__SL_ARGS__"
	PlaceholderRoot    = "__SL_ROOT__"

	// The line holding this is replaced with environment entries, or removed when there are none.
	PlaceholderEnv = "__SL_ENV__"
)

// DefaultRoot is the root path of starlake projects when nothing else is set.
const DefaultRoot = "/projects"

// Template of a Job manifest.
type Template struct {
	path string
	body string
}

// LoadTemplate reads a template file.
//
// When the file does not exist, it returns ErrConfiguration.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: job template is not configured", ErrConfiguration)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: job template is not found (searched: %s): %w", ErrConfiguration, path, err)
	}
	return &Template{path: path, body: string(b)}, nil
}

// NewTemplate creates a Template from its content.
func NewTemplate(body string) *Template {
	return &Template{path: "(inline)", body: body}
}

func (t *Template) Path() string {
	return t.path
}

// Values to fill placeholders of a Template.
type Values struct {
	JobName string

	// Args is the final argument list, the command first.
	Args []string

	Root string

	// Env are entries of the environment block.
	Env map[string]string
}

// Render fills placeholders.
func (t *Template) Render(v Values) []byte {
	root := v.Root
	if root == "" {
		root = DefaultRoot
	}

	body := strings.NewReplacer(
		PlaceholderJobName, v.JobName,
		PlaceholderArgs, JSONArray(v.Args),
		PlaceholderRoot, root,
	).Replace(t.body)

	lines := strings.SplitAfter(body, "\n")
	out := new(strings.Builder)
	for _, line := range lines {
		if !strings.Contains(line, PlaceholderEnv) {
			out.WriteString(line)
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		out.WriteString(envBlock(indent, v.Env))
	}
	return []byte(out.String())
}

// envBlock renders entries of `env` of a container, sorted by name.
func envBlock(indent string, env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := new(strings.Builder)
	for _, k := range keys {
		fmt.Fprintf(b, "%s- name: %s\n", indent, jsonString(k))
		fmt.Fprintf(b, "%s  value: %s\n", indent, jsonString(env[k]))
	}
	return b.String()
}

// JSONArray encodes strings as a JSON array.
func JSONArray(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, s := range items {
		quoted = append(quoted, jsonString(s))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// jsonString quotes s as a JSON string.
//
// The result is also a valid double-quoted YAML scalar: characters YAML rejects or folds
// (DEL, C1 controls, U+2028 and U+2029) are escaped too.
// Invalid UTF-8 sequences are written as U+FFFD.
func jsonString(s string) string {
	b := new(strings.Builder)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f || (0x80 <= r && r <= 0x9f) || r == 0x2028 || r == 0x2029 {
				fmt.Fprintf(b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
