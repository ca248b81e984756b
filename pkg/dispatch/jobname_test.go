package dispatch_test

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/starlake-ai/starlake-data-stack/pkg/dispatch"
)

var legalName = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

func TestJobName(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, testcase := range map[string]struct {
		command string
		suffix  string
		then    string
	}{
		"simple command": {
			command: "ingest", suffix: "0a1b2c3d",
			then: "ingest-20240102030405-0a1b2c3d",
		},
		"upper cases are lowered, and illegal characters are replaced": {
			command: "Load_Json.Tables", suffix: "ABCDEF01",
			then: "load-json-tables-20240102030405-abcdef01",
		},
		"leading illegal characters are trimmed": {
			command: "__kpi", suffix: "ff",
			then: "kpi-20240102030405-ff",
		},
		"a 59 characters command is truncated to exactly 63 characters": {
			command: strings.Repeat("c", 59), suffix: "0a1b2c3d",
			then: strings.Repeat("c", 39) + "-20240102030405-0a1b2c3d",
		},
		"a trailing '-' of the shortened command is trimmed": {
			command: strings.Repeat("c", 38) + "-x", suffix: "0a1b2c3d",
			then: strings.Repeat("c", 38) + "-20240102030405-0a1b2c3d",
		},
		"a too long suffix is truncated": {
			command: "ingest", suffix: strings.Repeat("f", 60),
			then: "20240102030405-" + strings.Repeat("f", 47),
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual := dispatch.JobName(testcase.command, now, testcase.suffix)
			if actual != testcase.then {
				t.Errorf("(actual, expected) = (%s, %s)", actual, testcase.then)
			}
			if dispatch.MaxNameLength < len(actual) {
				t.Errorf("too long: %d", len(actual))
			}
			if !legalName.MatchString(actual) {
				t.Errorf("illegal name: %s", actual)
			}
		})
	}

	t.Run("names are deterministic for the same input", func(t *testing.T) {
		a := dispatch.JobName("ingest", now, "12345678")
		b := dispatch.JobName("ingest", now, "12345678")
		if a != b {
			t.Errorf("%s != %s", a, b)
		}
	})

	t.Run("long commands keep names unique", func(t *testing.T) {
		command := strings.Repeat("load", 20)
		a := dispatch.JobName(command, now, "00000001")
		b := dispatch.JobName(command, now, "00000002")
		if a == b {
			t.Errorf("names collide: %s", a)
		}
		for _, name := range []string{a, b} {
			if len(name) != dispatch.MaxNameLength {
				t.Errorf("unexpected length: %s (%d)", name, len(name))
			}
		}
	})

	t.Run("the timestamp is in UTC", func(t *testing.T) {
		jst := time.FixedZone("JST", 9*60*60)
		actual := dispatch.JobName("ingest", now.In(jst), "x")
		if actual != "ingest-20240102030405-x" {
			t.Errorf("actual: %s", actual)
		}
	})

	t.Run("any command makes a legal name", func(t *testing.T) {
		for _, command := range []string{
			"ingest", "ÉTÉ", "a b c", "----", "x/y\\z", strings.Repeat("Z_", 80), "日本語",
		} {
			actual := dispatch.JobName(command, now, dispatch.RandomSuffix())
			if dispatch.MaxNameLength < len(actual) || !legalName.MatchString(actual) {
				t.Errorf("command %q: illegal name %q", command, actual)
			}
		}
	})
}

func TestRandomSuffix(t *testing.T) {
	hex := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := map[string]struct{}{}
	for range 100 {
		s := dispatch.RandomSuffix()
		if !hex.MatchString(s) {
			t.Fatalf("unexpected suffix: %s", s)
		}
		seen[s] = struct{}{}
	}
	if len(seen) < 90 {
		t.Errorf("suffixes collide too much: %d unique in 100", len(seen))
	}
}
