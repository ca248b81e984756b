package buildtime_test

import (
	"strings"
	"testing"

	"github.com/starlake-ai/starlake-data-stack/pkg/buildtime"
)

func TestVersionString(t *testing.T) {
	actual := buildtime.VersionString()
	if !strings.HasPrefix(actual, buildtime.VERSION()+" (commit: ") || !strings.HasSuffix(actual, ")") {
		t.Errorf("unexpected version string: %s", actual)
	}
	if buildtime.GIT_REVISION() == "" {
		t.Error("revision should not be empty")
	}
}
