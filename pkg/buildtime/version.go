package buildtime

import (
	"runtime/debug"
)

// set by `-ldflags "-X github.com/starlake-ai/starlake-data-stack/pkg/buildtime.version=..."`
var (
	version  = "dev"
	revision = ""
)

// version string when this dispatcher has been built.
func VERSION() string {
	return version
}

// git revision of the build. Taken from build info when not set by ldflags.
func GIT_REVISION() string {
	if revision != "" {
		return revision
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return "unknown"
}

func VersionString() string {
	return VERSION() + " (commit: " + GIT_REVISION() + ")"
}
