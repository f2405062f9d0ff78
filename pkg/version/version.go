// Package version carries build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Build metadata, set with -ldflags "-X github.com/mbhatt1/hive-sub000/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns the one-line version banner printed by `hive version`.
func String() string {
	return fmt.Sprintf("Hive %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildTime, runtime.Version())
}

// Short returns the version with the abbreviated commit, e.g. "1.2.0+abc1234".
func Short() string {
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit == "" || commit == "unknown" {
		return Version
	}
	return Version + "+" + commit
}

// Info returns the build metadata as key/value pairs for JSON output.
func Info() map[string]string {
	return map[string]string{
		"version":   Version,
		"commit":    GitCommit,
		"buildTime": BuildTime,
		"goVersion": runtime.Version(),
		"platform":  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
