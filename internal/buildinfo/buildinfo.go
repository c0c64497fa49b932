// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// startTime records when the process started.
var startTime = time.Now()

// Info returns build and runtime info as a map, suitable for the
// version command and the health endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// clientVersion is the version advertised to upstream APIs. It is pinned
// rather than tied to Version so upstream logs stay stable across builds.
const clientVersion = "1.0"

// UserAgent is the default User-Agent sent on every outbound request.
func UserAgent() string {
	return "Reactive-API-Console/" + clientVersion
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("apiconsole %s (%s) built %s", Version, GitCommit, BuildTime)
}
