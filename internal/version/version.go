// Package version holds build information set via -ldflags.
package version

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X aichat/internal/version.Version=v1.0.0 -X aichat/internal/version.Commit=$(git rev-parse --short HEAD) -X aichat/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("aichat %s (commit %s, built %s)", Version, Commit, Date)
}
