// Package version holds build-time identifiers, grounded on the teacher's
// internal/version package and its -ldflags override convention.
package version

var (
	// Version is the daemon's semantic version.
	Version = "0.1.0"

	// GitCommit is set during build time (use -ldflags).
	GitCommit = "unknown"

	// BuildDate is set during build time (use -ldflags).
	BuildDate = "unknown"
)
