// Package version holds build-time version metadata.
package version

var (
	Version = "1.0.0"
	Commit  = "none"
	Date    = "unknown"
)
