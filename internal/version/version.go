// Package version carries build metadata, set with -ldflags "-X".
package version

import "fmt"

var (
	// Version is the firmware release, reported by get_version.
	Version = "dev"
	GitSHA  = "unknown"
	// BuildTime is an RFC 3339 timestamp.
	BuildTime = "unknown"
)

// String formats the metadata for startup logs.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
