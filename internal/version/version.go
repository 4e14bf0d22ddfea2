// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the release version.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and start-up logs.
func String() string {
	return fmt.Sprintf("footfall %s (%s, built %s)", Version, GitSHA, BuildTime)
}
