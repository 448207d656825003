package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the full version line logged at startup.
func String() string {
	return fmt.Sprintf("camsolve %s (%s, built %s)", Version, GitSHA, BuildTime)
}
