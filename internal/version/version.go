// Package version carries build metadata stamped in via -ldflags.
package version

var (
	// Version is the release tag or "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String renders the version triple for -version output and /api/health.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
