// Package version holds build information set by the linker.
package version

// Set with -ldflags "-X github.com/fleetops/armada/internal/version.Version=..."
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
)

// String is the version and, when known, the commit it was built from.
func String() string {
	if GitCommit == "" {
		return "armada v" + Version
	}
	return "armada v" + Version + " (" + GitCommit + ")"
}
