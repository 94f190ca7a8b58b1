// Package version exposes the build identity stamped in at link time.
package version

import "fmt"

// Overridden via -ldflags "-X github.com/avaropoint/viewport/internal/version.Version=v1.2.0 ...".
var (
	Version = "dev"
	Commit  = "unknown"
)

// String renders the identity the binaries print for -version.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
