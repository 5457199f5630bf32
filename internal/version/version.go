// ABOUTME: Version information reported by the CLI, mDNS records and the monitor
// ABOUTME: Version is overridden at build time with -ldflags "-X"
package version

// Version is the release of this build.
var Version = "0.3.0"

const (
	// Product is the name shown to users.
	Product = "ftbuffer"
	// Manufacturer is the publisher of this build.
	Manufacturer = "Resonate Protocol"
)

// String returns "product version".
func String() string {
	return Product + " " + Version
}
