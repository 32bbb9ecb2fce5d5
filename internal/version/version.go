// Package version exposes the build version.
package version

// version is set at build time via -ldflags "-X ...version.version=v1.2.3".
var version = "0.1.0-dev"

// Get returns the current version string.
func Get() string {
	return version
}
