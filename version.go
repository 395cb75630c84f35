// Package approxcount provides the version information for approxcount.
package approxcount

// Version is the current version of approxcount.
const Version = "0.1.0"

// GetVersion returns the current version string.
func GetVersion() string {
	return Version
}
