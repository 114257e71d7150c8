// Package version provides build and version information for vantage.
package version

// Version is the current release version of vantage.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/vantage-sec/vantage/internal/version.Version=x.y.z"
var Version = "1.0.0"
