// Package version provides build and version information for storygen.
package version

// Version is the current release version of storygen.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/version.Version=x.y.z"
var Version = "1.0.0"

// BundleFormat is the manifest bundle_version this build writes.
const BundleFormat = 1
