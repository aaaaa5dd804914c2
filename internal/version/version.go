// Package version holds the sidecar build version, reported to the
// control plane and shown next to the server version on mismatch.
package version

// Version is overridable at build time:
//
//	go build -ldflags "-X mlbridge/sidecar/internal/version.Version=1.2.3"
var Version = "0.4.0"
