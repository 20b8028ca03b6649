// Package version holds build information set by the linker.
package version

// Version is overridden with -ldflags "-X github.com/Zereker/vdport/internal/version.Version=...".
var Version = "dev"
