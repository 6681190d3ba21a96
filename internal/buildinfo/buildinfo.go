// Package buildinfo holds version metadata stamped in by cmd/server at startup.
package buildinfo

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
