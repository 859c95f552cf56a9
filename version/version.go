// Package version exposes build metadata injected at link time.
package version

import "runtime"

// Set via -ldflags at release build time.
var (
	GitRelease    = "dev"
	GitCommit     = "unknown"
	GitCommitDate = "unknown"
)

// GoInfo is the Go toolchain version this binary was built with.
var GoInfo = runtime.Version()
