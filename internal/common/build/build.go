package build

import "runtime"

// Set with -ldflags "-X github.com/vladiki/Lean/internal/common/build.ReleaseVersion=..." at release time.
var (
	ReleaseVersion = "UNKNOWN"
	GitCommit      = "UNKNOWN"
	BuildTime      = "UNKNOWN"
	GoVersion      = runtime.Version()
)
