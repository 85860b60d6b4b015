package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var raw string

// Version is the release embedded from the VERSION file.
var Version = strings.TrimSpace(raw)

// Commit and BuildTime are set with -ldflags "-X".
var (
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Get returns the current version of the application
func Get() string {
	return Version
}

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("wuhost %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
