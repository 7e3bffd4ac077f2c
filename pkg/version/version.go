// Package version exposes the application name and version derived
// from build metadata.
//
// Go 1.18+ automatically embeds VCS info (git commit, dirty flag, etc.)
// and the main module's path into the binary via
// runtime/debug.BuildInfo. No -ldflags required.
//
// Usage:
//
//	version.AppName     // "mwilliams-mcpbridge", or "mcpbridge" without a module path
//	version.GitCommit   // "a3f8c2d1" or "dev"
//	version.Full()      // "mwilliams-mcpbridge/a3f8c2d1" or "mcpbridge/dev"
package version

import (
	"path"
	"runtime/debug"
)

// fallbackAppName is used when build info carries no usable module
// path, e.g. `go test` binaries or a `go run` invocation, where
// Main.Path is empty or the synthetic "command-line-arguments".
const fallbackAppName = "mcpbridge"

// AppName is the application name used in version strings and
// protocol handshakes, derived from the last path segment of the main
// module's path so a module rename doesn't require touching this file.
var AppName = initAppName()

// GitCommit is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable (e.g., `go test`, non-git builds).
var GitCommit = initGitCommit()

func initAppName() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Path == "" || info.Main.Path == "command-line-arguments" {
		return fallbackAppName
	}
	return path.Base(info.Main.Path)
}

func initGitCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "<app-name>/<commit>" for use in user-agent strings, logging, etc.
func Full() string {
	return AppName + "/" + GitCommit
}
