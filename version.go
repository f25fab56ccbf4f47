/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/suparena/entityrepo/registry"
)

// Version information set by build flags
var (
	// Version is the semantic version of entityrepo
	Version = "0.3.0"

	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"

	// BuildDate is the build date (set by build flags)
	BuildDate = "unknown"
)

// VersionInfo contains version information
type VersionInfo struct {
	Version   string   `json:"version" yaml:"version"`
	GitCommit string   `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string   `json:"buildDate" yaml:"buildDate"`
	GoVersion string   `json:"goVersion" yaml:"goVersion"`
	Providers []string `json:"providers" yaml:"providers"`
}

// GetVersionInfo returns the version information and the registered store
// providers.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Providers: registry.Providers(),
	}
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("entityrepo %s (commit %s, built %s, %s)\nproviders: %s",
		v.Version, v.GitCommit, v.BuildDate, v.GoVersion, strings.Join(v.Providers, ", "))
}
