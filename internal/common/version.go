package common

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/bobmcallan/provsync/internal/common.Version=...".
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"` // built from a dirty tree
	GoVersion string `json:"go_version"`
}

var (
	buildOnce sync.Once
	buildInfo BuildInfo
)

// CurrentBuild returns the build metadata. Values not injected at link time
// come from the VCS stamp the Go toolchain embeds.
func CurrentBuild() BuildInfo {
	buildOnce.Do(func() {
		buildInfo = readBuild(Version, Build, GitCommit)
	})
	return buildInfo
}

func readBuild(version, build, commit string) BuildInfo {
	info := BuildInfo{Version: version, Build: build, Commit: commit, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	return stampBuild(info, bi)
}

func stampBuild(info BuildInfo, bi *debug.BuildInfo) BuildInfo {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if info.Build == "unknown" {
				info.Build = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// GetVersion returns the semantic version string
func GetVersion() string {
	return CurrentBuild().Version
}
