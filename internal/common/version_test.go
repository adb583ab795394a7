package common

import (
	"runtime/debug"
	"testing"
)

func TestStampBuild_FillsUnsetFieldsFromVCS(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-10-01T09:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	got := stampBuild(BuildInfo{Version: "dev", Build: "unknown", Commit: "unknown"}, bi)
	if got.Version != "v0.4.1" {
		t.Errorf("Version = %q, want v0.4.1", got.Version)
	}
	if got.Commit != "0123456" {
		t.Errorf("Commit = %q, want 0123456", got.Commit)
	}
	if got.Build != "2026-10-01T09:00:00Z" {
		t.Errorf("Build = %q", got.Build)
	}
	if !got.Modified {
		t.Error("Modified = false, want true")
	}
}

func TestStampBuild_LinkerValuesWin(t *testing.T) {
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "fedcba9876543210"}},
	}

	got := stampBuild(BuildInfo{Version: "1.2.0", Build: "20261014", Commit: "abc1234"}, bi)
	if got.Version != "1.2.0" || got.Build != "20261014" || got.Commit != "abc1234" {
		t.Errorf("linker values overwritten: %+v", got)
	}
}

func TestStampBuild_DevelVersionStaysDev(t *testing.T) {
	got := stampBuild(BuildInfo{Version: "dev", Build: "unknown", Commit: "unknown"}, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if got.Version != "dev" {
		t.Errorf("Version = %q, want dev", got.Version)
	}
}
