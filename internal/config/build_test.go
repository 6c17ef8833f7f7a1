package config

import "testing"

func TestNewBuildInfo_Unstamped(t *testing.T) {
	info := NewBuildInfo()

	// Test binaries carry no ldflags and no VCS stamp.
	if info.Version != "dev" {
		t.Errorf("Version = %q, want %q", info.Version, "dev")
	}
	if info.Commit != "none" {
		t.Errorf("Commit = %q, want %q", info.Commit, "none")
	}
}

func TestNewBuildInfo_LdflagsWin(t *testing.T) {
	defer func(v, c, b string) { version, commit, buildTime = v, c, b }(version, commit, buildTime)
	version, commit, buildTime = "1.4.0", "3f2a9c1", "2026-03-09T09:00:00Z"

	got := NewBuildInfo()
	want := BuildInfo{Version: "1.4.0", Commit: "3f2a9c1", BuildTime: "2026-03-09T09:00:00Z"}
	if got != want {
		t.Errorf("NewBuildInfo() = %+v, want %+v", got, want)
	}
	if s := got.String(); s != "1.4.0 (3f2a9c1, built 2026-03-09T09:00:00Z)" {
		t.Errorf("String() = %q", s)
	}
}

func TestShortRevision(t *testing.T) {
	if got := shortRevision("0123456789abcdef0123"); got != "0123456789ab" {
		t.Errorf("shortRevision(long) = %q", got)
	}
	if got := shortRevision("abc"); got != "abc" {
		t.Errorf("shortRevision(short) = %q", got)
	}
}
