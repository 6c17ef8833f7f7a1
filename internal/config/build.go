package config

import (
	"fmt"
	"runtime/debug"
)

// Set by the release build for both alarmd and alarmctl:
//
//	-ldflags "-X escalarm/internal/config.version=1.4.0 -X escalarm/internal/config.commit=$(git rev-parse --short HEAD) -X escalarm/internal/config.buildTime=..."
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// BuildInfo describes the running binary. It never comes from the
// environment.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// NewBuildInfo reports the ldflags values. A plain `go build` or
// `go install` leaves commit unset, in which case the VCS stamp the
// toolchain embeds is used instead.
func NewBuildInfo() BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if info.Commit != "none" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, kv := range bi.Settings {
			switch kv.Key {
			case "vcs.revision":
				info.Commit = shortRevision(kv.Value)
			case "vcs.time":
				if info.BuildTime == "unknown" {
					info.BuildTime = kv.Value
				}
			}
		}
	}
	return info
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", b.Version, b.Commit, b.BuildTime)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
