// Package version holds build information for chainwatch.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X chainwatch/internal/version.Version=... -X ...Commit=...".
// Commit falls back to the VCS revision the Go toolchain stamps into the
// binary.
var (
	Version   = "0.4.0"
	Commit    = ""
	BuildDate = ""
)

var readBuildInfo = debug.ReadBuildInfo

// Revision returns the commit chainwatch was built from, or "" when
// neither ldflags nor the build info carry one.
func Revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// Full is printed by "chainwatch version".
func Full() string {
	var b strings.Builder
	b.WriteString("chainwatch " + Version)
	if rev := Revision(); rev != "" {
		b.WriteString("\nCommit: " + rev)
	}
	if BuildDate != "" {
		b.WriteString("\nBuilt: " + BuildDate)
	}
	b.WriteString("\nGo: " + runtime.Version())
	return b.String()
}

// UserAgent is sent with profile fetches and webhook deliveries.
func UserAgent() string {
	if rev := Revision(); len(rev) >= 7 {
		return "chainwatch/" + Version + " (" + rev[:7] + ")"
	}
	return "chainwatch/" + Version
}
