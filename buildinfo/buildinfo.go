// Package buildinfo holds the application's identity. Version, Commit and BuildTime
// are meant to be set at link time:
//
//	go build -ldflags "\
//	  -X github.com/nedpals/nfcv-agent/buildinfo.Version=1.0.0 \
//	  -X github.com/nedpals/nfcv-agent/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/nedpals/nfcv-agent/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	// Name is the binary and command name
	Name = "nfcv-agent"

	// DirName is the config directory under the user config path
	DirName = "nfcv-agent"

	// DisplayName is shown to people (config header, tray)
	DisplayName = "NFC-V Agent"

	Description = "Reads the value block of ISO 15693 tags"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// FullVersion is Version, followed by the commit in parentheses when known.
func FullVersion() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

// BuildInfo describes the binary for the version command.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}
