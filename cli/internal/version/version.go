// Package version reports the tutor CLI version. CommitHash is set with
// -ldflags at build time.
package version

import (
	"fmt"
	"strings"
)

// CommitHash is the git commit the binary was built from.
var CommitHash string

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease may only use [0-9A-Za-z-].
	appPreRelease = ""
)

// Version returns the semantic version of the CLI.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if pre := sanitize(appPreRelease); pre != "" {
		v += "-" + pre
	}
	return v
}

// RichVersion appends the commit hash when one was linked in.
func RichVersion() string {
	if hash := strings.TrimSpace(CommitHash); hash != "" {
		return fmt.Sprintf("%s commit_hash=%s", Version(), hash)
	}
	return Version()
}

// UserAgent is sent with HTTP requests and websocket handshakes.
func UserAgent() string {
	return "codetutor-cli/" + Version()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		}
		return -1
	}, s)
}
