package common

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var version string

// Version returns the current version of the OTA tooling.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent returns the User-Agent header value used for outgoing requests.
func UserAgent() string {
	return "bundle-ota/" + Version()
}
