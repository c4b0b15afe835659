package config

import "github.com/carlmjohnson/versioninfo"

// Version reports a human-readable build version string, derived from
// the binary's embedded VCS info (commit, dirty flag) the same way the
// teacher's own build stamps its version rather than hand-rolling a
// -ldflags string. Useful for the SHAKEHAND/connection-ready log line an
// embedding application typically emits on startup.
func Version() string {
	return versioninfo.Short()
}
