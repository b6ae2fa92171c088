package main

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// Version is the daemon's release version, bumped by hand per release.
// Validated at init with hashicorp/go-version the way the teacher
// validates incoming semver strings rather than trusting a literal, so
// a typo here fails fast at startup instead of surfacing as a confusing
// string downstream.
const Version = "1.0.0"

var parsedVersion *version.Version

func init() {
	v, err := version.NewVersion(Version)
	if err != nil {
		panic(fmt.Sprintf("invalid build-time Version constant %q: %v", Version, err))
	}
	parsedVersion = v
}

// versionString returns the string printed by -v/--version.
func versionString() string {
	return fmt.Sprintf("pluto-sdr-ip-gadget %s", parsedVersion.String())
}
