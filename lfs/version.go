package lfs

//go:generate go run ../cmd/gen-version -o gitversion.go

import "github.com/blang/semver"

// Generator is written into the asset block of every bundle's metadata.
const Generator = "LichtFeld Studio"

// Version is the semantic version of the SOG writer.
var Version = semver.MustParse("0.3.0")

// GitVersion is set by generated code when built from a git checkout.
var GitVersion string

// VersionString returns the generator name with the writer version.
func VersionString() string {
	if GitVersion != "" && GitVersion != Version.String() {
		return Generator + " " + Version.String() + " (" + GitVersion + ")"
	}
	return Generator + " " + Version.String()
}
