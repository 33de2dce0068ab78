package tools

import "strings"

// ArtifactsMode tags a tool descriptor as an artifact source (on), not one
// (off), or unspecified (auto).
//
// Adapted from runtime/agent/tools/artifacts.go, where the mode gated
// whether a generated UI artifact was produced for a tool call. Here it is
// only a tag: neither the Streaming Parser nor the LLM Driver reads it, and
// the parser scans every tool call's arguments for File and Plan artifacts
// whatever the mode.
type ArtifactsMode string

const (
	// ArtifactsModeAuto leaves the choice unspecified.
	ArtifactsModeAuto ArtifactsMode = "auto"
	// ArtifactsModeOn tags the tool as producing artifacts.
	ArtifactsModeOn ArtifactsMode = "on"
	// ArtifactsModeOff tags the tool as producing no artifacts.
	ArtifactsModeOff ArtifactsMode = "off"
)

// ParseArtifactsMode normalizes s to an ArtifactsMode, returning the zero
// value when s is not recognized.
func ParseArtifactsMode(s string) ArtifactsMode {
	switch strings.ToLower(s) {
	case string(ArtifactsModeAuto):
		return ArtifactsModeAuto
	case string(ArtifactsModeOn):
		return ArtifactsModeOn
	case string(ArtifactsModeOff):
		return ArtifactsModeOff
	default:
		return ""
	}
}

// Valid reports whether m is a recognized non-zero artifacts mode.
func (m ArtifactsMode) Valid() bool {
	switch m {
	case ArtifactsModeAuto, ArtifactsModeOn, ArtifactsModeOff:
		return true
	default:
		return false
	}
}
