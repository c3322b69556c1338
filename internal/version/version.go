// Package version carries build metadata stamped in by -ldflags, filled in
// from the Go toolchain's embedded VCS settings when the stamp is missing.
package version

import (
	"runtime/debug"
	"strconv"
)

// AppName identifies this service in build info, traces and profiles.
const AppName = "linnemanlabs-demos"

// Set with -ldflags "-X .../internal/version.Version=..." by the release build.
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildID    string
	VCSDirty   *bool
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildID    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get returns the stamped values overlaid with whatever the binary's
// embedded build info can fill in.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildID:    BuildID,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		out.GoVersion = bi.GoVersion
		out.overlay(bi.Settings)
	}
	return out
}

// overlay fills commit, dates and the dirty flag from vcs.* build settings.
// Stamped commit and build date win, commit date always comes from vcs.time.
func (i *Info) overlay(settings []debug.BuildSetting) {
	for _, s := range settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			i.CommitDate = s.Value
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if b, err := strconv.ParseBool(s.Value); err == nil {
				i.VCSDirty = &b
			}
		}
	}
}

// Dirty renders the tri-state dirty flag as a label value.
func (i Info) Dirty() string {
	if i.VCSDirty == nil {
		return "unknown"
	}
	return strconv.FormatBool(*i.VCSDirty)
}

// Tags is the build identity attached to profiles and the startup log.
func (i Info) Tags() map[string]string {
	return map[string]string{
		"version":  i.Version,
		"commit":   i.Commit,
		"build_id": i.BuildID,
	}
}
