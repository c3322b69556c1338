package version

import (
	"runtime/debug"
	"testing"
)

func ptr(b bool) *bool { return &b }

func TestOverlay(t *testing.T) {
	vcs := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "9f1c2ab"},
		{Key: "vcs.time", Value: "2025-01-01T00:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	tests := []struct {
		name     string
		in       Info
		settings []debug.BuildSetting
		want     Info
	}{
		{
			name:     "unstamped takes everything from vcs",
			in:       Info{Version: "dev", Commit: "none"},
			settings: vcs,
			want:     Info{Version: "dev", Commit: "9f1c2ab", CommitDate: "2025-01-01T00:00:00Z", BuildDate: "2025-01-01T00:00:00Z", VCSDirty: ptr(true)},
		},
		{
			name:     "stamped commit and build date win",
			in:       Info{Version: "1.4.0", Commit: "abc1234", BuildDate: "2025-02-02T10:00:00Z"},
			settings: vcs,
			want:     Info{Version: "1.4.0", Commit: "abc1234", CommitDate: "2025-01-01T00:00:00Z", BuildDate: "2025-02-02T10:00:00Z", VCSDirty: ptr(true)},
		},
		{
			name:     "empty and garbage values ignored",
			in:       Info{Commit: "none", VCSDirty: ptr(false)},
			settings: []debug.BuildSetting{{Key: "vcs.revision"}, {Key: "vcs.modified", Value: "maybe"}},
			want:     Info{Commit: "none", VCSDirty: ptr(false)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.overlay(tt.settings)
			if got.Commit != tt.want.Commit || got.CommitDate != tt.want.CommitDate || got.BuildDate != tt.want.BuildDate {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if got.Dirty() != tt.want.Dirty() {
				t.Fatalf("Dirty() = %s, want %s", got.Dirty(), tt.want.Dirty())
			}
		})
	}
}

func TestDirty(t *testing.T) {
	tests := map[string]*bool{"unknown": nil, "true": ptr(true), "false": ptr(false)}
	for want, in := range tests {
		if got := (Info{VCSDirty: in}).Dirty(); got != want {
			t.Errorf("Dirty(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestGet_StampedDirtyFlag(t *testing.T) {
	saved := VCSDirty
	t.Cleanup(func() { VCSDirty = saved })

	VCSDirty = ptr(true)
	info := Get()
	if info.Version == "" || info.GoVersion == "" {
		t.Fatalf("Get() = %+v, want version and go version", info)
	}
	// test binaries carry no vcs settings, so the stamp survives
	if info.Dirty() != "true" {
		t.Fatalf("Dirty() = %s, want stamped true", info.Dirty())
	}
}

func TestTags(t *testing.T) {
	tags := Info{Version: "1.4.0", Commit: "9f1c2ab", BuildID: "b-77"}.Tags()
	if tags["version"] != "1.4.0" || tags["commit"] != "9f1c2ab" || tags["build_id"] != "b-77" {
		t.Fatalf("Tags() = %v", tags)
	}
}
