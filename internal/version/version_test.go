package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	origVersion := Version
	origCommit := Commit
	origDate := Date

	Version = "0.3.0"
	Commit = "abc123def456"
	Date = "2026-01-01T12:00:00Z"

	defer func() {
		Version = origVersion
		Commit = origCommit
		Date = origDate
	}()

	info := GetInfo()

	if info.Version != "0.3.0" {
		t.Errorf("GetInfo().Version = %v, want 0.3.0", info.Version)
	}
	if info.Commit != "abc123def456" {
		t.Errorf("GetInfo().Commit = %v, want abc123def456", info.Commit)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GetInfo().GoVersion = %v, want %v", info.GoVersion, runtime.Version())
	}
	expectedPlatform := runtime.GOOS + "/" + runtime.GOARCH
	if info.Platform != expectedPlatform {
		t.Errorf("GetInfo().Platform = %v, want %v", info.Platform, expectedPlatform)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want []string // substrings that should be present
	}{
		{
			name: "full version info",
			info: Info{
				Version:   "0.3.0",
				Commit:    "abc123def456",
				Date:      "2026-01-01T12:00:00Z",
				GoVersion: "go1.24.0",
				Platform:  "linux/amd64",
			},
			want: []string{
				"plansync",
				"0.3.0",
				"abc123de", // truncated commit
				"2026-01-01T12:00:00Z",
				"go1.24.0",
				"linux/amd64",
			},
		},
		{
			name: "short commit hash",
			info: Info{
				Version:   "0.3.0",
				Commit:    "abc123",
				Date:      "2026-01-01",
				GoVersion: "go1.24.0",
				Platform:  "darwin/arm64",
			},
			want: []string{"plansync", "0.3.0", "abc123", "darwin/arm64"},
		},
		{
			name: "dev version",
			info: Info{
				Version:   "dev",
				Commit:    "unknown",
				Date:      "unknown",
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			},
			want: []string{"plansync", "dev", "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.String()
			for _, substr := range tt.want {
				if !strings.Contains(got, substr) {
					t.Errorf("Info.String() = %v, missing substring %v", got, substr)
				}
			}
		})
	}
}

func TestInfoShort(t *testing.T) {
	info := Info{Version: "0.3.0-rc1"}
	if got := info.Short(); got != "0.3.0-rc1" {
		t.Errorf("Info.Short() = %v, want 0.3.0-rc1", got)
	}
}
