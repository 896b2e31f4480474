package platform

import "testing"

func TestTargetDriverPlatform(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		legacy  bool
		want    string
		wantErr bool
	}{
		{name: "linux_amd64", target: Target{OS: "linux", Arch: "amd64"}, want: "linux64"},
		{name: "linux_amd64_legacy", target: Target{OS: "linux", Arch: "amd64"}, legacy: true, want: "linux64"},
		{name: "linux_arm64", target: Target{OS: "linux", Arch: "arm64"}, wantErr: true},
		{name: "mac_intel", target: Target{OS: "darwin", Arch: "amd64"}, want: "mac-x64"},
		{name: "mac_intel_legacy", target: Target{OS: "darwin", Arch: "amd64"}, legacy: true, want: "mac64"},
		{name: "mac_arm", target: Target{OS: "darwin", Arch: "arm64"}, want: "mac-arm64"},
		{name: "mac_arm_legacy", target: Target{OS: "darwin", Arch: "arm64"}, legacy: true, want: "mac_arm64"},
		{name: "windows_amd64", target: Target{OS: "windows", Arch: "amd64"}, want: "win64"},
		{name: "windows_386", target: Target{OS: "windows", Arch: "386"}, want: "win32"},
		{name: "windows_legacy", target: Target{OS: "windows", Arch: "amd64"}, legacy: true, want: "win32"},
		{name: "freebsd", target: Target{OS: "freebsd", Arch: "amd64"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.target.DriverPlatform(tt.legacy)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DriverPlatform(%v) = %q, want %q", tt.legacy, got, tt.want)
			}
		})
	}
}

func TestTargetExecutableName(t *testing.T) {
	if got := (Target{OS: "linux", Arch: "amd64"}).ExecutableName(); got != "chromedriver" {
		t.Errorf("linux executable = %q", got)
	}
	win := Target{OS: "windows", Arch: "amd64"}
	if got := win.ExecutableName(); got != "chromedriver.exe" {
		t.Errorf("windows executable = %q", got)
	}
	if got := win.ExecutableSuffix(); got != ".exe" {
		t.Errorf("windows suffix = %q", got)
	}
}

func TestNormalizeArch(t *testing.T) {
	tests := map[string]string{
		"amd64":   "amd64",
		"x86_64":  "amd64",
		"aarch64": "arm64",
		"386":     "386",
	}
	for in, want := range tests {
		got, err := normalizeArch(in)
		if err != nil || got != want {
			t.Errorf("normalizeArch(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := normalizeArch("mips"); err == nil {
		t.Error("expected error for mips")
	}
}

func TestMapFamily(t *testing.T) {
	if got := mapFamily(" Ubuntu "); got != FamilyDebian {
		t.Errorf("mapFamily(ubuntu) = %q", got)
	}
	if got := mapFamily("plan9"); got != FamilyUnknown {
		t.Errorf("mapFamily(plan9) = %q", got)
	}
}
