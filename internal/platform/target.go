package platform

import "fmt"

// Target is the {os, arch} pair a driver archive is published for.
type Target struct {
	OS   string
	Arch string
}

// String returns "os/arch".
func (t Target) String() string {
	return t.OS + "/" + t.Arch
}

// ExecutableName returns the driver executable name inside release archives.
func (t Target) ExecutableName() string {
	if t.OS == "windows" {
		return "chromedriver.exe"
	}
	return "chromedriver"
}

// ExecutableSuffix returns the suffix appended to driver files on disk.
func (t Target) ExecutableSuffix() string {
	if t.OS == "windows" {
		return ".exe"
	}
	return ""
}

// DriverPlatform returns the platform segment used in archive names and URLs.
// Legacy releases (major 114 and older) use the old storage bucket naming,
// newer ones the Chrome for Testing naming.
func (t Target) DriverPlatform(legacy bool) (string, error) {
	switch t.OS {
	case "linux":
		if t.Arch == "amd64" {
			return "linux64", nil
		}
	case "darwin":
		switch t.Arch {
		case "amd64":
			if legacy {
				return "mac64", nil
			}
			return "mac-x64", nil
		case "arm64":
			if legacy {
				return "mac_arm64", nil
			}
			return "mac-arm64", nil
		}
	case "windows":
		if legacy || t.Arch == "386" {
			return "win32", nil
		}
		return "win64", nil
	}
	return "", fmt.Errorf("no chromedriver build published for %s", t)
}
