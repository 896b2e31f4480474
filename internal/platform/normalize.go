package platform

import (
	"fmt"
	"strings"
)

// familyMap maps distribution names reported by gopsutil to canonical families.
var familyMap = map[string]string{
	"debian":  FamilyDebian,
	"ubuntu":  FamilyDebian,
	"rhel":    FamilyRHEL,
	"centos":  FamilyRHEL,
	"rocky":   FamilyRHEL,
	"fedora":  FamilyFedora,
	"arch":    FamilyArch,
	"manjaro": FamilyArch,
	"alpine":  FamilyAlpine,
}

// normalizeArch converts GOARCH values to normalized architecture names.
// chromedriver is published for x86-64 and arm64 only (plus win32, which is
// selected from the OS, not the arch).
func normalizeArch(arch string) (string, error) {
	switch arch {
	case "amd64", "x86_64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	case "386", "i386", "i686":
		return "386", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", arch)
	}
}

func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

func mapFamily(family string) string {
	normalized := strings.ToLower(strings.TrimSpace(family))
	if canonical, ok := familyMap[normalized]; ok {
		return canonical
	}
	return FamilyUnknown
}
