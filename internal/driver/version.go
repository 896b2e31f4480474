package driver

import (
	"fmt"
	"strconv"
	"strings"
)

// LegacyMaxMajor is the last major released on the legacy storage bucket.
const LegacyMaxMajor = 114

// Version is a dotted numeric driver or browser version with 1 to 4
// components, e.g. "120" or "120.0.6099.109".
type Version struct {
	parts []int
	raw   string
}

// ParseVersion parses s. Empty or non-numeric components are rejected.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}

	fields := strings.Split(s, ".")
	if len(fields) > 4 {
		return Version{}, fmt.Errorf("version %q has more than 4 components", s)
	}

	parts := make([]int, len(fields))
	for i, f := range fields {
		if f == "" {
			return Version{}, fmt.Errorf("version %q has an empty component", s)
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("version %q has non-numeric component %q", s, f)
		}
		parts[i] = n
	}

	return Version{parts: parts, raw: s}, nil
}

// ParseRequestedVersion parses a version a caller asks for. Only a milestone
// ("120") or a full four-component build ("120.0.6099.109") names something
// downloadable; partial versions such as "114.0" are rejected.
func ParseRequestedVersion(s string) (Version, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, err
	}
	if n := v.Components(); n != 1 && n != 4 {
		return Version{}, fmt.Errorf("version %q must be a milestone like \"120\" or a full version like \"120.0.6099.109\"", v.raw)
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants; it panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool {
	return len(v.parts) == 0
}

// Major returns the first component.
func (v Version) Major() int {
	if v.IsZero() {
		return 0
	}
	return v.parts[0]
}

// Components returns the number of components.
func (v Version) Components() int {
	return len(v.parts)
}

// IsLegacy reports whether the version is published on the legacy bucket.
func (v Version) IsLegacy() bool {
	return v.Major() <= LegacyMaxMajor
}

// String returns the dotted form as parsed.
func (v Version) String() string {
	return v.raw
}

// Compare orders versions numerically; missing components count as 0.
func (v Version) Compare(o Version) int {
	n := max(len(v.parts), len(o.parts))
	for i := 0; i < n; i++ {
		a, b := v.part(i), o.part(i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// Equal reports whether both versions have the same components.
func (v Version) Equal(o Version) bool {
	if len(v.parts) != len(o.parts) {
		return false
	}
	return v.Compare(o) == 0
}

func (v Version) part(i int) int {
	if i < len(v.parts) {
		return v.parts[i]
	}
	return 0
}
