package driver

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
)

const (
	// PatchMarker is present in every patched binary.
	PatchMarker = "undetected chromedriver"

	patchReplacement = `{console.log("undetected chromedriver 1337!")}`
)

// cdcBlock matches the injected automation-detection snippet.
var cdcBlock = regexp.MustCompile(`\{window\.cdc.*?;\}`)

// Patcher neutralizes the detection snippet inside a driver binary.
// Patching replaces bytes in place: file size and every offset are kept.
type Patcher struct{}

// NewPatcher creates a patcher.
func NewPatcher() *Patcher {
	return &Patcher{}
}

// PatchBytes returns a copy of data with every detection block replaced by
// the marker snippet right-padded with spaces, and the number of blocks
// replaced. A block shorter than the replacement cannot be patched without
// moving bytes and is an error.
func (p *Patcher) PatchBytes(data []byte) ([]byte, int, error) {
	matches := cdcBlock.FindAllIndex(data, -1)
	if len(matches) == 0 {
		return data, 0, nil
	}

	out := bytes.Clone(data)
	for _, m := range matches {
		n := m[1] - m[0]
		if n < len(patchReplacement) {
			return nil, 0, fmt.Errorf("detection block at offset %d is %d bytes, replacement needs %d", m[0], n, len(patchReplacement))
		}
		copy(out[m[0]:m[1]], patchReplacement)
		for i := m[0] + len(patchReplacement); i < m[1]; i++ {
			out[i] = ' '
		}
	}

	return out, len(matches), nil
}

// Patch patches the file at path in place. It reports whether anything was
// changed; a binary without detection blocks is left untouched.
func (p *Patcher) Patch(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fileError(KindPatch, "stat driver", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fileError(KindPatch, "read driver", path, err)
	}

	patched, n, err := p.PatchBytes(data)
	if err != nil {
		return false, &Error{Kind: KindPatch, Op: "patch driver", Path: path, Err: err}
	}
	if n == 0 {
		return false, nil
	}

	if err := os.WriteFile(path, patched, info.Mode().Perm()); err != nil {
		return false, fileError(KindPatch, "write driver", path, err)
	}
	recordPatch()

	return true, nil
}

// IsPatched reports whether the file at path carries the patch marker.
// Missing or unreadable files are not patched.
func (p *Patcher) IsPatched(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(PatchMarker))
}
