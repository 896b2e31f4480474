package driver

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// errBinaryNotFound is returned when an archive has no driver executable.
var errBinaryNotFound = errors.New("binary not found in archive")

// Extractor pulls the driver executable out of a release archive.
type Extractor struct{}

// NewExtractor creates a new extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractBinary writes the archive member named binaryName to destPath with
// mode 0755. Chrome for Testing archives keep it one directory deep
// ("chromedriver-linux64/chromedriver"), legacy archives at the root. A
// corrupt archive is a fetch error, a missing member a patch error.
func (e *Extractor) ExtractBinary(archivePath, destPath, binaryName string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fetchError("open archive", "", 0, fmt.Errorf("%s: %w", archivePath, err))
	}
	defer r.Close()

	member := findMember(r.File, binaryName)
	if member == nil {
		return &Error{Kind: KindPatch, Op: "extract driver", Path: archivePath, Err: errBinaryNotFound}
	}

	src, err := member.Open()
	if err != nil {
		return fetchError("open archive member", "", 0, fmt.Errorf("%s: %w", member.Name, err))
	}
	defer src.Close()

	outFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return fileError(KindFetch, "create driver file", destPath, err)
	}

	if _, err := io.Copy(outFile, src); err != nil {
		outFile.Close()
		os.Remove(destPath)
		return fetchError("extract driver", "", 0, fmt.Errorf("%s: %w", member.Name, err))
	}

	if err := outFile.Close(); err != nil {
		os.Remove(destPath)
		return fileError(KindFetch, "close driver file", destPath, err)
	}

	return nil
}

// findMember prefers "<dir>/<binaryName>" and falls back to a root-level
// "<binaryName>".
func findMember(files []*zip.File, binaryName string) *zip.File {
	var root *zip.File
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		segments := strings.Split(path.Clean(f.Name), "/")
		switch {
		case len(segments) == 2 && segments[1] == binaryName:
			return f
		case len(segments) == 1 && segments[0] == binaryName && root == nil:
			root = f
		}
	}
	return root
}
