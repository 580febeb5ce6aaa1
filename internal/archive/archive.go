// Package archive materializes downloaded release artifacts on disk:
// tar.gz and zip extraction with component stripping, plus the
// executable-bit pass for declared binaries.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/platform"
	"git.home.luguber.info/inful/dbdepot/internal/state"
)

const (
	kindTarGz = "tar.gz"
	kindZip   = "zip"
)

// classify maps an archive filename to its format. Empty means unsupported.
func classify(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return kindTarGz
	case strings.HasSuffix(lower, ".zip"):
		return kindZip
	}
	return ""
}

// Extract unpacks archivePath into dest, creating the destination tree
// first. Format follows the filename suffix (.tar.gz/.tgz or .zip).
//
// stripComponents removes the first N path segments from every member:
// tar entries with N or fewer segments are dropped and the rest are
// rewritten before being written out; zip has no per-entry equivalent,
// so the sole top-level directory (when exactly one exists) is hoisted
// up a level after extraction and then removed.
func Extract(archivePath, dest string, stripComponents int) error {
	kind := classify(archivePath)
	if kind == "" {
		return errors.UnsupportedFormat(archivePath)
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityError, "creating extraction directory")
	}

	var err error
	switch kind {
	case kindTarGz:
		err = extractTarGz(archivePath, dest, stripComponents)
	case kindZip:
		err = extractZip(archivePath, dest, stripComponents)
	}
	if err != nil {
		return errors.ArchiveExtract(archivePath, err)
	}
	return nil
}

// MarkExecutable sets the 0755 mode on every declared binary under dest.
// Windows-style platforms carry no execute bit, so the pass is skipped
// there entirely, missing paths included.
func MarkExecutable(dest string, binaries []state.BinarySpec, p platform.ID) error {
	if p.IsWindows() {
		return nil
	}
	for _, b := range binaries {
		target, err := safeJoin(dest, b.Path)
		if err != nil {
			return errors.Wrap(err, errors.CategoryArchive, errors.SeverityError, "resolving declared binary path").
				WithContext("binary", b.Name)
		}
		// #nosec G302 - database executables need the exec bit
		if err := os.Chmod(target, 0o755); err != nil {
			return errors.Wrap(err, errors.CategoryArchive, errors.SeverityError, "marking declared binary executable").
				WithContext("binary", b.Name).
				WithContext("path", b.Path)
		}
	}
	return nil
}

func extractTarGz(archivePath, dest string, strip int) error {
	file, err := os.Open(archivePath) // #nosec G304 - archive path comes from the local cache
	if err != nil {
		return err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name, keep := stripPath(hdr.Name, strip)
		if !keep {
			continue
		}
		target, err := safeJoin(dest, name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if hdr.Size < 0 {
				return fmt.Errorf("negative size for entry %q", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := writeFileFrom(target, tr, hdr.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractZip(archivePath, dest string, strip int) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		// #nosec G115 - declared entry sizes fit in int64
		werr := writeFileFrom(target, rc, int64(f.UncompressedSize64))
		if cerr := rc.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return werr
		}
	}

	for i := 0; i < strip; i++ {
		hoisted, err := hoistSoleTopDir(dest)
		if err != nil {
			return err
		}
		if !hoisted {
			break
		}
	}
	return nil
}

// writeFileFrom copies exactly size bytes so a lying header cannot turn
// extraction into an unbounded write.
func writeFileFrom(target string, r io.Reader, size int64) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 - target validated by safeJoin
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, r, size); err != nil && !stdErrors.Is(err, io.EOF) {
		if cerr := out.Close(); cerr != nil {
			return cerr
		}
		return err
	}
	return out.Close()
}

// stripPath drops the first strip segments from a slash-separated member
// path. Entries with strip or fewer segments vanish (the unwrapped
// top-level directory itself, typically).
func stripPath(name string, strip int) (string, bool) {
	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "", false
	}
	if strip <= 0 {
		return clean, true
	}
	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false
	}
	return path.Join(parts[strip:]...), true
}

// hoistSoleTopDir moves the children of dest's single top-level directory
// up into dest and removes the emptied directory. Reports false when dest
// does not hold exactly one directory.
func hoistSoleTopDir(dest string) (bool, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return false, err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return false, nil
	}
	top := filepath.Join(dest, entries[0].Name())
	children, err := os.ReadDir(top)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(top, child.Name()), filepath.Join(dest, child.Name())); err != nil {
			return false, err
		}
	}
	if err := os.Remove(top); err != nil {
		return false, err
	}
	return true, nil
}

// safeJoin joins an archive member path onto base, rejecting absolute
// paths and anything that would resolve outside base.
func safeJoin(base, name string) (string, error) {
	clean := filepath.Clean(strings.TrimSpace(name))
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid archive entry path %q", name)
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute archive entry path %q", name)
	}
	target := filepath.Join(base, clean)
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("invalid archive entry path %q", name)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry path %q escapes destination", name)
	}
	return target, nil
}
