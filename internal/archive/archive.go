package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// ErrArchive indicates a failure while building or reading an archive:
// duplicate entries, an input disappearing mid-build, or a corrupt container.
var ErrArchive = errors.New("archive failed")

// ErrDuplicateEntry is returned when two inputs normalize to the same entry
// name. It wraps ErrArchive.
var ErrDuplicateEntry = fmt.Errorf("%w: duplicate entry", ErrArchive)

// ErrPathTraversal is returned when an archive entry would escape the
// extraction target. It guards untrusted or corrupted archives.
var ErrPathTraversal = errors.New("archive entry escapes target directory")

// Build writes a zip archive at dest containing files, each stored under its
// root-relative slash path. level is the deflate level: 0 stores entries
// uncompressed, 9 compresses hardest.
func Build(root, dest string, files []string, level int) error {
	if level < 0 || level > 9 {
		return fmt.Errorf("%w: compression level %d out of range", ErrArchive, level)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrArchive, dest, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	method := uint16(zip.Deflate)
	if level == 0 {
		method = zip.Store
	}

	seen := make(map[string]struct{}, len(files))
	for _, rel := range files {
		name := path.Clean(filepath.ToSlash(rel))
		if _, dup := seen[name]; dup {
			zw.Close()
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
		}
		seen[name] = struct{}{}

		if err := addEntry(zw, root, name, method); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finalize %s: %v", ErrArchive, dest, err)
	}
	return nil
}

// addEntry copies one source file into the archive. A file that vanished
// between scan and build surfaces as ErrArchive.
func addEntry(zw *zip.Writer, root, name string, method uint16) error {
	src := filepath.Join(root, filepath.FromSlash(name))

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: source %s disappeared: %v", ErrArchive, name, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("%w: header for %s: %v", ErrArchive, name, err)
	}
	hdr.Name = name
	hdr.Method = method

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("%w: add %s: %v", ErrArchive, name, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: source %s disappeared: %v", ErrArchive, name, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrArchive, name, err)
	}
	return nil
}

// Extract unpacks the zip archive at src into targetDir, creating it if
// absent, and returns the paths written, in archive entry order. Entries that
// would land outside targetDir are rejected with ErrPathTraversal before
// anything is written for them. Re-extracting over an existing extraction
// overwrites in place, so the operation is idempotent.
func Extract(src, targetDir string) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrArchive, src, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create target %s: %v", ErrArchive, targetDir, err)
	}

	var extracted []string
	for _, entry := range zr.File {
		dest, err := safeJoin(targetDir, entry.Name)
		if err != nil {
			return nil, err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create dir %s: %v", ErrArchive, entry.Name, err)
			}
			continue
		}

		if err := writeEntry(entry, dest); err != nil {
			return nil, err
		}
		extracted = append(extracted, dest)
	}

	return extracted, nil
}

// safeJoin resolves an archive entry name under target, rejecting absolute
// names and any .. component that would escape it.
func safeJoin(target, name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return filepath.Join(target, filepath.FromSlash(clean)), nil
}

func writeEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: create dir for %s: %v", ErrArchive, entry.Name, err)
	}

	r, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrArchive, entry.Name, err)
	}
	defer r.Close()

	mode := entry.Mode()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrArchive, dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("%w: extract %s: %v", ErrArchive, entry.Name, err)
	}
	return nil
}
