package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// ErrScan indicates that walking the source directory failed.
var ErrScan = errors.New("scan failed")

// Scan walks root depth-first and returns the slash-separated paths, relative
// to root, of every regular file that no exclusion pattern matches. The
// result is sorted lexicographically so archives built from it are
// reproducible for an unchanged tree.
//
// A file is excluded when any pattern matches either its relative path or its
// bare name; patterns use shell-glob semantics (path.Match). A directory that
// matches a pattern is pruned with its whole subtree. Directories are never
// returned. Symlinks are not followed and not returned, which keeps the walk
// cycle-free.
func Scan(root string, exclude []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrScan, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrScan, root)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("%w: walk %s: %v", ErrScan, p, walkErr)
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("%w: relativize %s: %v", ErrScan, p, err)
		}
		rel = filepath.ToSlash(rel)

		excluded, err := matchesAny(rel, exclude)
		if err != nil {
			return err
		}
		if excluded {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// matchesAny reports whether any pattern matches the relative path or its
// basename. First match wins.
func matchesAny(rel string, patterns []string) (bool, error) {
	base := path.Base(rel)
	for _, pattern := range patterns {
		for _, candidate := range []string{rel, base} {
			ok, err := path.Match(pattern, candidate)
			if err != nil {
				return false, fmt.Errorf("%w: bad exclude pattern %q: %v", ErrScan, pattern, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
