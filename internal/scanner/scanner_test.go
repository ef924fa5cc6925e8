package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTree creates files under root from a map of relative path to content.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestScan_SortedRelativePaths(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b/c.txt": "2",
		"a.txt":   "1",
		"b/a.txt": "3",
	})

	files, err := Scan(root, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b/a.txt", "b/c.txt"}, files)
}

func TestScan_Exclusions(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		exclude []string
		want    []string
	}{
		{
			name:    "no patterns keeps everything",
			files:   map[string]string{"a.txt": "", "b/c.log": ""},
			exclude: nil,
			want:    []string{"a.txt", "b/c.log"},
		},
		{
			name:    "basename glob matches in subdirectories",
			files:   map[string]string{"a.txt": "", "b/c.log": "", "d.log": ""},
			exclude: []string{"*.log"},
			want:    []string{"a.txt"},
		},
		{
			name:    "relative path glob",
			files:   map[string]string{"build/out.bin": "", "src/main.c": ""},
			exclude: []string{"build/*"},
			want:    []string{"src/main.c"},
		},
		{
			name:    "exact basename match",
			files:   map[string]string{".DS_Store": "", "sub/.DS_Store": "", "keep.txt": ""},
			exclude: []string{".DS_Store"},
			want:    []string{"keep.txt"},
		},
		{
			name:    "first match wins over later patterns",
			files:   map[string]string{"a.tmp": ""},
			exclude: []string{"*.tmp", "a.*"},
			want:    nil,
		},
		{
			name:    "directory pattern prunes the subtree",
			files:   map[string]string{".git/config": "", ".git/objects/ab": "", "src/main.go": ""},
			exclude: []string{".git"},
			want:    []string{"src/main.go"},
		},
		{
			name:    "nested directory pruned by basename",
			files:   map[string]string{"a/node_modules/pkg/index.js": "", "a/app.js": ""},
			exclude: []string{"node_modules"},
			want:    []string{"a/app.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, tt.files)

			got, err := Scan(root, tt.exclude)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestScan_SkipsDirectoriesAndSymlinks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"real.txt": "x"})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty-dir"), 0o755))

	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	files, err := Scan(root, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"real.txt"}, files)
}

func TestScan_MissingRoot(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"), nil)
	require.ErrorIs(t, err, ErrScan)
}

func TestScan_RootIsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Scan(file, nil)
	require.ErrorIs(t, err, ErrScan)
}

func TestScan_BadPattern(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": ""})

	_, err := Scan(root, []string{"["})
	require.ErrorIs(t, err, ErrScan)
}

func TestScan_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"x/1.txt": "", "x/2.txt": "", "y/1.txt": "", "z.txt": "",
	})

	first, err := Scan(root, nil)
	require.NoError(t, err)
	second, err := Scan(root, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
