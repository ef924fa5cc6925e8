package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/logger"
)

func newLocalBackend(t *testing.T) (*Local, string) {
	t.Helper()
	base := t.TempDir()
	backend, err := NewLocal(config.LocalConfig{Path: base}, logger.Global())
	require.NoError(t, err)
	return backend, base
}

// writeArchive creates a fake archive file and returns its path.
func writeArchive(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocal_UploadDownloadRoundTrip(t *testing.T) {
	backend, base := newLocalBackend(t)
	ctx := context.Background()

	meta := &Metadata{
		Description: "nightly",
		Source:      "/data",
		FileCount:   3,
		TotalSize:   42,
		CreatedAt:   "2024-05-01T10:00:00Z",
		Version:     "1.0.0",
	}
	location, err := backend.Upload(ctx, writeArchive(t, "x.zip", "payload"), "proj_2024-05-01_10-00-00", meta)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "proj_2024-05-01_10-00-00.zip"), location)
	require.FileExists(t, filepath.Join(base, "proj_2024-05-01_10-00-00.meta.json"))

	target := filepath.Join(t.TempDir(), "restored.zip")
	localPath, err := backend.Download(ctx, "proj_2024-05-01_10-00-00", target)
	require.NoError(t, err)
	require.Equal(t, target, localPath)

	content, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, "payload", string(content))

	// Sidecar lands next to the archive.
	require.FileExists(t, target+SuffixMetadata)
}

func TestLocal_EncryptedSuffixPreserved(t *testing.T) {
	backend, _ := newLocalBackend(t)
	ctx := context.Background()

	_, err := backend.Upload(ctx, writeArchive(t, "x.zip.enc", "sealed"), "enc_backup", nil)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "restored.zip")
	localPath, err := backend.Download(ctx, "enc_backup", target)
	require.NoError(t, err)
	require.Equal(t, target+".enc", localPath)
}

func TestLocal_DownloadMissing(t *testing.T) {
	backend, _ := newLocalBackend(t)

	_, err := backend.Download(context.Background(), "ghost", filepath.Join(t.TempDir(), "x.zip"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_ListUsesSidecarTimestamp(t *testing.T) {
	backend, _ := newLocalBackend(t)
	ctx := context.Background()

	meta := &Metadata{CreatedAt: "2020-01-02T03:04:05Z", FileCount: 1}
	_, err := backend.Upload(ctx, writeArchive(t, "a.zip", "aa"), "old_backup", meta)
	require.NoError(t, err)
	_, err = backend.Upload(ctx, writeArchive(t, "b.zip", "bbbb"), "fresh_backup", nil)
	require.NoError(t, err)

	records, err := backend.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]Record{}
	for _, record := range records {
		byID[record.ID] = record
	}

	old := byID["old_backup"]
	require.Equal(t, int64(2), old.Size)
	require.Equal(t, ParseTime("2020-01-02T03:04:05Z"), old.CreatedAt)
	require.NotNil(t, old.Metadata)

	fresh := byID["fresh_backup"]
	require.Equal(t, int64(4), fresh.Size)
	require.Nil(t, fresh.Metadata)
	require.False(t, fresh.CreatedAt.IsZero())
}

func TestLocal_ListSkipsForeignFiles(t *testing.T) {
	backend, base := newLocalBackend(t)

	require.NoError(t, os.WriteFile(filepath.Join(base, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "orphan.meta.json"), []byte("{}"), 0o644))

	records, err := backend.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestLocal_CorruptSidecarDoesNotHideRecord(t *testing.T) {
	backend, base := newLocalBackend(t)
	ctx := context.Background()

	_, err := backend.Upload(ctx, writeArchive(t, "a.zip", "aa"), "backup_1", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "backup_1.meta.json"), []byte("{broken"), 0o644))

	records, err := backend.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Nil(t, records[0].Metadata)
}

func TestLocal_Delete(t *testing.T) {
	backend, base := newLocalBackend(t)
	ctx := context.Background()

	_, err := backend.Upload(ctx, writeArchive(t, "a.zip", "aa"), "backup_1", &Metadata{FileCount: 1})
	require.NoError(t, err)

	deleted, err := backend.Delete(ctx, "backup_1")
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoFileExists(t, filepath.Join(base, "backup_1.zip"))
	require.NoFileExists(t, filepath.Join(base, "backup_1.meta.json"))

	// Deleting a missing id reports false, not an error.
	deleted, err = backend.Delete(ctx, "backup_1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestSplitArchiveName(t *testing.T) {
	tests := []struct {
		name       string
		wantID     string
		wantSuffix string
		wantOK     bool
	}{
		{"proj_2024.zip", "proj_2024", SuffixPlain, true},
		{"proj_2024.zip.enc", "proj_2024", SuffixEncrypted, true},
		{"proj_2024.meta.json", "", "", false},
		{"readme.txt", "", "", false},
	}

	for _, tt := range tests {
		id, suffix, ok := SplitArchiveName(tt.name)
		require.Equal(t, tt.wantOK, ok, tt.name)
		require.Equal(t, tt.wantID, id, tt.name)
		require.Equal(t, tt.wantSuffix, suffix, tt.name)
	}
}

func TestDecodeMetadata_WeakTypesAndExtraFields(t *testing.T) {
	raw := []byte(`{
		"description": "d",
		"source": "/src",
		"file_count": "7",
		"total_size": "1024",
		"created_at": "2024-05-01T10:00:00Z",
		"version": "1.0.0",
		"custom_field": "ignored"
	}`)

	meta, err := DecodeMetadata(raw)
	require.NoError(t, err)
	require.Equal(t, 7, meta.FileCount)
	require.Equal(t, int64(1024), meta.TotalSize)
	require.Equal(t, "d", meta.Description)
}

func TestNew_UnsupportedBackend(t *testing.T) {
	_, err := New(config.StorageConfig{Type: "carrier-pigeon"}, logger.Global())
	require.ErrorIs(t, err, ErrUnsupportedBackend)
}
