package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/logger"
)

// Local stores backups as plain files in a directory. It needs no network
// and backs the test suites.
type Local struct {
	basePath string
	log      logger.Logger
}

var _ Backend = (*Local)(nil)

// NewLocal initializes the directory-backed storage, creating the base
// directory if needed.
func NewLocal(cfg config.LocalConfig, log logger.Logger) (*Local, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create base directory %s: %v", ErrBackend, cfg.Path, err)
	}
	log.Debug("local storage initialized", "path", cfg.Path)
	return &Local{basePath: cfg.Path, log: log}, nil
}

func (l *Local) Upload(ctx context.Context, localPath, backupID string, meta *Metadata) (string, error) {
	suffix := ArchiveSuffix(localPath)
	if suffix == "" {
		return "", fmt.Errorf("%w: %s is not an archive", ErrBackend, localPath)
	}
	target := filepath.Join(l.basePath, backupID+suffix)

	if err := copyFile(localPath, target); err != nil {
		return "", fmt.Errorf("%w: store %s: %v", ErrBackend, backupID, err)
	}

	// Sidecar after the archive; its failure does not fail the upload.
	if meta != nil {
		if err := l.writeSidecar(backupID, meta); err != nil {
			l.log.Warn("sidecar write failed", "backup_id", backupID, "error", err)
		}
	}

	l.log.Info("stored backup locally", "path", target)
	return target, nil
}

func (l *Local) Download(ctx context.Context, backupID, targetPath string) (string, error) {
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		source := filepath.Join(l.basePath, backupID+suffix)
		if _, err := os.Stat(source); err != nil {
			continue
		}

		dest := targetPath
		if suffix == SuffixEncrypted {
			dest += ".enc"
		}
		if err := copyFile(source, dest); err != nil {
			return "", fmt.Errorf("%w: fetch %s: %v", ErrBackend, backupID, err)
		}

		// Best-effort sidecar copy next to the archive.
		sidecar := filepath.Join(l.basePath, MetadataName(backupID))
		if _, err := os.Stat(sidecar); err == nil {
			if err := copyFile(sidecar, targetPath+SuffixMetadata); err != nil {
				l.log.Warn("sidecar fetch failed", "backup_id", backupID, "error", err)
			}
		}

		l.log.Info("fetched backup from local storage", "path", source)
		return dest, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, backupID)
}

func (l *Local) List(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read base directory: %v", ErrBackend, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, _, ok := SplitArchiveName(entry.Name())
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		meta := l.readSidecar(id)
		records = append(records, Record{
			ID:        id,
			Size:      info.Size(),
			CreatedAt: recordTime(meta, info.ModTime()),
			Location:  filepath.Join(l.basePath, entry.Name()),
			Metadata:  meta,
		})
	}

	return records, nil
}

func (l *Local) Delete(ctx context.Context, backupID string) (bool, error) {
	deleted := false
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		path := filepath.Join(l.basePath, backupID+suffix)
		err := os.Remove(path)
		switch {
		case err == nil:
			deleted = true
		case os.IsNotExist(err):
			// nothing under this suffix
		default:
			return false, fmt.Errorf("%w: delete %s: %v", ErrBackend, backupID, err)
		}
	}

	// Sidecar removal is best-effort, after the archive.
	if err := os.Remove(filepath.Join(l.basePath, MetadataName(backupID))); err != nil && !os.IsNotExist(err) {
		l.log.Warn("sidecar delete failed", "backup_id", backupID, "error", err)
	}

	if deleted {
		l.log.Info("deleted backup from local storage", "backup_id", backupID)
	}
	return deleted, nil
}

func (l *Local) writeSidecar(backupID string, meta *Metadata) error {
	raw, err := EncodeMetadata(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.basePath, MetadataName(backupID)), raw, 0o644)
}

// readSidecar loads sidecar metadata, returning nil when absent or unreadable.
func (l *Local) readSidecar(backupID string) *Metadata {
	raw, err := os.ReadFile(filepath.Join(l.basePath, MetadataName(backupID)))
	if err != nil {
		return nil
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		l.log.Debug("unreadable sidecar ignored", "backup_id", backupID, "error", err)
		return nil
	}
	return meta
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
