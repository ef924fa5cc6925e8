package operations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/cbak/internal/archive"
	"github.com/kebairia/cbak/internal/scanner"
	"github.com/kebairia/cbak/internal/storage"
)

// CreateBackup archives source, optionally encrypts the archive, and uploads
// it with its metadata sidecar. The whole pipeline runs inside one temporary
// workspace that is removed on every exit path.
func (m *Manager) CreateBackup(source, description string) (*BackupResult, error) {
	start := time.Now()

	absSource, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	if _, err := os.Stat(absSource); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}

	workDir, err := os.MkdirTemp("", "cbak-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	backupID := m.backupID(start)
	m.log.Info("creating backup",
		"backup_id", backupID,
		"source", absSource,
		"description", description,
	)

	files, err := scanner.Scan(absSource, m.cfg.Backup.Exclude)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var totalSize int64
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(absSource, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("scan: stat %s: %w", rel, err)
		}
		totalSize += info.Size()
	}
	m.log.Info("scanned source", "files", len(files), "total_size", totalSize)

	archivePath := filepath.Join(workDir, backupID+storage.SuffixPlain)
	if err := archive.Build(absSource, archivePath, files, m.cfg.Compression.Level); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	uploadPath := archivePath
	if m.encryptor != nil {
		m.log.Info("encrypting archive", "algorithm", m.encryptor.Algorithm())
		encryptedPath := filepath.Join(workDir, backupID+storage.SuffixEncrypted)
		if err := m.encryptor.EncryptFile(archivePath, encryptedPath); err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		uploadPath = encryptedPath
	}

	archiveInfo, err := os.Stat(uploadPath)
	if err != nil {
		return nil, fmt.Errorf("archive: stat %s: %w", uploadPath, err)
	}
	archiveSize := archiveInfo.Size()

	meta := &storage.Metadata{
		Description: description,
		Source:      absSource,
		FileCount:   len(files),
		TotalSize:   totalSize,
		CreatedAt:   start.UTC().Format(time.RFC3339),
		Version:     Version,
		Encrypted:   m.encryptor != nil,
	}

	location, err := m.backend.Upload(m.ctx, uploadPath, backupID, meta)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	ratio := 0.0
	if totalSize > 0 {
		ratio = float64(archiveSize) / float64(totalSize) * 100
	}

	result := &BackupResult{
		BackupID:         backupID,
		Source:           absSource,
		FileCount:        len(files),
		TotalSize:        totalSize,
		ArchiveSize:      archiveSize,
		CompressionRatio: ratio,
		Location:         location,
		Encrypted:        m.encryptor != nil,
		Duration:         time.Since(start),
	}

	m.log.Info("backup created",
		"backup_id", backupID,
		"files", result.FileCount,
		"archive_size", result.ArchiveSize,
	)
	return result, nil
}
