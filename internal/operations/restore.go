package operations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/cbak/internal/archive"
	"github.com/kebairia/cbak/internal/storage"
)

// RestoreBackup downloads the archive stored under backupID, decrypts it when
// the payload carries the encrypted suffix, and extracts it into target. The
// non-empty-target check runs before any backend call.
func (m *Manager) RestoreBackup(backupID, target string, overwrite bool) (*RestoreResult, error) {
	start := time.Now()

	if !overwrite {
		if err := ensureEmptyTarget(target); err != nil {
			return nil, err
		}
	}

	workDir, err := os.MkdirTemp("", "cbak-restore-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	m.log.Info("restoring backup", "backup_id", backupID, "target", target)

	localPath, err := m.backend.Download(m.ctx, backupID, filepath.Join(workDir, backupID+storage.SuffixPlain))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	// The .enc suffix on the downloaded payload is the sole decrypt signal.
	if strings.HasSuffix(localPath, ".enc") {
		if m.encryptor == nil {
			return nil, ErrEncryptionNotConfigured
		}
		m.log.Info("decrypting archive", "algorithm", m.encryptor.Algorithm())
		plainPath := strings.TrimSuffix(localPath, ".enc")
		if err := m.encryptor.DecryptFile(localPath, plainPath); err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		localPath = plainPath
	}

	extracted, err := archive.Extract(localPath, target)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	result := &RestoreResult{
		BackupID:  backupID,
		Target:    target,
		FileCount: len(extracted),
		Duration:  time.Since(start),
	}

	m.log.Info("restore finished", "backup_id", backupID, "files", result.FileCount)
	return result, nil
}

// ensureEmptyTarget fails with ErrTargetNotEmpty when target exists and
// already contains entries. A missing target is fine; extraction creates it.
func ensureEmptyTarget(target string) error {
	entries, err := os.ReadDir(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("inspect target %s: %w", target, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s (use --overwrite)", ErrTargetNotEmpty, target)
	}
	return nil
}
