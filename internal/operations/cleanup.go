package operations

import (
	"fmt"
	"sort"

	"github.com/kebairia/cbak/internal/storage"
)

// ListBackups returns the backend's records sorted newest-first. limit caps
// the result; 0 means all.
func (m *Manager) ListBackups(limit int) ([]storage.Record, error) {
	records, err := m.backend.List(m.ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// CleanupOldBackups applies the count-based retention policy: the oldest
// records beyond retention.keep_last become deletion candidates. In dry-run
// mode the candidate set is returned without touching storage. Otherwise each
// candidate is deleted sequentially; one failed delete is logged and skipped,
// never aborting the batch. FreedSpace sums only records actually removed.
func (m *Manager) CleanupOldBackups(dryRun bool) (*CleanupResult, error) {
	records, err := m.backend.List(m.ctx)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	result := &CleanupResult{TotalBackups: len(records), WillKeep: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	// Oldest first; ties break on id so repeated runs see the same order.
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	keep := m.cfg.Retention.KeepLast
	if len(records) > keep {
		result.ToDelete = records[:len(records)-keep]
	}
	result.WillKeep = len(records) - len(result.ToDelete)

	if dryRun {
		m.log.Info("cleanup dry run",
			"total", result.TotalBackups,
			"candidates", len(result.ToDelete),
			"keep", result.WillKeep,
		)
		return result, nil
	}

	for _, record := range result.ToDelete {
		deleted, err := m.backend.Delete(m.ctx, record.ID)
		if err != nil {
			m.log.Error("delete failed, skipping", "backup_id", record.ID, "error", err)
			continue
		}
		if !deleted {
			m.log.Warn("backup already gone", "backup_id", record.ID)
			continue
		}
		result.DeletedCount++
		result.FreedSpace += record.Size
		m.log.Info("deleted old backup", "backup_id", record.ID, "size", record.Size)
	}

	return result, nil
}
