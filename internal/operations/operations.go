package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/crypto"
	"github.com/kebairia/cbak/internal/logger"
	"github.com/kebairia/cbak/internal/storage"
	"github.com/kebairia/cbak/internal/vault"
)

// Version is embedded into every sidecar's metadata.
const Version = "1.0.0"

// ErrSourceNotFound indicates that the backup source path does not exist.
var ErrSourceNotFound = errors.New("source not found")

// ErrTargetNotEmpty indicates a restore into a non-empty target without
// --overwrite. It is raised before any backend call.
var ErrTargetNotEmpty = errors.New("target directory is not empty")

// ErrEncryptionNotConfigured indicates an encrypted payload but no configured
// cipher.
var ErrEncryptionNotConfigured = errors.New("backup is encrypted but encryption is not configured")

// Manager orchestrates one backup, restore, or cleanup invocation against a
// single storage backend. It holds no state across invocations; every
// operation owns a temporary workspace released on all exit paths.
type Manager struct {
	ctx       context.Context
	cfg       config.Config
	backend   storage.Backend
	encryptor *crypto.Encryptor
	log       logger.Logger
}

// BackupResult reports one completed backup.
type BackupResult struct {
	BackupID         string
	Source           string
	FileCount        int
	TotalSize        int64
	ArchiveSize      int64
	CompressionRatio float64
	Location         string
	Encrypted        bool
	Duration         time.Duration
}

// RestoreResult reports one completed restore.
type RestoreResult struct {
	BackupID  string
	Target    string
	FileCount int
	Duration  time.Duration
}

// CleanupResult reports a retention run. ToDelete carries the candidate set;
// DeletedCount and FreedSpace cover only records actually removed and stay
// zero in dry-run mode.
type CleanupResult struct {
	TotalBackups int
	WillKeep     int
	ToDelete     []storage.Record
	DeletedCount int
	FreedSpace   int64
}

// NewManager loads and validates the configuration at configPath, resolves
// secret references through Vault when present, and wires the storage backend
// and optional encryptor.
func NewManager(configPath string) (*Manager, error) {
	ctx := context.Background()
	log := logger.Global()

	var cfg config.Config
	if err := cfg.Load(configPath); err != nil {
		return nil, err
	}

	if cfg.HasSecretRefs() {
		opts := []vault.Option{vault.WithAddress(cfg.Vault.Address)}
		if cfg.Vault.Token != "" {
			opts = append(opts, vault.WithToken(cfg.Vault.Token))
		}
		if cfg.Vault.RoleID != "" && cfg.Vault.RoleName != "" {
			opts = append(opts, vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName))
		}
		client, err := vault.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
		if err := cfg.ResolveSecrets(ctx, client); err != nil {
			return nil, err
		}
		// Secrets may have been the only thing standing in for required
		// fields; validate the resolved configuration again.
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	backend, err := storage.New(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	var encryptor *crypto.Encryptor
	if cfg.Encryption.Enabled {
		encryptor, err = crypto.New(cfg.Encryption.Password, cfg.Encryption.Algorithm)
		if err != nil {
			return nil, err
		}
	}

	return &Manager{
		ctx:       ctx,
		cfg:       cfg,
		backend:   backend,
		encryptor: encryptor,
		log:       log,
	}, nil
}

// newManagerWith wires a Manager from pre-built collaborators. Used by tests
// to drive the engine against a local backend without a config file.
func newManagerWith(cfg config.Config, backend storage.Backend, encryptor *crypto.Encryptor) *Manager {
	return &Manager{
		ctx:       context.Background(),
		cfg:       cfg,
		backend:   backend,
		encryptor: encryptor,
		log:       logger.Global(),
	}
}

// SetBackupName overrides the configured backup name, used by the --name
// flag. Affects only ids generated after the call.
func (m *Manager) SetBackupName(name string) {
	m.cfg.Backup.Name = name
}

// Config exposes the loaded configuration, post secret resolution.
func (m *Manager) Config() config.Config {
	return m.cfg
}

// TestConnection probes the backend with a listing call.
func (m *Manager) TestConnection() error {
	if _, err := m.backend.List(m.ctx); err != nil {
		return fmt.Errorf("storage connection check: %w", err)
	}
	return nil
}

// backupID derives the id for a new backup: <name>_<UTC timestamp, second
// precision>.
func (m *Manager) backupID(now time.Time) string {
	return m.cfg.Backup.Name + "_" + now.UTC().Format("2006-01-02_15-04-05")
}
