package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration,
// including an unresolved ${ENV_VAR} reference.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Supported storage backend types.
var storageTypes = []string{"local", "s3", "yandex_disk", "google_drive"}

// Supported encryption algorithms.
var algorithms = []string{"aes-256-gcm", "chacha20-poly1305"}

// Config represents the top-level YAML configuration file.
type Config struct {
	Backup      BackupConfig      `mapstructure:"backup"      yaml:"backup"`
	Storage     StorageConfig     `mapstructure:"storage"     yaml:"storage"`
	Encryption  EncryptionConfig  `mapstructure:"encryption"  yaml:"encryption,omitempty"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression,omitempty"`
	Retention   RetentionConfig   `mapstructure:"retention"   yaml:"retention,omitempty"`
	Vault       VaultConfig       `mapstructure:"vault"       yaml:"vault,omitempty"`
}

// BackupConfig contains the backup name and exclusion globs.
type BackupConfig struct {
	Name    string   `mapstructure:"name"    yaml:"name"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// StorageConfig selects and configures one storage backend. Type is the
// discriminant; only the matching per-type section is consulted.
type StorageConfig struct {
	Type        string            `mapstructure:"type"         yaml:"type"`
	Local       LocalConfig       `mapstructure:"local"        yaml:"local,omitempty"`
	S3          S3Config          `mapstructure:"s3"           yaml:"s3,omitempty"`
	YandexDisk  YandexDiskConfig  `mapstructure:"yandex_disk"  yaml:"yandex_disk,omitempty"`
	GoogleDrive GoogleDriveConfig `mapstructure:"google_drive" yaml:"google_drive,omitempty"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3Config configures the S3-compatible backend (AWS S3, MinIO, Ceph RGW,
// Yandex Object Storage).
type S3Config struct {
	EndpointURL string `mapstructure:"endpoint_url" yaml:"endpoint_url,omitempty"`
	AccessKey   string `mapstructure:"access_key"   yaml:"access_key"`
	SecretKey   string `mapstructure:"secret_key"   yaml:"secret_key"`
	Region      string `mapstructure:"region"       yaml:"region,omitempty"`
	Bucket      string `mapstructure:"bucket"       yaml:"bucket"`
	Prefix      string `mapstructure:"prefix"       yaml:"prefix,omitempty"`
}

// YandexDiskConfig configures the Yandex Disk REST backend.
type YandexDiskConfig struct {
	Token  string `mapstructure:"token"  yaml:"token"`
	Folder string `mapstructure:"folder" yaml:"folder,omitempty"`
}

// GoogleDriveConfig configures the Google Drive v3 REST backend.
type GoogleDriveConfig struct {
	Token    string `mapstructure:"token"     yaml:"token"`
	FolderID string `mapstructure:"folder_id" yaml:"folder_id"`
}

// EncryptionConfig enables archive encryption.
type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled"   yaml:"enabled"`
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm,omitempty"`
	Password  string `mapstructure:"password"  yaml:"password,omitempty"`
}

// CompressionConfig holds the deflate level, 0 (store) to 9 (max).
type CompressionConfig struct {
	Level int `mapstructure:"level" yaml:"level"`
}

// RetentionConfig specifies how many backups to keep. Only KeepLast is
// enforced by the pruning algorithm; the date-bucketed counts are accepted
// for forward compatibility and currently ignored.
type RetentionConfig struct {
	KeepLast    int `mapstructure:"keep_last"    yaml:"keep_last"`
	KeepDaily   int `mapstructure:"keep_daily"   yaml:"keep_daily,omitempty"`
	KeepWeekly  int `mapstructure:"keep_weekly"  yaml:"keep_weekly,omitempty"`
	KeepMonthly int `mapstructure:"keep_monthly" yaml:"keep_monthly,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault, used to resolve
// vault:<path>#<field> secret references in the configuration.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address,omitempty"`
	Token    string `mapstructure:"token"     yaml:"token,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
}

// SecretResolver resolves a vault:<path>#<field> reference to its value.
// Implemented by the vault package; injected so config stays transport-free.
type SecretResolver interface {
	Lookup(ctx context.Context, ref string) (string, error)
}

// Load reads the configuration from the given YAML file using Viper,
// substitutes ${ENV_VAR} references, applies defaults, and validates the
// result. Secret references (vault:) are left intact; see ResolveSecrets.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
	}

	resolved, err := resolveEnv(v.AllSettings())
	if err != nil {
		return err
	}

	// Numeric defaults are seeded into the raw tree so an explicit 0 (a valid
	// compression level) survives decoding.
	if settings, ok := resolved.(map[string]any); ok {
		ensureDefault(settings, "compression", "level", 6)
		ensureDefault(settings, "retention", "keep_last", 30)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      c,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("%w: build decoder: %v", ErrLoadConfig, err)
	}
	if err := decoder.Decode(resolved); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	c.applyDefaults()

	return c.Validate()
}

// ensureDefault sets settings[section][key] when the key is absent, creating
// the section if needed.
func ensureDefault(settings map[string]any, section, key string, value any) {
	child, ok := settings[section].(map[string]any)
	if !ok {
		if _, exists := settings[section]; exists {
			return
		}
		child = map[string]any{}
		settings[section] = child
	}
	if _, exists := child[key]; !exists {
		child[key] = value
	}
}

// applyDefaults fills in the remaining optional fields: algorithm, local
// path, and per-provider defaults.
func (c *Config) applyDefaults() {
	if c.Encryption.Algorithm == "" {
		c.Encryption.Algorithm = "aes-256-gcm"
	}
	if c.Storage.Type == "local" && c.Storage.Local.Path == "" {
		c.Storage.Local.Path = "backups"
	}
	if c.Storage.Type == "s3" {
		if c.Storage.S3.Region == "" {
			c.Storage.S3.Region = "us-east-1"
		}
		if c.Storage.S3.Prefix == "" {
			c.Storage.S3.Prefix = "backups/"
		}
	}
	if c.Storage.Type == "yandex_disk" && c.Storage.YandexDisk.Folder == "" {
		c.Storage.YandexDisk.Folder = "/Backups"
	}
}

// Validate checks the configuration for completeness. It is called by Load
// and again by the validate command after secret resolution.
func (c *Config) Validate() error {
	if c.Backup.Name == "" {
		return fmt.Errorf("%w: backup.name is required", ErrValidateConfig)
	}
	if c.Storage.Type == "" {
		return fmt.Errorf("%w: storage.type is required", ErrValidateConfig)
	}

	switch c.Storage.Type {
	case "local":
		// Path is defaulted; nothing else required.
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("%w: storage.s3.bucket is required", ErrValidateConfig)
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("%w: storage.s3 access_key and secret_key are required", ErrValidateConfig)
		}
	case "yandex_disk":
		if c.Storage.YandexDisk.Token == "" {
			return fmt.Errorf("%w: storage.yandex_disk.token is required", ErrValidateConfig)
		}
	case "google_drive":
		if c.Storage.GoogleDrive.Token == "" {
			return fmt.Errorf("%w: storage.google_drive.token is required", ErrValidateConfig)
		}
		if c.Storage.GoogleDrive.FolderID == "" {
			return fmt.Errorf("%w: storage.google_drive.folder_id is required", ErrValidateConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported storage type %q (supported: %s)",
			ErrValidateConfig, c.Storage.Type, strings.Join(storageTypes, ", "))
	}

	if c.Compression.Level < 0 || c.Compression.Level > 9 {
		return fmt.Errorf("%w: compression.level must be 0-9, got %d", ErrValidateConfig, c.Compression.Level)
	}
	if c.Retention.KeepLast < 0 {
		return fmt.Errorf("%w: retention.keep_last must not be negative", ErrValidateConfig)
	}

	if c.Encryption.Enabled {
		if c.Encryption.Password == "" {
			return fmt.Errorf("%w: encryption.password is required when encryption is enabled", ErrValidateConfig)
		}
		valid := false
		for _, alg := range algorithms {
			if c.Encryption.Algorithm == alg {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%w: unsupported encryption algorithm %q (supported: %s)",
				ErrValidateConfig, c.Encryption.Algorithm, strings.Join(algorithms, ", "))
		}
	}

	return nil
}

// ResolveSecrets replaces vault:<path>#<field> references in the secret
// fields with values fetched through the resolver. No-op when the
// configuration carries no references.
func (c *Config) ResolveSecrets(ctx context.Context, resolver SecretResolver) error {
	refs := []*string{
		&c.Encryption.Password,
		&c.Storage.S3.AccessKey,
		&c.Storage.S3.SecretKey,
		&c.Storage.YandexDisk.Token,
		&c.Storage.GoogleDrive.Token,
	}
	for _, field := range refs {
		if !strings.HasPrefix(*field, "vault:") {
			continue
		}
		value, err := resolver.Lookup(ctx, *field)
		if err != nil {
			return fmt.Errorf("%w: resolve secret %s: %v", ErrLoadConfig, *field, err)
		}
		*field = value
	}
	return nil
}

// HasSecretRefs reports whether any secret field still carries a vault:
// reference, i.e. ResolveSecrets must run before the value is usable.
func (c *Config) HasSecretRefs() bool {
	for _, v := range []string{
		c.Encryption.Password,
		c.Storage.S3.AccessKey,
		c.Storage.S3.SecretKey,
		c.Storage.YandexDisk.Token,
		c.Storage.GoogleDrive.Token,
	} {
		if strings.HasPrefix(v, "vault:") {
			return true
		}
	}
	return false
}

// resolveEnv walks the decoded settings tree and substitutes string values of
// the exact form ${ENV_VAR} against the process environment. An unresolved
// reference is a load error, not a runtime one.
func resolveEnv(node any) (any, error) {
	switch val := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolved, err := resolveEnv(child)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolved, err := resolveEnv(child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			name := val[2 : len(val)-1]
			value, ok := os.LookupEnv(name)
			if !ok {
				return nil, fmt.Errorf("%w: environment variable %s is not set", ErrLoadConfig, name)
			}
			return value, nil
		}
		return val, nil
	default:
		return node, nil
	}
}
