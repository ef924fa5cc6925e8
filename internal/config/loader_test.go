package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
backup:
  name: "projects"
  exclude: [".git", "*.log"]
storage:
  type: s3
  s3:
    endpoint_url: "http://localhost:9000"
    access_key: "minio"
    secret_key: "miniosecret"
    bucket: "backups"
encryption:
  enabled: true
  algorithm: "chacha20-poly1305"
  password: "hunter2"
compression:
  level: 9
retention:
  keep_last: 5
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	require.Equal(t, "projects", cfg.Backup.Name)
	require.Equal(t, []string{".git", "*.log"}, cfg.Backup.Exclude)
	require.Equal(t, "s3", cfg.Storage.Type)
	require.Equal(t, "backups", cfg.Storage.S3.Bucket)
	require.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	require.Equal(t, "backups/", cfg.Storage.S3.Prefix)
	require.True(t, cfg.Encryption.Enabled)
	require.Equal(t, "chacha20-poly1305", cfg.Encryption.Algorithm)
	require.Equal(t, 9, cfg.Compression.Level)
	require.Equal(t, 5, cfg.Retention.KeepLast)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
backup:
  name: "home"
storage:
  type: local
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	require.Equal(t, 6, cfg.Compression.Level)
	require.Equal(t, 30, cfg.Retention.KeepLast)
	require.Equal(t, "backups", cfg.Storage.Local.Path)
	require.False(t, cfg.Encryption.Enabled)
}

func TestLoad_ExplicitStoreLevelSurvives(t *testing.T) {
	path := writeConfig(t, `
backup:
  name: "home"
storage:
  type: local
compression:
  level: 0
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))
	require.Equal(t, 0, cfg.Compression.Level)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("CBAK_TEST_TOKEN", "oauth-token-value")
	path := writeConfig(t, `
backup:
  name: "docs"
storage:
  type: yandex_disk
  yandex_disk:
    token: "${CBAK_TEST_TOKEN}"
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))
	require.Equal(t, "oauth-token-value", cfg.Storage.YandexDisk.Token)
	require.Equal(t, "/Backups", cfg.Storage.YandexDisk.Folder)
}

func TestLoad_UnresolvedEnvVar(t *testing.T) {
	path := writeConfig(t, `
backup:
  name: "docs"
storage:
  type: yandex_disk
  yandex_disk:
    token: "${CBAK_DEFINITELY_NOT_SET}"
`)

	var cfg Config
	err := cfg.Load(path)
	require.ErrorIs(t, err, ErrLoadConfig)
	require.Contains(t, err.Error(), "CBAK_DEFINITELY_NOT_SET")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing backup name",
			yaml: "backup: {}\nstorage: {type: local}\n",
		},
		{
			name: "missing storage type",
			yaml: "backup: {name: x}\nstorage: {}\n",
		},
		{
			name: "unsupported storage type",
			yaml: "backup: {name: x}\nstorage: {type: ftp}\n",
		},
		{
			name: "s3 without bucket",
			yaml: "backup: {name: x}\nstorage: {type: s3, s3: {access_key: a, secret_key: b}}\n",
		},
		{
			name: "encryption without password",
			yaml: "backup: {name: x}\nstorage: {type: local}\nencryption: {enabled: true}\n",
		},
		{
			name: "bad encryption algorithm",
			yaml: "backup: {name: x}\nstorage: {type: local}\nencryption: {enabled: true, password: p, algorithm: rot13}\n",
		},
		{
			name: "compression level out of range",
			yaml: "backup: {name: x}\nstorage: {type: local}\ncompression: {level: 11}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			err := cfg.Load(writeConfig(t, tt.yaml))
			require.ErrorIs(t, err, ErrValidateConfig)
		})
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
backup:
  name: "x"
  nmae_typo: "y"
storage:
  type: local
`)

	var cfg Config
	require.ErrorIs(t, cfg.Load(path), ErrLoadConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg Config
	require.ErrorIs(t, cfg.Load(filepath.Join(t.TempDir(), "nope.yaml")), ErrLoadConfig)
}

// staticResolver resolves every reference to a fixed value.
type staticResolver struct {
	value string
}

func (r staticResolver) Lookup(ctx context.Context, ref string) (string, error) {
	return r.value, nil
}

func TestResolveSecrets(t *testing.T) {
	path := writeConfig(t, `
backup:
  name: "x"
storage:
  type: local
encryption:
  enabled: true
  algorithm: "aes-256-gcm"
  password: "vault:secret/data/cbak#password"
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))
	require.True(t, cfg.HasSecretRefs())

	require.NoError(t, cfg.ResolveSecrets(context.Background(), staticResolver{value: "resolved-pw"}))
	require.Equal(t, "resolved-pw", cfg.Encryption.Password)
	require.False(t, cfg.HasSecretRefs())
}
