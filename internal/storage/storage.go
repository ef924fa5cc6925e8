package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/logger"
)

// ErrNotFound indicates that no backup exists under the requested id.
var ErrNotFound = errors.New("backup not found")

// ErrBackend wraps a storage backend's own failure.
var ErrBackend = errors.New("storage backend error")

// ErrUnsupportedBackend indicates an unknown storage.type discriminant.
var ErrUnsupportedBackend = errors.New("unsupported storage backend")

// Archive and sidecar naming. The .enc suffix on the archive is the sole
// signal that a payload is encrypted.
const (
	SuffixPlain     = ".zip"
	SuffixEncrypted = ".zip.enc"
	SuffixMetadata  = ".meta.json"
)

// Metadata is the sidecar JSON payload stored alongside each archive as
// <id>.meta.json. It is written once at upload time and read-only afterward;
// its absence never makes a record unlistable.
type Metadata struct {
	Description string `json:"description"          mapstructure:"description"`
	Source      string `json:"source"               mapstructure:"source"`
	FileCount   int    `json:"file_count"           mapstructure:"file_count"`
	TotalSize   int64  `json:"total_size"           mapstructure:"total_size"`
	CreatedAt   string `json:"created_at"           mapstructure:"created_at"`
	Version     string `json:"version"              mapstructure:"version"`
	Encrypted   bool   `json:"encrypted,omitempty"  mapstructure:"encrypted"`
}

// Record describes one backup as listed by a backend. CreatedAt falls back to
// the backend's own object timestamp when no sidecar is available.
type Record struct {
	ID        string
	Size      int64
	CreatedAt time.Time
	Location  string
	Metadata  *Metadata
}

// Backend is the uniform capability contract every storage variant satisfies.
// The engine depends only on these four operations; connection setup,
// credentials, and pagination are backend-internal.
//
// Upload stores the archive at localPath under backupID, then writes the
// metadata sidecar best-effort, and returns the backend location. Re-uploading
// an existing id overwrites it, last writer wins.
//
// Download fetches the archive for backupID to targetPath, appending the
// encrypted suffix when the stored payload carries it, and returns the local
// path actually written. The sidecar is fetched best-effort next to it.
// A missing archive is ErrNotFound.
//
// List returns all records in backend order; sorting is the engine's job.
//
// Delete removes the archive (and, best-effort, the sidecar) for backupID,
// reporting false without error when nothing existed under that id.
type Backend interface {
	Upload(ctx context.Context, localPath, backupID string, meta *Metadata) (string, error)
	Download(ctx context.Context, backupID, targetPath string) (string, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, backupID string) (bool, error)
}

// New builds the backend selected by cfg.Type.
func New(cfg config.StorageConfig, log logger.Logger) (Backend, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Local, log)
	case "s3":
		return NewS3(cfg.S3, log)
	case "yandex_disk":
		return NewYandexDisk(cfg.YandexDisk, log), nil
	case "google_drive":
		return NewGoogleDrive(cfg.GoogleDrive, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
	}
}

// MetadataName returns the sidecar object name for a backup id.
func MetadataName(backupID string) string {
	return backupID + SuffixMetadata
}

// ArchiveSuffix returns the archive suffix carried by a local file name,
// or "" if it is not an archive.
func ArchiveSuffix(name string) string {
	if strings.HasSuffix(name, SuffixEncrypted) {
		return SuffixEncrypted
	}
	if strings.HasSuffix(name, SuffixPlain) {
		return SuffixPlain
	}
	return ""
}

// SplitArchiveName splits an object name into backup id and archive suffix.
// ok is false for sidecars and foreign objects.
func SplitArchiveName(name string) (id, suffix string, ok bool) {
	suffix = ArchiveSuffix(name)
	if suffix == "" {
		return "", "", false
	}
	return strings.TrimSuffix(name, suffix), suffix, true
}

// DecodeMetadata decodes a sidecar JSON document into Metadata, tolerating
// extra fields and loosely typed numbers (some provider APIs return sizes as
// strings).
func DecodeMetadata(raw []byte) (*Metadata, error) {
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	var meta Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build metadata decoder: %w", err)
	}
	if err := decoder.Decode(loose); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// EncodeMetadata serializes a sidecar document.
func EncodeMetadata(meta *Metadata) ([]byte, error) {
	return json.MarshalIndent(meta, "", "  ")
}

// timestamp formats accepted from sidecars and provider APIs.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime parses a provider or sidecar timestamp, returning the zero time
// when nothing matches.
func ParseTime(value string) time.Time {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// recordTime picks the record timestamp: the sidecar's created_at when
// parsable, the backend's object time otherwise.
func recordTime(meta *Metadata, fallback time.Time) time.Time {
	if meta != nil {
		if t := ParseTime(meta.CreatedAt); !t.IsZero() {
			return t
		}
	}
	return fallback
}
