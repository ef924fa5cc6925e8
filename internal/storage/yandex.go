package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/logger"
)

const yandexBaseURL = "https://cloud-api.yandex.net/v1/disk/"

// YandexDisk stores backups in a Yandex Disk folder through the REST API.
// Uploads and downloads are two-phase: ask the API for a transfer href, then
// stream the payload against it. Transient HTTP failures are retried by the
// client; the engine itself never retries.
type YandexDisk struct {
	client *retryablehttp.Client
	token  string
	folder string
	log    logger.Logger
}

var _ Backend = (*YandexDisk)(nil)

// NewYandexDisk builds the REST client. The folder is created lazily on the
// first upload.
func NewYandexDisk(cfg config.YandexDiskConfig, log logger.Logger) *YandexDisk {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	return &YandexDisk{
		client: client,
		token:  cfg.Token,
		folder: cfg.Folder,
		log:    log,
	}
}

// request performs an authorized API call and returns the response, mapping
// HTTP 404 to ErrNotFound. The caller owns the body.
func (y *YandexDisk) request(ctx context.Context, method, endpoint string, query url.Values) (*http.Response, error) {
	u := yandexBaseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrBackend, err)
	}
	req.Header.Set("Authorization", "OAuth "+y.token)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrBackend, method, endpoint, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrBackend, method, endpoint, resp.StatusCode, body)
	}
	return resp, nil
}

// href performs an API call that answers with an operation href and returns it.
func (y *YandexDisk) href(ctx context.Context, endpoint string, query url.Values) (string, error) {
	resp, err := y.request(ctx, http.MethodGet, endpoint, query)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Href string `json:"href"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode href response: %v", ErrBackend, err)
	}
	if payload.Href == "" {
		return "", fmt.Errorf("%w: empty transfer href", ErrBackend)
	}
	return payload.Href, nil
}

func (y *YandexDisk) ensureFolder(ctx context.Context) error {
	query := url.Values{"path": {y.folder}}
	resp, err := y.request(ctx, http.MethodGet, "resources", query)
	if err == nil {
		resp.Body.Close()
		return nil
	}
	if err != ErrNotFound {
		return err
	}

	resp, err = y.request(ctx, http.MethodPut, "resources", query)
	if err != nil {
		return fmt.Errorf("create folder %s: %w", y.folder, err)
	}
	resp.Body.Close()
	y.log.Info("created folder on yandex disk", "folder", y.folder)
	return nil
}

// putPayload uploads body to the remote path via a fresh transfer href.
func (y *YandexDisk) putPayload(ctx context.Context, remotePath string, body io.ReadSeeker) error {
	href, err := y.href(ctx, "resources/upload", url.Values{
		"path":      {remotePath},
		"overwrite": {"true"},
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, href, body)
	if err != nil {
		return fmt.Errorf("%w: build upload request: %v", ErrBackend, err)
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", ErrBackend, remotePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: upload %s: status %d", ErrBackend, remotePath, resp.StatusCode)
	}
	return nil
}

// getPayload streams the remote path's content into dest.
func (y *YandexDisk) getPayload(ctx context.Context, remotePath, dest string) error {
	href, err := y.href(ctx, "resources/download", url.Values{"path": {remotePath}})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return fmt.Errorf("%w: build download request: %v", ErrBackend, err)
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrBackend, remotePath, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return fmt.Errorf("%w: download %s: status %d", ErrBackend, remotePath, resp.StatusCode)
	}
	return writeBody(resp.Body, dest)
}

func (y *YandexDisk) Upload(ctx context.Context, localPath, backupID string, meta *Metadata) (string, error) {
	suffix := ArchiveSuffix(localPath)
	if suffix == "" {
		return "", fmt.Errorf("%w: %s is not an archive", ErrBackend, localPath)
	}

	if err := y.ensureFolder(ctx); err != nil {
		return "", err
	}

	remotePath := y.folder + "/" + backupID + suffix

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrBackend, localPath, err)
	}
	defer f.Close()

	if err := y.putPayload(ctx, remotePath, f); err != nil {
		return "", err
	}

	if meta != nil {
		raw, err := EncodeMetadata(meta)
		if err == nil {
			err = y.putPayload(ctx, y.folder+"/"+MetadataName(backupID), bytes.NewReader(raw))
		}
		if err != nil {
			y.log.Warn("sidecar upload failed", "backup_id", backupID, "error", err)
		}
	}

	y.log.Info("uploaded backup to yandex disk", "path", remotePath)
	return remotePath, nil
}

func (y *YandexDisk) Download(ctx context.Context, backupID, targetPath string) (string, error) {
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		remotePath := y.folder + "/" + backupID + suffix

		dest := targetPath
		if suffix == SuffixEncrypted {
			dest += ".enc"
		}

		err := y.getPayload(ctx, remotePath, dest)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return "", err
		}

		// Best-effort sidecar fetch next to the archive.
		sidecar := y.folder + "/" + MetadataName(backupID)
		if err := y.getPayload(ctx, sidecar, targetPath+SuffixMetadata); err != nil && err != ErrNotFound {
			y.log.Warn("sidecar fetch failed", "backup_id", backupID, "error", err)
		}

		y.log.Info("downloaded backup from yandex disk", "path", remotePath)
		return dest, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, backupID)
}

func (y *YandexDisk) List(ctx context.Context) ([]Record, error) {
	resp, err := y.request(ctx, http.MethodGet, "resources", url.Values{
		"path":  {y.folder},
		"limit": {"1000"},
	})
	if err == ErrNotFound {
		// Folder was never created: no backups.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Embedded struct {
			Items []struct {
				Name     string `json:"name"`
				Type     string `json:"type"`
				Path     string `json:"path"`
				Size     int64  `json:"size"`
				Created  string `json:"created"`
				Modified string `json:"modified"`
			} `json:"items"`
		} `json:"_embedded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %v", ErrBackend, err)
	}

	var records []Record
	for _, item := range payload.Embedded.Items {
		if item.Type != "file" {
			continue
		}
		id, _, ok := SplitArchiveName(item.Name)
		if !ok {
			continue
		}

		meta := y.readSidecar(ctx, id)
		records = append(records, Record{
			ID:        id,
			Size:      item.Size,
			CreatedAt: recordTime(meta, ParseTime(item.Created)),
			Location:  item.Path,
			Metadata:  meta,
		})
	}

	return records, nil
}

// readSidecar fetches and decodes sidecar metadata, nil when absent.
func (y *YandexDisk) readSidecar(ctx context.Context, backupID string) *Metadata {
	href, err := y.href(ctx, "resources/download", url.Values{
		"path": {y.folder + "/" + MetadataName(backupID)},
	})
	if err != nil {
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		y.log.Debug("unreadable sidecar ignored", "backup_id", backupID, "error", err)
		return nil
	}
	return meta
}

func (y *YandexDisk) Delete(ctx context.Context, backupID string) (bool, error) {
	deleted := false
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		remotePath := y.folder + "/" + backupID + suffix
		resp, err := y.request(ctx, http.MethodDelete, "resources", url.Values{
			"path":        {remotePath},
			"permanently": {"true"},
		})
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return false, err
		}
		resp.Body.Close()
		deleted = true
	}

	// Sidecar after the archive, best-effort.
	resp, err := y.request(ctx, http.MethodDelete, "resources", url.Values{
		"path":        {y.folder + "/" + MetadataName(backupID)},
		"permanently": {"true"},
	})
	if err == nil {
		resp.Body.Close()
	} else if err != ErrNotFound {
		y.log.Warn("sidecar delete failed", "backup_id", backupID, "error", err)
	}

	if deleted {
		y.log.Info("deleted backup from yandex disk", "backup_id", backupID)
	}
	return deleted, nil
}
