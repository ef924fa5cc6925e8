package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mitchellh/mapstructure"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/logger"
)

const (
	gdriveBaseURL   = "https://www.googleapis.com/drive/v3"
	gdriveUploadURL = "https://www.googleapis.com/upload/drive/v3/files?uploadType=multipart&fields=id"
)

// GoogleDrive stores backups as files in one Drive folder through the v3 REST
// API, addressed by name within the folder. Objects have no stable path, so
// every operation resolves the name to a file id first.
type GoogleDrive struct {
	client   *retryablehttp.Client
	token    string
	folderID string
	log      logger.Logger
}

var _ Backend = (*GoogleDrive)(nil)

// driveFile is one entry of a files.list response. Drive returns size as a
// string, which the weakly typed decode absorbs.
type driveFile struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Size         int64  `mapstructure:"size"`
	CreatedTime  string `mapstructure:"createdTime"`
	ModifiedTime string `mapstructure:"modifiedTime"`
}

// NewGoogleDrive builds the REST client for a bearer token and folder id.
func NewGoogleDrive(cfg config.GoogleDriveConfig, log logger.Logger) *GoogleDrive {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	return &GoogleDrive{
		client:   client,
		token:    cfg.Token,
		folderID: cfg.FolderID,
		log:      log,
	}
}

func (g *GoogleDrive) do(ctx context.Context, method, rawURL string, body any, contentType string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrBackend, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrBackend, method, rawURL, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrBackend, method, resp.StatusCode, detail)
	}
	return resp, nil
}

// query runs files.list with the given q expression and decodes the files.
func (g *GoogleDrive) query(ctx context.Context, q string, pageToken string) ([]driveFile, string, error) {
	params := url.Values{
		"q":        {q},
		"fields":   {"nextPageToken, files(id, name, size, createdTime, modifiedTime)"},
		"pageSize": {"1000"},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	resp, err := g.do(ctx, http.MethodGet, gdriveBaseURL+"/files?"+params.Encode(), nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var loose struct {
		NextPageToken string           `json:"nextPageToken"`
		Files         []map[string]any `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loose); err != nil {
		return nil, "", fmt.Errorf("%w: decode listing: %v", ErrBackend, err)
	}

	files := make([]driveFile, 0, len(loose.Files))
	for _, raw := range loose.Files {
		var f driveFile
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &f,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, "", fmt.Errorf("%w: build decoder: %v", ErrBackend, err)
		}
		if err := decoder.Decode(raw); err != nil {
			return nil, "", fmt.Errorf("%w: decode file entry: %v", ErrBackend, err)
		}
		files = append(files, f)
	}
	return files, loose.NextPageToken, nil
}

// findByName resolves a file name inside the folder to its id, "" when absent.
func (g *GoogleDrive) findByName(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", name, g.folderID)
	files, _, err := g.query(ctx, q, "")
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0].ID, nil
}

// createFile uploads content as name into the folder via a multipart request.
// An existing file with the same name is removed first: last writer wins.
func (g *GoogleDrive) createFile(ctx context.Context, name string, content []byte) error {
	if existing, err := g.findByName(ctx, name); err == nil && existing != "" {
		if _, err := g.do(ctx, http.MethodDelete, gdriveBaseURL+"/files/"+existing, nil, ""); err != nil && err != ErrNotFound {
			return fmt.Errorf("replace %s: %w", name, err)
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return fmt.Errorf("%w: build multipart: %v", ErrBackend, err)
	}
	fileMeta := map[string]any{
		"name":    name,
		"parents": []string{g.folderID},
	}
	if err := json.NewEncoder(metaPart).Encode(fileMeta); err != nil {
		return fmt.Errorf("%w: encode file metadata: %v", ErrBackend, err)
	}

	dataPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/octet-stream"},
	})
	if err != nil {
		return fmt.Errorf("%w: build multipart: %v", ErrBackend, err)
	}
	if _, err := dataPart.Write(content); err != nil {
		return fmt.Errorf("%w: write multipart content: %v", ErrBackend, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%w: finalize multipart: %v", ErrBackend, err)
	}

	contentType := "multipart/related; boundary=" + mw.Boundary()
	resp, err := g.do(ctx, http.MethodPost, gdriveUploadURL, bytes.NewReader(body.Bytes()), contentType)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (g *GoogleDrive) Upload(ctx context.Context, localPath, backupID string, meta *Metadata) (string, error) {
	suffix := ArchiveSuffix(localPath)
	if suffix == "" {
		return "", fmt.Errorf("%w: %s is not an archive", ErrBackend, localPath)
	}
	name := backupID + suffix

	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrBackend, localPath, err)
	}
	if err := g.createFile(ctx, name, content); err != nil {
		return "", err
	}

	if meta != nil {
		raw, err := EncodeMetadata(meta)
		if err == nil {
			err = g.createFile(ctx, MetadataName(backupID), raw)
		}
		if err != nil {
			g.log.Warn("sidecar upload failed", "backup_id", backupID, "error", err)
		}
	}

	g.log.Info("uploaded backup to google drive", "name", name)
	return name, nil
}

func (g *GoogleDrive) Download(ctx context.Context, backupID, targetPath string) (string, error) {
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		fileID, err := g.findByName(ctx, backupID+suffix)
		if err != nil {
			return "", err
		}
		if fileID == "" {
			continue
		}

		dest := targetPath
		if suffix == SuffixEncrypted {
			dest += ".enc"
		}

		resp, err := g.do(ctx, http.MethodGet, gdriveBaseURL+"/files/"+fileID+"?alt=media", nil, "")
		if err != nil {
			return "", err
		}
		if err := writeBody(resp.Body, dest); err != nil {
			return "", fmt.Errorf("%w: save %s: %v", ErrBackend, backupID, err)
		}

		// Best-effort sidecar fetch next to the archive.
		if raw := g.readSidecarRaw(ctx, backupID); raw != nil {
			if err := os.WriteFile(targetPath+SuffixMetadata, raw, 0o644); err != nil {
				g.log.Warn("sidecar save failed", "backup_id", backupID, "error", err)
			}
		}

		g.log.Info("downloaded backup from google drive", "backup_id", backupID)
		return dest, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, backupID)
}

func (g *GoogleDrive) List(ctx context.Context) ([]Record, error) {
	var records []Record

	q := fmt.Sprintf("'%s' in parents and trashed=false", g.folderID)
	pageToken := ""
	for {
		files, next, err := g.query(ctx, q, pageToken)
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			id, _, ok := SplitArchiveName(f.Name)
			if !ok {
				continue
			}

			meta := g.readSidecar(ctx, id)
			records = append(records, Record{
				ID:        id,
				Size:      f.Size,
				CreatedAt: recordTime(meta, ParseTime(f.CreatedTime)),
				Location:  f.ID,
				Metadata:  meta,
			})
		}

		if next == "" {
			return records, nil
		}
		pageToken = next
	}
}

// readSidecarRaw fetches the raw sidecar document, nil when absent.
func (g *GoogleDrive) readSidecarRaw(ctx context.Context, backupID string) []byte {
	fileID, err := g.findByName(ctx, MetadataName(backupID))
	if err != nil || fileID == "" {
		return nil
	}
	resp, err := g.do(ctx, http.MethodGet, gdriveBaseURL+"/files/"+fileID+"?alt=media", nil, "")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	return raw
}

func (g *GoogleDrive) readSidecar(ctx context.Context, backupID string) *Metadata {
	raw := g.readSidecarRaw(ctx, backupID)
	if raw == nil {
		return nil
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		g.log.Debug("unreadable sidecar ignored", "backup_id", backupID, "error", err)
		return nil
	}
	return meta
}

func (g *GoogleDrive) Delete(ctx context.Context, backupID string) (bool, error) {
	deleted := false
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		fileID, err := g.findByName(ctx, backupID+suffix)
		if err != nil {
			return false, err
		}
		if fileID == "" {
			continue
		}
		resp, err := g.do(ctx, http.MethodDelete, gdriveBaseURL+"/files/"+fileID, nil, "")
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return false, err
		}
		resp.Body.Close()
		deleted = true
	}

	// Sidecar after the archive, best-effort.
	if fileID, err := g.findByName(ctx, MetadataName(backupID)); err == nil && fileID != "" {
		if resp, err := g.do(ctx, http.MethodDelete, gdriveBaseURL+"/files/"+fileID, nil, ""); err == nil {
			resp.Body.Close()
		} else if err != ErrNotFound {
			g.log.Warn("sidecar delete failed", "backup_id", backupID, "error", err)
		}
	}

	if deleted {
		g.log.Info("deleted backup from google drive", "backup_id", backupID)
	}
	return deleted, nil
}
