package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kebairia/cbak/internal/config"
	"github.com/kebairia/cbak/internal/logger"
)

// S3 stores backups in an S3-compatible bucket (AWS S3, MinIO, Ceph RGW,
// Yandex Object Storage) under a key prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	log    logger.Logger
}

var _ Backend = (*S3)(nil)

// NewS3 builds the S3 client from static credentials and ensures the bucket
// exists, creating it when the credentials allow.
func NewS3(cfg config.S3Config, log logger.Logger) (*S3, error) {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.EndpointURL != "" {
		opts.BaseEndpoint = aws.String(cfg.EndpointURL)
		opts.UsePathStyle = true
	}

	backend := &S3{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}

	if err := backend.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return backend, nil
}

func (b *S3) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}

	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("%w: head bucket %s: %v", ErrBackend, b.bucket, err)
	}

	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("%w: create bucket %s: %v", ErrBackend, b.bucket, err)
	}
	b.log.Info("created bucket", "bucket", b.bucket)
	return nil
}

func (b *S3) Upload(ctx context.Context, localPath, backupID string, meta *Metadata) (string, error) {
	suffix := ArchiveSuffix(localPath)
	if suffix == "" {
		return "", fmt.Errorf("%w: %s is not an archive", ErrBackend, localPath)
	}
	key := b.prefix + backupID + suffix

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrBackend, localPath, err)
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrBackend, key, err)
	}

	if meta != nil {
		if err := b.putSidecar(ctx, backupID, meta); err != nil {
			b.log.Warn("sidecar upload failed", "backup_id", backupID, "error", err)
		}
	}

	b.log.Info("uploaded backup to s3", "bucket", b.bucket, "key", key)
	return key, nil
}

func (b *S3) putSidecar(ctx context.Context, backupID string, meta *Metadata) error {
	raw, err := EncodeMetadata(meta)
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.prefix + MetadataName(backupID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (b *S3) Download(ctx context.Context, backupID, targetPath string) (string, error) {
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		key := b.prefix + backupID + suffix

		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *s3types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				continue
			}
			return "", fmt.Errorf("%w: get %s: %v", ErrBackend, key, err)
		}

		dest := targetPath
		if suffix == SuffixEncrypted {
			dest += ".enc"
		}
		if err := writeBody(out.Body, dest); err != nil {
			return "", fmt.Errorf("%w: save %s: %v", ErrBackend, key, err)
		}

		b.fetchSidecar(ctx, backupID, targetPath)

		b.log.Info("downloaded backup from s3", "bucket", b.bucket, "key", key)
		return dest, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, backupID)
}

// fetchSidecar downloads the metadata sidecar next to the archive, best-effort.
func (b *S3) fetchSidecar(ctx context.Context, backupID, targetPath string) {
	key := b.prefix + MetadataName(backupID)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return
	}
	if err := writeBody(out.Body, targetPath+SuffixMetadata); err != nil {
		b.log.Warn("sidecar save failed", "backup_id", backupID, "error", err)
	}
}

func (b *S3) List(ctx context.Context) ([]Record, error) {
	var records []Record

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list objects: %v", ErrBackend, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := key[len(b.prefix):]

			id, _, ok := SplitArchiveName(name)
			if !ok {
				continue
			}

			meta := b.readSidecar(ctx, id)
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}
			modified := aws.ToTime(obj.LastModified)

			records = append(records, Record{
				ID:        id,
				Size:      size,
				CreatedAt: recordTime(meta, modified),
				Location:  key,
				Metadata:  meta,
			})
		}
	}

	return records, nil
}

// readSidecar loads sidecar metadata from the bucket, nil when absent.
func (b *S3) readSidecar(ctx context.Context, backupID string) *Metadata {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + MetadataName(backupID)),
	})
	if err != nil {
		return nil
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		b.log.Debug("unreadable sidecar ignored", "backup_id", backupID, "error", err)
		return nil
	}
	return meta
}

func (b *S3) Delete(ctx context.Context, backupID string) (bool, error) {
	deleted := false
	for _, suffix := range []string{SuffixPlain, SuffixEncrypted} {
		key := b.prefix + backupID + suffix

		// DeleteObject is silent for missing keys, so probe first to report
		// whether anything actually existed.
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var notFound *s3types.NotFound
			if errors.As(err, &notFound) {
				continue
			}
			return false, fmt.Errorf("%w: head %s: %v", ErrBackend, key, err)
		}

		if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return false, fmt.Errorf("%w: delete %s: %v", ErrBackend, key, err)
		}
		deleted = true
	}

	// Sidecar after the archive, best-effort.
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + MetadataName(backupID)),
	}); err != nil {
		b.log.Warn("sidecar delete failed", "backup_id", backupID, "error", err)
	}

	if deleted {
		b.log.Info("deleted backup from s3", "backup_id", backupID)
	}
	return deleted, nil
}

func writeBody(body io.ReadCloser, dest string) error {
	defer body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, body); err != nil {
		return err
	}
	return out.Sync()
}
