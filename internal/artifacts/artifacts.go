// Package artifacts copies produced run files to S3-compatible storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/logging"
)

// Uploader stores a local file for a run and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, runID, localPath string) (string, error)
}

// NoopUploader keeps files local.
type NoopUploader struct{}

func (NoopUploader) Upload(context.Context, string, string) (string, error) { return "", nil }

// S3Uploader writes objects under <prefix>/<run id>/<file name>.
type S3Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	log    *logging.Logger

	bucketChecked bool
}

// New returns NoopUploader when S3 is disabled.
func New(cfg config.S3Config, log *logging.Logger) (Uploader, error) {
	if !cfg.Enabled {
		return NoopUploader{}, nil
	}
	return NewS3Uploader(cfg, log)
}

func NewS3Uploader(cfg config.S3Config, log *logging.Logger) (*S3Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3: endpoint and bucket are required")
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: cfg.Region,
		log:    log.Named("artifacts"),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (u *S3Uploader) EnsureBucket(ctx context.Context) error {
	if u.bucketChecked {
		return nil
	}
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
			return fmt.Errorf("s3 make bucket %s: %w", u.bucket, err)
		}
		u.log.Infow("bucket created", "bucket", u.bucket)
	}
	u.bucketChecked = true
	return nil
}

// Key returns the object key of a run file.
func (u *S3Uploader) Key(runID, localPath string) string {
	return path.Join(u.prefix, runID, filepath.Base(localPath))
}

func (u *S3Uploader) Upload(ctx context.Context, runID, localPath string) (string, error) {
	if err := u.EnsureBucket(ctx); err != nil {
		return "", err
	}
	key := u.Key(runID, localPath)
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", localPath, err)
	}
	remote := fmt.Sprintf("s3://%s/%s", u.bucket, key)
	u.log.Infow("artifact uploaded", "file", localPath, "remote", remote, "bytes", info.Size)
	return remote, nil
}
