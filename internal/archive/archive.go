// Package archive keeps a copy of every transmitted agreement in an
// S3-compatible bucket.
package archive

import (
	"context"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
)

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Config locates the bucket.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether an endpoint and bucket are configured.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// MinioArchiver uploads documents with minio-go.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioArchiver creates an archiver for cfg. A nil logger is replaced
// with a no-op one.
func NewMinioArchiver(cfg Config, logger *zap.Logger) (*MinioArchiver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "archive: create minio client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return eris.Wrap(err, "archive: check bucket")
	}
	if exists {
		return nil
	}
	return eris.Wrap(a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}), "archive: create bucket")
}

// Archive uploads the document at path under ObjectName.
func (a *MinioArchiver) Archive(ctx context.Context, company counterparty.Company, path string) error {
	name := ObjectName(company, path)
	info, err := a.client.FPutObject(ctx, a.bucket, name, path, minio.PutObjectOptions{ContentType: docxContentType})
	if err != nil {
		return eris.Wrapf(err, "archive: upload %s", name)
	}
	a.logger.Info("document archived",
		zap.String("bucket", a.bucket), zap.String("object", name), zap.Int64("size", info.Size))
	return nil
}

// ObjectName is <company>/<run_date>/<file>. The run date is taken from
// the directory the document was written to.
func ObjectName(company counterparty.Company, path string) string {
	code := company.Code
	if code == "" {
		code = counterparty.SafeFileName(company.Name)
	}
	return code + "/" + filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
}
