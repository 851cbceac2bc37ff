package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 uploader. Static credentials are optional; the
// default AWS credential chain is used when they are empty.
type Options struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader copies produced artifacts to a bucket.
type S3Uploader struct {
	up     uploader
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader creates an uploader for opts.Bucket.
func NewS3Uploader(ctx context.Context, opts Options) (*S3Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &S3Uploader{
		up:     manager.NewUploader(cli),
		client: cli,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// Bucket returns the target bucket name.
func (u *S3Uploader) Bucket() string { return u.bucket }

// Ping checks that the bucket is reachable.
func (u *S3Uploader) Ping(ctx context.Context) error {
	if u.client == nil {
		return nil
	}
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)})
	return err
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".pdf":  "application/pdf",
}

// ContentType returns the upload content type for a file name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// objectKey joins the configured prefix, keyPrefix and a slash-separated
// relative path.
func (u *S3Uploader) objectKey(keyPrefix, rel string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{strings.Trim(u.prefix, "/"), strings.Trim(keyPrefix, "/"), filepath.ToSlash(rel)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// UploadDir uploads every regular file under localDir and returns the keys
// written.
func (u *S3Uploader) UploadDir(ctx context.Context, localDir, keyPrefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := u.objectKey(keyPrefix, rel)
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := u.up.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(ContentType(p)),
		}); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return keys, err
	}
	log.Info().Str("bucket", u.bucket).Str("dir", localDir).Int("files", len(keys)).Msg("artifacts uploaded to S3")
	return keys, nil
}
