package relay

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// objectTagging is the URL-encoded S3 object tagging string for cost allocation.
const objectTagging = "Project=grok-image-edit"

// PutObjectAPI is the subset of the S3 client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PresignGetAPI is the subset of the S3 presign client used for links.
type PresignGetAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 uploads artifacts to a bucket and delivers a pre-signed GET URL.
type S3 struct {
	client    PutObjectAPI
	presigner PresignGetAPI
	bucket    string
	prefix    string
	expiry    time.Duration
}

var _ Relay = (*S3)(nil)

// NewS3 creates an S3 relay. Objects are stored under prefix + file name.
func NewS3(client PutObjectAPI, presigner PresignGetAPI, bucket, prefix string, expiry time.Duration) *S3 {
	return &S3{client: client, presigner: presigner, bucket: bucket, prefix: prefix, expiry: expiry}
}

func (r *S3) Name() string { return "s3" }

func (r *S3) Transfer(ctx context.Context, localPath string) (string, error) {
	filename := filepath.Base(localPath)
	key := path.Join(r.prefix, filename)

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	contentType := contentTypeFor(filename)
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &r.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
		Tagging:     aws.String(objectTagging),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact to S3: %w", err)
	}

	presigned, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &r.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = r.expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}

	log.Info().
		Str("bucket", r.bucket).
		Str("key", key).
		Dur("expiry", r.expiry).
		Msg("Artifact uploaded to S3")
	return presigned.URL, nil
}

func contentTypeFor(filename string) string {
	switch ext := filepath.Ext(filename); ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
