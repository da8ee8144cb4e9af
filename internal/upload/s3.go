// Package upload issues presigned S3 URLs for message attachments. Clients
// upload directly to the bucket and put the download URL into a message.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/vedran77/courier/internal/config"
)

const presignExpires = 15 * time.Minute

var ErrNotConfigured = errors.New("uploads are not configured")

type Ticket struct {
	Key         string    `json:"key"`
	UploadURL   string    `json:"upload_url"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Presigner struct {
	client *s3.PresignClient
	bucket string
	now    func() time.Time
}

// NewPresigner builds a presigner for cfg. With no bucket configured the
// presigner is returned disabled and Presign fails with ErrNotConfigured.
func NewPresigner(ctx context.Context, cfg config.S3Config) (*Presigner, error) {
	p := &Presigner{bucket: cfg.Bucket, now: time.Now}
	if cfg.Bucket == "" {
		return p, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	p.client = s3.NewPresignClient(client)
	return p, nil
}

func (p *Presigner) Enabled() bool {
	return p != nil && p.client != nil
}

// Presign returns a PUT URL for a new object owned by userID and a GET URL
// for reading it back.
func (p *Presigner) Presign(ctx context.Context, userID uuid.UUID, kind string) (*Ticket, error) {
	if !p.Enabled() {
		return nil, ErrNotConfigured
	}

	key := storageKey(p.now(), userID, kind)

	put, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpires))
	if err != nil {
		return nil, fmt.Errorf("presigning put: %w", err)
	}

	get, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpires))
	if err != nil {
		return nil, fmt.Errorf("presigning get: %w", err)
	}

	return &Ticket{
		Key:         key,
		UploadURL:   put.URL,
		DownloadURL: get.URL,
		ExpiresAt:   p.now().Add(presignExpires),
	}, nil
}

func storageKey(t time.Time, userID uuid.UUID, kind string) string {
	return fmt.Sprintf("%s/%s/%d/%02d/%02d/%s", kind, userID, t.Year(), t.Month(), t.Day(), uuid.New())
}
