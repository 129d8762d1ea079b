package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig holds S3 settings for audit archival
type ArchiveConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Archiver writes expired audit records to object storage before they are
// deleted by retention. Archives are NDJSON, keyed by scope and cutoff date.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver creates an S3-backed archiver
func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	ctx := context.Background()

	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials (MinIO or AWS with explicit keys)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain (IAM roles, env vars, etc.)
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// Archive uploads the records for a scope as a single NDJSON object and
// returns the object key
func (a *Archiver) Archive(ctx context.Context, scope string, cutoff time.Time, records []*Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	data, err := exportNDJSON(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive: %w", err)
	}

	key := fmt.Sprintf("audit-archive/%s/%s.ndjson", scope, cutoff.UTC().Format("2006-01-02"))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive to s3: %w", err)
	}

	return key, nil
}
