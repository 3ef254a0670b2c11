// Package archive copies issuance evidence to S3 for long-term retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fiscalcore/internal/domain/billing"
)

// Config configures the evidence archive.
type Config struct {
	Enabled bool
	Bucket  string
	Prefix  string
	Region  string
}

// PutObjectAPI is the subset of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one JSON object per issued document.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver loads AWS credentials from the default chain.
// Returns nil when the archive is disabled.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3ArchiverWithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiverWithClient creates an archiver around an existing client.
func NewS3ArchiverWithClient(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// ObjectKey returns {prefix}/{tenant}/{document}.json.
func (a *S3Archiver) ObjectKey(ev *billing.Evidence) string {
	return path.Join(a.prefix, ev.TenantID, ev.DocumentID.String()+".json")
}

// Archive implements billing.EvidenceArchiver.
func (a *S3Archiver) Archive(ctx context.Context, ev *billing.Evidence) error {
	body, err := json.Marshal(struct {
		TenantID string `json:"tenantId"`
		*billing.Evidence
	}{TenantID: ev.TenantID, Evidence: ev})
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	key := a.ObjectKey(ev)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"content-hash":   ev.Hash,
			"control-number": ev.ControlNumber,
			"provider":       ev.Provider,
		},
	})
	if err != nil {
		return fmt.Errorf("put evidence s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

var _ billing.EvidenceArchiver = (*S3Archiver)(nil)
