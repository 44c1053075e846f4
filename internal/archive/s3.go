// Package archive writes permanently dropped events to an S3-compatible
// bucket for audit. Archived items are never re-ingested; this is an audit
// trail, not a durable queue.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/groblegark/hookrelay/internal/idgen"
	"github.com/groblegark/hookrelay/internal/model"
)

// DeadLetter receives events whose retry budget is exhausted.
type DeadLetter interface {
	Archive(ctx context.Context, items []model.CanonicalEvent) error
}

// S3 writes each dropped batch as one NDJSON object under a time-based key.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates the archive. If endpoint is non-empty, path-style addressing
// is enabled (for MinIO and similar).
func NewS3(ctx context.Context, bucket, prefix, region, endpoint string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Archive uploads the dropped items as one NDJSON object.
func (a *S3) Archive(ctx context.Context, items []model.CanonicalEvent) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range items {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encoding dropped event %s: %w", ev.ID, err)
		}
	}

	suffix, err := idgen.GenerateWithPrefix("")
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s-%s.ndjson",
		a.prefix, time.Now().UTC().Format("20060102T150405Z"), suffix)

	contentType := "application/x-ndjson"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
