package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/telemetry"
)

// S3API defines the S3 operations used by the archive emitter.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the archive emitter.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

// S3Emitter archives each result as a JSON object keyed by event date and id:
// {prefix}/YYYY/MM/DD/{event_id}.json
type S3Emitter struct {
	client S3API
	bucket string
	prefix string
	logger *telemetry.Logger
}

// NewS3Emitter creates an archive emitter with a real client.
func NewS3Emitter(ctx context.Context, cfg S3Config) (*S3Emitter, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3EmitterWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewS3EmitterWithClient creates an archive emitter on an existing client.
func NewS3EmitterWithClient(client S3API, cfg S3Config) *S3Emitter {
	return &S3Emitter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: telemetry.NewLogger("s3-emitter"),
	}
}

// Key returns the object key for a result.
func (e *S3Emitter) Key(r *orchestrator.Result) string {
	ts := r.Event.Timestamp.UTC()
	name := fmt.Sprintf("%04d/%02d/%02d/%s.json", ts.Year(), ts.Month(), ts.Day(), r.Event.ID)
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}

// Emit implements Emitter.
func (e *S3Emitter) Emit(ctx context.Context, r *orchestrator.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := e.Key(r)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"severity":       r.HighestSeverity.String(),
			"correlation-id": r.Event.CorrelationID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive result %s: %w", key, err)
	}

	e.logger.WithContext(ctx).Debug().
		Str("bucket", e.bucket).
		Str("key", key).
		Int("size", len(body)).
		Msg("result archived")
	return nil
}

// Close is a no-op; every Emit is a complete upload.
func (e *S3Emitter) Close() error { return nil }
