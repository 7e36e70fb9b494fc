// Package aws implements the AWS event sources for vigil: SQS queues and
// CloudTrail management events.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// LoadConfig loads the default AWS config chain for region.
// An empty region defers to the environment.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewSQSSourceFromConfig builds an SQS source with a real client.
func NewSQSSourceFromConfig(ctx context.Context, queueURL, region string) (*SQSSource, error) {
	cfg, err := LoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return NewSQSSource(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewCloudTrailSourceFromConfig builds a CloudTrail source with a real client.
func NewCloudTrailSourceFromConfig(ctx context.Context, opts CloudTrailOptions) (*CloudTrailSource, error) {
	cfg, err := LoadConfig(ctx, opts.Region)
	if err != nil {
		return nil, err
	}
	return NewCloudTrailSource(cloudtrail.NewFromConfig(cfg), opts), nil
}
