// Package awsclient loads AWS SDK configuration shared by the SQS and S3 backends.
package awsclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// localAccessKey is used against custom endpoints (LocalStack, MinIO) when no
// credentials are present in the environment.
const localAccessKey = "local"

// Load resolves region and credentials. A non-empty endpoint marks a local
// emulator; callers apply it to their service client options.
func Load(ctx context.Context, region, endpoint string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if strings.TrimSpace(endpoint) != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(localAccessKey, localAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// Endpoint returns endpoint as an SDK BaseEndpoint value, or nil when unset.
func Endpoint(endpoint string) *string {
	if endpoint = strings.TrimSpace(endpoint); endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
