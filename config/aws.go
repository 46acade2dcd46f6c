package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// awsLoadConfig holds the configuration assembled from AWSOptions.
type awsLoadConfig struct {
	region       string
	profile      string
	accessKey    string
	secretKey    string
	sessionToken string
}

// AWSOption configures AWS SDK configuration loading.
type AWSOption func(*awsLoadConfig)

// WithAWSRegion overrides the region from the default credential chain.
func WithAWSRegion(region string) AWSOption {
	return func(c *awsLoadConfig) {
		c.region = region
	}
}

// WithAWSProfile selects a named profile from the shared config files.
func WithAWSProfile(profile string) AWSOption {
	return func(c *awsLoadConfig) {
		c.profile = profile
	}
}

// WithStaticCredentials bypasses the default credential chain with an
// explicit key pair. The session token may be empty.
func WithStaticCredentials(accessKey, secretKey, sessionToken string) AWSOption {
	return func(c *awsLoadConfig) {
		c.accessKey = accessKey
		c.secretKey = secretKey
		c.sessionToken = sessionToken
	}
}

// LoadAWSConfig loads AWS SDK configuration from the default chain
// (environment, shared config, instance metadata), applying any
// overrides given as options.
func LoadAWSConfig(ctx context.Context, opts ...AWSOption) (aws.Config, error) {
	cfg := &awsLoadConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.region))
	}
	if cfg.profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.profile))
	}
	if cfg.accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.accessKey, cfg.secretKey, cfg.sessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("config: load AWS config: %w", err)
	}
	return awsCfg, nil
}
