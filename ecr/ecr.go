// Package ecr manages Elastic Container Registry repositories, docker
// image pushes, and OCI artifact distribution.
package ecr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/PyYel/golcloud/internal/executor"
)

// Common error types for registry operations.
var (
	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("ecr: invalid input")

	// ErrNoAuthData indicates the registry returned no authorization data.
	ErrNoAuthData = errors.New("ecr: no authorization data returned")
)

// STSAPI defines the STS operations used by the client.
type STSAPI interface {
	GetCallerIdentity(
		ctx context.Context,
		params *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options),
	) (*sts.GetCallerIdentityOutput, error)
}

// ECRAPI defines the ECR operations used by the client.
type ECRAPI interface {
	DescribeRepositories(
		ctx context.Context,
		params *ecr.DescribeRepositoriesInput,
		optFns ...func(*ecr.Options),
	) (*ecr.DescribeRepositoriesOutput, error)

	CreateRepository(
		ctx context.Context,
		params *ecr.CreateRepositoryInput,
		optFns ...func(*ecr.Options),
	) (*ecr.CreateRepositoryOutput, error)

	GetAuthorizationToken(
		ctx context.Context,
		params *ecr.GetAuthorizationTokenInput,
		optFns ...func(*ecr.Options),
	) (*ecr.GetAuthorizationTokenOutput, error)
}

// Verify that the SDK clients implement our interfaces
var (
	_ STSAPI = (*sts.Client)(nil)
	_ ECRAPI = (*ecr.Client)(nil)
)

// commandRunner abstracts the docker command execution so tests can
// substitute a fake.
type commandRunner interface {
	Run(ctx context.Context, args []string, opts ...executor.Option) (*executor.Result, error)
}

// clientConfig holds the configuration assembled from Options.
type clientConfig struct {
	region          string
	logger          *slog.Logger
	docker          commandRunner
	customAWSConfig *aws.Config
}

// Option configures the registry client.
type Option func(*clientConfig)

// WithRegion sets the region used for registry operations.
func WithRegion(region string) Option {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithLogger sets the structured logger used by the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithDockerRunner overrides the docker command runner.
func WithDockerRunner(runner commandRunner) Option {
	return func(c *clientConfig) {
		c.docker = runner
	}
}

// WithAWSConfig provides a fully built AWS configuration, overriding the
// default configuration loading behavior.
func WithAWSConfig(cfg *aws.Config) Option {
	return func(c *clientConfig) {
		c.customAWSConfig = cfg
	}
}

// Client manages ECR repositories and image pushes.
type Client struct {
	sts    STSAPI
	ecr    ECRAPI
	docker commandRunner
	region string
	logger *slog.Logger

	// accountID caches the resolved account after the first lookup
	accountID string
}

// New creates a registry client using the default AWS credential chain.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := newClientConfig(opts)

	var awsCfg aws.Config
	var err error
	if cfg.customAWSConfig != nil {
		awsCfg = *cfg.customAWSConfig
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("ecr: failed to load AWS config: %w", err)
		}
	}
	if cfg.region != "" {
		awsCfg.Region = cfg.region
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrInvalidInput)
	}

	return &Client{
		sts:    sts.NewFromConfig(awsCfg),
		ecr:    ecr.NewFromConfig(awsCfg),
		docker: cfg.docker,
		region: awsCfg.Region,
		logger: cfg.logger,
	}, nil
}

// NewWithAPI creates a client over custom API implementations. This is
// primarily used for testing with mocked clients.
func NewWithAPI(stsAPI STSAPI, ecrAPI ECRAPI, region string, opts ...Option) *Client {
	cfg := newClientConfig(opts)
	return &Client{
		sts:    stsAPI,
		ecr:    ecrAPI,
		docker: cfg.docker,
		region: region,
		logger: cfg.logger,
	}
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{docker: executor.New("docker")}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.docker == nil {
		cfg.docker = executor.New("docker")
	}
	return cfg
}

// AccountID returns the AWS account of the active credentials. The value
// is cached after the first call.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	if c.accountID != "" {
		return c.accountID, nil
	}

	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("ecr: get caller identity: %w", err)
	}

	c.accountID = aws.ToString(out.Account)
	return c.accountID, nil
}

// RegistryURI returns the account's registry hostname, e.g.
// 123456789012.dkr.ecr.eu-west-1.amazonaws.com.
func (c *Client) RegistryURI(ctx context.Context) (string, error) {
	accountID, err := c.AccountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, c.region), nil
}

// ImageURI returns the full image reference for a repository and tag.
func (c *Client) ImageURI(ctx context.Context, repository, tag string) (string, error) {
	if repository == "" {
		return "", fmt.Errorf("%w: repository cannot be empty", ErrInvalidInput)
	}
	if tag == "" {
		tag = "latest"
	}

	registry, err := c.RegistryURI(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s:%s", registry, repository, tag), nil
}

// EnsureRepository creates the repository if it does not already exist.
func (c *Client) EnsureRepository(ctx context.Context, repository string) error {
	if repository == "" {
		return fmt.Errorf("%w: repository cannot be empty", ErrInvalidInput)
	}

	_, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{repository},
	})
	if err == nil {
		return nil
	}

	var notFound *ecrtypes.RepositoryNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("ecr: describe repository %q: %w", repository, err)
	}

	if _, err := c.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repository),
	}); err != nil {
		return fmt.Errorf("ecr: create repository %q: %w", repository, err)
	}

	c.logInfo(ctx, "repository created", "repository", repository)
	return nil
}

// AuthToken returns the docker username and password for the registry.
// ECR encodes both in a base64 "user:password" token.
func (c *Client) AuthToken(ctx context.Context) (username, password string, err error) {
	out, err := c.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", fmt.Errorf("ecr: get authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", ErrNoAuthData
	}

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(out.AuthorizationData[0].AuthorizationToken))
	if err != nil {
		return "", "", fmt.Errorf("ecr: decode authorization token: %w", err)
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("ecr: malformed authorization token")
	}
	return parts[0], parts[1], nil
}

// PushImage tags a local docker image, logs the docker daemon into the
// registry, and pushes. The repository is created if missing. Returns the
// pushed image URI.
func (c *Client) PushImage(ctx context.Context, localImage, repository, tag string) (string, error) {
	if localImage == "" {
		return "", fmt.Errorf("%w: local image cannot be empty", ErrInvalidInput)
	}

	if err := c.EnsureRepository(ctx, repository); err != nil {
		return "", err
	}

	imageURI, err := c.ImageURI(ctx, repository, tag)
	if err != nil {
		return "", err
	}
	registry, err := c.RegistryURI(ctx)
	if err != nil {
		return "", err
	}
	username, password, err := c.AuthToken(ctx)
	if err != nil {
		return "", err
	}

	if res, err := c.docker.Run(ctx, []string{"tag", localImage, imageURI}); err != nil {
		return "", fmt.Errorf("ecr: docker tag: %w: %s", err, res.Stderr)
	}
	if res, err := c.docker.Run(ctx,
		[]string{"login", "--username", username, "--password-stdin", registry},
		executor.WithStdin(password),
	); err != nil {
		return "", fmt.Errorf("ecr: docker login: %w: %s", err, res.Stderr)
	}
	if res, err := c.docker.Run(ctx, []string{"push", imageURI}); err != nil {
		return "", fmt.Errorf("ecr: docker push: %w: %s", err, res.Stderr)
	}

	c.logInfo(ctx, "image pushed", "image", imageURI)
	return imageURI, nil
}

// PullCommands returns the shell commands a user runs to pull an image
// from the registry.
func (c *Client) PullCommands(ctx context.Context, repository, tag string) ([]string, error) {
	registry, err := c.RegistryURI(ctx)
	if err != nil {
		return nil, err
	}
	imageURI, err := c.ImageURI(ctx, repository, tag)
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf("aws ecr get-login-password --region %s | docker login --username AWS --password-stdin %s",
			c.region, registry),
		fmt.Sprintf("docker pull %s", imageURI),
	}, nil
}

func (c *Client) logInfo(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, msg, args...)
	}
}
