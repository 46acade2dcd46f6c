// Package kb wraps Bedrock knowledge bases with retrieval-augmented
// generation and catalog listing.
package kb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agentruntimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/PyYel/golcloud/llm"
	"github.com/PyYel/golcloud/llm/internal/bedrockapi"
)

// DefaultModelID is the generation model used when none is configured.
const DefaultModelID = "amazon.titan-text-premier-v1:0"

// listPageSize is the page size used when listing knowledge bases.
const listPageSize = 10

// AgentRuntimeAPI is the Bedrock agent runtime surface used by the client.
type AgentRuntimeAPI interface {
	RetrieveAndGenerate(
		ctx context.Context,
		params *bedrockagentruntime.RetrieveAndGenerateInput,
		optFns ...func(*bedrockagentruntime.Options),
	) (*bedrockagentruntime.RetrieveAndGenerateOutput, error)
}

// AgentAPI is the Bedrock agent control-plane surface used by the client.
type AgentAPI interface {
	ListKnowledgeBases(
		ctx context.Context,
		params *bedrockagent.ListKnowledgeBasesInput,
		optFns ...func(*bedrockagent.Options),
	) (*bedrockagent.ListKnowledgeBasesOutput, error)
}

// Verify that the SDK clients implement our interfaces
var (
	_ AgentRuntimeAPI = (*bedrockagentruntime.Client)(nil)
	_ AgentAPI        = (*bedrockagent.Client)(nil)
)

// Answer is a retrieval-augmented generation result with its source
// citations.
type Answer struct {
	// Text is the generated answer
	Text string

	// Sources are the S3 URIs of the documents cited by the answer
	Sources []string
}

// KnowledgeBase describes one knowledge base in the account.
type KnowledgeBase struct {
	ID          string
	Name        string
	Description string
	Status      string
}

// clientConfig holds the configuration assembled from Options.
type clientConfig struct {
	region          string
	modelID         string
	logger          *slog.Logger
	customAWSConfig *aws.Config
}

// Option configures the knowledge-base client.
type Option func(*clientConfig)

// WithRegion sets the region used for knowledge-base operations.
func WithRegion(region string) Option {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithModelID overrides the generation model.
func WithModelID(modelID string) Option {
	return func(c *clientConfig) {
		c.modelID = modelID
	}
}

// WithLogger sets the structured logger used by the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithAWSConfig provides a fully built AWS configuration, overriding the
// default configuration loading behavior.
func WithAWSConfig(cfg *aws.Config) Option {
	return func(c *clientConfig) {
		c.customAWSConfig = cfg
	}
}

// Client queries Bedrock knowledge bases.
type Client struct {
	runtime AgentRuntimeAPI
	agent   AgentAPI
	control bedrockapi.ControlAPI
	region  string
	modelID string
	logger  *slog.Logger
}

// New creates a knowledge-base client using the default AWS credential
// chain.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{modelID: DefaultModelID}
	for _, opt := range opts {
		opt(cfg)
	}

	var awsCfg aws.Config
	var err error
	if cfg.customAWSConfig != nil {
		awsCfg = *cfg.customAWSConfig
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("kb: failed to load AWS config: %w", err)
		}
	}
	if cfg.region != "" {
		awsCfg.Region = cfg.region
	}

	return &Client{
		runtime: bedrockagentruntime.NewFromConfig(awsCfg),
		agent:   bedrockagent.NewFromConfig(awsCfg),
		control: bedrock.NewFromConfig(awsCfg),
		region:  awsCfg.Region,
		modelID: cfg.modelID,
		logger:  cfg.logger,
	}, nil
}

// NewWithAPI creates a client over custom API implementations. This is
// primarily used for testing with mocked clients.
func NewWithAPI(runtime AgentRuntimeAPI, agent AgentAPI, control bedrockapi.ControlAPI, region string, opts ...Option) *Client {
	cfg := &clientConfig{modelID: DefaultModelID}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		runtime: runtime,
		agent:   agent,
		control: control,
		region:  region,
		modelID: cfg.modelID,
		logger:  cfg.logger,
	}
}

// Ask runs retrieval-augmented generation against a knowledge base and
// returns the answer with the S3 URIs of the cited documents.
func (c *Client) Ask(ctx context.Context, knowledgeBaseID, question string) (*Answer, error) {
	if knowledgeBaseID == "" {
		return nil, fmt.Errorf("%w: knowledge base id cannot be empty", llm.ErrInvalidInput)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: question cannot be empty", llm.ErrInvalidInput)
	}

	modelARN, err := c.resolveModelARN(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.runtime.RetrieveAndGenerate(ctx, &bedrockagentruntime.RetrieveAndGenerateInput{
		Input: &agentruntimetypes.RetrieveAndGenerateInput{
			Text: aws.String(question),
		},
		RetrieveAndGenerateConfiguration: &agentruntimetypes.RetrieveAndGenerateConfiguration{
			Type: agentruntimetypes.RetrieveAndGenerateTypeKnowledgeBase,
			KnowledgeBaseConfiguration: &agentruntimetypes.KnowledgeBaseRetrieveAndGenerateConfiguration{
				KnowledgeBaseId: aws.String(knowledgeBaseID),
				ModelArn:        aws.String(modelARN),
			},
		},
	})
	if err != nil {
		c.logError(ctx, "retrieve and generate failed", "knowledge_base", knowledgeBaseID, "error", err)
		return nil, fmt.Errorf("kb: retrieve and generate: %w", err)
	}

	answer := &Answer{}
	if out.Output != nil {
		answer.Text = aws.ToString(out.Output.Text)
	}
	seen := map[string]bool{}
	for _, citation := range out.Citations {
		for _, ref := range citation.RetrievedReferences {
			if ref.Location == nil || ref.Location.S3Location == nil {
				continue
			}
			uri := aws.ToString(ref.Location.S3Location.Uri)
			if uri != "" && !seen[uri] {
				seen[uri] = true
				answer.Sources = append(answer.Sources, uri)
			}
		}
	}

	c.logInfo(ctx, "knowledge base answered",
		"knowledge_base", knowledgeBaseID, "sources", len(answer.Sources))
	return answer, nil
}

// List returns all knowledge bases in the account, following pagination.
func (c *Client) List(ctx context.Context) ([]KnowledgeBase, error) {
	var bases []KnowledgeBase
	var nextToken *string
	for {
		out, err := c.agent.ListKnowledgeBases(ctx, &bedrockagent.ListKnowledgeBasesInput{
			MaxResults: aws.Int32(listPageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("kb: list knowledge bases: %w", err)
		}

		for _, summary := range out.KnowledgeBaseSummaries {
			bases = append(bases, KnowledgeBase{
				ID:          aws.ToString(summary.KnowledgeBaseId),
				Name:        aws.ToString(summary.Name),
				Description: aws.ToString(summary.Description),
				Status:      string(summary.Status),
			})
		}

		if out.NextToken == nil {
			return bases, nil
		}
		nextToken = out.NextToken
	}
}

// resolveModelARN finds the ARN of the configured model in the region's
// catalog, falling back to a constructed ARN when the catalog lookup
// fails.
func (c *Client) resolveModelARN(ctx context.Context) (string, error) {
	out, err := c.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err == nil {
		for _, m := range out.ModelSummaries {
			if aws.ToString(m.ModelId) == c.modelID {
				return aws.ToString(m.ModelArn), nil
			}
		}
	}

	if c.region == "" {
		return "", fmt.Errorf("kb: cannot resolve model ARN for %q without a region", c.modelID)
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", c.region, c.modelID), nil
}

func (c *Client) logInfo(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, msg, args...)
	}
}

func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.ErrorContext(ctx, msg, args...)
	}
}
