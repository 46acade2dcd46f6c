package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/gabriel-vasile/mimetype"

	"github.com/PyYel/golcloud/llm/internal/bedrockapi"
)

// ModelKind distinguishes what a catalog model can do.
type ModelKind string

// Model kinds.
const (
	KindText      ModelKind = "text"
	KindEmbedding ModelKind = "embedding"
)

// anthropicVersion is the fixed API version Bedrock expects for Anthropic
// payloads.
const anthropicVersion = "bedrock-2023-05-31"

// modelSpec describes one catalog entry. Costs are USD per 1000 tokens.
type modelSpec struct {
	id             string
	kind           ModelKind
	inputCostPerK  float64
	outputCostPerK float64

	// crossRegion marks models invoked through cross-region inference
	// profiles, which need a geography prefix on the model id.
	crossRegion bool
}

// bedrockCatalog maps friendly model names to their Bedrock identifiers.
var bedrockCatalog = map[string]modelSpec{
	"claude-4-sonnet": {
		id:             "anthropic.claude-sonnet-4-20250514-v1:0",
		kind:           KindText,
		inputCostPerK:  0.003,
		outputCostPerK: 0.015,
		crossRegion:    true,
	},
	"claude-3-haiku": {
		id:             "anthropic.claude-3-haiku-20240307-v1:0",
		kind:           KindText,
		inputCostPerK:  0.00025,
		outputCostPerK: 0.00125,
	},
	"nova-micro": {
		id:             "amazon.nova-micro-v1:0",
		kind:           KindText,
		inputCostPerK:  0.000035,
		outputCostPerK: 0.00014,
		crossRegion:    true,
	},
	"nova-lite": {
		id:             "amazon.nova-lite-v1:0",
		kind:           KindText,
		inputCostPerK:  0.00006,
		outputCostPerK: 0.00024,
		crossRegion:    true,
	},
	"nova-pro": {
		id:             "amazon.nova-pro-v1:0",
		kind:           KindText,
		inputCostPerK:  0.0008,
		outputCostPerK: 0.0032,
		crossRegion:    true,
	},
	"titan-embed-text": {
		id:            "amazon.titan-embed-text-v2:0",
		kind:          KindEmbedding,
		inputCostPerK: 0.00002,
	},
	"titan-embed-image": {
		id:   "amazon.titan-embed-image-v1",
		kind: KindEmbedding,
	},
}

// titanEmbedDimensions are the output sizes titan-embed-text-v2 supports.
var titanEmbedDimensions = map[int]bool{1024: true, 512: true, 384: true, 256: true}

// defaultTitanDimensions is used when no size or an unsupported size is
// requested.
const defaultTitanDimensions = 1024

// bedrockConfig holds the configuration assembled from BedrockOptions.
type bedrockConfig struct {
	region          string
	logger          *slog.Logger
	customAWSConfig *aws.Config
}

// BedrockOption configures the Bedrock provider.
type BedrockOption func(*bedrockConfig)

// WithBedrockRegion sets the region used for model invocation.
func WithBedrockRegion(region string) BedrockOption {
	return func(c *bedrockConfig) {
		c.region = region
	}
}

// WithBedrockLogger sets the structured logger used by the provider.
func WithBedrockLogger(logger *slog.Logger) BedrockOption {
	return func(c *bedrockConfig) {
		c.logger = logger
	}
}

// WithBedrockAWSConfig provides a fully built AWS configuration, overriding
// the default configuration loading behavior.
func WithBedrockAWSConfig(cfg *aws.Config) BedrockOption {
	return func(c *bedrockConfig) {
		c.customAWSConfig = cfg
	}
}

// BedrockProvider invokes one catalog model on AWS Bedrock. A provider is
// bound to a model at construction; text models implement Generator and
// Streamer, embedding models implement Embedder.
type BedrockProvider struct {
	runtime bedrockapi.RuntimeAPI
	control bedrockapi.ControlAPI
	model   string
	spec    modelSpec
	region  string
	logger  *slog.Logger
}

var (
	_ Generator = (*BedrockProvider)(nil)
	_ Streamer  = (*BedrockProvider)(nil)
	_ Embedder  = (*BedrockProvider)(nil)
)

// NewBedrock creates a provider for the given catalog model using the
// default AWS credential chain.
func NewBedrock(ctx context.Context, model string, opts ...BedrockOption) (*BedrockProvider, error) {
	spec, ok := bedrockCatalog[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	cfg := &bedrockConfig{}
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
			return nil, fmt.Errorf("llm: failed to load AWS config: %w", err)
		}
	}
	if cfg.region != "" {
		awsCfg.Region = cfg.region
	}

	return &BedrockProvider{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		control: bedrock.NewFromConfig(awsCfg),
		model:   model,
		spec:    spec,
		region:  awsCfg.Region,
		logger:  cfg.logger,
	}, nil
}

// NewBedrockWithAPI creates a provider over custom API implementations.
// This is primarily used for testing with mocked clients.
func NewBedrockWithAPI(runtime bedrockapi.RuntimeAPI, control bedrockapi.ControlAPI, model, region string, opts ...BedrockOption) (*BedrockProvider, error) {
	spec, ok := bedrockCatalog[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	cfg := &bedrockConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &BedrockProvider{
		runtime: runtime,
		control: control,
		model:   model,
		spec:    spec,
		region:  region,
		logger:  cfg.logger,
	}, nil
}

// Model returns the friendly catalog name the provider is bound to.
func (p *BedrockProvider) Model() string {
	return p.model
}

// ModelID returns the fully resolved Bedrock model identifier, including
// the geography prefix for cross-region inference profiles.
func (p *BedrockProvider) ModelID() string {
	if p.spec.crossRegion && strings.HasPrefix(p.region, "eu") {
		return "eu." + p.spec.id
	}
	return p.spec.id
}

// anthropicContent is one content block in an Anthropic message.
type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

// anthropicSource is the base64 payload of an image content block.
type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// anthropicMessage is one turn in an Anthropic conversation payload.
type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

// anthropicRequest is the Anthropic messages payload.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	TopK             int                `json:"top_k"`
	TopP             float64            `json:"top_p"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

// anthropicResponse is the Anthropic completion payload.
type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// novaContent is one content block in a Nova message.
type novaContent struct {
	Text string `json:"text"`
}

// novaMessage is one turn in a Nova conversation payload.
type novaMessage struct {
	Role    string        `json:"role"`
	Content []novaContent `json:"content"`
}

// novaRequest is the Nova messages payload.
type novaRequest struct {
	System          []novaContent `json:"system,omitempty"`
	Messages        []novaMessage `json:"messages"`
	InferenceConfig struct {
		MaxTokens     int      `json:"maxTokens"`
		Temperature   float64  `json:"temperature"`
		TopK          int      `json:"topK"`
		TopP          float64  `json:"topP"`
		StopSequences []string `json:"stopSequences,omitempty"`
	} `json:"inferenceConfig"`
}

// novaResponse is the Nova completion payload.
type novaResponse struct {
	Output struct {
		Message novaMessage `json:"message"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

// Generate runs a text completion on the bound model.
func (p *BedrockProvider) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*GenerateResult, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidInput)
	}
	if p.spec.kind != KindText {
		return nil, fmt.Errorf("%w: %q is an embedding model", ErrWrongModelKind, p.model)
	}

	cfg := newGenerateConfig(opts)
	body, err := p.buildGeneratePayload(prompt, cfg)
	if err != nil {
		return nil, err
	}

	out, err := p.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.ModelID()),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.logError(ctx, "model invocation failed", "model", p.model, "error", err)
		return nil, fmt.Errorf("llm: invoke %s: %w", p.model, err)
	}

	result, err := p.parseGenerateResponse(out.Body)
	if err != nil {
		return nil, err
	}

	p.logInfo(ctx, "generation completed",
		"model", p.model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"cost_usd", result.CostUSD,
	)
	return result, nil
}

func (p *BedrockProvider) buildGeneratePayload(prompt string, cfg *generateConfig) ([]byte, error) {
	if strings.HasPrefix(p.spec.id, "anthropic.") {
		req := anthropicRequest{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        cfg.maxTokens,
			Temperature:      cfg.temperature,
			TopK:             cfg.topK,
			TopP:             cfg.topP,
			StopSequences:    cfg.stopSequences,
			System:           cfg.system,
		}
		for _, msg := range cfg.history {
			req.Messages = append(req.Messages, anthropicMessage{
				Role:    msg.Role,
				Content: anthropicBlocks(msg.Content, msg.Images),
			})
		}
		req.Messages = append(req.Messages, anthropicMessage{
			Role:    RoleUser,
			Content: anthropicBlocks(prompt, cfg.images),
		})
		return json.Marshal(req)
	}

	req := novaRequest{}
	if cfg.system != "" {
		req.System = []novaContent{{Text: cfg.system}}
	}
	for _, msg := range cfg.history {
		req.Messages = append(req.Messages, novaMessage{
			Role:    msg.Role,
			Content: []novaContent{{Text: msg.Content}},
		})
	}
	req.Messages = append(req.Messages, novaMessage{
		Role:    RoleUser,
		Content: []novaContent{{Text: prompt}},
	})
	req.InferenceConfig.MaxTokens = cfg.maxTokens
	req.InferenceConfig.Temperature = cfg.temperature
	req.InferenceConfig.TopK = cfg.topK
	req.InferenceConfig.TopP = cfg.topP
	req.InferenceConfig.StopSequences = cfg.stopSequences
	return json.Marshal(req)
}

// anthropicBlocks builds the content blocks of one message turn, image
// blocks first and the text block last.
func anthropicBlocks(text string, images [][]byte) []anthropicContent {
	blocks := make([]anthropicContent, 0, len(images)+1)
	for _, image := range images {
		blocks = append(blocks, anthropicContent{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: mimetype.Detect(image).String(),
				Data:      base64.StdEncoding.EncodeToString(image),
			},
		})
	}
	return append(blocks, anthropicContent{Type: "text", Text: text})
}

func (p *BedrockProvider) parseGenerateResponse(body []byte) (*GenerateResult, error) {
	if strings.HasPrefix(p.spec.id, "anthropic.") {
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("llm: decode %s response: %w", p.model, err)
		}
		var text strings.Builder
		for _, block := range resp.Content {
			text.WriteString(block.Text)
		}
		return &GenerateResult{
			Text:         text.String(),
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CostUSD:      p.cost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		}, nil
	}

	var resp novaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decode %s response: %w", p.model, err)
	}
	var text strings.Builder
	for _, block := range resp.Output.Message.Content {
		text.WriteString(block.Text)
	}
	return &GenerateResult{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      p.cost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// cost estimates the request price from the catalog per-token rates.
func (p *BedrockProvider) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.spec.inputCostPerK +
		float64(outputTokens)/1000*p.spec.outputCostPerK
}

// titanEmbedRequest is the titan text embedding payload.
type titanEmbedRequest struct {
	InputText  string `json:"inputText,omitempty"`
	InputImage string `json:"inputImage,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

// titanEmbedResponse is the titan embedding payload.
type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed produces a vector embedding for the given text. The output size
// can be chosen with WithDimensions; unsupported sizes fall back to 1024
// with a warning.
func (p *BedrockProvider) Embed(ctx context.Context, text string, opts ...EmbedOption) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	if p.spec.kind != KindEmbedding {
		return nil, fmt.Errorf("%w: %q is a text model", ErrWrongModelKind, p.model)
	}

	cfg := &embedConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	dimensions := cfg.dimensions
	if dimensions == 0 {
		dimensions = defaultTitanDimensions
	} else if !titanEmbedDimensions[dimensions] {
		p.logWarn(ctx, "unsupported embedding dimensions, falling back to default",
			"requested", dimensions, "default", defaultTitanDimensions)
		dimensions = defaultTitanDimensions
	}

	req := titanEmbedRequest{InputText: text, Normalize: true}
	if strings.Contains(p.spec.id, "titan-embed-text") {
		req.Dimensions = dimensions
	}

	return p.invokeEmbed(ctx, req)
}

// EmbedImage produces a vector embedding for raw image bytes using the
// titan image embedding model.
func (p *BedrockProvider) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image cannot be empty", ErrInvalidInput)
	}
	if p.spec.kind != KindEmbedding {
		return nil, fmt.Errorf("%w: %q is a text model", ErrWrongModelKind, p.model)
	}

	req := titanEmbedRequest{
		InputImage: base64.StdEncoding.EncodeToString(image),
		Normalize:  true,
	}
	return p.invokeEmbed(ctx, req)
}

func (p *BedrockProvider) invokeEmbed(ctx context.Context, req titanEmbedRequest) ([]float32, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: encode embed request: %w", err)
	}

	out, err := p.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.ModelID()),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.logError(ctx, "embedding invocation failed", "model", p.model, "error", err)
		return nil, fmt.Errorf("llm: invoke %s: %w", p.model, err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decode %s response: %w", p.model, err)
	}
	return resp.Embedding, nil
}

// ModelSummary describes one foundation model available in the region.
type ModelSummary struct {
	ID       string
	Name     string
	Provider string
}

// ListModels returns the foundation models available in the provider's
// region.
func (p *BedrockProvider) ListModels(ctx context.Context) ([]ModelSummary, error) {
	out, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fmt.Errorf("llm: list foundation models: %w", err)
	}

	models := make([]ModelSummary, 0, len(out.ModelSummaries))
	for _, m := range out.ModelSummaries {
		models = append(models, ModelSummary{
			ID:       aws.ToString(m.ModelId),
			Name:     aws.ToString(m.ModelName),
			Provider: aws.ToString(m.ProviderName),
		})
	}
	return models, nil
}

// CatalogModels returns the friendly names this package can resolve.
func CatalogModels() []string {
	names := make([]string, 0, len(bedrockCatalog))
	for name := range bedrockCatalog {
		names = append(names, name)
	}
	return names
}

func (p *BedrockProvider) logInfo(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.InfoContext(ctx, msg, args...)
	}
}

func (p *BedrockProvider) logWarn(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, msg, args...)
	}
}

func (p *BedrockProvider) logError(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.ErrorContext(ctx, msg, args...)
	}
}
