package llm

import (
	"container/heap"
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRuntime implements bedrockapi.RuntimeAPI with function fields.
type mockRuntime struct {
	invokeModelFunc func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	invokeStreamFunc func(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

func (m *mockRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if m.invokeModelFunc != nil {
		return m.invokeModelFunc(ctx, params, optFns...)
	}
	return &bedrockruntime.InvokeModelOutput{}, nil
}

func (m *mockRuntime) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	if m.invokeStreamFunc != nil {
		return m.invokeStreamFunc(ctx, params, optFns...)
	}
	return &bedrockruntime.InvokeModelWithResponseStreamOutput{}, nil
}

// mockControl implements bedrockapi.ControlAPI with a function field.
type mockControl struct {
	listModelsFunc func(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

func (m *mockControl) ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
	if m.listModelsFunc != nil {
		return m.listModelsFunc(ctx, params, optFns...)
	}
	return &bedrock.ListFoundationModelsOutput{}, nil
}

func newTestProvider(t *testing.T, model, region string, runtime *mockRuntime) *BedrockProvider {
	t.Helper()
	provider, err := NewBedrockWithAPI(runtime, &mockControl{}, model, region)
	require.NoError(t, err)
	return provider
}

func TestNewBedrockUnknownModel(t *testing.T) {
	_, err := NewBedrockWithAPI(&mockRuntime{}, &mockControl{}, "gpt-5", "us-east-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestModelID(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		region string
		want   string
	}{
		{
			name:   "cross-region model in eu gets geography prefix",
			model:  "claude-4-sonnet",
			region: "eu-west-1",
			want:   "eu.anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:   "cross-region model in us keeps bare id",
			model:  "claude-4-sonnet",
			region: "us-east-1",
			want:   "anthropic.claude-sonnet-4-20250514-v1:0",
		},
		{
			name:   "single-region model never gets a prefix",
			model:  "claude-3-haiku",
			region: "eu-west-1",
			want:   "anthropic.claude-3-haiku-20240307-v1:0",
		},
		{
			name:   "nova in eu",
			model:  "nova-micro",
			region: "eu-central-1",
			want:   "eu.amazon.nova-micro-v1:0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t, tt.model, tt.region, &mockRuntime{})
			assert.Equal(t, tt.want, provider.ModelID())
		})
	}
}

func TestGenerateAnthropicPayload(t *testing.T) {
	var captured []byte
	runtime := &mockRuntime{
		invokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			captured = params.Body
			assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", aws.ToString(params.ModelId))
			body := `{"content":[{"type":"text","text":"hello back"}],"usage":{"input_tokens":10,"output_tokens":4}}`
			return &bedrockruntime.InvokeModelOutput{Body: []byte(body)}, nil
		},
	}
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", runtime)

	result, err := provider.Generate(context.Background(), "hello",
		WithSystemPrompt("be brief"),
		WithHistory([]Message{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "noted"}}),
	)
	require.NoError(t, err)
	assert.Equal(t, "hello back", result.Text)
	assert.Equal(t, 10, result.InputTokens)
	assert.Equal(t, 4, result.OutputTokens)
	assert.InDelta(t, 10.0/1000*0.00025+4.0/1000*0.00125, result.CostUSD, 1e-12)

	var req anthropicRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	assert.Equal(t, "bedrock-2023-05-31", req.AnthropicVersion)
	assert.Equal(t, "be brief", req.System)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, DefaultTemperature, req.Temperature)
	assert.Equal(t, DefaultTopK, req.TopK)
	assert.Equal(t, DefaultTopP, req.TopP)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "earlier", req.Messages[0].Content[0].Text)
	assert.Equal(t, RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "hello", req.Messages[2].Content[0].Text)
}

func TestGenerateNovaPayload(t *testing.T) {
	var captured []byte
	runtime := &mockRuntime{
		invokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			captured = params.Body
			body := `{"output":{"message":{"role":"assistant","content":[{"text":"nova says hi"}]}},"usage":{"inputTokens":7,"outputTokens":3}}`
			return &bedrockruntime.InvokeModelOutput{Body: []byte(body)}, nil
		},
	}
	provider := newTestProvider(t, "nova-lite", "us-east-1", runtime)

	result, err := provider.Generate(context.Background(), "hi", WithMaxTokens(64), WithTemperature(0.2))
	require.NoError(t, err)
	assert.Equal(t, "nova says hi", result.Text)
	assert.Equal(t, 7, result.InputTokens)

	var req novaRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	assert.Equal(t, 64, req.InferenceConfig.MaxTokens)
	assert.Equal(t, 0.2, req.InferenceConfig.Temperature)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].Content[0].Text)
}

func TestGenerateAnthropicImageBlocks(t *testing.T) {
	var captured []byte
	runtime := &mockRuntime{
		invokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			captured = params.Body
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"content":[{"type":"text","text":"a cat"}]}`)}, nil
		},
	}
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", runtime)

	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	_, err := provider.Generate(context.Background(), "describe this", WithImages(png))
	require.NoError(t, err)

	var req anthropicRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)

	image := req.Messages[0].Content[0]
	assert.Equal(t, "image", image.Type)
	require.NotNil(t, image.Source)
	assert.Equal(t, "base64", image.Source.Type)
	assert.Equal(t, "image/png", image.Source.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), image.Source.Data)

	text := req.Messages[0].Content[1]
	assert.Equal(t, "text", text.Type)
	assert.Equal(t, "describe this", text.Text)
}

func TestGenerateStopSequences(t *testing.T) {
	var captured []byte
	runtime := &mockRuntime{
		invokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			captured = params.Body
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"content":[]}`)}, nil
		},
	}
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", runtime)

	_, err := provider.Generate(context.Background(), "count", WithStopSequences("STOP", "\n\n"))
	require.NoError(t, err)

	var req anthropicRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	assert.Equal(t, []string{"STOP", "\n\n"}, req.StopSequences)

	runtime.invokeModelFunc = func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
		captured = params.Body
		return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"output":{"message":{"content":[]}}}`)}, nil
	}
	provider = newTestProvider(t, "nova-lite", "us-east-1", runtime)

	_, err = provider.Generate(context.Background(), "count", WithStopSequences("END"))
	require.NoError(t, err)

	var novaReq novaRequest
	require.NoError(t, json.Unmarshal(captured, &novaReq))
	assert.Equal(t, []string{"END"}, novaReq.InferenceConfig.StopSequences)
}

func TestGenerateWrongKind(t *testing.T) {
	provider := newTestProvider(t, "titan-embed-text", "us-east-1", &mockRuntime{})

	_, err := provider.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongModelKind)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", &mockRuntime{})

	_, err := provider.Generate(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEmbed(t *testing.T) {
	tests := []struct {
		name           string
		opts           []EmbedOption
		wantDimensions int
	}{
		{name: "default dimensions", wantDimensions: 1024},
		{name: "supported dimensions", opts: []EmbedOption{WithDimensions(512)}, wantDimensions: 512},
		{name: "unsupported dimensions fall back", opts: []EmbedOption{WithDimensions(300)}, wantDimensions: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured []byte
			runtime := &mockRuntime{
				invokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
					captured = params.Body
					return &bedrockruntime.InvokeModelOutput{
						Body: []byte(`{"embedding":[0.1,0.2,0.3],"inputTextTokenCount":2}`),
					}, nil
				},
			}
			provider := newTestProvider(t, "titan-embed-text", "us-east-1", runtime)

			vector, err := provider.Embed(context.Background(), "some text", tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)

			var req titanEmbedRequest
			require.NoError(t, json.Unmarshal(captured, &req))
			assert.Equal(t, "some text", req.InputText)
			assert.Equal(t, tt.wantDimensions, req.Dimensions)
			assert.True(t, req.Normalize)
		})
	}
}

func TestEmbedWrongKind(t *testing.T) {
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", &mockRuntime{})

	_, err := provider.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongModelKind)
}

func TestEmbedImage(t *testing.T) {
	var captured []byte
	runtime := &mockRuntime{
		invokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			captured = params.Body
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"embedding":[1,2]}`)}, nil
		},
	}
	provider := newTestProvider(t, "titan-embed-image", "us-east-1", runtime)

	vector, err := provider.EmbedImage(context.Background(), []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vector)

	var req titanEmbedRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	assert.NotEmpty(t, req.InputImage)
	assert.Empty(t, req.InputText)
}

func TestListModels(t *testing.T) {
	control := &mockControl{
		listModelsFunc: func(_ context.Context, _ *bedrock.ListFoundationModelsInput, _ ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error) {
			return &bedrock.ListFoundationModelsOutput{
				ModelSummaries: []bedrocktypes.FoundationModelSummary{
					{ModelId: aws.String("anthropic.claude-3-haiku-20240307-v1:0"), ModelName: aws.String("Claude 3 Haiku"), ProviderName: aws.String("Anthropic")},
					{ModelId: aws.String("amazon.nova-micro-v1:0"), ModelName: aws.String("Nova Micro"), ProviderName: aws.String("Amazon")},
				},
			}, nil
		},
	}
	provider, err := NewBedrockWithAPI(&mockRuntime{}, control, "claude-3-haiku", "us-east-1")
	require.NoError(t, err)

	models, err := provider.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "Anthropic", models[0].Provider)
}

func TestCatalogModels(t *testing.T) {
	names := CatalogModels()
	assert.Contains(t, names, "claude-4-sonnet")
	assert.Contains(t, names, "titan-embed-text")
	assert.Len(t, names, 7)
}

func TestChunkHeapOrdering(t *testing.T) {
	h := &chunkHeap{}
	heap.Init(h)
	for _, chunk := range []streamChunk{
		{index: 2, seq: 3, text: "c"},
		{index: 0, seq: 0, text: "a1"},
		{index: 0, seq: 1, text: "a2"},
		{index: 1, seq: 2, text: "b"},
	} {
		heap.Push(h, chunk)
	}

	var got []string
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(streamChunk).text)
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, got)
}

func TestDecodeStreamPart(t *testing.T) {
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", &mockRuntime{})

	part, ok := provider.decodeStreamPart([]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"abc"}}`))
	require.True(t, ok)
	assert.Equal(t, 1, part.index)
	assert.Equal(t, "abc", part.text)
	assert.False(t, part.stop)

	part, ok = provider.decodeStreamPart([]byte(`{"contentBlockDelta":{"contentBlockIndex":2,"delta":{"text":"xyz"}}}`))
	require.True(t, ok)
	assert.Equal(t, 2, part.index)
	assert.Equal(t, "xyz", part.text)

	part, ok = provider.decodeStreamPart([]byte(`{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":5,"outputTokenCount":8}}`))
	require.True(t, ok)
	assert.True(t, part.stop)
	require.NotNil(t, part.usage)
	assert.Equal(t, 5, part.usage.InputTokens)
	assert.Equal(t, 8, part.usage.OutputTokens)

	part, ok = provider.decodeStreamPart([]byte(`{"metadata":{"usage":{"inputTokenCount":3,"outputTokenCount":9}}}`))
	require.True(t, ok)
	assert.True(t, part.stop)
	require.NotNil(t, part.usage)
	assert.Equal(t, 3, part.usage.InputTokens)
	assert.Equal(t, 9, part.usage.OutputTokens)

	_, ok = provider.decodeStreamPart([]byte(`{"type":"message_start"}`))
	assert.False(t, ok)
}

func streamEvents(payloads ...string) <-chan brtypes.ResponseStream {
	events := make(chan brtypes.ResponseStream, len(payloads))
	for _, payload := range payloads {
		events <- &brtypes.ResponseStreamMemberChunk{
			Value: brtypes.PayloadPart{Bytes: []byte(payload)},
		}
	}
	close(events)
	return events
}

func collectChunks(t *testing.T, provider *BedrockProvider, events <-chan brtypes.ResponseStream, streamErr func() error) []StreamChunk {
	t.Helper()
	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)
		provider.forwardStream(context.Background(), events, streamErr, chunks)
	}()

	var got []StreamChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	return got
}

func TestForwardStreamTerminalChunk(t *testing.T) {
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", &mockRuntime{})

	events := streamEvents(
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`,
		`{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":5,"outputTokenCount":8}}`,
	)
	got := collectChunks(t, provider, events, func() error { return nil })

	require.Len(t, got, 3)
	assert.Equal(t, "hello ", got[0].Text)
	assert.Equal(t, "world", got[1].Text)
	assert.True(t, got[2].Done)
	require.NotNil(t, got[2].Usage)
	assert.Equal(t, 5, got[2].Usage.InputTokens)
	assert.Equal(t, 8, got[2].Usage.OutputTokens)
}

func TestForwardStreamNovaMetadata(t *testing.T) {
	provider := newTestProvider(t, "nova-lite", "us-east-1", &mockRuntime{})

	events := streamEvents(
		`{"contentBlockDelta":{"contentBlockIndex":0,"delta":{"text":"nova"}}}`,
		`{"metadata":{"usage":{"inputTokenCount":3,"outputTokenCount":1}}}`,
	)
	got := collectChunks(t, provider, events, func() error { return nil })

	require.Len(t, got, 2)
	assert.Equal(t, "nova", got[0].Text)
	assert.True(t, got[1].Done)
	require.NotNil(t, got[1].Usage)
	assert.Equal(t, 3, got[1].Usage.InputTokens)
}

func TestForwardStreamError(t *testing.T) {
	provider := newTestProvider(t, "claude-3-haiku", "us-east-1", &mockRuntime{})

	events := streamEvents(
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`,
	)
	got := collectChunks(t, provider, events, func() error { return assert.AnError })

	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Text)
	require.Error(t, got[1].Err)
	assert.False(t, got[1].Done)
}
