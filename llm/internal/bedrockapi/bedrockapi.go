// Package bedrockapi defines the interfaces over the AWS Bedrock SDKs used
// by the llm package. Keeping operations behind interfaces allows tests to
// swap in function-field mocks.
package bedrockapi

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// RuntimeAPI is the Bedrock runtime surface used for generation and
// embedding.
type RuntimeAPI interface {
	// InvokeModel runs a model synchronously
	InvokeModel(
		ctx context.Context,
		params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options),
	) (*bedrockruntime.InvokeModelOutput, error)

	// InvokeModelWithResponseStream runs a model with streamed output
	InvokeModelWithResponseStream(
		ctx context.Context,
		params *bedrockruntime.InvokeModelWithResponseStreamInput,
		optFns ...func(*bedrockruntime.Options),
	) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// ControlAPI is the Bedrock control-plane surface used for model discovery.
type ControlAPI interface {
	// ListFoundationModels lists the foundation models available in the
	// region
	ListFoundationModels(
		ctx context.Context,
		params *bedrock.ListFoundationModelsInput,
		optFns ...func(*bedrock.Options),
	) (*bedrock.ListFoundationModelsOutput, error)
}

// Verify that the SDK clients implement our interfaces
var (
	_ RuntimeAPI = (*bedrockruntime.Client)(nil)
	_ ControlAPI = (*bedrock.Client)(nil)
)
