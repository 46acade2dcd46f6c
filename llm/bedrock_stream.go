package llm

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// streamChunk is a decoded stream part tagged with its content block index
// and arrival order.
type streamChunk struct {
	index int
	seq   int
	text  string
}

// chunkHeap is a min-heap ordering chunks by content block index, then by
// arrival order within a block. Backends may interleave blocks; the heap
// restores document order before chunks reach the caller.
type chunkHeap []streamChunk

func (h chunkHeap) Len() int { return len(h) }
func (h chunkHeap) Less(i, j int) bool {
	if h[i].index != h[j].index {
		return h[i].index < h[j].index
	}
	return h[i].seq < h[j].seq
}
func (h chunkHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *chunkHeap) Push(x any) { *h = append(*h, x.(streamChunk)) }
func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// streamPart is one decoded stream payload: either a text delta or the
// closing event carrying usage.
type streamPart struct {
	index int
	text  string
	usage *Usage
	stop  bool
}

// anthropicStreamEvent is one decoded Anthropic stream payload.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Metrics struct {
		InputTokenCount  int `json:"inputTokenCount"`
		OutputTokenCount int `json:"outputTokenCount"`
	} `json:"amazon-bedrock-invocationMetrics"`
}

// novaStreamEvent is one decoded Nova stream payload.
type novaStreamEvent struct {
	ContentBlockDelta *struct {
		ContentBlockIndex int `json:"contentBlockIndex"`
		Delta             struct {
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"contentBlockDelta"`
	Metadata *struct {
		Usage struct {
			InputTokenCount  int `json:"inputTokenCount"`
			OutputTokenCount int `json:"outputTokenCount"`
		} `json:"usage"`
	} `json:"metadata"`
}

// Stream runs a text completion and delivers it as an ordered chunk
// stream. The terminal chunk has Done set and carries the backend's
// reported usage. The channel closes after the terminal chunk, after a
// delivered error, or when the context is cancelled. Always drain the
// channel or cancel the context to avoid goroutine leaks.
func (p *BedrockProvider) Stream(ctx context.Context, prompt string, opts ...GenerateOption) (<-chan StreamChunk, error) {
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

	out, err := p.runtime.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(p.ModelID()),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.logError(ctx, "stream invocation failed", "model", p.model, "error", err)
		return nil, fmt.Errorf("llm: invoke %s: %w", p.model, err)
	}

	chunks := make(chan StreamChunk, 16)
	go p.pumpStream(ctx, out, chunks)
	return chunks, nil
}

func (p *BedrockProvider) pumpStream(ctx context.Context, out *bedrockruntime.InvokeModelWithResponseStreamOutput, chunks chan<- StreamChunk) {
	defer close(chunks)

	stream := out.GetStream()
	defer stream.Close()

	p.forwardStream(ctx, stream.Events(), stream.Err, chunks)
}

// forwardStream decodes stream events, reorders text deltas by content
// block index, and forwards them to the caller. When the event stream
// ends cleanly a terminal chunk with Done and the reported usage is
// emitted.
func (p *BedrockProvider) forwardStream(ctx context.Context, events <-chan brtypes.ResponseStream, streamErr func() error, chunks chan<- StreamChunk) {
	pending := &chunkHeap{}
	heap.Init(pending)
	nextIndex := 0
	seq := 0
	var usage *Usage

	flush := func() bool {
		for pending.Len() > 0 && (*pending)[0].index <= nextIndex {
			chunk := heap.Pop(pending).(streamChunk)
			if chunk.index > nextIndex {
				nextIndex = chunk.index
			}
			select {
			case chunks <- StreamChunk{Text: chunk.text}:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for event := range events {
		raw, ok := event.(*brtypes.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		part, ok := p.decodeStreamPart(raw.Value.Bytes)
		if !ok {
			continue
		}
		if part.stop {
			usage = part.usage
			continue
		}
		if part.index > nextIndex+1 {
			// Out-of-order block arrived early; hold it until the gap
			// fills.
			heap.Push(pending, streamChunk{index: part.index, seq: seq, text: part.text})
			seq++
			continue
		}
		if part.index > nextIndex {
			nextIndex = part.index
		}

		select {
		case chunks <- StreamChunk{Text: part.text}:
		case <-ctx.Done():
			return
		}
		if !flush() {
			return
		}
		seq++
	}

	// Drain any held blocks once the stream ends.
	for pending.Len() > 0 {
		chunk := heap.Pop(pending).(streamChunk)
		select {
		case chunks <- StreamChunk{Text: chunk.text}:
		case <-ctx.Done():
			return
		}
	}

	if err := streamErr(); err != nil {
		select {
		case chunks <- StreamChunk{Err: fmt.Errorf("llm: stream %s: %w", p.model, err)}:
		case <-ctx.Done():
		}
		return
	}

	select {
	case chunks <- StreamChunk{Done: true, Usage: usage}:
	case <-ctx.Done():
	}
}

// decodeStreamPart extracts a text delta or the closing usage event from
// a raw stream payload, handling both Anthropic and Nova event shapes.
func (p *BedrockProvider) decodeStreamPart(raw []byte) (streamPart, bool) {
	var anthropic anthropicStreamEvent
	if err := json.Unmarshal(raw, &anthropic); err == nil && anthropic.Type != "" {
		switch anthropic.Type {
		case "content_block_delta":
			if anthropic.Delta.Text == "" {
				return streamPart{}, false
			}
			return streamPart{index: anthropic.Index, text: anthropic.Delta.Text}, true
		case "message_stop":
			return streamPart{stop: true, usage: &Usage{
				InputTokens:  anthropic.Metrics.InputTokenCount,
				OutputTokens: anthropic.Metrics.OutputTokenCount,
			}}, true
		}
		return streamPart{}, false
	}

	var nova novaStreamEvent
	if err := json.Unmarshal(raw, &nova); err == nil {
		if nova.ContentBlockDelta != nil {
			if nova.ContentBlockDelta.Delta.Text == "" {
				return streamPart{}, false
			}
			return streamPart{
				index: nova.ContentBlockDelta.ContentBlockIndex,
				text:  nova.ContentBlockDelta.Delta.Text,
			}, true
		}
		if nova.Metadata != nil {
			return streamPart{stop: true, usage: &Usage{
				InputTokens:  nova.Metadata.Usage.InputTokenCount,
				OutputTokens: nova.Metadata.Usage.OutputTokenCount,
			}}, true
		}
	}

	return streamPart{}, false
}
