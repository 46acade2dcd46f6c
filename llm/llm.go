// Package llm provides convenience clients for text generation and
// embedding over AWS Bedrock, Azure OpenAI deployments, and self-hosted
// inference servers. All providers share the same request options and
// result types so callers can swap backends without changing call sites.
package llm

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"
)

// Sentinel errors returned by llm providers.
var (
	// ErrUnknownModel indicates the requested model is not in the catalog.
	ErrUnknownModel = errors.New("llm: unknown model")

	// ErrWrongModelKind indicates the model exists but does not support
	// the requested operation, e.g. generating text with an embedding
	// model.
	ErrWrongModelKind = errors.New("llm: model does not support this operation")

	// ErrInvalidInput indicates a validation failure on the caller's
	// arguments.
	ErrInvalidInput = errors.New("llm: invalid input")
)

// Message is one turn of a conversation.
type Message struct {
	// Role is "user" or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Images holds raw image bytes attached to the turn. Only models
	// with vision support use them; others ignore the field.
	Images [][]byte `json:"-"`
}

// Roles used in conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerateResult holds the output of a completed generation.
type GenerateResult struct {
	// Text is the generated completion
	Text string

	// InputTokens is the prompt token count reported by the backend
	InputTokens int

	// OutputTokens is the completion token count reported by the backend
	OutputTokens int

	// CostUSD is the estimated request cost, zero when the backend has
	// no price entry
	CostUSD float64
}

// Usage is the token accounting reported by a backend.
type Usage struct {
	// InputTokens is the prompt token count
	InputTokens int

	// OutputTokens is the completion token count
	OutputTokens int
}

// StreamChunk is one piece of a streamed generation, delivered in order.
// The terminal chunk has Done set and carries the usage reported by the
// backend; the channel closes after it.
type StreamChunk struct {
	// Text is the chunk content, empty on the terminal chunk
	Text string

	// Done marks the terminal chunk of a completed stream
	Done bool

	// Usage is set on the terminal chunk when the backend reported it
	Usage *Usage

	// Err carries a mid-stream failure; the channel closes after it
	Err error
}

// Generator produces text completions.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*GenerateResult, error)
}

// Streamer produces text completions as an ordered chunk stream.
type Streamer interface {
	Stream(ctx context.Context, prompt string, opts ...GenerateOption) (<-chan StreamChunk, error)
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string, opts ...EmbedOption) ([]float32, error)
}

// Generation defaults applied when the caller sets no overrides.
const (
	DefaultTemperature = 0.9
	DefaultTopK        = 32
	DefaultTopP        = 0.7
	DefaultMaxTokens   = 512
)

// generateConfig holds per-request generation settings.
type generateConfig struct {
	system        string
	history       []Message
	images        [][]byte
	stopSequences []string
	temperature   float64
	topK          int
	topP          float64
	maxTokens     int
}

func newGenerateConfig(opts []GenerateOption) *generateConfig {
	cfg := &generateConfig{
		temperature: DefaultTemperature,
		topK:        DefaultTopK,
		topP:        DefaultTopP,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// GenerateOption configures a single generation request.
type GenerateOption func(*generateConfig)

// WithSystemPrompt sets the system prompt for the request.
func WithSystemPrompt(system string) GenerateOption {
	return func(c *generateConfig) {
		c.system = system
	}
}

// WithHistory prepends prior conversation turns to the request.
func WithHistory(history []Message) GenerateOption {
	return func(c *generateConfig) {
		c.history = history
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) GenerateOption {
	return func(c *generateConfig) {
		c.temperature = temperature
	}
}

// WithTopK limits sampling to the k most likely tokens.
func WithTopK(topK int) GenerateOption {
	return func(c *generateConfig) {
		c.topK = topK
	}
}

// WithTopP sets the nucleus sampling threshold.
func WithTopP(topP float64) GenerateOption {
	return func(c *generateConfig) {
		c.topP = topP
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(maxTokens int) GenerateOption {
	return func(c *generateConfig) {
		c.maxTokens = maxTokens
	}
}

// WithStopSequences stops generation when the model emits any of the
// given sequences.
func WithStopSequences(sequences ...string) GenerateOption {
	return func(c *generateConfig) {
		c.stopSequences = sequences
	}
}

// WithImages attaches raw image bytes to the prompt turn. Only models
// with vision support use them; others ignore the option.
func WithImages(images ...[]byte) GenerateOption {
	return func(c *generateConfig) {
		c.images = images
	}
}

// embedConfig holds per-request embedding settings.
type embedConfig struct {
	dimensions int
}

// EmbedOption configures a single embedding request.
type EmbedOption func(*embedConfig)

// WithDimensions requests a specific output vector size. Models that do not
// support the requested size fall back to their default and log a warning.
func WithDimensions(dimensions int) EmbedOption {
	return func(c *embedConfig) {
		c.dimensions = dimensions
	}
}

// GenerateTitle derives a short title from a block of text by picking its
// four most frequent significant words. Frequency ties keep the order of
// first appearance. Returns "Untitled" when the text has no usable words.
func GenerateTitle(text string) string {
	type wordCount struct {
		word  string
		count int
		first int
	}

	counts := map[string]*wordCount{}
	position := 0
	for _, raw := range strings.Fields(text) {
		word := strings.TrimFunc(strings.ToLower(raw), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len(word) < 4 {
			continue
		}
		if wc, ok := counts[word]; ok {
			wc.count++
		} else {
			counts[word] = &wordCount{word: word, count: 1, first: position}
		}
		position++
	}
	if len(counts) == 0 {
		return "Untitled"
	}

	ranked := make([]*wordCount, 0, len(counts))
	for _, wc := range counts {
		ranked = append(ranked, wc)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})
	if len(ranked) > 4 {
		ranked = ranked[:4]
	}

	words := make([]string, len(ranked))
	for i, wc := range ranked {
		words[i] = titleCase(wc.word)
	}
	return strings.Join(words, " ")
}

func titleCase(word string) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return word
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
