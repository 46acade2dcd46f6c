package llm

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Session tracks a conversation with a generation provider. It accumulates
// the turn history and replays it on every request so the backend sees the
// full conversation. Safe for concurrent use.
type Session struct {
	id       string
	provider Generator

	mu      sync.Mutex
	system  string
	history []Message
}

// NewSession creates a conversation session over the given provider.
func NewSession(provider Generator, system string) *Session {
	return &Session{
		id:       uuid.NewString(),
		provider: provider,
		system:   system,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Ask sends a prompt with the accumulated history and records both the
// prompt and the completion as new turns.
func (s *Session) Ask(ctx context.Context, prompt string, opts ...GenerateOption) (*GenerateResult, error) {
	s.mu.Lock()
	history := make([]Message, len(s.history))
	copy(history, s.history)
	system := s.system
	s.mu.Unlock()

	opts = append(opts, WithHistory(history))
	if system != "" {
		opts = append(opts, WithSystemPrompt(system))
	}

	result, err := s.provider.Generate(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history = append(s.history,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, Content: result.Text},
	)
	s.mu.Unlock()

	return result, nil
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Message, len(s.history))
	copy(history, s.history)
	return history
}

// Title derives a session title from the first user turn.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.history {
		if msg.Role == RoleUser {
			return GenerateTitle(msg.Content)
		}
	}
	return "Untitled"
}

// Reset clears the conversation history while keeping the session id and
// system prompt.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}
