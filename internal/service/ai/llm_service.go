// Package ai wraps the hosted chat model behind a whole-response and a
// streaming invocation mode. The adapter only ever sees masked text; all
// placeholder restoration happens above it in the orchestrator.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/officeai/privacy-gateway/internal/model/chat"
	"github.com/officeai/privacy-gateway/internal/service/session"
)

// ErrModelUnavailable signals that the remote model call failed or returned
// no content.
var ErrModelUnavailable = errors.New("model service unavailable")

// DefaultSystemPrompt tells the model how to treat placeholder tokens so
// they survive the round trip intact.
const DefaultSystemPrompt = "You are a helpful assistant. The user's text may contain placeholder " +
	"tokens such as <EMAIL_ADDRESS_1> or <PHONE_NUMBER_2>. Treat them as opaque identifiers " +
	"and repeat them exactly as written whenever you refer to them."

// DefaultHistoryLimit bounds how many past turns are replayed to the model.
const DefaultHistoryLimit = 20

// Usage is the token metadata reported by the model for one exchange.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Service drives the chat model through a prompt-template chain.
type Service struct {
	chatModel    model.ChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	historyLimit int
	streaming    bool
}

// Option configures a Service.
type Option func(*Service)

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(p string) Option {
	return func(s *Service) {
		if p != "" {
			s.systemPrompt = p
		}
	}
}

// WithHistoryLimit bounds the replayed history length.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithStreaming toggles the fragment-streaming invocation mode. When
// disabled, SendStream refuses and callers fall back to Send.
func WithStreaming(enabled bool) Option {
	return func(s *Service) {
		s.streaming = enabled
	}
}

// NewService compiles the invocation chain around the given chat model.
func NewService(ctx context.Context, chatModel model.ChatModel, opts ...Option) (*Service, error) {
	svc := &Service{
		chatModel:    chatModel,
		systemPrompt: DefaultSystemPrompt,
		historyLimit: DefaultHistoryLimit,
		streaming:    true,
	}
	for _, opt := range opts {
		opt(svc)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}
	svc.chain = runnable
	return svc, nil
}

// Send submits message as the session's next turn and waits for the whole
// reply. On success the masked user and assistant turns are appended to the
// session log.
func (s *Service) Send(ctx context.Context, sess *session.Session, message string) (string, Usage, error) {
	input := s.buildChainInput(sess, message)

	sess.AppendUser(message)
	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if response == nil || response.Content == "" {
		return "", Usage{}, fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}

	sess.AppendAssistant(response.Content)
	return response.Content, usageFrom([]*schema.Message{response}), nil
}

// SendStream submits message and returns the model's fragment stream. The
// user turn is logged up front; the assistant turn is logged by Finalize
// once the caller has consumed the stream.
func (s *Service) SendStream(ctx context.Context, sess *session.Session, message string) (*schema.StreamReader[*schema.Message], error) {
	if !s.streaming {
		return nil, errors.New("streaming disabled in configuration")
	}
	input := s.buildChainInput(sess, message)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	sess.AppendUser(message)
	return stream, nil
}

// StreamingEnabled reports whether the fragment-streaming mode is on.
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// Finalize concatenates the consumed fragments into the full reply, appends
// the assistant turn to the session log, and extracts the usage metadata
// from the last fragment that carries it (zero counts when none does).
func (s *Service) Finalize(sess *session.Session, chunks []*schema.Message) (string, Usage, error) {
	if len(chunks) == 0 {
		return "", Usage{}, fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	sess.AppendAssistant(response.Content)
	return response.Content, usageFrom(chunks), nil
}

func (s *Service) buildChainInput(sess *session.Session, message string) map[string]any {
	return map[string]any{
		"system":  s.systemPrompt,
		"history": s.buildHistoryMessages(sess.History()),
		"query":   message,
	}
}

func (s *Service) buildHistoryMessages(turns []session.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > s.historyLimit {
		startIdx = len(turns) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

// usageFrom picks the token counts from the last fragment carrying usage
// metadata.
func usageFrom(chunks []*schema.Message) Usage {
	var usage Usage
	for _, chunk := range chunks {
		if chunk == nil || chunk.ResponseMeta == nil || chunk.ResponseMeta.Usage == nil {
			continue
		}
		usage.InputTokens = int64(chunk.ResponseMeta.Usage.PromptTokens)
		usage.OutputTokens = int64(chunk.ResponseMeta.Usage.CompletionTokens)
	}
	return usage
}
