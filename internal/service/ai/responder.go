package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	promptModel "github.com/zhouzirui/z-tavern/support/internal/model/prompt"
)

const defaultTimeout = 20 * time.Second

var (
	// ErrBackendUnavailable means no generation backend is configured.
	ErrBackendUnavailable = errors.New("generation backend unavailable")
	// ErrEmptyAnswer means the backend answered without usable content.
	ErrEmptyAnswer = errors.New("generation backend returned empty content")
)

// Options tunes the responder.
type Options struct {
	// Timeout bounds every backend call. Zero uses 20s.
	Timeout time.Duration
}

// Service answers user text through the generation backend and falls back to
// canned answers whenever the backend cannot.
type Service struct {
	chain     compose.Runnable[map[string]any, *schema.Message]
	templates promptModel.Source
	timeout   time.Duration
	logger    *zap.Logger
}

// NewService builds the responder. A nil chatModel yields a fallback-only responder.
func NewService(ctx context.Context, chatModel model.ChatModel, templates promptModel.Source, opts Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	svc := &Service{
		templates: templates,
		timeout:   timeout,
		logger:    logger.Named("ai"),
	}
	if chatModel == nil {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{instruction}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	svc.chain = runnable
	return svc, nil
}

// Enabled reports whether a generation backend is wired.
func (s *Service) Enabled() bool {
	return s != nil && s.chain != nil
}

// Respond always returns a non-empty answer. Backend failures are logged and absorbed.
func (s *Service) Respond(ctx context.Context, language, userText string) string {
	answer, err := s.generate(ctx, language, userText)
	if err == nil {
		return answer
	}

	if errors.Is(err, ErrBackendUnavailable) {
		s.logger.Debug("no backend configured, using fallback", zap.String("language", language))
	} else {
		s.logger.Warn("generation failed, using fallback", zap.String("language", language), zap.Error(err))
	}
	return Fallback(language, userText)
}

func (s *Service) generate(ctx context.Context, language, userText string) (string, error) {
	if !s.Enabled() {
		return "", ErrBackendUnavailable
	}

	templates, err := promptModel.Select(ctx, s.templates, language)
	if err != nil {
		return "", fmt.Errorf("loading prompt templates: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		msg *schema.Message
		err error
	}
	// The call runs on its own goroutine so the deadline holds even if the backend ignores ctx.
	done := make(chan result, 1)
	input := map[string]any{"instruction": BuildInstruction(templates, userText)}
	go func() {
		msg, err := s.chain.Invoke(ctx, input)
		done <- result{msg: msg, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("generation timed out after %s: %w", s.timeout, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", res.err)
	}
	if res.msg == nil {
		return "", ErrEmptyAnswer
	}

	content := strings.TrimSpace(res.msg.Content)
	if content == "" {
		return "", ErrEmptyAnswer
	}

	s.logger.Debug("generated response", zap.String("language", language), zap.Int("length", len(content)))
	return content, nil
}

// BuildInstruction concatenates every template's system prompt and example
// pairs, then the live user text, into one instruction block.
func BuildInstruction(templates []promptModel.Template, userText string) string {
	var builder strings.Builder
	for _, tpl := range templates {
		if system := strings.TrimSpace(tpl.SystemPrompt); system != "" {
			builder.WriteString(system)
			builder.WriteString("\n\n")
		}
		pairs := len(tpl.UserExamples)
		if len(tpl.AssistantExamples) < pairs {
			pairs = len(tpl.AssistantExamples)
		}
		for i := 0; i < pairs; i++ {
			builder.WriteString("User: ")
			builder.WriteString(strings.TrimSpace(tpl.UserExamples[i]))
			builder.WriteString("\nAssistant: ")
			builder.WriteString(strings.TrimSpace(tpl.AssistantExamples[i]))
			builder.WriteString("\n\n")
		}
	}
	builder.WriteString("User: ")
	builder.WriteString(strings.TrimSpace(userText))
	return builder.String()
}
