package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calvoice/app/config"
	"calvoice/app/service/prompt"
	"calvoice/app/service/registry"
	"calvoice/app/service/store"

	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

const (
	maxReasonDuration = 30 * time.Second

	apologyMessage = "I'm sorry, I ran into a problem handling that request. Please try again."

	corruptedHistoryMessage = "I encountered an error with the previous conversation. " +
		"Please try your request again."

	iterationLimitMessage = "I'm sorry, that request took too many steps to complete. " +
		"Please try rephrasing it."
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type HistoryStore interface {
	Append(userID, role, content string) error
	Recent(userID string, limit int) ([]store.Turn, error)
	Clear(userID string) error
}

// Service runs the synchronous turn-taking loop: model call, tool dispatch,
// repeat until the model answers without requesting tools.
type Service struct {
	cfg     *config.Config
	history HistoryStore
	reg     *registry.Registry

	client chatClient
	model  string
	now    func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	clientConfig := openai.DefaultConfig(cfg.OpenAI.Token)
	clientConfig.BaseURL = cfg.OpenAI.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: 30 * time.Second,
	}

	return &Service{
		cfg:     cfg,
		history: do.MustInvoke[*store.Service](di),
		reg:     do.MustInvoke[*registry.Registry](di),
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.OpenAI.Model,
		now:     time.Now,
	}, nil
}

// Process handles one user message and returns the assistant's final answer.
// Exactly one user turn and, on success, one final assistant turn are
// persisted; intermediate tool turns are not, so future replays stay small
// and free of tool-call-id references.
func (s *Service) Process(ctx context.Context, userID, message, tzOffset string) (string, error) {
	messages, err := s.buildMessages(userID, message)
	if err != nil {
		return "", fmt.Errorf("failed to build messages: %w", err)
	}

	if err = s.history.Append(userID, store.RoleUser, message); err != nil {
		return "", fmt.Errorf("failed to persist user turn: %w", err)
	}

	reply, err := s.runLoop(ctx, userID, tzOffset, messages)
	if err != nil {
		slog.Error("Agent loop failed",
			"user", userID,
			"error", err,
			"telegram", true,
		)

		if isMalformedToolCall(err) {
			// Replaying a corrupted tool-call exchange would fail the same
			// way on every following turn, so the history has to go.
			if clearErr := s.history.Clear(userID); clearErr != nil {
				slog.Error("Failed to clear corrupted history", "user", userID, "error", clearErr)
			}
			return corruptedHistoryMessage, nil
		}

		return apologyMessage, nil
	}

	if reply == "" {
		return apologyMessage, nil
	}

	if err = s.history.Append(userID, store.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("failed to persist assistant turn: %w", err)
	}

	return reply, nil
}

func (s *Service) runLoop(ctx context.Context, userID, tzOffset string, messages []openai.ChatCompletionMessage) (string, error) {
	toolSchemas := s.toolSchemas()

	for iteration := 0; iteration < s.cfg.Agent.MaxIterations; iteration++ {
		callCtx, cancel := context.WithTimeout(ctx, maxReasonDuration)
		resp, err := s.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:    s.model,
			Messages: messages,
			Tools:    toolSchemas,
		})
		cancel()
		if err != nil {
			return "", fmt.Errorf("failed to create chat completion: %w", err)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no chat completion found")
		}

		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, msg)

		// Results go back in the same order the calls were issued; the model
		// correlates them by position as well as by id.
		for _, toolCall := range msg.ToolCalls {
			var args registry.Arguments
			if err = json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil {
				return "", fmt.Errorf("%w: tool %s: %v", errMalformedToolCall, toolCall.Function.Name, err)
			}

			result := s.reg.Dispatch(ctx, registry.ToolCall{
				ID:        toolCall.ID,
				Name:      toolCall.Function.Name,
				Arguments: args,
			}, userID, tzOffset)

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result.Content,
				ToolCallID: result.ToolCallID,
			})
		}
	}

	slog.Warn("Agent loop hit iteration limit",
		"user", userID,
		"max_iterations", s.cfg.Agent.MaxIterations,
	)

	return iterationLimitMessage, nil
}

func (s *Service) buildMessages(userID, message string) ([]openai.ChatCompletionMessage, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System(userID, s.now()),
		},
	}

	turns, err := s.history.Recent(userID, s.cfg.Agent.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}

		switch turn.Role {
		case store.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Content,
			})
		case store.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			})
		}
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	}), nil
}

func (s *Service) toolSchemas() []openai.Tool {
	defs := s.reg.Definitions()

	schemas := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": def.Parameters,
					"required":   required(def.Required),
				},
			},
		})
	}

	return schemas
}

func required(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
