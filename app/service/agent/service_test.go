package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"calvoice/app/config"
	"calvoice/app/service/registry"
	"calvoice/app/service/store"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatClient struct {
	responses []openai.ChatCompletionResponse
	err       error

	requests []openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}

	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}

	return f.responses[idx], nil
}

type fakeHistory struct {
	turns   []store.Turn
	cleared bool
}

func (f *fakeHistory) Append(_, role, content string) error {
	f.turns = append(f.turns, store.Turn{Role: role, Content: content})
	return nil
}

func (f *fakeHistory) Recent(_ string, limit int) ([]store.Turn, error) {
	if len(f.turns) > limit {
		return f.turns[len(f.turns)-limit:], nil
	}
	return f.turns, nil
}

func (f *fakeHistory) Clear(string) error {
	f.cleared = true
	f.turns = nil
	return nil
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			}},
		},
	}
}

func toolCallResponse(calls ...openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: calls,
			}},
		},
	}
}

func newTestService(client *fakeChatClient, history *fakeHistory, reg *registry.Registry) *Service {
	if reg == nil {
		reg = registry.New()
	}

	return &Service{
		cfg: &config.Config{
			Agent: config.Agent{
				MaxIterations: 3,
				HistoryWindow: 10,
			},
		},
		history: history,
		reg:     reg,
		client:  client,
		model:   "gpt-4o",
		now:     func() time.Time { return time.Date(2026, 1, 29, 12, 0, 0, 0, time.UTC) },
	}
}

func TestProcessPlainAnswerSkipsTools(t *testing.T) {
	client := &fakeChatClient{responses: []openai.ChatCompletionResponse{
		textResponse("Hello! How can I help you today?"),
	}}
	history := &fakeHistory{}

	reg := registry.New()
	dispatched := 0
	require.NoError(t, reg.Register(registry.Definition{
		Name: "get_current_time",
		Handler: func(context.Context, registry.Arguments) (string, error) {
			dispatched++
			return "", nil
		},
	}))

	svc := newTestService(client, history, reg)

	reply, err := svc.Process(context.Background(), "alice", "Hello", "+00:00")
	require.NoError(t, err)

	assert.Equal(t, "Hello! How can I help you today?", reply)
	assert.Zero(t, dispatched)

	// Exactly the user turn and the final assistant turn are persisted.
	require.Len(t, history.turns, 2)
	assert.Equal(t, store.RoleUser, history.turns[0].Role)
	assert.Equal(t, "Hello", history.turns[0].Content)
	assert.Equal(t, store.RoleAssistant, history.turns[1].Role)
	assert.Equal(t, reply, history.turns[1].Content)
}

func TestProcessDispatchesToolsInOrder(t *testing.T) {
	client := &fakeChatClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(
			openai.ToolCall{
				ID:   "call-1",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "check_availability",
					Arguments: `{"start":"2026-02-02T10:00:00","end":"2026-02-02T11:00:00"}`,
				},
			},
			openai.ToolCall{
				ID:   "call-2",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "get_current_time",
					Arguments: `{}`,
				},
			},
		),
		textResponse("You are free at that time."),
	}}
	history := &fakeHistory{}

	reg := registry.New()
	var order []string
	require.NoError(t, reg.Register(registry.Definition{
		Name: "check_availability",
		Handler: func(_ context.Context, args registry.Arguments) (string, error) {
			order = append(order, "check_availability")
			assert.Equal(t, "alice", args.String("user_id"))
			return "free", nil
		},
	}))
	require.NoError(t, reg.Register(registry.Definition{
		Name: "get_current_time",
		Handler: func(context.Context, registry.Arguments) (string, error) {
			order = append(order, "get_current_time")
			return "noon", nil
		},
	}))

	svc := newTestService(client, history, reg)

	reply, err := svc.Process(context.Background(), "alice", "Am I free Monday at 10?", "+00:00")
	require.NoError(t, err)
	assert.Equal(t, "You are free at that time.", reply)

	assert.Equal(t, []string{"check_availability", "get_current_time"}, order)

	// The second model call sees the tool-call message followed by both
	// results, correlated by id.
	require.Len(t, client.requests, 2)
	messages := client.requests[1].Messages

	require.GreaterOrEqual(t, len(messages), 3)
	last := messages[len(messages)-1]
	secondLast := messages[len(messages)-2]
	thirdLast := messages[len(messages)-3]

	assert.Len(t, thirdLast.ToolCalls, 2)
	assert.Equal(t, openai.ChatMessageRoleTool, secondLast.Role)
	assert.Equal(t, "call-1", secondLast.ToolCallID)
	assert.Equal(t, "free", secondLast.Content)
	assert.Equal(t, openai.ChatMessageRoleTool, last.Role)
	assert.Equal(t, "call-2", last.ToolCallID)
	assert.Equal(t, "noon", last.Content)

	// Tool turns never reach the persistent history.
	require.Len(t, history.turns, 2)
}

func TestProcessMalformedToolCallClearsHistory(t *testing.T) {
	client := &fakeChatClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:   "call-1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "check_availability",
				Arguments: `{"start": not valid json`,
			},
		}),
	}}
	history := &fakeHistory{}
	svc := newTestService(client, history, nil)

	reply, err := svc.Process(context.Background(), "alice", "Am I free?", "+00:00")
	require.NoError(t, err)

	assert.Equal(t, corruptedHistoryMessage, reply)
	assert.True(t, history.cleared)
}

func TestProcessIterationLimit(t *testing.T) {
	// The model keeps requesting the same tool forever.
	client := &fakeChatClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:   "call-loop",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "get_current_time",
				Arguments: `{}`,
			},
		}),
	}}
	history := &fakeHistory{}

	reg := registry.New()
	require.NoError(t, reg.Register(registry.Definition{
		Name: "get_current_time",
		Handler: func(context.Context, registry.Arguments) (string, error) {
			return "noon", nil
		},
	}))

	svc := newTestService(client, history, reg)

	reply, err := svc.Process(context.Background(), "alice", "loop forever", "+00:00")
	require.NoError(t, err)

	assert.Equal(t, iterationLimitMessage, reply)
	assert.Len(t, client.requests, svc.cfg.Agent.MaxIterations)
}

func TestProcessModelFailureApologizes(t *testing.T) {
	client := &fakeChatClient{err: errors.New("upstream timeout")}
	history := &fakeHistory{}
	svc := newTestService(client, history, nil)

	reply, err := svc.Process(context.Background(), "alice", "Hello", "+00:00")
	require.NoError(t, err)

	assert.Equal(t, apologyMessage, reply)
	assert.False(t, history.cleared)
}

func TestProcessEmptyReplyApologizes(t *testing.T) {
	client := &fakeChatClient{responses: []openai.ChatCompletionResponse{textResponse("")}}
	history := &fakeHistory{}
	svc := newTestService(client, history, nil)

	reply, err := svc.Process(context.Background(), "alice", "Hello", "+00:00")
	require.NoError(t, err)

	assert.Equal(t, apologyMessage, reply)
}

func TestBuildMessagesIncludesHistoryWindow(t *testing.T) {
	history := &fakeHistory{}
	for i := 0; i < 20; i++ {
		require.NoError(t, history.Append("alice", store.RoleUser, "old message"))
		require.NoError(t, history.Append("alice", store.RoleAssistant, "old reply"))
	}

	svc := newTestService(&fakeChatClient{responses: []openai.ChatCompletionResponse{textResponse("ok")}}, history, nil)

	messages, err := svc.buildMessages("alice", "new message")
	require.NoError(t, err)

	// System prompt + windowed history + the new user message.
	assert.Len(t, messages, 1+svc.cfg.Agent.HistoryWindow+1)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, "new message", messages[len(messages)-1].Content)
}

func TestToolSchemas(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Definition{
		Name:        "create_event",
		Description: "Create a calendar event",
		Parameters: map[string]any{
			"title": map[string]any{"type": "string"},
		},
		Required: []string{"title"},
		Handler: func(context.Context, registry.Arguments) (string, error) {
			return "", nil
		},
	}))
	require.NoError(t, reg.Register(registry.Definition{
		Name: "get_upcoming_events",
		Handler: func(context.Context, registry.Arguments) (string, error) {
			return "", nil
		},
	}))

	svc := newTestService(&fakeChatClient{}, &fakeHistory{}, reg)

	schemas := svc.toolSchemas()
	require.Len(t, schemas, 2)

	assert.Equal(t, openai.ToolTypeFunction, schemas[0].Type)
	assert.Equal(t, "create_event", schemas[0].Function.Name)

	params, ok := schemas[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"title"}, params["required"])

	// Tools without required parameters still carry an empty list, not nil.
	params, ok = schemas[1].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{}, params["required"])
}
