package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"calvoice/app/client/modelrt"
	"calvoice/app/config"
	"calvoice/app/service/prompt"
	"calvoice/app/service/registry"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// How long Draining waits for the outbound relay to observe the stop
	// flag before cleanup proceeds regardless.
	drainGracePeriod = 2 * time.Second

	toolCallDoneEvent = "response.function_call_arguments.done"
	errorEvent        = "error"
)

type ModelConn interface {
	SendConfig(session map[string]any) error
	Send(event any) error
	AppendAudio(chunk []byte) error
	Recv() (*modelrt.ServerEvent, error)
	Close() error
}

type ClientConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session owns one live duplex connection to the realtime model. Two flows
// run concurrently: the inbound relay feeds client audio into the model
// connection, the outbound relay is the single reader of model events and
// forwards them to the client, intercepting tool calls along the way.
type Session struct {
	cfg      *config.Config
	model    ModelConn
	client   ClientConn
	reg      *registry.Registry
	userID   string
	tzOffset string

	stopped atomic.Bool
	// recvMu makes the "exactly one concurrent receive" invariant
	// enforceable: the blocking Recv cannot be shared between call sites.
	recvMu sync.Mutex
	// sendMu serializes all outbound sends to the model connection. It is
	// held across the tool-result injection pair so nothing interleaves
	// between the conversation item and the response request.
	sendMu    sync.Mutex
	clientMu  sync.Mutex
	closeOnce sync.Once
}

func NewSession(cfg *config.Config, model ModelConn, client ClientConn, reg *registry.Registry, userID, tzOffset string) *Session {
	return &Session{
		cfg:      cfg,
		model:    model,
		client:   client,
		reg:      reg,
		userID:   userID,
		tzOffset: tzOffset,
	}
}

// Run drives the session until the client disconnects, the model connection
// fails or ctx is cancelled. It always drains and closes before returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	if err := s.writeClient([]byte(`{"type":"connection.update","status":"connected"}`)); err != nil {
		return fmt.Errorf("failed to confirm connection: %w", err)
	}

	if err := s.model.SendConfig(s.sessionConfig()); err != nil {
		return fmt.Errorf("failed to send session config: %w", err)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	go func() {
		<-watchCtx.Done()
		if s.stopped.Load() {
			return
		}
		// Unblock both relays; mid-receive cancellation is best effort.
		_ = s.client.Close()
		s.Stop()
	}()

	var eg errgroup.Group
	eg.Go(func() error {
		s.relayOutbound(ctx)
		return nil
	})

	s.relayInbound()
	s.drain(&eg)

	return nil
}

// Stop signals the outbound relay to exit. Closing the model connection is
// what actually unblocks a receive already in flight.
func (s *Session) Stop() {
	s.stopped.Store(true)
	_ = s.model.Close()
}

func (s *Session) drain(eg *errgroup.Group) {
	s.Stop()

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainGracePeriod):
		slog.Warn("Outbound relay did not stop within grace period", "user", s.userID)
	}
}

// Close releases the model connection; safe to invoke multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		if err := s.model.Close(); err != nil {
			slog.Debug("Error closing model connection", "error", err)
		}
	})
}

// relayInbound reads frames from the client until disconnect or stop. Binary
// frames are audio; a text control frame may request session close; anything
// else is logged and ignored, never fatal.
func (s *Session) relayInbound() {
	for {
		if s.stopped.Load() {
			return
		}

		msgType, data, err := s.client.ReadMessage()
		if err != nil {
			slog.Debug("Client connection closed", "user", s.userID, "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err = s.sendAudio(data); err != nil {
				slog.Error("Failed to forward audio to model", "user", s.userID, "error", err)
				return
			}
		case websocket.TextMessage:
			var control struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &control) == nil && control.Type == "session.close" {
				slog.Info("Client requested session close", "user", s.userID)
				return
			}

			slog.Debug("Ignoring unexpected text frame", "user", s.userID, "type", control.Type)
		default:
			slog.Debug("Ignoring unexpected frame", "user", s.userID, "message_type", msgType)
		}
	}
}

// relayOutbound is the single reader of the model connection. Every received
// event is forwarded to the client verbatim; the client needs the raw
// provider events, audio deltas included, for real-time playback.
func (s *Session) relayOutbound(ctx context.Context) {
	for {
		if s.stopped.Load() {
			return
		}

		s.recvMu.Lock()
		event, err := s.model.Recv()
		s.recvMu.Unlock()

		if err != nil {
			if s.stopped.Load() {
				return
			}

			slog.Error("Model connection receive failed", "user", s.userID, "error", err)
			// The inbound relay is blocked in a client read; closing the
			// client is what lets Run reach the drain.
			s.Stop()
			_ = s.client.Close()
			return
		}

		switch event.Type {
		case errorEvent:
			// Upstream errors go to the client unmodified; surfacing them
			// to the user is the client's job.
			slog.Warn("Model reported error event", "user", s.userID)
		case toolCallDoneEvent:
			s.handleToolCall(ctx, event)
		}

		if err = s.writeClient(event.Raw()); err != nil {
			slog.Debug("Failed to forward event to client", "user", s.userID, "error", err)
			s.Stop()
			_ = s.client.Close()
			return
		}
	}
}

// handleToolCall dispatches a completed tool-call request and feeds the
// result back to the model. The live protocol has no function-result
// channel, so the result is injected as a synthetic conversation item
// followed by an explicit response request.
func (s *Session) handleToolCall(ctx context.Context, event *modelrt.ServerEvent) {
	var args registry.Arguments
	if event.Arguments != "" {
		if err := json.Unmarshal([]byte(event.Arguments), &args); err != nil {
			slog.Error("Malformed tool call arguments",
				"user", s.userID,
				"tool", event.Name,
				"error", err,
			)
			args = registry.Arguments{}
		}
	}

	// Dispatch is synchronous and may call the calendar service; a slow
	// call stalls tool-result delivery but not the inbound audio flow.
	result := s.reg.Dispatch(ctx, registry.ToolCall{
		ID:        event.CallID,
		Name:      event.Name,
		Arguments: args,
	}, s.userID, s.tzOffset)

	slog.Info("Dispatched realtime tool call",
		"user", s.userID,
		"tool", event.Name,
		"is_error", result.IsError,
	)

	if err := s.injectToolResult(result); err != nil {
		slog.Error("Failed to inject tool result", "user", s.userID, "error", err)
	}
}

func (s *Session) injectToolResult(result registry.ToolResult) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{
					"type": "text",
					"text": "I found the following information: " + result.Content,
				},
			},
		},
	}

	if err := s.model.Send(item); err != nil {
		return fmt.Errorf("failed to send conversation item: %w", err)
	}

	if err := s.model.Send(map[string]any{"type": "response.create"}); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}

	return nil
}

func (s *Session) sendAudio(chunk []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	return s.model.AppendAudio(chunk)
}

func (s *Session) writeClient(data []byte) error {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	return s.client.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sessionConfig() map[string]any {
	defs := s.reg.Definitions()

	toolSchemas := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		required := def.Required
		if required == nil {
			required = []string{}
		}

		toolSchemas = append(toolSchemas, map[string]any{
			"type":        "function",
			"name":        def.Name,
			"description": def.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": def.Parameters,
				"required":   required,
			},
		})
	}

	return map[string]any{
		"voice":        s.cfg.OpenAI.Realtime.Voice,
		"instructions": prompt.System(s.userID, time.Now()),
		"tools":        toolSchemas,
		"tool_choice":  "auto",
		"temperature":  0.7,
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
		},
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
	}
}
