package modelrt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// ServerEvent is one event received from the model connection. The decoded
// raw bytes are kept so the session can forward the event to the client
// verbatim.
type ServerEvent struct {
	Type string `json:"type"`

	// Populated for completed tool-call events.
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`

	raw []byte
}

func (e *ServerEvent) Raw() []byte {
	return e.raw
}

// ParseServerEvent decodes one wire event, keeping the raw payload.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var event ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}

	event.raw = data

	return &event, nil
}

// Handle wraps one live model connection. Recv blocks and must not be called
// from two goroutines at once; the session enforces that with its own lock.
type Handle struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// SendConfig sends the one-off session configuration event. No ack is
// required before streaming may begin.
func (h *Handle) SendConfig(session map[string]any) error {
	return h.Send(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (h *Handle) Send(event any) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := h.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

func (h *Handle) AppendAudio(chunk []byte) error {
	return h.Send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	})
}

func (h *Handle) Recv() (*ServerEvent, error) {
	_, data, err := h.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to receive event: %w", err)
	}

	return ParseServerEvent(data)
}

// Close is safe to call multiple times; each live connection is disposable
// and never reconnected.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.conn.Close()
	})

	return h.closeErr
}
