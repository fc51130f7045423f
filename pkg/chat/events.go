package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Event types emitted on the SSE stream.
const (
	EventContent              = "content"
	EventImage                = "image"
	EventMessageCreated       = "message_created"
	EventMessageCreationError = "message_creation_error"
	EventEnd                  = "end"
	EventError                = "error"
)

// Event is one SSE payload. Unused fields are omitted from the JSON.
type Event struct {
	Type          string   `json:"type"`
	Content       string   `json:"content,omitempty"`
	URL           string   `json:"url,omitempty"`
	Filename      string   `json:"filename,omitempty"`
	UserMessageID string   `json:"user_message_id,omitempty"`
	AIMessageID   string   `json:"ai_message_id,omitempty"`
	Intent        string   `json:"intent,omitempty"`
	Sources       []string `json:"sources,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// EventWriter serializes events onto an SSE byte stream, flushing after
// each event when the underlying writer supports it.
type EventWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEventWriter wraps w. If w is an http.ResponseWriter the SSE
// headers are set and each event is flushed immediately.
func NewEventWriter(w io.Writer) *EventWriter {
	ew := &EventWriter{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "text/event-stream")
		rw.Header().Set("Cache-Control", "no-cache")
		rw.Header().Set("Connection", "keep-alive")
	}
	if f, ok := w.(http.Flusher); ok {
		ew.flusher = f
	}
	return ew
}

// Write emits one event as a data: line.
func (ew *EventWriter) Write(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("chat: encode event: %w", err)
	}
	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("chat: write event: %w", err)
	}
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
	return nil
}

// Content emits a content chunk.
func (ew *EventWriter) Content(text string) error {
	return ew.Write(Event{Type: EventContent, Content: text})
}
