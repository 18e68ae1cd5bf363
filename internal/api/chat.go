package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/converso/converso/internal/chat"
	"github.com/converso/converso/internal/session"
)

// chatRequestMaxBytes bounds chat request bodies.
const chatRequestMaxBytes = 1 << 20

// ChatService is the slice of the chat orchestrator the HTTP layer needs.
// *chat.Service satisfies it.
type ChatService interface {
	Chat(ctx context.Context, sessionID uuid.UUID, text string) (string, error)
	StreamChat(ctx context.Context, sessionID uuid.UUID, text string, onFragment func(string) error) (string, error)
	GenerateTitle(ctx context.Context, sessionID uuid.UUID) (string, error)
	RemoveAgent(sessionID uuid.UUID)
}

// chatHandler serves the chat endpoints.
//
//   - POST /api/v1/chat        - synchronous chat (JSON request/response)
//   - POST /api/v1/chat/stream - streaming chat (SSE)
type chatHandler struct {
	svc    ChatService // nil = chat endpoints return 503/in-band error
	logger *slog.Logger
}

// chatInput is the request body for both chat endpoints.
type chatInput struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (in *chatInput) sessionUUID() (uuid.UUID, error) {
	return uuid.Parse(in.SessionID)
}

// SSE event types for chat streaming.
const (
	EventChunk = "chunk" // Partial response text
	EventDone  = "done"  // Stream completed successfully
	EventError = "error" // Error occurred during streaming
)

// ChunkPayload is the SSE data payload for streaming text chunks.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload is the SSE data payload when streaming completes successfully.
type DonePayload struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// send handles POST /api/v1/chat: synchronous chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		h.sendError(w, uuid.Nil, chat.ErrNotReady)
		return
	}

	var input chatInput
	r.Body = http.MaxBytesReader(w, r.Body, chatRequestMaxBytes)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if input.Message == "" {
		WriteError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}
	sessionID, err := input.sessionUUID()
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_session", "valid sessionId is required", h.logger)
		return
	}

	content, err := h.svc.Chat(r.Context(), sessionID, input.Message)
	if err != nil {
		h.sendError(w, sessionID, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"content": content}, h.logger)
}

// sendError maps orchestrator errors to an HTTP error response.
func (h *chatHandler) sendError(w http.ResponseWriter, sessionID uuid.UUID, err error) {
	switch {
	case errors.Is(err, chat.ErrNotReady):
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "chat service not configured", h.logger)
	case errors.Is(err, session.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
	case errors.Is(err, chat.ErrUpstream):
		h.logger.Warn("chat upstream failure", "error", err, "session_id", sessionID)
		WriteError(w, http.StatusBadGateway, "upstream_error", "completion backend failed", h.logger)
	default:
		h.logger.Error("chat failed", "error", err, "session_id", sessionID)
		WriteError(w, http.StatusInternalServerError, "chat_failed", "failed to process chat", h.logger)
	}
}

// stream handles POST /api/v1/chat/stream: SSE streaming chat.
// Fragments are relayed as chunk events in production order; success ends
// with a single done event. Any failure produces exactly one error event
// and no done event.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var input chatInput
	r.Body = http.MaxBytesReader(w, r.Body, chatRequestMaxBytes)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code:    "invalid_request",
			Message: "invalid request body",
		})
		return
	}
	if input.Message == "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "missing_message", Message: "message is required"})
		return
	}
	sessionID, err := input.sessionUUID()
	if err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "invalid_session", Message: "valid sessionId is required"})
		return
	}
	if h.svc == nil {
		h.streamError(w, flusher, chat.ErrNotReady)
		return
	}

	h.logger.Debug("SSE stream started", "session_id", sessionID)

	response, err := h.svc.StreamChat(r.Context(), sessionID, input.Message, func(text string) error {
		return writeEvent(w, flusher, EventChunk, ChunkPayload{Text: text})
	})
	if err != nil {
		h.streamError(w, flusher, err)
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{
		Response:  response,
		SessionID: sessionID.String(),
	})

	h.logger.Debug("SSE stream completed", "session_id", sessionID)
}

// streamError maps orchestrator errors to a single in-band SSE error event.
func (h *chatHandler) streamError(w io.Writer, f http.Flusher, err error) {
	code := "stream_error"
	message := "streaming failed"

	switch {
	case errors.Is(err, chat.ErrNotReady):
		code = "not_ready"
		message = "chat service not configured"
	case errors.Is(err, session.ErrNotFound):
		code = "not_found"
		message = "session not found"
	case errors.Is(err, chat.ErrUpstream):
		code = "upstream_error"
		message = "completion backend failed"
	}

	h.logger.Warn("SSE stream failed", "code", code, "error", err)
	_ = writeEvent(w, f, EventError, ErrorPayload{Code: code, Message: message})
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
