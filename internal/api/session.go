package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/converso/converso/internal/session"
)

// Pagination limits.
const (
	sessionsDefaultLimit = 50
	sessionsMaxLimit     = 200
	messagesDefaultLimit = 100
	messagesMaxLimit     = 1000
)

// SessionStore is the slice of the session store the HTTP layer needs.
// *session.Store satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, title string) (*session.Session, error)
	Session(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Sessions(ctx context.Context, limit, offset int32) ([]*session.Session, int64, error)
	RenameSession(ctx context.Context, id uuid.UUID, title string) error
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]*session.Message, int64, error)
	CountMessages(ctx context.Context, sessionID uuid.UUID) (int64, error)
	Export(ctx context.Context, id uuid.UUID) (*session.ExportData, error)
}

// sessionHandler serves the session lifecycle endpoints.
type sessionHandler struct {
	store  SessionStore
	chat   ChatService // nil disables title synthesis
	logger *slog.Logger
}

// pathSessionID parses the {id} path value. On failure it writes the error
// response and returns false.
func (h *sessionHandler) pathSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		WriteError(w, http.StatusBadRequest, "missing_id", "session ID required", h.logger)
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// sessionItem is the JSON representation of a session in list responses.
type sessionItem struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// messageItem is the JSON representation of a message in list responses.
type messageItem struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// list handles GET /api/v1/sessions: paginated sessions, most recently
// updated first.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", sessionsDefaultLimit), sessionsMaxLimit)
	offset := parseIntParam(r, "offset", 0)

	sessions, total, err := h.store.Sessions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", h.logger)
		return
	}

	items := make([]sessionItem, len(sessions))
	for i, sess := range sessions {
		items[i] = sessionItem{
			ID:           sess.ID.String(),
			Title:        sess.Title,
			MessageCount: sess.MessageCount,
			CreatedAt:    sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    sess.UpdatedAt.Format(time.RFC3339),
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	}, h.logger)
}

// create handles POST /api/v1/sessions: creates a session. The body may
// carry an optional title; empty bodies and empty titles get the default.
func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
			return
		}
	}

	sess, err := h.store.CreateSession(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		WriteError(w, http.StatusInternalServerError, "create_failed", "failed to create session", h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, sessionItem{
		ID:        sess.ID.String(),
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
	}, h.logger)
}

// get handles GET /api/v1/sessions/{id}: returns a single session.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathSessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("getting session", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get session", h.logger)
		return
	}

	count, err := h.store.CountMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("counting messages", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get session", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, sessionItem{
		ID:           sess.ID.String(),
		Title:        sess.Title,
		MessageCount: int(count),
		CreatedAt:    sess.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    sess.UpdatedAt.Format(time.RFC3339),
	}, h.logger)
}

// rename handles PATCH /api/v1/sessions/{id}: renames a session.
func (h *sessionHandler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathSessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	if err := h.store.RenameSession(r.Context(), id, req.Title); err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyTitle):
			WriteError(w, http.StatusBadRequest, "empty_title", "title must not be empty", h.logger)
		case errors.Is(err, session.ErrNotFound):
			WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
		default:
			h.logger.Error("renaming session", "error", err, "session_id", id)
			WriteError(w, http.StatusInternalServerError, "rename_failed", "failed to rename session", h.logger)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"id":    id.String(),
		"title": strings.TrimSpace(req.Title),
	}, h.logger)
}

// delete handles DELETE /api/v1/sessions/{id}: deletes a session and all
// its messages.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathSessionID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("deleting session", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session", h.logger)
		return
	}

	// Drop the cached agent handle so chat against the deleted session
	// cannot reuse stale state.
	if h.chat != nil {
		h.chat.RemoveAgent(id)
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// messages handles GET /api/v1/sessions/{id}/messages: paginated messages,
// oldest first.
func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathSessionID(w, r)
	if !ok {
		return
	}

	limit := min(parseIntParam(r, "limit", messagesDefaultLimit), messagesMaxLimit)
	offset := parseIntParam(r, "offset", 0)

	msgs, total, err := h.store.Messages(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("getting messages", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get messages", h.logger)
		return
	}

	items := make([]messageItem, len(msgs))
	for i, msg := range msgs {
		items[i] = messageItem{
			ID:        msg.ID.String(),
			Role:      msg.Role,
			Content:   msg.Content,
			Status:    msg.Status,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	}, h.logger)
}

// export handles GET /api/v1/sessions/{id}/export: exports a session with
// all messages. Query parameter: format=json (default) or format=markdown.
func (h *sessionHandler) export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathSessionID(w, r)
	if !ok {
		return
	}

	data, err := h.store.Export(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("exporting session", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "export_failed", "failed to export session", h.logger)
		return
	}

	switch r.URL.Query().Get("format") {
	case "markdown":
		h.exportMarkdown(w, data)
	case "", "json":
		h.exportJSON(w, data)
	default:
		WriteError(w, http.StatusBadRequest, "invalid_format",
			"unsupported export format; use 'json' or 'markdown'", h.logger)
	}
}

func (h *sessionHandler) exportJSON(w http.ResponseWriter, data *session.ExportData) {
	msgs := make([]messageItem, len(data.Messages))
	for i, msg := range data.Messages {
		msgs[i] = messageItem{
			ID:        msg.ID.String(),
			Role:      msg.Role,
			Content:   msg.Content,
			Status:    msg.Status,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}

	resp := struct {
		ID        string        `json:"id"`
		Title     string        `json:"title"`
		CreatedAt string        `json:"createdAt"`
		UpdatedAt string        `json:"updatedAt"`
		Messages  []messageItem `json:"messages"`
	}{
		ID:        data.Session.ID.String(),
		Title:     data.Session.Title,
		CreatedAt: data.Session.CreatedAt.Format(time.RFC3339),
		UpdatedAt: data.Session.UpdatedAt.Format(time.RFC3339),
		Messages:  msgs,
	}

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{
			"filename": fmt.Sprintf("session-%s.json", data.Session.ID),
		}))
	WriteJSON(w, http.StatusOK, resp, h.logger)
}

// titleReplacer strips newlines to prevent Markdown heading breakout.
// strings.Replacer is safe for concurrent use.
var titleReplacer = strings.NewReplacer("\n", " ", "\r", " ")

func sanitizeExportTitle(s string) string {
	return titleReplacer.Replace(s)
}

// sanitizeMarkdownContent escapes leading Markdown structural characters
// so message bodies cannot inject headings into the exported document.
//
// Escapes: ATX headings (# ...) and setext heading underlines (===, ---).
// The output is consumed as static text (editor, pandoc, etc.); if browser
// rendering is added, link/image/HTML sanitization must be implemented.
func sanitizeMarkdownContent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(trimmed, "#"):
			indent := line[:len(line)-len(trimmed)]
			lines[i] = indent + `\` + trimmed
		case isSetextUnderline(trimmed):
			indent := line[:len(line)-len(trimmed)]
			lines[i] = indent + `\` + trimmed
		}
	}
	return strings.Join(lines, "\n")
}

// isSetextUnderline reports whether trimmed (leading whitespace already
// removed) consists entirely of '=' or entirely of '-' characters. Such
// lines promote the previous paragraph to a setext heading in CommonMark.
func isSetextUnderline(trimmed string) bool {
	s := strings.TrimRight(trimmed, " \t")
	if s == "" {
		return false
	}
	return strings.Trim(s, "=") == "" || strings.Trim(s, "-") == ""
}

// exportMarkdown renders a session export as a Markdown document with role
// labels and timestamps.
func (h *sessionHandler) exportMarkdown(w http.ResponseWriter, data *session.ExportData) {
	var b strings.Builder
	title := sanitizeExportTitle(data.Session.Title)
	if title == "" {
		title = "Untitled Session"
	}
	b.WriteString("# ")
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString("Created: ")
	b.WriteString(data.Session.CreatedAt.Format(time.RFC3339))
	b.WriteString("\n\n")

	for _, msg := range data.Messages {
		var role string
		switch msg.Role {
		case session.RoleUser:
			role = "User"
		case session.RoleAssistant:
			role = "Assistant"
		default:
			role = msg.Role
		}

		b.WriteString("**")
		b.WriteString(role)
		b.WriteString("** (")
		b.WriteString(msg.CreatedAt.Format(time.RFC3339))
		b.WriteString("): ")
		b.WriteString(sanitizeMarkdownContent(msg.Content))
		b.WriteString("\n\n")
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{
			"filename": fmt.Sprintf("session-%s.md", data.Session.ID),
		}))
	if _, err := io.WriteString(w, b.String()); err != nil {
		h.logger.Error("writing markdown export", "error", err)
	}
}

// generateTitle handles POST /api/v1/sessions/{id}/title: synthesizes a
// title from the session's first user message and persists it.
func (h *sessionHandler) generateTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathSessionID(w, r)
	if !ok {
		return
	}

	if h.chat == nil {
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "chat service not configured", h.logger)
		return
	}

	title, err := h.chat.GenerateTitle(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNoUserMessage) || errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "no_user_message", "session has no user message", h.logger)
			return
		}
		h.logger.Error("generating title", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "title_failed", "failed to generate title", h.logger)
		return
	}

	// Persist without bumping updated_at so synthesis does not reorder the
	// session list.
	if err := h.store.SetTitle(r.Context(), id, title); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
			return
		}
		h.logger.Error("persisting title", "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "title_failed", "failed to persist title", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"id":    id.String(),
		"title": title,
	}, h.logger)
}

// parseIntParam parses a non-negative int32 query parameter, falling back
// to def when absent or malformed.
func parseIntParam(r *http.Request, name string, def int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		return def
	}
	return int32(v)
}
