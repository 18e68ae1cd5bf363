package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store manages session persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a new Store instance.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: logger,
	}
}

// CreateSession creates a new conversation session. An empty title gets the
// DefaultTitle placeholder.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (title)
		 VALUES ($1)
		 RETURNING id, title, created_at, updated_at`,
		title,
	)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return sess, nil
}

// Session retrieves a session by ID. Returns ErrNotFound if it does not exist.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM sessions
		 WHERE id = $1`,
		uuidToPgUUID(id),
	)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

// Sessions lists sessions ordered by updated_at descending, with pagination.
// Returns the page of sessions and the total session count. Each returned
// session carries its message count.
func (s *Store) Sessions(ctx context.Context, limit, offset int32) ([]*Session, int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.title, s.created_at, s.updated_at,
		        count(m.id) AS message_count
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.updated_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var (
			id                   pgtype.UUID
			title                string
			createdAt, updatedAt pgtype.Timestamptz
			count                int64
		)
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt, &count); err != nil {
			return nil, 0, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, &Session{
			ID:           pgUUIDToUUID(id),
			Title:        title,
			MessageCount: int(count),
			CreatedAt:    createdAt.Time,
			UpdatedAt:    updatedAt.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read session rows: %w", err)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	s.logger.Debug("listed sessions", "count", len(sessions), "total", total, "limit", limit, "offset", offset)
	return sessions, total, nil
}

// RenameSession updates a session's title and bumps updated_at.
// Returns ErrEmptyTitle for blank titles and ErrNotFound for unknown sessions.
func (s *Store) RenameSession(ctx context.Context, id uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`,
		uuidToPgUUID(id), title,
	)
	if err != nil {
		return fmt.Errorf("failed to rename session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("renamed session", "id", id, "title", title)
	return nil
}

// SetTitle updates a session's title without touching updated_at. Used by
// background title synthesis so a title rewrite does not reorder the
// session list.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2 WHERE id = $1`,
		uuidToPgUUID(id), title,
	)
	if err != nil {
		return fmt.Errorf("failed to set title for session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession deletes a session and all its messages (CASCADE).
// Returns ErrNotFound if the session does not exist.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		uuidToPgUUID(id),
	)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AppendMessage inserts a message and bumps the session's updated_at in a
// single transaction. The session row is locked for the duration so
// concurrent appends to the same session serialize.
//
// Returns ErrNotFound if the session does not exist and ErrInvalidRole for
// roles outside user/assistant.
func (s *Store) AppendMessage(ctx context.Context, sessionID uuid.UUID, role, content, status string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if status == "" {
		status = StatusCompleted
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op after commit
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the session row so concurrent appends serialize and the
	// updated_at bump stays consistent with the insert.
	var locked pgtype.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`,
		uuidToPgUUID(sessionID),
	).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	var (
		msgID     pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (session_id, role, content, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		uuidToPgUUID(sessionID), role, content, status,
	).Scan(&msgID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`,
		uuidToPgUUID(sessionID),
	); err != nil {
		return nil, fmt.Errorf("failed to update session metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("appended message",
		"session_id", sessionID, "role", role, "status", status, "length", len(content))

	return &Message{
		ID:        pgUUIDToUUID(msgID),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: createdAt.Time,
	}, nil
}

// RecentMessages returns the most recent limit messages in chronological
// order. The newest messages win when the session exceeds the window: the
// query fetches newest-first and the result is reversed before returning.
func (s *Store) RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, status, created_at
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		uuidToPgUUID(sessionID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

// Messages returns a page of messages in chronological order plus the total
// message count for the session.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]*Message, int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, status, created_at
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`,
		uuidToPgUUID(sessionID), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.CountMessages(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// CountMessages returns the number of messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE session_id = $1`,
		uuidToPgUUID(sessionID),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages for session %s: %w", sessionID, err)
	}
	return total, nil
}

// FirstUserMessage returns the content of the earliest user message in a
// session. Returns ErrNoUserMessage when the session has none.
func (s *Store) FirstUserMessage(ctx context.Context, sessionID uuid.UUID) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM messages
		 WHERE session_id = $1 AND role = $2
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		uuidToPgUUID(sessionID), RoleUser,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoUserMessage
		}
		return "", fmt.Errorf("failed to get first user message for session %s: %w", sessionID, err)
	}
	return content, nil
}

// Export returns a session together with its complete message history in
// chronological order. Returns ErrNotFound for unknown sessions.
func (s *Store) Export(ctx context.Context, id uuid.UUID) (*ExportData, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, status, created_at
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC`,
		uuidToPgUUID(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to export session %s: %w", id, err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	sess.MessageCount = len(messages)

	return &ExportData{Session: sess, Messages: messages}, nil
}

// scanSession scans a single session row (id, title, created_at, updated_at).
func scanSession(row pgx.Row) (*Session, error) {
	var (
		id                   pgtype.UUID
		title                string
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return &Session{
		ID:        pgUUIDToUUID(id),
		Title:     title,
		CreatedAt: createdAt.Time,
		UpdatedAt: updatedAt.Time,
	}, nil
}

// scanMessages drains rows of (id, session_id, role, content, status, created_at).
func scanMessages(rows pgx.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var (
			id, sessionID pgtype.UUID
			role, content string
			status        string
			createdAt     pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &sessionID, &role, &content, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &Message{
			ID:        pgUUIDToUUID(id),
			SessionID: pgUUIDToUUID(sessionID),
			Role:      role,
			Content:   content,
			Status:    status,
			CreatedAt: createdAt.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read message rows: %w", err)
	}
	return messages, nil
}

// uuidToPgUUID converts uuid.UUID to pgtype.UUID.
func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// pgUUIDToUUID converts pgtype.UUID to uuid.UUID.
func pgUUIDToUUID(pgUUID pgtype.UUID) uuid.UUID {
	if !pgUUID.Valid {
		return uuid.Nil
	}
	return pgUUID.Bytes
}
