package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/converso/converso/internal/log"
	"github.com/converso/converso/internal/session"
)

func discardLogger() *slog.Logger {
	return log.NewNop()
}

// memStore is an in-memory SessionStore for handler tests. Sessions are
// kept most recently created first.
type memStore struct {
	mu       sync.Mutex
	sessions []*session.Session
	messages map[uuid.UUID][]*session.Message
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[uuid.UUID][]*session.Message)}
}

func (m *memStore) addSession(title string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	title = strings.TrimSpace(title)
	if title == "" {
		title = session.DefaultTitle
	}
	now := time.Now()
	sess := &session.Session{ID: uuid.New(), Title: title, CreatedAt: now, UpdatedAt: now}
	m.sessions = append([]*session.Session{sess}, m.sessions...)
	return sess
}

func (m *memStore) addMessage(id uuid.UUID, role, content string) *session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &session.Message{
		ID:        uuid.New(),
		SessionID: id,
		Role:      role,
		Content:   content,
		Status:    session.StatusCompleted,
		CreatedAt: time.Now(),
	}
	m.messages[id] = append(m.messages[id], msg)
	return msg
}

func (m *memStore) find(id uuid.UUID) *session.Session {
	for _, s := range m.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *memStore) CreateSession(_ context.Context, title string) (*session.Session, error) {
	return m.addSession(title), nil
}

func (m *memStore) Session(_ context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.find(id); s != nil {
		return s, nil
	}
	return nil, session.ErrNotFound
}

func (m *memStore) Sessions(_ context.Context, limit, offset int32) ([]*session.Session, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := int64(len(m.sessions))
	lo := min(int(offset), len(m.sessions))
	hi := min(lo+int(limit), len(m.sessions))
	return slices.Clone(m.sessions[lo:hi]), total, nil
}

func (m *memStore) RenameSession(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(title) == "" {
		return session.ErrEmptyTitle
	}
	s := m.find(id)
	if s == nil {
		return session.ErrNotFound
	}
	s.Title = strings.TrimSpace(title)
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetTitle(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(title) == "" {
		return session.ErrEmptyTitle
	}
	s := m.find(id)
	if s == nil {
		return session.ErrNotFound
	}
	s.Title = strings.TrimSpace(title)
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sessions {
		if s.ID == id {
			m.sessions = slices.Delete(m.sessions, i, i+1)
			delete(m.messages, id)
			return nil
		}
	}
	return session.ErrNotFound
}

func (m *memStore) Messages(_ context.Context, id uuid.UUID, limit, offset int32) ([]*session.Message, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[id]
	total := int64(len(msgs))
	lo := min(int(offset), len(msgs))
	hi := min(lo+int(limit), len(msgs))
	return slices.Clone(msgs[lo:hi]), total, nil
}

func (m *memStore) CountMessages(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages[id])), nil
}

func (m *memStore) Export(_ context.Context, id uuid.UUID) (*session.ExportData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.find(id)
	if s == nil {
		return nil, session.ErrNotFound
	}
	return &session.ExportData{Session: s, Messages: slices.Clone(m.messages[id])}, nil
}

// fakeChat is a scripted ChatService for transport tests.
type fakeChat struct {
	reply    string
	chunks   []string
	err      error
	title    string
	titleErr error
	removed  []uuid.UUID
}

func (f *fakeChat) Chat(_ context.Context, _ uuid.UUID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeChat) StreamChat(_ context.Context, _ uuid.UUID, _ string, onFragment func(string) error) (string, error) {
	var b strings.Builder
	for _, c := range f.chunks {
		if err := onFragment(c); err != nil {
			return "", err
		}
		b.WriteString(c)
	}
	if f.err != nil {
		return "", f.err
	}
	return b.String(), nil
}

func (f *fakeChat) RemoveAgent(sessionID uuid.UUID) {
	f.removed = append(f.removed, sessionID)
}

func (f *fakeChat) GenerateTitle(_ context.Context, _ uuid.UUID) (string, error) {
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

// newTestHandler builds a full server handler over the given fakes.
func newTestHandler(store SessionStore, svc ChatService) http.Handler {
	srv, err := NewServer(ServerConfig{
		Logger:    discardLogger(),
		Store:     store,
		Chat:      svc,
		RateBurst: 10000,
	})
	if err != nil {
		panic(err)
	}
	return srv.Handler()
}
