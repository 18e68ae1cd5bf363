//go:build integration

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/converso/converso/internal/log"
	"github.com/converso/converso/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewStore(db.Pool, log.NewNop())
}

func TestStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "Test Session")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.ID == uuid.Nil {
		t.Error("session ID should not be nil UUID")
	}
	if sess.Title != "Test Session" {
		t.Errorf("title = %q, want %q", sess.Title, "Test Session")
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}

	got, err := store.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if got.ID != sess.ID || got.Title != sess.Title {
		t.Errorf("Session() = %+v, want %+v", got, sess)
	}
}

func TestStore_CreateDefaultTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "  ")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.Title != DefaultTitle {
		t.Errorf("blank title should default to %q, got %q", DefaultTitle, sess.Title)
	}
}

func TestStore_SessionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Session(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Session() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Rename(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "Before")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	if err := store.RenameSession(ctx, sess.ID, "After"); err != nil {
		t.Fatalf("RenameSession() error: %v", err)
	}

	got, err := store.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if got.Title != "After" {
		t.Errorf("title = %q, want %q", got.Title, "After")
	}
	if !got.UpdatedAt.After(sess.UpdatedAt) {
		t.Error("rename should bump updated_at")
	}

	if err := store.RenameSession(ctx, sess.ID, "   "); !errors.Is(err, ErrEmptyTitle) {
		t.Errorf("blank rename error = %v, want ErrEmptyTitle", err)
	}
	if err := store.RenameSession(ctx, uuid.New(), "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session rename error = %v, want ErrNotFound", err)
	}
}

func TestStore_SetTitleKeepsUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	if err := store.SetTitle(ctx, sess.ID, "Quiet Title"); err != nil {
		t.Fatalf("SetTitle() error: %v", err)
	}

	got, err := store.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if got.Title != "Quiet Title" {
		t.Errorf("title = %q, want %q", got.Title, "Quiet Title")
	}
	if !got.UpdatedAt.Equal(sess.UpdatedAt) {
		t.Error("SetTitle should not bump updated_at")
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "To Be Deleted")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, RoleUser, "hello", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession() error: %v", err)
	}

	if _, err := store.Session(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Session() after delete error = %v, want ErrNotFound", err)
	}

	// Messages deleted via CASCADE
	count, err := store.CountMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CountMessages() error: %v", err)
	}
	if count != 0 {
		t.Errorf("message count after cascade delete = %d, want 0", count)
	}

	if err := store.DeleteSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_AppendMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "Message Test")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	userMsg, err := store.AppendMessage(ctx, sess.ID, RoleUser, "Hello, how are you?", "")
	if err != nil {
		t.Fatalf("AppendMessage(user) error: %v", err)
	}
	if userMsg.Status != StatusCompleted {
		t.Errorf("empty status should default to %q, got %q", StatusCompleted, userMsg.Status)
	}

	if _, err := store.AppendMessage(ctx, sess.ID, RoleAssistant, "I'm doing well!", StatusCompleted); err != nil {
		t.Fatalf("AppendMessage(assistant) error: %v", err)
	}

	// Appending bumps the session's updated_at
	got, err := store.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if !got.UpdatedAt.After(sess.UpdatedAt) {
		t.Error("AppendMessage should bump updated_at")
	}

	messages, total, err := store.Messages(ctx, sess.ID, 10, 0)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	if total != 2 || len(messages) != 2 {
		t.Fatalf("got %d messages (total %d), want 2", len(messages), total)
	}
	if messages[0].Role != RoleUser || messages[0].Content != "Hello, how are you?" {
		t.Errorf("first message = %+v, want user greeting", messages[0])
	}
	if messages[1].Role != RoleAssistant {
		t.Errorf("second message role = %q, want assistant", messages[1].Role)
	}
}

func TestStore_AppendMessageErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	if _, err := store.AppendMessage(ctx, sess.ID, "system", "nope", ""); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("invalid role error = %v, want ErrInvalidRole", err)
	}
	if _, err := store.AppendMessage(ctx, uuid.New(), RoleUser, "hi", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestStore_AppendTruncated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	msg, err := store.AppendMessage(ctx, sess.ID, RoleAssistant, "partial rep", StatusTruncated)
	if err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if msg.Status != StatusTruncated {
		t.Errorf("status = %q, want %q", msg.Status, StatusTruncated)
	}

	messages, _, err := store.Messages(ctx, sess.ID, 10, 0)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	if messages[0].Status != StatusTruncated {
		t.Errorf("stored status = %q, want %q", messages[0].Status, StatusTruncated)
	}
}

func TestStore_RecentMessagesWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "Window Test")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	for i := 1; i <= 30; i++ {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		if _, err := store.AppendMessage(ctx, sess.ID, role, fmt.Sprintf("Message %d", i), ""); err != nil {
			t.Fatalf("AppendMessage(%d) error: %v", i, err)
		}
	}

	recent, err := store.RecentMessages(ctx, sess.ID, 20)
	if err != nil {
		t.Fatalf("RecentMessages() error: %v", err)
	}
	if len(recent) != 20 {
		t.Fatalf("got %d messages, want 20", len(recent))
	}
	// Window keeps the newest 20, in chronological order
	if recent[0].Content != "Message 11" {
		t.Errorf("first windowed message = %q, want %q", recent[0].Content, "Message 11")
	}
	if recent[19].Content != "Message 30" {
		t.Errorf("last windowed message = %q, want %q", recent[19].Content, "Message 30")
	}
}

func TestStore_MessagesPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "Pagination Test")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	for i := 1; i <= 10; i++ {
		if _, err := store.AppendMessage(ctx, sess.ID, RoleUser, fmt.Sprintf("Message %d", i), ""); err != nil {
			t.Fatalf("AppendMessage(%d) error: %v", i, err)
		}
	}

	page, total, err := store.Messages(ctx, sess.ID, 5, 0)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
	if len(page) != 5 || page[0].Content != "Message 1" {
		t.Errorf("first page starts with %q, want Message 1", page[0].Content)
	}

	page, _, err = store.Messages(ctx, sess.ID, 5, 5)
	if err != nil {
		t.Fatalf("Messages() error: %v", err)
	}
	if len(page) != 5 || page[0].Content != "Message 6" {
		t.Errorf("second page starts with %q, want Message 6", page[0].Content)
	}
}

func TestStore_FirstUserMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	if _, err := store.FirstUserMessage(ctx, sess.ID); !errors.Is(err, ErrNoUserMessage) {
		t.Errorf("empty session error = %v, want ErrNoUserMessage", err)
	}

	if _, err := store.AppendMessage(ctx, sess.ID, RoleAssistant, "greeting from the void", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if _, err := store.FirstUserMessage(ctx, sess.ID); !errors.Is(err, ErrNoUserMessage) {
		t.Errorf("assistant-only session error = %v, want ErrNoUserMessage", err)
	}

	if _, err := store.AppendMessage(ctx, sess.ID, RoleUser, "first question", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, RoleUser, "second question", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	content, err := store.FirstUserMessage(ctx, sess.ID)
	if err != nil {
		t.Fatalf("FirstUserMessage() error: %v", err)
	}
	if content != "first question" {
		t.Errorf("FirstUserMessage() = %q, want %q", content, "first question")
	}
}

func TestStore_Export(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "Export Me")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, RoleUser, "question", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sess.ID, RoleAssistant, "answer", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	data, err := store.Export(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if data.Session.Title != "Export Me" {
		t.Errorf("export title = %q, want Export Me", data.Session.Title)
	}
	if len(data.Messages) != 2 || data.Session.MessageCount != 2 {
		t.Errorf("export messages = %d (count %d), want 2", len(data.Messages), data.Session.MessageCount)
	}
	if data.Messages[0].Role != RoleUser || data.Messages[1].Role != RoleAssistant {
		t.Error("export messages out of order")
	}

	if _, err := store.Export(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("export of unknown session error = %v, want ErrNotFound", err)
	}
}

func TestStore_SessionsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, "First")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	second, err := store.CreateSession(ctx, "Second")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	// Touching the older session moves it to the front
	if _, err := store.AppendMessage(ctx, first.ID, RoleUser, "bump", ""); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	sessions, total, err := store.Sessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Sessions() error: %v", err)
	}
	if total != 2 || len(sessions) != 2 {
		t.Fatalf("got %d sessions (total %d), want 2", len(sessions), total)
	}
	if sessions[0].ID != first.ID {
		t.Errorf("most recently active session should come first, got %q", sessions[0].Title)
	}
	if sessions[0].MessageCount != 1 {
		t.Errorf("message count = %d, want 1", sessions[0].MessageCount)
	}
	_ = second
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const numSessions = 5
	sessions := make([]*Session, numSessions)
	for i := range sessions {
		sess, err := store.CreateSession(ctx, fmt.Sprintf("Concurrent %d", i+1))
		if err != nil {
			t.Fatalf("CreateSession() error: %v", err)
		}
		sessions[i] = sess
	}

	var wg sync.WaitGroup
	errCh := make(chan error, numSessions*10)
	for i := range sessions {
		wg.Add(1)
		go func(sid uuid.UUID, index int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := store.AppendMessage(ctx, sid, RoleUser,
					fmt.Sprintf("Session %d, Message %d", index+1, j+1), ""); err != nil {
					errCh <- err
				}
			}
		}(sessions[i].ID, i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	for i, sess := range sessions {
		count, err := store.CountMessages(ctx, sess.ID)
		if err != nil {
			t.Fatalf("CountMessages() error: %v", err)
		}
		if count != 10 {
			t.Errorf("session %d message count = %d, want 10", i+1, count)
		}
	}
}
