package chat

import (
	"strings"
	"testing"

	"github.com/converso/converso/internal/session"
)

func TestFoldHistoryEmpty(t *testing.T) {
	t.Parallel()

	got := foldHistory(nil, "hello there")
	if got != "hello there" {
		t.Errorf("foldHistory(nil) = %q, want user text verbatim", got)
	}
}

func TestFoldHistoryOrder(t *testing.T) {
	t.Parallel()

	history := []*session.Message{
		{Role: session.RoleUser, Content: "A"},
		{Role: session.RoleAssistant, Content: "B"},
		{Role: session.RoleUser, Content: "C"},
	}

	got := foldHistory(history, "D")

	// Every turn appears as "role: content", in store order, before the
	// current message.
	wantLines := []string{"user: A", "assistant: B", "user: C", "Current message: D"}
	pos := -1
	for _, line := range wantLines {
		i := strings.Index(got, line)
		if i < 0 {
			t.Fatalf("foldHistory() missing %q in:\n%s", line, got)
		}
		if i < pos {
			t.Errorf("foldHistory() has %q out of order in:\n%s", line, got)
		}
		pos = i
	}

	if !strings.Contains(got, "using the previous conversation as context") {
		t.Error("foldHistory() missing the context instruction")
	}
}
