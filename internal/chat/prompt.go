package chat

import (
	"strings"

	"github.com/converso/converso/internal/session"
)

// foldHistory folds prior turns and the new user text into a single prompt.
// Each turn is rendered as one "role: content" line in store order, followed
// by the new message and an instruction to answer in context. Empty history
// returns the user text verbatim.
//
// The completion backend supports structured multi-turn messages, but the
// folded form keeps the request shape identical for every provider.
func foldHistory(history []*session.Message, text string) string {
	if len(history) == 0 {
		return text
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("\nCurrent message: ")
	b.WriteString(text)
	b.WriteString("\n\nAnswer the current message, using the previous conversation as context.")
	return b.String()
}
