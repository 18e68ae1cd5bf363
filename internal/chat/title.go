package chat

import (
	"context"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
)

// Title synthesis constants.
const (
	// PlaceholderTitle is returned when no usable title can be derived.
	PlaceholderTitle = "Untitled"

	titleTimeout       = 10 * time.Second
	titleInputMaxRunes = 500

	// titleFallbackRunes is how much of the first user message survives in
	// the deterministic fallback title.
	titleFallbackRunes = 20

	// titleMaxRunes caps a synthesized title for display.
	titleMaxRunes = 40
)

const titlePrompt = `Generate a concise title (10-20 characters) for a chat session based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// GenerateTitle synthesizes a short display title from the session's first
// user message. Completion failures degrade to a deterministic truncation of
// that message and are never propagated; the only error returned is from the
// store lookup (session.ErrNoUserMessage when the session has no user
// message). The synthesis never touches the agent cache. Concurrent calls
// for the same session share one model call.
func (s *Service) GenerateTitle(ctx context.Context, sessionID uuid.UUID) (string, error) {
	v, err, _ := s.titleFlight.Do(sessionID.String(), func() (any, error) {
		return s.synthesizeTitle(ctx, sessionID)
	})
	if err != nil {
		return "", err
	}
	title, _ := v.(string)
	return title, nil
}

func (s *Service) synthesizeTitle(ctx context.Context, sessionID uuid.UUID) (string, error) {
	first, err := s.store.FirstUserMessage(ctx, sessionID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	input := first
	if r := []rune(input); len(r) > titleInputMaxRunes {
		input = string(r[:titleInputMaxRunes]) + "..."
	}

	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.titleModel),
		ai.WithPrompt(titlePrompt, input),
	)
	if err != nil {
		s.logger.Debug("title synthesis failed, using fallback", "session_id", sessionID, "error", err)
		return fallbackTitle(first), nil
	}

	title := sanitizeTitle(resp.Text())
	if title == "" {
		return fallbackTitle(first), nil
	}
	if r := []rune(title); len(r) > titleMaxRunes {
		title = string(r[:titleMaxRunes-3]) + "..."
	}
	return title, nil
}

// fallbackTitle derives a title from the first user message directly:
// the first 20 runes, with an ellipsis marker when the message is longer.
func fallbackTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	r := []rune(content)
	if len(r) == 0 {
		return PlaceholderTitle
	}
	if len(r) <= titleFallbackRunes {
		return string(r)
	}
	return string(r[:titleFallbackRunes]) + "..."
}

// sanitizeTitle strips the wrapping and line noise models tend to add.
func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, `"'`)
	return strings.TrimSpace(title)
}
