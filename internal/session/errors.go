package session

import "errors"

// Sentinel errors for session operations.
// These errors are part of the Store's public API and should be checked
// using errors.Is().
//
// Example:
//
//	sess, err := store.Session(ctx, id)
//	if errors.Is(err, session.ErrNotFound) {
//	    // Handle missing session
//	}
var (
	// ErrNotFound indicates the requested session does not exist in the database.
	ErrNotFound = errors.New("session not found")

	// ErrEmptyTitle indicates a rename was attempted with a blank title.
	ErrEmptyTitle = errors.New("session title cannot be empty")

	// ErrInvalidRole indicates a message role outside the allowed set.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrNoUserMessage indicates the session contains no user messages yet.
	ErrNoUserMessage = errors.New("session has no user message")
)
