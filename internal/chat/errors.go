package chat

import "errors"

// Sentinel errors for chat operations.
var (
	// ErrNotReady indicates the chat service has not been initialized.
	ErrNotReady = errors.New("chat service not ready")

	// ErrUpstream indicates the completion backend failed. The user message
	// is already persisted when this is returned.
	ErrUpstream = errors.New("upstream model failure")
)
