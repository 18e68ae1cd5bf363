package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is the in-memory agent state bound to one session. It carries the
// fixed system prompt and model binding, plus a run mutex that guarantees at
// most one in-flight completion per session.
//
// A Handle is cheap to rebuild: eviction from the cache discards nothing
// durable, since all conversation history lives in the store.
type Handle struct {
	sessionID    uuid.UUID
	modelName    string
	systemPrompt string
	createdAt    time.Time

	// run serializes completions for this session.
	run sync.Mutex
}

func newHandle(sessionID uuid.UUID, modelName, systemPrompt string) *Handle {
	return &Handle{
		sessionID:    sessionID,
		modelName:    modelName,
		systemPrompt: systemPrompt,
		createdAt:    time.Now(),
	}
}

// SessionID returns the session this handle is bound to.
func (h *Handle) SessionID() uuid.UUID { return h.sessionID }

// ModelName returns the provider-qualified model name.
func (h *Handle) ModelName() string { return h.modelName }

// SystemPrompt returns the system prompt for this session's completions.
func (h *Handle) SystemPrompt() string { return h.systemPrompt }

// CreatedAt returns when this handle was built.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }
