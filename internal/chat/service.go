// Package chat orchestrates LLM completions over stored conversations:
// per-session agent handles behind a bounded LRU cache, ordered fragment
// relay with transactional persistence of the accumulated reply, and a
// degrade-gracefully title synthesizer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/converso/converso/internal/session"
)

const (
	// DefaultHistoryWindow is how many recent messages are folded into the
	// prompt when the caller does not configure a window.
	DefaultHistoryWindow int32 = 20

	// defaultCompletionTimeout bounds a single completion, retries included.
	defaultCompletionTimeout = 2 * time.Minute

	// persistTimeout bounds the post-stream commit. Detached from the
	// request context so a disconnected client cannot abort the write.
	persistTimeout = 10 * time.Second
)

// ConversationStore is the slice of the session store the orchestrator
// needs. *session.Store satisfies it.
type ConversationStore interface {
	AppendMessage(ctx context.Context, sessionID uuid.UUID, role, content, status string) (*session.Message, error)
	RecentMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]*session.Message, error)
	FirstUserMessage(ctx context.Context, sessionID uuid.UUID) (string, error)
}

// Config contains all required parameters for the chat Service.
type Config struct {
	Genkit *genkit.Genkit
	Store  ConversationStore
	Logger *slog.Logger

	// ModelName is the provider-qualified completion model
	// (e.g. "googleai/gemini-2.5-flash", "ollama/llama3.3").
	ModelName string
	// TitleModel is the model used for title synthesis; empty falls back
	// to ModelName.
	TitleModel string
	// SystemPrompt is carried by every agent handle.
	SystemPrompt string

	// Temperature and MaxTokens are forwarded with every completion
	// request. Zero values leave the provider defaults in place.
	Temperature float64
	MaxTokens   int

	CacheSize     int           // agent cache capacity (0 = DefaultCacheSize)
	HistoryWindow int32         // prompt history window (0 = DefaultHistoryWindow)
	Timeout       time.Duration // per-completion bound (0 = defaultCompletionTimeout)

	RetryConfig RetryConfig   // zero-value uses defaults
	RateLimiter *rate.Limiter // nil = default limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Store == nil {
		return errors.New("conversation store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Service runs completions against stored conversations. All configuration
// is captured immutably at construction time for thread-safe concurrent use.
type Service struct {
	g          *genkit.Genkit
	store      ConversationStore
	cache      *Cache
	logger     *slog.Logger
	titleModel string
	genConfig  *ai.GenerationCommonConfig

	historyWindow int32
	timeout       time.Duration
	retry         RetryConfig
	limiter       *rate.Limiter

	// titleFlight collapses concurrent title requests for one session
	// into a single model call.
	titleFlight singleflight.Group
}

// New creates a chat Service with the given configuration.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cache, err := NewCache(cfg.CacheSize, cfg.ModelName, cfg.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("creating agent cache: %w", err)
	}

	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	// Default: 10 requests/sec sustained, burst of 30
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	titleModel := cfg.TitleModel
	if titleModel == "" {
		titleModel = cfg.ModelName
	}

	var genConfig *ai.GenerationCommonConfig
	if cfg.Temperature != 0 || cfg.MaxTokens != 0 {
		genConfig = &ai.GenerationCommonConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxTokens,
		}
	}

	s := &Service{
		g:             cfg.Genkit,
		store:         cfg.Store,
		cache:         cache,
		logger:        cfg.Logger,
		titleModel:    titleModel,
		genConfig:     genConfig,
		historyWindow: window,
		timeout:       timeout,
		retry:         retryConfig,
		limiter:       limiter,
	}

	s.logger.Info("chat service initialized",
		"model", cfg.ModelName,
		"cache_size", cache.Cap(),
		"history_window", window,
	)
	return s, nil
}

// Close discards all cached agent handles.
func (s *Service) Close() {
	s.cache.Clear()
}

// RemoveAgent evicts the session's cached agent handle. Called after a
// session is deleted so a later request cannot reuse stale state; unknown
// session ids are a no-op.
func (s *Service) RemoveAgent(sessionID uuid.UUID) {
	s.cache.Remove(sessionID)
}

// Chat runs a non-streaming completion for the session. The user message is
// persisted before the model call; on upstream failure it stays and
// ErrUpstream is returned. The assistant reply is persisted only after full
// success.
func (s *Service) Chat(ctx context.Context, sessionID uuid.UUID, text string) (string, error) {
	history, err := s.store.RecentMessages(ctx, sessionID, s.historyWindow)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, sessionID, session.RoleUser, text, session.StatusCompleted); err != nil {
		return "", err
	}

	h := s.cache.GetOrCreate(sessionID)
	h.run.Lock()
	defer h.run.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.generateWithRetry(genCtx, s.generateOpts(h, foldHistory(history, text), nil), nil)
	if err != nil {
		s.logger.Warn("completion failed", "session_id", sessionID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	reply := resp.Text()
	if _, err := s.store.AppendMessage(ctx, sessionID, session.RoleAssistant, reply, session.StatusCompleted); err != nil {
		return "", fmt.Errorf("persisting reply: %w", err)
	}
	return reply, nil
}

// StreamChat runs a streaming completion, relaying every fragment to
// onFragment in production order while accumulating the full reply. The
// accumulated text is committed as one assistant message even when the
// client has disconnected mid-stream: a relay failure stops the relay, not
// the completion, and the commit runs on a context detached from the
// request. On a mid-stream upstream failure the partial accumulator is
// persisted with status "truncated" and ErrUpstream is returned.
//
// The final reply text is returned for the transport's terminal event.
func (s *Service) StreamChat(ctx context.Context, sessionID uuid.UUID, text string, onFragment func(string) error) (string, error) {
	history, err := s.store.RecentMessages(ctx, sessionID, s.historyWindow)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	if _, err := s.store.AppendMessage(ctx, sessionID, session.RoleUser, text, session.StatusCompleted); err != nil {
		return "", err
	}

	h := s.cache.GetOrCreate(sessionID)
	h.run.Lock()
	defer h.run.Unlock()

	// Generation survives request cancellation so the reply can still be
	// committed after a disconnect; the timeout is the only bound.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var acc strings.Builder
	relayStopped := false
	cb := func(_ context.Context, chunk *ai.ModelResponseChunk) error {
		t := chunk.Text()
		if t == "" {
			return nil
		}
		acc.WriteString(t)
		if !relayStopped {
			if err := onFragment(t); err != nil {
				relayStopped = true
				s.logger.Debug("fragment relay stopped", "session_id", sessionID, "error", err)
			}
		}
		return nil
	}

	resp, err := s.generateWithRetry(genCtx,
		s.generateOpts(h, foldHistory(history, text), cb),
		func() bool { return acc.Len() > 0 },
	)

	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer storeCancel()

	if err != nil {
		if acc.Len() > 0 {
			if _, perr := s.store.AppendMessage(storeCtx, sessionID, session.RoleAssistant, acc.String(), session.StatusTruncated); perr != nil {
				s.logger.Error("persisting truncated reply", "session_id", sessionID, "error", perr)
			}
		}
		s.logger.Warn("streaming completion failed", "session_id", sessionID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	reply := acc.String()
	if reply == "" {
		// Some providers deliver the text only in the final response.
		reply = resp.Text()
	}
	if _, err := s.store.AppendMessage(storeCtx, sessionID, session.RoleAssistant, reply, session.StatusCompleted); err != nil {
		return "", fmt.Errorf("persisting reply: %w", err)
	}
	return reply, nil
}

func (s *Service) generateOpts(h *Handle, prompt string, cb ai.ModelStreamCallback) []ai.GenerateOption {
	opts := []ai.GenerateOption{
		ai.WithModelName(h.ModelName()),
		ai.WithPrompt(prompt),
	}
	if sys := h.SystemPrompt(); sys != "" {
		opts = append(opts, ai.WithSystem(sys))
	}
	if s.genConfig != nil {
		opts = append(opts, ai.WithConfig(s.genConfig))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(cb))
	}
	return opts
}
