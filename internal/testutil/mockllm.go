package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic LLM responses for testing.
// It matches user message content against registered patterns and returns
// the corresponding response, optionally streamed in fragments or failing
// partway to exercise error paths.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu        sync.Mutex
	responses []mockRule
	fallback  string
	calls     []MockCall
}

type mockRule struct {
	pattern string   // substring match in user message
	chunks  []string // streamed fragments; joined for the final text
	err     error    // returned after streaming chunks (nil = success)
}

// MockCall records a single call to the mock model.
type MockCall struct {
	UserMessage string   // last user message text
	History     []string // all message texts in request order, prefixed with role
	Response    string   // response text returned
	Config      any      // generation config carried by the request, if any
}

// NewMockLLM creates a mock LLM with the given fallback response.
// The fallback is returned when no pattern matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair.
// When a user message contains the pattern (case-insensitive), the response
// is returned. Patterns are checked in registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.AddStreamResponse(pattern, []string{response})
}

// AddStreamResponse registers a pattern whose reply is streamed as the given
// fragments. The final response text is the concatenation of all fragments.
func (m *MockLLM) AddStreamResponse(pattern string, chunks []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{
		pattern: strings.ToLower(pattern),
		chunks:  chunks,
	})
}

// AddErrorResponse registers a pattern that fails with err before producing
// any output.
func (m *MockLLM) AddErrorResponse(pattern string, err error) {
	m.AddPartialStreamResponse(pattern, nil, err)
}

// AddPartialStreamResponse registers a pattern that streams the given
// fragments and then fails with err. Used to exercise mid-stream failure
// handling.
func (m *MockLLM) AddPartialStreamResponse(pattern string, chunks []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{
		pattern: strings.ToLower(pattern),
		chunks:  chunks,
		err:     err,
	})
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears all recorded calls (keeps registered responses).
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// RegisterModel registers the mock as a Genkit model and returns a reference.
// The model name will be "mock/test-model".
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

// generate is the Genkit model function.
func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	history := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		history = append(history, string(msg.Role)+": "+msg.Text())
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	var matched *mockRule
	lower := strings.ToLower(userText)
	for i := range m.responses {
		if strings.Contains(lower, m.responses[i].pattern) {
			matched = &m.responses[i]
			break
		}
	}

	chunks := []string{m.fallback}
	var failWith error
	if matched != nil {
		chunks = matched.chunks
		failWith = matched.err
	}
	responseText := strings.Join(chunks, "")

	m.calls = append(m.calls, MockCall{
		UserMessage: userText,
		History:     history,
		Response:    responseText,
		Config:      req.Config,
	})
	m.mu.Unlock()

	if cb != nil {
		for _, chunk := range chunks {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(chunk)},
			}); err != nil {
				return nil, err
			}
		}
	}

	if failWith != nil {
		return nil, failWith
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}
