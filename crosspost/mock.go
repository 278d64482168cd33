package crosspost

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs cross-posts instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []string
}

// NewMockProvider creates a new mock cross-post provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send records content instead of sending it.
func (m *MockProvider) Send(_ context.Context, content string) error {
	m.mu.Lock()
	m.sent = append(m.sent, content)
	m.mu.Unlock()

	m.logger.Info("MOCK CROSSPOST", "content_length", len(content))
	return nil
}

// Sent returns the contents recorded so far.
func (m *MockProvider) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
