package search

import (
	"context"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
)

// MockProvider returns canned candidates; tests and offline development use
// it in place of real connectors.
type MockProvider struct {
	ProviderName string
	Candidates   []core.Candidate
	Err          error
	Calls        []string // queries seen, in order
}

// NewMockProvider creates a mock provider with the given name.
func NewMockProvider(name string, candidates ...core.Candidate) *MockProvider {
	if name == "" {
		name = "mock"
	}
	return &MockProvider{ProviderName: name, Candidates: candidates}
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string { return m.ProviderName }

// Search records the query and returns the canned response.
func (m *MockProvider) Search(ctx context.Context, query string, cfg Config) ([]core.Candidate, error) {
	m.Calls = append(m.Calls, query)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]core.Candidate, len(m.Candidates))
	copy(out, m.Candidates)
	for i := range out {
		out[i].Provider = m.ProviderName
	}
	return out, nil
}
