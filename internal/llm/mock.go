package llm

import "context"

// MockClient is a function-field test double for Client.
type MockClient struct {
	ProviderName string
	ModelName    string
	ChatFunc     func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return m.ChatFunc(ctx, req)
}

func (m *MockClient) Provider() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}
