package genai

import (
	"context"
	"errors"
	"sync"

	"github.com/openai/openai-go"
)

// MockClient is a scripted ClientInterface implementation for tests.
// Generate and GenerateWithMessages consume GenerateResults in order;
// GenerateStream consumes StreamResults, emitting each reply in fixed-size
// chunks. When a queue runs dry its last element is repeated.
type MockClient struct {
	mu sync.Mutex

	GenerateResults []string
	StreamResults   []string
	// StreamFailures fails the first N GenerateStream calls.
	StreamFailures int
	// GenerateFailures fails the first N Generate/GenerateWithMessages calls.
	GenerateFailures int
	// ChunkSize controls how GenerateStream splits replies (default 8 bytes).
	ChunkSize int

	GenerateCalls []string
	StreamCalls   int

	genIdx    int
	streamIdx int
}

var _ ClientInterface = (*MockClient)(nil)

// ErrMockUpstream is returned by scripted mock failures.
var ErrMockUpstream = errors.New("mock upstream failure")

func (m *MockClient) nextGenerate() string {
	if len(m.GenerateResults) == 0 {
		return ""
	}
	i := m.genIdx
	if i >= len(m.GenerateResults) {
		i = len(m.GenerateResults) - 1
	}
	m.genIdx++
	return m.GenerateResults[i]
}

// Generate returns the next scripted generate result.
func (m *MockClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = append(m.GenerateCalls, userPrompt)
	if m.GenerateFailures > 0 {
		m.GenerateFailures--
		return "", ErrMockUpstream
	}
	return m.nextGenerate(), nil
}

// GenerateWithMessages returns the next scripted generate result.
func (m *MockClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = append(m.GenerateCalls, "")
	if m.GenerateFailures > 0 {
		m.GenerateFailures--
		return "", ErrMockUpstream
	}
	return m.nextGenerate(), nil
}

// GenerateStream emits the next scripted stream result through onDelta.
func (m *MockClient) GenerateStream(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, onDelta func(string)) (string, error) {
	m.mu.Lock()
	m.StreamCalls++
	if m.StreamFailures > 0 {
		m.StreamFailures--
		m.mu.Unlock()
		return "", ErrMockUpstream
	}
	var reply string
	if len(m.StreamResults) > 0 {
		i := m.streamIdx
		if i >= len(m.StreamResults) {
			i = len(m.StreamResults) - 1
		}
		m.streamIdx++
		reply = m.StreamResults[i]
	}
	chunk := m.ChunkSize
	m.mu.Unlock()

	if chunk <= 0 {
		chunk = 8
	}
	if onDelta != nil {
		for i := 0; i < len(reply); i += chunk {
			end := i + chunk
			if end > len(reply) {
				end = len(reply)
			}
			onDelta(reply[i:end])
		}
	}
	return reply, nil
}
