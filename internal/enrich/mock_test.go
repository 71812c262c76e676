package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/resilience"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

// mockAnthropicClient implements anthropic.Client for testing.
type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// forTool matches requests forcing the named tool.
func forTool(name string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.ToolChoice == name
	})
}

func toolResponse(name, input string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:         "msg_test",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "tool_use",
		Content: []anthropic.ContentBlock{
			{Type: "tool_use", Name: name, Input: json.RawMessage(input)},
		},
		Usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

// memStore is an in-memory Store with the same guarded upsert rules as the
// SQL stores.
type memStore struct {
	mu          sync.Mutex
	pingErr     error
	extractions map[string]model.ExtractionResult
	topics      map[int64]model.TopicAssignment
	writes      int
}

func newMemStore() *memStore {
	return &memStore{
		extractions: make(map[string]model.ExtractionResult),
		topics:      make(map[int64]model.TopicAssignment),
	}
}

func extractionKey(id int64, kind model.ExtractionKind) string {
	b, _ := json.Marshal([]any{id, kind})
	return string(b)
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }

func (s *memStore) GetExtraction(_ context.Context, id int64, kind model.ExtractionKind) (*model.ExtractionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.extractions[extractionKey(id, kind)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) UpsertExtraction(_ context.Context, r *model.ExtractionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	key := extractionKey(r.PropositionID, r.Kind)
	if prev, ok := s.extractions[key]; ok && prev.Status == model.StatusSucceeded && r.Status == model.StatusFailedPermanent {
		return nil
	}
	s.extractions[key] = *r
	return nil
}

func (s *memStore) GetTopicAssignment(_ context.Context, id int64) (*model.TopicAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.topics[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memStore) ReplaceTopicAssignment(_ context.Context, a *model.TopicAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if prev, ok := s.topics[a.PropositionID]; ok && prev.Status == model.StatusSucceeded && a.Status == model.StatusFailedPermanent {
		return nil
	}
	s.topics[a.PropositionID] = *a
	return nil
}

func (s *memStore) extraction(t *testing.T, id int64, kind model.ExtractionKind) model.ExtractionResult {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.extractions[extractionKey(id, kind)]
	if !ok {
		t.Fatalf("no %s result stored for %d", kind, id)
	}
	return r
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

var _ Store = (*memStore)(nil)

func testOptions(kinds ...model.ExtractionKind) Options {
	return Options{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		Kinds:     kinds,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
		MaxWorkers:    2,
		MaxInputChars: 2000,
		TailChars:     200,
		CallTimeout:   time.Second,
	}
}

func cleaned(id int64, text string) model.CleanedText {
	return model.CleanedText{PropositionID: id, Text: text, Status: model.TextStatusAvailable}
}
