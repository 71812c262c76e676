package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

var _ Client = (*MockClient)(nil)

func TestCreateMessage_MockClient(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:      "claude-haiku-4-5-20251001",
		MaxTokens:  256,
		Messages:   []Message{{Role: "user", Content: "Resuma a proposição."}},
		Tools:      []Tool{{Name: "record_summary", Properties: map[string]any{}}},
		ToolChoice: "record_summary",
	}
	expected := &MessageResponse{
		ID:    "msg_001",
		Model: "claude-haiku-4-5-20251001",
		Content: []ContentBlock{
			{Type: "tool_use", Name: "record_summary", Input: json.RawMessage(`{"summary":"ok"}`)},
		},
		StopReason: "tool_use",
		Usage:      TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
	mc.On("CreateMessage", ctx, req).Return(expected, nil)

	resp, err := mc.CreateMessage(ctx, req)
	require.NoError(t, err)
	input, ok := resp.ToolInput("record_summary")
	require.True(t, ok)
	assert.JSONEq(t, `{"summary":"ok"}`, string(input))
	mc.AssertExpectations(t)
}

func TestMessageResponse_ToolInput(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "preamble "},
		{Type: "tool_use", Name: "other", Input: json.RawMessage(`{"a":1}`)},
		{Type: "tool_use", Name: "wanted", Input: json.RawMessage(`{"b":2}`)},
		{Type: "text", Text: "tail"},
	}}

	input, ok := resp.ToolInput("wanted")
	require.True(t, ok)
	assert.JSONEq(t, `{"b":2}`, string(input))

	_, ok = resp.ToolInput("missing")
	assert.False(t, ok)

	assert.Equal(t, "preamble tail", resp.Text())

	var nilResp *MessageResponse
	_, ok = nilResp.ToolInput("wanted")
	assert.False(t, ok)
	assert.Empty(t, nilResp.Text())
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 2}
	u.Add(TokenUsage{InputTokens: 5, OutputTokens: 3, CacheReadInputTokens: 7, CacheCreationInputTokens: 1})

	assert.Equal(t, TokenUsage{InputTokens: 15, OutputTokens: 5, CacheReadInputTokens: 7, CacheCreationInputTokens: 1}, u)
}

func TestToSDKTools(t *testing.T) {
	tools := toSDKTools([]Tool{{
		Name:        "record_sentiment",
		Description: "Registra o sentimento.",
		Properties:  map[string]any{"sentiment": map[string]any{"type": "string"}},
		Required:    []string{"sentiment"},
	}, {
		Name: "bare",
	}})

	require.Len(t, tools, 2)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "record_sentiment", tools[0].OfTool.Name)
	assert.Equal(t, "Registra o sentimento.", tools[0].OfTool.Description.Value)
	assert.Equal(t, []string{"sentiment"}, tools[0].OfTool.InputSchema.Required)
	assert.False(t, tools[1].OfTool.Description.Valid())
}

func TestSDKTypeConversion_toSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "Olá"},
		{Role: "assistant", Content: "Oi"},
		{Role: "system-ish", Content: "defaults to user"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestSDKTypeConversion_toSDKSystemBlocks(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "plain"},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "cached", blocks[0].Text)
	assert.Equal(t, "1h", string(blocks[0].CacheControl.TTL))
	assert.Equal(t, "plain", blocks[1].Text)
}

func TestEstimateCost_Haiku(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.00, u.EstimateCost("claude-haiku-4-5-20251001"), 0.0001)
}

func TestEstimateCost_Sonnet(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.00, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.0001)
}

func TestEstimateCost_WithCache(t *testing.T) {
	u := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// write: 3.00 * 1.25, read: 3.00 * 0.1
	assert.InDelta(t, 3.75+0.30, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.0001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	assert.Equal(t, 0.0, u.EstimateCost("gpt-unknown"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10}.LogCost("claude-haiku-4-5-20251001", "summary")
	})
}
