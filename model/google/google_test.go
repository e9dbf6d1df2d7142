package google

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbeck018/crewflow-go/model"
)

func TestNewChatModel(t *testing.T) {
	assert.NotNil(t, NewChatModel("test-api-key", "gemini-1.5-pro"))
	assert.NotNil(t, NewChatModel("test-api-key", ""))
}

func TestChatModel_Chat(t *testing.T) {
	t.Run("sends messages and returns response", func(t *testing.T) {
		mockClient := &mockGoogleClient{response: "Hello! I'm Gemini, a helpful AI assistant."}
		m := &ChatModel{client: mockClient, modelName: "gemini-1.5-pro"}

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleUser, Content: "Hi there!"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Hello! I'm Gemini, a helpful AI assistant.", out.Text)
		assert.Equal(t, 1, mockClient.callCount)
	})

	t.Run("returns tool calls from the response", func(t *testing.T) {
		mockClient := &mockGoogleClient{
			toolCalls: []model.ToolCall{{Name: "search", Input: map[string]interface{}{"query": "test"}}},
		}
		m := &ChatModel{client: mockClient, modelName: "gemini-1.5-pro"}

		out, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleUser, Content: "Search for test"},
		}, []model.ToolSpec{{Name: "search", Description: "Search the web"}})
		require.NoError(t, err)
		require.Len(t, out.ToolCalls, 1)
		assert.Equal(t, "search", out.ToolCalls[0].Name)
	})

	t.Run("returns context.Canceled on a cancelled context", func(t *testing.T) {
		m := &ChatModel{client: &mockGoogleClient{response: "unreachable"}, modelName: "gemini-1.5-pro"}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("converts messages and sends all of them", func(t *testing.T) {
		mockClient := &mockGoogleClient{response: "Converted successfully"}
		m := &ChatModel{client: mockClient, modelName: "gemini-1.5-pro"}

		_, err := m.Chat(context.Background(), []model.Message{
			{Role: model.RoleUser, Content: "User message"},
			{Role: model.RoleAssistant, Content: "Assistant response"},
		}, nil)
		require.NoError(t, err)
		assert.Len(t, mockClient.lastMessages, 2)
	})

	t.Run("rejects an empty API key", func(t *testing.T) {
		m := NewChatModel("", "gemini-1.5-pro")
		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		require.Error(t, err)
	})
}

func TestChatModel_Chat_SafetyFilters(t *testing.T) {
	categories := []string{
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
		"HARM_CATEGORY_HARASSMENT",
	}

	for _, category := range categories {
		t.Run(category, func(t *testing.T) {
			mockClient := &mockGoogleClient{err: &SafetyFilterError{reason: "SAFETY", category: category}}
			m := &ChatModel{client: mockClient, modelName: "gemini-1.5-pro"}

			_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
			require.Error(t, err)

			var safetyErr *SafetyFilterError
			require.ErrorAs(t, err, &safetyErr)
			assert.Equal(t, category, safetyErr.Category())
			assert.Equal(t, "SAFETY", safetyErr.Reason())
		})
	}

	t.Run("passes through non-safety errors unchanged", func(t *testing.T) {
		mockClient := &mockGoogleClient{err: errors.New("API error: quota exceeded")}
		m := &ChatModel{client: mockClient, modelName: "gemini-1.5-pro"}

		_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "Test"}}, nil)
		require.Error(t, err)

		var safetyErr *SafetyFilterError
		assert.False(t, errors.As(err, &safetyErr))
	})
}

type mockGoogleClient struct {
	response     string
	toolCalls    []model.ToolCall
	err          error
	callCount    int
	lastMessages []model.Message
}

func (m *mockGoogleClient) generateContent(_ context.Context, messages []model.Message, _ []model.ToolSpec) (model.ChatOut, error) {
	m.callCount++
	m.lastMessages = messages

	if m.err != nil {
		return model.ChatOut{}, m.err
	}

	return model.ChatOut{Text: m.response, ToolCalls: m.toolCalls}, nil
}
