package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fachebot/csv-report-bot/internal/docs"
	"github.com/fachebot/csv-report-bot/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) CreateDocument(ctx context.Context, title, markdown string) (json.RawMessage, error) {
	args := m.Called(ctx, title, markdown)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockWriter) GetDocument(ctx context.Context, id string) (json.RawMessage, error) {
	args := m.Called(ctx, id)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func TestDocsToolkit(t *testing.T) {
	writer := new(mockWriter)
	writer.On("CreateDocument", mock.Anything, "User Feedback Report", "# Report").
		Return(json.RawMessage(`{"document_id":"doc-1"}`), nil)
	writer.On("GetDocument", mock.Anything, "doc-1").
		Return(json.RawMessage(`{"title":"User Feedback Report"}`), nil)

	b := NewBindings()
	require.NoError(t, b.Register(NewDocsToolkit(writer), "Document Writer", "Content Writer"))
	ctx := context.Background()

	specs := b.SpecsFor("Document Writer")
	require.Len(t, specs, 2)
	assert.Equal(t, docs.ActionCreateDocumentMarkdown, specs[0].Name)

	result, err := b.Execute(ctx, "Content Writer", llm.ToolCall{
		ID:        "c1",
		Name:      docs.ActionCreateDocumentMarkdown,
		Arguments: `{"title":"User Feedback Report","markdown_text":"# Report"}`,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"document_id":"doc-1"}`, result.Content)

	result, err = b.Execute(ctx, "Content Writer", llm.ToolCall{
		ID:        "c2",
		Name:      docs.ActionGetDocumentByID,
		Arguments: `{"id":"doc-1"}`,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"User Feedback Report"}`, result.Content)

	result, err = b.Execute(ctx, "Content Writer", llm.ToolCall{
		ID:        "c3",
		Name:      docs.ActionCreateDocumentMarkdown,
		Arguments: `{"markdown_text":"x"}`,
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	writer.AssertExpectations(t)
}
