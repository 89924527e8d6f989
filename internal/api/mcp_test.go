package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relaychat/semsearch/internal/fault"
	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/search"
)

type mockMCPStatusReader struct {
	record messages.MessageRecord
	err    error
}

func (m *mockMCPStatusReader) Get(context.Context, string) (messages.MessageRecord, error) {
	return m.record, m.err
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_SearchMessages(t *testing.T) {
	var gotQuery search.Query
	deps := MCPDeps{
		Searcher: &mockSearchRunner{
			searchFn: func(_ context.Context, q search.Query) ([]search.Result, search.Metadata, error) {
				gotQuery = q
				return []search.Result{{
						Message: messages.MessageRecord{
							ID:           "msg-1",
							Conversation: "conv-1",
							Sender:       "ana",
							Text:         "We decided to use Stripe",
							CreatedAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
						},
						Similarity: 0.91,
						Score:      0.87,
					}}, search.Metadata{Total: 1}, nil
			},
		},
		Store: &mockMCPStatusReader{},
	}
	handler := mcpSearchMessages(deps)

	req := makeCallToolRequest("search_messages", map[string]interface{}{
		"query":        "payment provider decision",
		"limit":        5,
		"conversation": "conv-1",
		"after":        "2025-05-01T00:00:00Z",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if gotQuery.Text != "payment provider decision" || gotQuery.Limit != 5 || gotQuery.Conversation != "conv-1" {
		t.Errorf("searcher got query %+v", gotQuery)
	}
	if want := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC); !gotQuery.CreatedAfter.Equal(want) {
		t.Errorf("CreatedAfter = %v, want %v", gotQuery.CreatedAfter, want)
	}

	var out []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(out) != 1 || out[0]["id"] != "msg-1" || out[0]["text"] != "We decided to use Stripe" {
		t.Errorf("results = %v", out)
	}
}

func TestMCPTool_SearchMessages_Empty(t *testing.T) {
	deps := MCPDeps{Searcher: &mockSearchRunner{}, Store: &mockMCPStatusReader{}}
	handler := mcpSearchMessages(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_messages", map[string]interface{}{
		"query": "nothing matches this",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("empty search result = %q, want []", got)
	}
}

func TestMCPTool_SearchMessages_MissingQuery(t *testing.T) {
	deps := MCPDeps{Searcher: &mockSearchRunner{}, Store: &mockMCPStatusReader{}}
	handler := mcpSearchMessages(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_messages", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing query")
	}
}

func TestMCPTool_SearchMessages_BadTime(t *testing.T) {
	deps := MCPDeps{Searcher: &mockSearchRunner{}, Store: &mockMCPStatusReader{}}
	handler := mcpSearchMessages(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_messages", map[string]interface{}{
		"query": "payment provider",
		"after": "yesterday",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unparseable time")
	}
}

func TestMCPTool_SearchMessages_SearchFailure(t *testing.T) {
	deps := MCPDeps{
		Searcher: &mockSearchRunner{
			searchFn: func(context.Context, search.Query) ([]search.Result, search.Metadata, error) {
				return nil, search.Metadata{}, fault.Unavailable("embedding")
			},
		},
		Store: &mockMCPStatusReader{},
	}
	handler := mcpSearchMessages(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_messages", map[string]interface{}{
		"query": "payment provider",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when search is unavailable")
	}
	if !strings.Contains(toolText(t, result), "unavailable") {
		t.Errorf("error text = %q", toolText(t, result))
	}
}

func TestMCPTool_IndexStatus(t *testing.T) {
	deps := MCPDeps{
		Searcher: &mockSearchRunner{},
		Store: &mockMCPStatusReader{
			record: messages.MessageRecord{ID: "msg-1", IndexStatus: messages.StatusIndexed},
		},
	}
	handler := mcpIndexStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("index_status", map[string]interface{}{
		"id": "msg-1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "message msg-1 is indexed" {
		t.Errorf("status text = %q", got)
	}
}

func TestMCPTool_IndexStatus_NotFound(t *testing.T) {
	deps := MCPDeps{
		Searcher: &mockSearchRunner{},
		Store:    &mockMCPStatusReader{err: messages.ErrNotFound},
	}
	handler := mcpIndexStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("index_status", map[string]interface{}{
		"id": "ghost",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing message")
	}
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(MCPDeps{Searcher: &mockSearchRunner{}, Store: &mockMCPStatusReader{}})
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
