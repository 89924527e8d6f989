package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/search"
)

// MCPSearcher abstracts semantic search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, search.Metadata, error)
}

// MCPStatusReader loads one message's indexing state.
type MCPStatusReader interface {
	Get(ctx context.Context, id string) (messages.MessageRecord, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Searcher MCPSearcher
	Store    MCPStatusReader
}

// NewMCPServer creates an MCP server exposing semantic search and index
// introspection as assistant tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"semsearch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("semsearch finds chat messages by meaning, not keywords. Use search_messages for semantic retrieval over conversation history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_messages",
			mcp.WithDescription("Semantically search chat messages and return ranked matches with their text."),
			mcp.WithString("query", mcp.Description("What to look for, in natural language"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10, max 50)")),
			mcp.WithString("conversation", mcp.Description("Restrict results to one conversation")),
			mcp.WithString("after", mcp.Description("Only messages created at or after this RFC3339 time")),
			mcp.WithString("before", mcp.Description("Only messages created at or before this RFC3339 time")),
		),
		mcpSearchMessages(deps),
	)

	s.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Report whether a message is pending, indexed, or failed."),
			mcp.WithString("id", mcp.Description("Message identifier"), mcp.Required()),
		),
		mcpIndexStatus(deps),
	)

	return s
}

func mcpSearchMessages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		q := search.Query{
			Text:         query,
			Limit:        req.GetInt("limit", 0),
			Conversation: req.GetString("conversation", ""),
		}
		if after := req.GetString("after", ""); after != "" {
			t, err := time.Parse(time.RFC3339, after)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid after time: %v", err)), nil
			}
			q.CreatedAfter = t
		}
		if before := req.GetString("before", ""); before != "" {
			t, err := time.Parse(time.RFC3339, before)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid before time: %v", err)), nil
			}
			q.CreatedBefore = t
		}

		results, _, err := deps.Searcher.Search(ctx, q)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type matchResult struct {
			ID           string  `json:"id"`
			Conversation string  `json:"conversation"`
			Sender       string  `json:"sender"`
			Text         string  `json:"text"`
			CreatedAt    string  `json:"created_at"`
			Score        float64 `json:"score"`
		}

		out := make([]matchResult, len(results))
		for i, res := range results {
			out[i] = matchResult{
				ID:           res.Message.ID,
				Conversation: res.Message.Conversation,
				Sender:       res.Message.Sender,
				Text:         res.Message.Text,
				CreatedAt:    res.Message.CreatedAt.Format(time.RFC3339),
				Score:        res.Score,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		m, err := deps.Store.Get(ctx, id)
		if errors.Is(err, messages.ErrNotFound) {
			return mcpError(fmt.Sprintf("message %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load message: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("message %s is %s", m.ID, m.IndexStatus)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
