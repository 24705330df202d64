package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/pipeline"
	"github.com/hotelbook/concierge/internal/retrieval"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Candidate, error)
}

// MCPKnowledge reads and extends the FAQ content.
type MCPKnowledge interface {
	ListFAQs(ctx context.Context) ([]knowledge.FAQ, error)
	AddSnippet(ctx context.Context, content, source string) (knowledge.Snippet, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Knowledge MCPKnowledge
	Resolver  Resolver
	Retriever MCPRetriever // optional; search_faq reports an error when nil
	Version   string
}

// NewMCPServer creates an MCP server with the concierge tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"concierge",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Hotel concierge bot: try answers against the FAQ knowledge base and add grounding snippets."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_concierge",
			mcp.WithDescription("Resolve a guest message exactly as the chat endpoint would, without storing anything."),
			mcp.WithString("message", mcp.Description("The guest message"), mcp.Required()),
		),
		mcpAskConcierge(deps),
	)

	s.AddTool(
		mcp.NewTool("search_faq",
			mcp.WithDescription("Semantically search FAQ topics and aliases and return similarity scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchFAQ(deps),
	)

	s.AddTool(
		mcp.NewTool("add_snippet",
			mcp.WithDescription("Store free-text hotel information used to ground generated answers."),
			mcp.WithString("content", mcp.Description("The text to store"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Where the text came from")),
		),
		mcpAddSnippet(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"faq://corpus",
			"FAQ Corpus",
			mcp.WithResourceDescription("Every FAQ entry, sentinels included, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCorpus(deps),
	)

	return s
}

func mcpAskConcierge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		resp, trace, err := deps.Resolver.Resolve(ctx, pipeline.Request{SessionID: "mcp", Utterance: message})
		if err != nil {
			return mcpError(fmt.Sprintf("resolution failed: %v", err)), nil
		}

		out := struct {
			Response *knowledge.Response `json:"response"`
			Source   string              `json:"source"`
			States   []pipeline.State    `json:"states"`
			FAQID    string              `json:"faq_id,omitempty"`
			Intent   string              `json:"intent,omitempty"`
			Degraded string              `json:"degraded,omitempty"`
		}{&resp, trace.Source, trace.States, trace.FAQID, string(trace.Intent), trace.Degraded}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchFAQ(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Retriever == nil {
			return mcpError("semantic search is not configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		candidates, err := deps.Retriever.Retrieve(ctx, knowledge.Normalize(query), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(candidates) == 0 {
			return mcpText("[]"), nil
		}

		topics := map[string]string{}
		if faqs, err := deps.Knowledge.ListFAQs(ctx); err == nil {
			for _, f := range faqs {
				topics[f.ID] = f.Topic
			}
		}

		type hit struct {
			FAQID   string  `json:"faq_id"`
			Topic   string  `json:"topic"`
			Matched string  `json:"matched"`
			Kind    string  `json:"kind"`
			Score   float32 `json:"score"`
		}
		hits := make([]hit, len(candidates))
		for i, c := range candidates {
			hits[i] = hit{FAQID: c.FAQID, Topic: topics[c.FAQID], Matched: c.Text, Kind: c.Kind, Score: c.Score}
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddSnippet(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		source := req.GetString("source", "mcp")

		sn, err := deps.Knowledge.AddSnippet(ctx, content, source)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored snippet %s", sn.ID)), nil
	}
}

func mcpResourceCorpus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		faqs, err := deps.Knowledge.ListFAQs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing faqs: %w", err)
		}
		views := make([]FAQView, len(faqs))
		for i, f := range faqs {
			views[i] = faqView(f)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("marshaling faqs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
