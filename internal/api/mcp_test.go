package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/retrieval"
	"github.com/hotelbook/concierge/internal/storage"
)

type mockMCPRetriever struct {
	query      string
	candidates []retrieval.Candidate
	err        error
}

func (m *mockMCPRetriever) Retrieve(_ context.Context, query string, _ int) ([]retrieval.Candidate, error) {
	m.query = query
	return m.candidates, m.err
}

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store, *fakeResolver) {
	t.Helper()
	store := openAPITestStore(t)
	res := &fakeResolver{resp: knowledge.Message("Breakfast is 7 to 10.")}
	return MCPDeps{
		Knowledge: store,
		Resolver:  res,
		Retriever: &mockMCPRetriever{},
		Version:   "test",
	}, store, res
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

func TestMCPTool_AskConcierge(t *testing.T) {
	deps, store, res := newTestMCPDeps(t)
	handler := mcpAskConcierge(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask_concierge", map[string]interface{}{
		"message": "breakfast hours?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var out struct {
		Response knowledge.Response `json:"response"`
		Source   string             `json:"source"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("parsing tool output: %v", err)
	}
	if out.Response.Text != "Breakfast is 7 to 10." || out.Source != "topic" {
		t.Errorf("output = %+v", out)
	}
	if len(res.calls) != 1 || res.calls[0].Utterance != "breakfast hours?" {
		t.Errorf("resolver calls = %+v", res.calls)
	}

	// Dry run: nothing is written to any session.
	var n int
	store.DB().QueryRow(`SELECT COUNT(*) FROM chat_messages`).Scan(&n)
	if n != 0 {
		t.Errorf("stored %d messages, want 0", n)
	}
}

func TestMCPTool_AskConcierge_Error(t *testing.T) {
	deps, _, res := newTestMCPDeps(t)
	res.err = errors.New("store offline")

	result, err := mcpAskConcierge(deps)(context.Background(), makeCallToolRequest("ask_concierge", map[string]interface{}{
		"message": "hi",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_SearchFAQ(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	f, err := store.CreateFAQ(context.Background(), knowledge.FAQ{Topic: "Breakfast", ReplyMessage: "7 to 10"})
	if err != nil {
		t.Fatalf("CreateFAQ: %v", err)
	}
	retr := &mockMCPRetriever{candidates: []retrieval.Candidate{
		{FAQID: f.ID, Kind: retrieval.KindAlias, Text: "morning meal", Score: 0.91},
	}}
	deps.Retriever = retr

	result, err := mcpSearchFAQ(deps)(context.Background(), makeCallToolRequest("search_faq", map[string]interface{}{
		"query": "  Morning Meal ",
		"limit": 3,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if retr.query != "morning meal" {
		t.Errorf("query passed to retriever = %q, want normalized", retr.query)
	}

	var hits []struct {
		FAQID string  `json:"faq_id"`
		Topic string  `json:"topic"`
		Score float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &hits); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(hits) != 1 || hits[0].Topic != "Breakfast" || hits[0].Score != 0.91 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestMCPTool_SearchFAQ_EmptyResult(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	result, err := mcpSearchFAQ(deps)(context.Background(), makeCallToolRequest("search_faq", map[string]interface{}{
		"query": "nonexistent topic",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_SearchFAQ_NotConfigured(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	deps.Retriever = nil
	result, _ := mcpSearchFAQ(deps)(context.Background(), makeCallToolRequest("search_faq", map[string]interface{}{
		"query": "x",
	}))
	if !result.IsError {
		t.Fatal("expected tool error without a retriever")
	}
}

func TestMCPTool_AddSnippet(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)

	result, err := mcpAddSnippet(deps)(context.Background(), makeCallToolRequest("add_snippet", map[string]interface{}{
		"content": "Valet parking costs 30 EUR per night.",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	snippets, err := store.ListSnippets(context.Background())
	if err != nil {
		t.Fatalf("ListSnippets: %v", err)
	}
	if len(snippets) != 1 || snippets[0].Source != "mcp" {
		t.Errorf("snippets = %+v", snippets)
	}
}

func TestMCPResource_Corpus(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	ctx := context.Background()
	store.CreateFAQ(ctx, knowledge.FAQ{Topic: knowledge.TopicGreeting, ReplyMessage: "Welcome!"})
	store.CreateFAQ(ctx, knowledge.FAQ{Topic: "Rooms", ReplyMessage: "Our rooms", Reply: knowledge.RoomsReply{Rooms: []string{"Deluxe"}, ButtonName: "Book"}})

	contents, err := mcpResourceCorpus(deps)(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "faq://corpus"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var views []FAQView
	if err := json.Unmarshal([]byte(tc.Text), &views); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d entries, want 2", len(views))
	}
	var rooms FAQView
	for _, v := range views {
		if v.Topic == "Rooms" {
			rooms = v
		}
	}
	if rooms.Format != "room_type" || !strings.Contains(string(rooms.Payload), "Deluxe") {
		t.Errorf("rooms entry = %+v", rooms)
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
