package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIEngine_ChatAndEmbed(t *testing.T) {
	var chatBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			json.NewDecoder(r.Body).Decode(&chatBody)
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "cmpl-1",
				"object":  "chat.completion",
				"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": "rooms"}}},
			})
		case "/v1/embeddings":
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{0.5, 0.5}}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1")

	out, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: RoleUser, Content: "any suites?"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "rooms" {
		t.Errorf("got %q, want %q", out, "rooms")
	}
	if chatBody["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v, want gpt-4o-mini", chatBody["model"])
	}

	vec, err := e.Embed(context.Background(), "text-embedding-3-small", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("got %d floats, want 2", len(vec))
	}
}

func TestNew_RequiresKeyForHosted(t *testing.T) {
	if _, err := New(context.Background(), Options{Provider: ProviderOpenAI}); err == nil {
		t.Error("expected error for openai without key")
	}
	if _, err := New(context.Background(), Options{Provider: "bogus"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	e, err := New(context.Background(), Options{BaseURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("default provider = %T, want *OllamaEngine", e)
	}
}
