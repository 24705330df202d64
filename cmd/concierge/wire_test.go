package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hotelbook/concierge/internal/api"
	"github.com/hotelbook/concierge/internal/config"
	"github.com/hotelbook/concierge/internal/engine"
	"github.com/hotelbook/concierge/internal/knowledge"
)

type stubEngine struct{}

func (stubEngine) Chat(context.Context, string, []engine.Message) (string, error) {
	return "other", nil
}

func (stubEngine) Embed(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEngine) IsRunning(context.Context) bool { return true }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Engine.Provider = "ollama"
	cfg.Engine.ChatModel = "chat"
	cfg.Engine.EmbedModel = "embed"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Bot.SimilarityThreshold = 0.6
	cfg.Bot.TopK = 5
	cfg.Bot.HistoryTurns = 3
	cfg.Bot.HandlerHistoryTurns = 6
	cfg.Bot.ConfidenceFloor = 5
	cfg.Bot.StageTimeout = time.Second
	cfg.Persist.MaxAttempts = 1
	cfg.Takeover.Backend = "store"
	return cfg
}

func newTestServices(t *testing.T) (*services, http.Handler) {
	t.Helper()
	svc, err := buildServices(context.Background(), testConfig(t), stubEngine{})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, svc.router("secret")
}

func serveJSON(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildServices_ExactMatchEndToEnd(t *testing.T) {
	svc, h := newTestServices(t)
	require.NotNil(t, svc.local)

	_, err := svc.local.CreateFAQ(context.Background(), knowledge.FAQ{
		Topic:        "Check-in time",
		ReplyMessage: "Check-in is from 3pm.",
	})
	require.NoError(t, err)

	rr := serveJSON(h, http.MethodPost, "/bot-response", `{"sessionId":"g1","userMessage":"check-in time"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out api.BotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Equal(t, "Check-in is from 3pm.", out.ResponseData.Text)

	msgs, err := svc.local.ListMessages(context.Background(), "g1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestBuildServices_AdminMounted(t *testing.T) {
	_, h := newTestServices(t)

	require.Equal(t, http.StatusUnauthorized, serveJSON(h, http.MethodGet, "/admin/status", "", "").Code)

	rr := serveJSON(h, http.MethodGet, "/admin/status", "", "secret")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var st statusReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.NotNil(t, st.Vectors)

	require.Equal(t, http.StatusOK, serveJSON(h, http.MethodGet, "/health", "", "").Code)
}

func TestBuildServices_TakeoverSilencesBot(t *testing.T) {
	_, h := newTestServices(t)

	rr := serveJSON(h, http.MethodPut, "/admin/sessions/g2/takeover", `{"on":true}`, "secret")
	require.Less(t, rr.Code, 300, rr.Body.String())

	rr = serveJSON(h, http.MethodPost, "/bot-response", `{"sessionId":"g2","userMessage":"hello"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out api.BotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.True(t, out.Blocked)
}

func TestBuildServices_IndexerUsesVectors(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	f, err := svc.local.CreateFAQ(ctx, knowledge.FAQ{Topic: "Breakfast", ReplyMessage: "7 to 10"})
	require.NoError(t, err)
	_, err = svc.local.AddAlias(ctx, f.ID, "morning meal")
	require.NoError(t, err)

	require.NoError(t, svc.indexer.IndexFAQ(ctx, f.ID))
	n, err := svc.vectors.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	candidates, err := svc.retriever.Retrieve(ctx, "breakfast", 5)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.Equal(t, f.ID, candidates[0].FAQID)
}

func TestServicesClose(t *testing.T) {
	svc, err := buildServices(context.Background(), testConfig(t), stubEngine{})
	require.NoError(t, err)
	require.NoError(t, svc.Close())
}
