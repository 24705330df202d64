package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hotelbook/concierge/internal/api"
	"github.com/hotelbook/concierge/internal/assembler"
	"github.com/hotelbook/concierge/internal/confidence"
	"github.com/hotelbook/concierge/internal/config"
	"github.com/hotelbook/concierge/internal/engine"
	"github.com/hotelbook/concierge/internal/handlers"
	"github.com/hotelbook/concierge/internal/ingest"
	"github.com/hotelbook/concierge/internal/intent"
	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/matching"
	"github.com/hotelbook/concierge/internal/messagelog"
	"github.com/hotelbook/concierge/internal/pipeline"
	"github.com/hotelbook/concierge/internal/retrieval"
	"github.com/hotelbook/concierge/internal/storage"
	"github.com/hotelbook/concierge/internal/storage/postgres"
	"github.com/hotelbook/concierge/internal/takeover"
)

const handlerSystemPrompt = "You are the concierge of a hotel chatting with a guest. " +
	"Answer briefly and only from the information you are given."

// contentStore is the surface both storage drivers implement.
type contentStore interface {
	ListFAQs(ctx context.Context) ([]knowledge.FAQ, error)
	ListAliases(ctx context.Context) ([]knowledge.Alias, error)
	GetFAQ(ctx context.Context, id string) (knowledge.FAQ, error)
	AliasesForFAQ(ctx context.Context, faqID string) ([]knowledge.Alias, error)
	ListSnippets(ctx context.Context) ([]knowledge.Snippet, error)
	ListRooms(ctx context.Context, activeOnly bool) ([]knowledge.Room, error)
	RoomsByType(ctx context.Context, names []string) ([]knowledge.Room, error)
	ActivePromotions(ctx context.Context, now time.Time) ([]knowledge.Promotion, error)
	AppendMessage(ctx context.Context, sessionID, text string, isBot bool) (storage.Message, error)
	RecentTurns(ctx context.Context, sessionID string, n int) ([]knowledge.Turn, error)
	takeover.Gate
	io.Closer
}

var (
	_ contentStore = (*storage.Store)(nil)
	_ contentStore = (*postgres.Store)(nil)
)

// services is everything a running server needs, built from config.
type services struct {
	cfg     config.Config
	content contentStore
	// local is the embedded store. It is nil on the postgres driver, where
	// content is authored in the hosted database and the admin API, job
	// worker and MCP server are not available.
	local        *storage.Store
	vectors      retrieval.VectorStore
	retriever    *retrieval.Retriever
	indexer      *ingest.Indexer
	gate         takeover.Gate
	orchestrator *pipeline.Orchestrator
	writer       *messagelog.Writer
	closers      []io.Closer
}

func buildServices(ctx context.Context, cfg config.Config, eng engine.Engine) (*services, error) {
	s := &services{cfg: cfg}
	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.openTakeover(ctx); err != nil {
		s.Close()
		return nil, err
	}

	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel)
	s.retriever = retrieval.NewRetriever(embedder, s.vectors)
	s.indexer = ingest.NewIndexer(s.content, embedder, s.vectors)

	llm := engine.NewCompleter(eng, cfg.Engine.ChatModel)
	grounded := llm.WithSystem(handlerSystemPrompt)
	hopts := handlers.Options{
		HistoryTurns:     cfg.Bot.HandlerHistoryTurns,
		QueryDiagnostics: cfg.Bot.QueryDiagnostics,
	}

	s.orchestrator = pipeline.New(pipeline.Deps{
		Knowledge:  s.content,
		Semantic:   matching.NewSemantic(s.retriever, cfg.Bot.SimilarityThreshold, cfg.Bot.TopK),
		Classifier: intent.NewClassifier(llm, cfg.Bot.HistoryTurns),
		FAQ:        handlers.NewFAQ(s.content, grounded, hopts),
		Rooms:      handlers.NewRooms(s.content, grounded, hopts),
		Promotions: handlers.NewPromotions(s.content, grounded, hopts),
		Gate:       confidence.NewGate(llm, cfg.Bot.ConfidenceFloor),
		Assembler:  assembler.New(s.content),
	}, pipeline.Config{
		StageTimeout: cfg.Bot.StageTimeout,
		Speculative:  cfg.Bot.SpeculativeClassification,
	})
	s.writer = messagelog.NewWriter(s.content, cfg.Persist.MaxAttempts, cfg.Persist.InitialBackoff)
	return s, nil
}

func (s *services) openStorage(ctx context.Context) error {
	switch s.cfg.Storage.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, s.cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return err
		}
		s.content, s.vectors = pg, pg
		s.closers = append(s.closers, pg)
	default:
		st, err := storage.Open(s.cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		s.content, s.local = st, st
		s.vectors = retrieval.NewSQLiteStore(st.DB())
		s.closers = append(s.closers, st)
	}
	return nil
}

func (s *services) openTakeover(ctx context.Context) error {
	if s.cfg.Takeover.Backend != "redis" {
		s.gate = s.content
		return nil
	}
	rg, err := takeover.DialRedis(ctx, takeover.RedisOptions{
		Addr:     s.cfg.Takeover.RedisAddr,
		Password: s.cfg.Takeover.RedisPassword,
		DB:       s.cfg.Takeover.RedisDB,
	})
	if err != nil {
		return err
	}
	s.gate = rg
	s.closers = append(s.closers, rg)
	return nil
}

// router mounts the public chat routes at / and, on the embedded store, the
// bearer-protected admin routes at /admin.
func (s *services) router(token string) http.Handler {
	r := chi.NewRouter()
	if s.local != nil {
		r.Mount(adminPrefix, api.NewAdminHandler(api.AdminDeps{
			Store:      s.local,
			Takeover:   s.gate,
			Vectors:    s.vectors,
			Token:      token,
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
		}))
	}
	r.Mount("/", api.NewBotHandler(api.BotDeps{
		Resolver:     s.orchestrator,
		Sessions:     s.content,
		Takeover:     s.gate,
		Writer:       s.writer,
		HistoryTurns: s.cfg.Bot.HandlerHistoryTurns,
		RPS:          s.cfg.RateLimit.RPS,
		Burst:        s.cfg.RateLimit.Burst,
	}))
	return r
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
