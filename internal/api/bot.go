package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/messagelog"
	"github.com/hotelbook/concierge/internal/pipeline"
	"github.com/hotelbook/concierge/internal/storage"
)

// Resolver answers utterances and serves the greeting.
type Resolver interface {
	Resolve(ctx context.Context, req pipeline.Request) (knowledge.Response, pipeline.Trace, error)
	Greeting(ctx context.Context) (knowledge.Response, bool, error)
}

// SessionLog reads and appends chat messages.
type SessionLog interface {
	AppendMessage(ctx context.Context, sessionID, text string, isBot bool) (storage.Message, error)
	RecentTurns(ctx context.Context, sessionID string, n int) ([]knowledge.Turn, error)
}

// TakeoverGate reports whether a human agent owns a session.
type TakeoverGate interface {
	IsTakenOver(ctx context.Context, sessionID string) (bool, error)
}

// BotWriter persists a resolved answer as a bot message.
type BotWriter interface {
	Persist(ctx context.Context, sessionID string, resp knowledge.Response) (storage.Message, error)
}

type BotDeps struct {
	Resolver Resolver
	Sessions SessionLog
	Takeover TakeoverGate
	Writer   BotWriter
	// HistoryTurns is how many prior turns are loaded for each request.
	HistoryTurns int
	// RPS and Burst configure the per-session limiter; RPS <= 0 disables it.
	RPS   float64
	Burst int
}

// BotRequest is the body of POST /bot-response.
type BotRequest struct {
	SessionID   string `json:"sessionId" validate:"required,max=128"`
	UserMessage string `json:"userMessage" validate:"required,max=4000"`
}

// BotResponse is the body returned by POST /bot-response.
type BotResponse struct {
	Message      *storage.Message    `json:"message"`
	ResponseData *knowledge.Response `json:"responseData"`
	Success      bool                `json:"success"`
	Blocked      bool                `json:"blocked,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// NewBotHandler returns the public chat routes.
func NewBotHandler(deps BotDeps) http.Handler {
	if deps.HistoryTurns <= 0 {
		deps.HistoryTurns = 6
	}
	limiter := newSessionLimiter(deps.RPS, deps.Burst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/greeting", handleGreeting(deps))
	r.Post("/bot-response", handleBotResponse(deps, limiter))
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleGreeting(deps BotDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, ok, err := deps.Resolver.Greeting(r.Context())
		if err != nil {
			slog.Error("api: loading greeting", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "greeting unavailable")
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, &resp)
	}
}

func handleBotResponse(deps BotDeps, limiter *sessionLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BotRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ctx := r.Context()
		log := slog.With("session_id", req.SessionID, "request_id", middleware.GetReqID(ctx))

		if !limiter.allow(req.SessionID) {
			log.Warn("api: rate limited")
			writeJSON(w, http.StatusTooManyRequests, BotResponse{Error: "too many requests"})
			return
		}

		// A session owned by a human agent gets no bot action at all.
		blocked, err := deps.Takeover.IsTakenOver(ctx, req.SessionID)
		if err != nil {
			log.Error("api: reading takeover flag", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, BotResponse{Error: "session state unavailable"})
			return
		}
		if blocked {
			log.Debug("api: session taken over, skipping bot")
			writeJSON(w, http.StatusOK, BotResponse{Success: true, Blocked: true})
			return
		}

		history, err := deps.Sessions.RecentTurns(ctx, req.SessionID, deps.HistoryTurns)
		if err != nil {
			log.Error("api: loading history", "error", err)
			writeJSON(w, http.StatusInternalServerError, BotResponse{Error: "session history unavailable"})
			return
		}
		history = plainHistory(history)
		if _, err := deps.Sessions.AppendMessage(ctx, req.SessionID, req.UserMessage, false); err != nil {
			log.Error("api: storing user message", "error", err)
			writeJSON(w, http.StatusInternalServerError, BotResponse{Error: "could not store message"})
			return
		}

		resp, trace, err := deps.Resolver.Resolve(ctx, pipeline.Request{
			SessionID: req.SessionID,
			Utterance: req.UserMessage,
			History:   history,
		})
		if err != nil {
			log.Error("api: resolving utterance", "error", err)
			msg := "could not resolve message"
			if errors.Is(err, pipeline.ErrNoFallback) {
				msg = "bot is not configured"
			}
			writeJSON(w, http.StatusInternalServerError, BotResponse{Error: msg})
			return
		}
		log.Info("api: resolved", trace.LogAttrs()...)

		msg, err := deps.Writer.Persist(ctx, req.SessionID, resp)
		if err != nil {
			// The answer still reaches the guest even though the log missed it.
			log.Error("api: persisting bot message", "error", err)
			writeJSON(w, http.StatusInternalServerError, BotResponse{ResponseData: &resp, Error: "could not store bot message"})
			return
		}
		writeJSON(w, http.StatusOK, BotResponse{Message: &msg, ResponseData: &resp, Success: true})
	}
}

// plainHistory replaces stored bot envelopes with their display text, so
// prompts never carry stale structured payloads.
func plainHistory(turns []knowledge.Turn) []knowledge.Turn {
	for i := range turns {
		if turns[i].IsBot {
			turns[i].Text = messagelog.Parse(turns[i].Text).Text
		}
	}
	return turns
}
