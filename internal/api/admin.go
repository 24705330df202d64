package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hotelbook/concierge/internal/ingest"
	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// VectorCounter reports the size of the semantic index.
type VectorCounter interface {
	Count(ctx context.Context) (int, error)
}

// TakeoverSetter toggles the human-takeover flag of a session.
type TakeoverSetter interface {
	SetTakeover(ctx context.Context, sessionID string, on bool) error
}

type AdminDeps struct {
	Store      *storage.Store
	Takeover   TakeoverSetter
	Vectors    VectorCounter // optional; omitted from status when nil
	Token      string
	HTTPClient *http.Client
}

// NewAdminHandler returns the bearer-protected content management routes.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/status", handleStatus(deps))
	r.Post("/reindex", handleReindex(deps))

	r.Get("/faqs", handleListFAQs(deps))
	r.Post("/faqs", handleCreateFAQ(deps))
	r.Get("/faqs/{id}", handleGetFAQ(deps))
	r.Put("/faqs/{id}", handleUpdateFAQ(deps))
	r.Delete("/faqs/{id}", handleDeleteFAQ(deps))
	r.Post("/faqs/{id}/aliases", handleAddAlias(deps))
	r.Delete("/aliases/{id}", handleDeleteAlias(deps))

	r.Get("/snippets", handleListSnippets(deps))
	r.Post("/snippets", handleAddSnippet(deps))
	r.Delete("/snippets/{id}", handleDeleteSnippet(deps))

	r.Get("/rooms", handleListRooms(deps))
	r.Put("/rooms", handleUpsertRoom(deps))
	r.Delete("/rooms/{id}", handleDeleteRoom(deps))

	r.Get("/promotions", handleListPromotions(deps))
	r.Put("/promotions", handleUpsertPromotion(deps))
	r.Delete("/promotions/{id}", handleDeletePromotion(deps))

	r.Get("/sessions/{id}/messages", handleListMessages(deps))
	r.Put("/sessions/{id}/takeover", handleSetTakeover(deps))

	return r
}

// storeError maps storage sentinels to HTTP status codes.
func storeError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, storage.ErrDuplicate):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, knowledge.ErrPayloadShape):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		slog.Error("api: store operation failed", "what", what, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to process %s", what)
	}
}

// enqueueEmbed schedules a re-embed. The write already succeeded, so a queue
// failure is logged rather than reported; `concierge reindex` repairs it.
func enqueueEmbed(ctx context.Context, deps AdminDeps, faqID string) {
	if err := ingest.EnqueueFAQEmbed(ctx, deps.Store, faqID); err != nil {
		slog.Warn("api: enqueueing embed job", "faq_id", faqID, "error", err)
	}
}

// --- status ---

func handleStatus(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := deps.Store.JobCounts(r.Context())
		if err != nil {
			storeError(w, err, "job counts")
			return
		}
		faqs, err := deps.Store.ListFAQs(r.Context())
		if err != nil {
			storeError(w, err, "faqs")
			return
		}
		out := map[string]any{"faqs": len(faqs), "jobs": jobs}
		if deps.Vectors != nil {
			if n, err := deps.Vectors.Count(r.Context()); err == nil {
				out["vectors"] = n
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleReindex(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		faqs, err := deps.Store.ListFAQs(r.Context())
		if err != nil {
			storeError(w, err, "faqs")
			return
		}
		n := 0
		for _, f := range faqs {
			if knowledge.IsSentinel(f.Topic) {
				continue
			}
			if err := ingest.EnqueueFAQEmbed(r.Context(), deps.Store, f.ID); err != nil {
				storeError(w, err, "embed job")
				return
			}
			n++
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "jobs": n})
	}
}

// --- FAQs ---

// FAQRequest creates or replaces an FAQ entry. Payload must match Format.
type FAQRequest struct {
	Topic        string          `json:"topic" validate:"required,max=500"`
	ReplyMessage string          `json:"replyMessage"`
	Format       string          `json:"format" validate:"omitempty,oneof=message option_details room_type"`
	Payload      json.RawMessage `json:"payload"`
}

func (req FAQRequest) toFAQ() (knowledge.FAQ, error) {
	format := knowledge.FormatMessage
	if req.Format != "" {
		format = knowledge.ReplyFormat(req.Format)
	}
	reply, err := knowledge.DecodeReply(format, req.Payload)
	if err != nil {
		return knowledge.FAQ{}, err
	}
	return knowledge.FAQ{Topic: req.Topic, ReplyMessage: req.ReplyMessage, Reply: reply}, nil
}

// FAQView is the JSON form of an FAQ entry.
type FAQView struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	ReplyMessage string          `json:"replyMessage"`
	Format       string          `json:"format"`
	Payload      json.RawMessage `json:"payload"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func faqView(f knowledge.FAQ) FAQView {
	format, payload, err := knowledge.EncodeReply(f.Reply)
	if err != nil || payload == nil {
		payload = []byte("null")
	}
	if format == "" {
		format = knowledge.FormatMessage
	}
	return FAQView{ID: f.ID, Topic: f.Topic, ReplyMessage: f.ReplyMessage, Format: string(format), Payload: payload, UpdatedAt: f.UpdatedAt}
}

func handleListFAQs(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		faqs, err := deps.Store.ListFAQs(r.Context())
		if err != nil {
			storeError(w, err, "faqs")
			return
		}
		out := make([]FAQView, len(faqs))
		for i, f := range faqs {
			out[i] = faqView(f)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetFAQ(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.GetFAQ(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "faq")
			return
		}
		aliases, err := deps.Store.AliasesForFAQ(r.Context(), f.ID)
		if err != nil {
			storeError(w, err, "aliases")
			return
		}
		if aliases == nil {
			aliases = []knowledge.Alias{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"faq": faqView(f), "aliases": aliasViews(aliases)})
	}
}

func handleCreateFAQ(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FAQRequest
		if !decodeBody(w, r, &req) {
			return
		}
		f, err := req.toFAQ()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		created, err := deps.Store.CreateFAQ(r.Context(), f)
		if err != nil {
			storeError(w, err, "faq")
			return
		}
		enqueueEmbed(r.Context(), deps, created.ID)
		writeJSON(w, http.StatusCreated, faqView(created))
	}
}

func handleUpdateFAQ(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FAQRequest
		if !decodeBody(w, r, &req) {
			return
		}
		f, err := req.toFAQ()
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		f.ID = chi.URLParam(r, "id")
		if err := deps.Store.UpdateFAQ(r.Context(), f); err != nil {
			storeError(w, err, "faq")
			return
		}
		enqueueEmbed(r.Context(), deps, f.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleDeleteFAQ(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteFAQ(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "faq")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- aliases ---

type aliasRequest struct {
	Alias string `json:"alias" validate:"required,max=500"`
}

type aliasView struct {
	ID        string    `json:"id"`
	FAQID     string    `json:"faqId"`
	Alias     string    `json:"alias"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func aliasViews(aliases []knowledge.Alias) []aliasView {
	out := make([]aliasView, len(aliases))
	for i, a := range aliases {
		out[i] = aliasView{ID: a.ID, FAQID: a.FAQID, Alias: a.Alias, UpdatedAt: a.UpdatedAt}
	}
	return out
}

func handleAddAlias(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req aliasRequest
		if !decodeBody(w, r, &req) {
			return
		}
		a, err := deps.Store.AddAlias(r.Context(), chi.URLParam(r, "id"), req.Alias)
		if err != nil {
			storeError(w, err, "alias")
			return
		}
		enqueueEmbed(r.Context(), deps, a.FAQID)
		writeJSON(w, http.StatusCreated, aliasViews([]knowledge.Alias{a})[0])
	}
}

func handleDeleteAlias(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		faqID, err := deps.Store.DeleteAlias(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err, "alias")
			return
		}
		enqueueEmbed(r.Context(), deps, faqID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- snippets ---

// SnippetRequest adds grounding text. Type "text" stores Content as is,
// "url" fetches URL, and "pdf" decodes Content as base64 PDF bytes.
type SnippetRequest struct {
	Type    string `json:"type" validate:"omitempty,oneof=text url pdf"`
	Source  string `json:"source" validate:"max=500"`
	Content string `json:"content" validate:"required_unless=Type url"`
	URL     string `json:"url" validate:"required_if=Type url,omitempty,url"`
}

func handleAddSnippet(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req SnippetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
			return
		}

		content, source, err := resolveSnippet(r.Context(), deps, req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if strings.TrimSpace(content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no text could be extracted")
			return
		}

		sn, err := deps.Store.AddSnippet(r.Context(), content, source)
		if err != nil {
			storeError(w, err, "snippet")
			return
		}
		writeJSON(w, http.StatusCreated, snippetView(sn))
	}
}

func resolveSnippet(ctx context.Context, deps AdminDeps, req SnippetRequest) (content, source string, err error) {
	source = req.Source
	switch req.Type {
	case "url":
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		content, err = ingest.FetchURL(fetchCtx, deps.HTTPClient, req.URL)
		if source == "" {
			source = req.URL
		}
	case "pdf":
		raw, decErr := base64.StdEncoding.DecodeString(req.Content)
		if decErr != nil {
			return "", "", errors.New("invalid base64 content")
		}
		content, err = ingest.ExtractPDF(bytes.NewReader(raw), int64(len(raw)))
	default:
		content = req.Content
	}
	if source == "" {
		source = "admin"
	}
	return content, source, err
}

type snippetJSON struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

func snippetView(sn knowledge.Snippet) snippetJSON {
	return snippetJSON{ID: sn.ID, Content: sn.Content, Source: sn.Source, CreatedAt: sn.CreatedAt}
}

func handleListSnippets(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snippets, err := deps.Store.ListSnippets(r.Context())
		if err != nil {
			storeError(w, err, "snippets")
			return
		}
		out := make([]snippetJSON, len(snippets))
		for i, sn := range snippets {
			out[i] = snippetView(sn)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteSnippet(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteSnippet(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "snippet")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- rooms and promotions ---

// RoomRequest creates or replaces the room with the same type.
type RoomRequest struct {
	Type        string   `json:"type" validate:"required,max=200"`
	Price       float64  `json:"price" validate:"gte=0"`
	PromoPrice  *float64 `json:"promoPrice" validate:"omitempty,gte=0"`
	Currency    string   `json:"currency" validate:"omitempty,len=3"`
	Capacity    int      `json:"capacity" validate:"gte=0"`
	Active      *bool    `json:"active"`
	Size        string   `json:"size"`
	Amenities   []string `json:"amenities"`
	BedType     string   `json:"bedType"`
	View        string   `json:"view"`
	Description string   `json:"description"`
	Images      []string `json:"images" validate:"dive,url"`
}

type roomView struct {
	ID string `json:"id"`
	RoomRequest
}

func toRoomView(r knowledge.Room) roomView {
	active := r.Active
	return roomView{ID: r.ID, RoomRequest: RoomRequest{
		Type: r.Type, Price: r.Price, PromoPrice: r.PromoPrice, Currency: r.Currency, Capacity: r.Capacity,
		Active: &active, Size: r.Size, Amenities: r.Amenities, BedType: r.BedType, View: r.View,
		Description: r.Description, Images: r.Images,
	}}
}

func handleListRooms(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := deps.Store.ListRooms(r.Context(), r.URL.Query().Get("active") == "true")
		if err != nil {
			storeError(w, err, "rooms")
			return
		}
		out := make([]roomView, len(rooms))
		for i, room := range rooms {
			out[i] = toRoomView(room)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpsertRoom(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RoomRequest
		if !decodeBody(w, r, &req) {
			return
		}
		active := req.Active == nil || *req.Active
		room, err := deps.Store.UpsertRoom(r.Context(), knowledge.Room{
			Type: req.Type, Price: req.Price, PromoPrice: req.PromoPrice, Currency: strings.ToUpper(req.Currency),
			Capacity: req.Capacity, Active: active, Size: req.Size, Amenities: req.Amenities,
			BedType: req.BedType, View: req.View, Description: req.Description, Images: req.Images,
		})
		if err != nil {
			storeError(w, err, "room")
			return
		}
		writeJSON(w, http.StatusOK, toRoomView(room))
	}
}

func handleDeleteRoom(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteRoom(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "room")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// PromotionRequest creates or replaces the promotion with the same code.
type PromotionRequest struct {
	Code            string    `json:"code" validate:"required,max=64"`
	Description     string    `json:"description"`
	DiscountPercent float64   `json:"discountPercent" validate:"gte=0,lte=100"`
	ValidFrom       time.Time `json:"validFrom" validate:"required"`
	ValidUntil      time.Time `json:"validUntil" validate:"required,gtefield=ValidFrom"`
	Active          *bool     `json:"active"`
}

type promotionView struct {
	ID string `json:"id"`
	PromotionRequest
}

func toPromotionView(p knowledge.Promotion) promotionView {
	active := p.Active
	return promotionView{ID: p.ID, PromotionRequest: PromotionRequest{
		Code: p.Code, Description: p.Description, DiscountPercent: p.DiscountPercent,
		ValidFrom: p.ValidFrom, ValidUntil: p.ValidUntil, Active: &active,
	}}
}

func handleListPromotions(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			promos []knowledge.Promotion
			err    error
		)
		if r.URL.Query().Get("active") == "true" {
			promos, err = deps.Store.ActivePromotions(r.Context(), time.Now())
		} else {
			promos, err = deps.Store.ListPromotions(r.Context())
		}
		if err != nil {
			storeError(w, err, "promotions")
			return
		}
		out := make([]promotionView, len(promos))
		for i, p := range promos {
			out[i] = toPromotionView(p)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpsertPromotion(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PromotionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Store.UpsertPromotion(r.Context(), knowledge.Promotion{
			Code: req.Code, Description: req.Description, DiscountPercent: req.DiscountPercent,
			ValidFrom: req.ValidFrom, ValidUntil: req.ValidUntil, Active: req.Active == nil || *req.Active,
		})
		if err != nil {
			storeError(w, err, "promotion")
			return
		}
		writeJSON(w, http.StatusOK, toPromotionView(p))
	}
}

func handleDeletePromotion(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeletePromotion(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, err, "promotion")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- sessions ---

func handleListMessages(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		msgs, err := deps.Store.ListMessages(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			storeError(w, err, "messages")
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type takeoverRequest struct {
	On *bool `json:"on" validate:"required"`
}

func handleSetTakeover(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req takeoverRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Takeover.SetTakeover(r.Context(), id, *req.On); err != nil {
			storeError(w, err, "takeover flag")
			return
		}
		slog.Info("api: takeover changed", "session_id", id, "on", *req.On)
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "takeover": *req.On})
	}
}
