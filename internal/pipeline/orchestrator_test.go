package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hotelbook/concierge/internal/assembler"
	"github.com/hotelbook/concierge/internal/confidence"
	"github.com/hotelbook/concierge/internal/handlers"
	"github.com/hotelbook/concierge/internal/intent"
	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/matching"
	"github.com/hotelbook/concierge/internal/retrieval"
)

// --- fakes ---

type fakeKB struct {
	faqs     []knowledge.FAQ
	aliases  []knowledge.Alias
	snippets []knowledge.Snippet
	err      error
	// block makes ListFAQs wait for ctx to end.
	block bool
}

func (f *fakeKB) ListFAQs(ctx context.Context) ([]knowledge.FAQ, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.faqs, f.err
}
func (f *fakeKB) ListAliases(context.Context) ([]knowledge.Alias, error) {
	out := make([]knowledge.Alias, len(f.aliases))
	copy(out, f.aliases)
	return out, f.err
}
func (f *fakeKB) ListSnippets(context.Context) ([]knowledge.Snippet, error) { return f.snippets, nil }

type fakeRooms struct {
	rooms  []knowledge.Room
	promos []knowledge.Promotion
	block  bool
}

func (f *fakeRooms) ListRooms(context.Context, bool) ([]knowledge.Room, error) { return f.rooms, nil }
func (f *fakeRooms) RoomsByType(ctx context.Context, names []string) ([]knowledge.Room, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var out []knowledge.Room
	for _, r := range f.rooms {
		for _, n := range names {
			if r.Type == n {
				out = append(out, r)
			}
		}
	}
	return out, nil
}
func (f *fakeRooms) ActivePromotions(context.Context, time.Time) ([]knowledge.Promotion, error) {
	return f.promos, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	err   error
	block bool
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memVectors is an in-memory retrieval.VectorStore.
type memVectors struct {
	records []retrieval.Record
}

func (m *memVectors) Replace(_ context.Context, faqID string, records []retrieval.Record) error {
	m.DeleteByFAQ(context.Background(), faqID)
	for _, r := range records {
		r.FAQID = faqID
		m.records = append(m.records, r)
	}
	return nil
}

func (m *memVectors) Search(_ context.Context, vec []float32, topK int) ([]retrieval.ScoredRecord, error) {
	out := make([]retrieval.ScoredRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, retrieval.ScoredRecord{Record: r, Score: retrieval.CosineSimilarity(vec, r.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memVectors) DeleteByFAQ(_ context.Context, faqID string) error {
	kept := m.records[:0]
	for _, r := range m.records {
		if r.FAQID != faqID {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

func (m *memVectors) Count(context.Context) (int, error) { return len(m.records), nil }

// scriptedLLM returns responses in order, repeating the last one.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	prompts   []string
	histories [][]knowledge.Turn
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string, history []knowledge.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.histories = append(s.histories, history)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	r := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return r, nil
}

func (s *scriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// --- fixtures ---

const fallbackText = "I'm not sure about that one. Please contact reception at +1 555 0100."

func corpusFAQs() []knowledge.FAQ {
	return []knowledge.FAQ{
		{ID: "f-greet", Topic: knowledge.TopicGreeting, ReplyMessage: "Welcome to Hotel Azure! How can I help?"},
		{ID: "f-fallback", Topic: knowledge.TopicFallback, ReplyMessage: fallbackText},
		{ID: "f-checkin", Topic: "check-in time", ReplyMessage: "Check-in starts at 3pm.", Reply: knowledge.MessageReply{}},
		{ID: "f-parking", Topic: "parking", ReplyMessage: "Valet parking is free for guests.", Reply: knowledge.MessageReply{}},
		{ID: "f-rooms", Topic: "our rooms", ReplyMessage: "Here are our rooms", Reply: knowledge.RoomsReply{
			Rooms: []string{"Deluxe King", "null", "Retired Room"}, ButtonName: "Book",
		}},
		{ID: "f-transfer", Topic: "airport transfer", ReplyMessage: "How would you like to travel?", Reply: knowledge.OptionsReply{
			Options: []knowledge.OptionDetail{
				{Option: "Shuttle", Detail: "The shuttle leaves hourly from 6am."},
				{Option: "Taxi", Detail: "Taxis wait at the main entrance."},
			},
		}},
	}
}

type harness struct {
	kb         *fakeKB
	emb        *fakeEmbedder
	classLLM   *scriptedLLM
	handlerLLM *scriptedLLM
	gateLLM    *scriptedLLM
	rooms      *fakeRooms
	orch       *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	promo := 150.0
	h := &harness{
		kb: &fakeKB{
			faqs:    corpusFAQs(),
			aliases: []knowledge.Alias{{ID: "a1", FAQID: "f-parking", Alias: "Where do I park", UpdatedAt: time.Now()}},
		},
		emb: &fakeEmbedder{vecs: map[string][]float32{
			"is there somewhere to leave my car": {1, 0, 0},
		}},
		classLLM:   &scriptedLLM{},
		handlerLLM: &scriptedLLM{},
		gateLLM:    &scriptedLLM{},
	}
	rooms := &fakeRooms{
		rooms: []knowledge.Room{{ID: "r1", Type: "Deluxe King", Price: 180, PromoPrice: &promo, Capacity: 2, Images: []string{"dk.jpg"}}},
		promos: []knowledge.Promotion{{Code: "SPRING15", DiscountPercent: 15, Active: true,
			ValidFrom: time.Now().Add(-time.Hour), ValidUntil: time.Now().Add(time.Hour)}},
	}

	h.rooms = rooms

	vectors := &memVectors{}
	require.NoError(t, vectors.Replace(context.Background(), "f-parking", []retrieval.Record{
		{ID: "v1", Kind: retrieval.KindTopic, Text: "parking", Embedding: []float32{0.81, 0.5864, 0}},
	}))
	require.NoError(t, vectors.Replace(context.Background(), "f-checkin", []retrieval.Record{
		{ID: "v2", Kind: retrieval.KindTopic, Text: "check-in time", Embedding: []float32{0, 1, 0}},
	}))

	opts := handlers.Options{}
	h.orch = New(Deps{
		Knowledge:  h.kb,
		Semantic:   matching.NewSemantic(retrieval.NewRetriever(h.emb, vectors), 0.6, 5),
		Classifier: intent.NewClassifier(h.classLLM, 3),
		FAQ:        handlers.NewFAQ(h.kb, h.handlerLLM, opts),
		Rooms:      handlers.NewRooms(rooms, h.handlerLLM, opts),
		Promotions: handlers.NewPromotions(rooms, h.handlerLLM, opts),
		Gate:       confidence.NewGate(h.gateLLM, 5),
		Assembler:  assembler.New(rooms),
	}, cfg)
	return h
}

func (h *harness) resolve(t *testing.T, utterance string, history ...knowledge.Turn) (knowledge.Response, Trace) {
	t.Helper()
	resp, trace, err := h.orch.Resolve(context.Background(), Request{SessionID: "s-1", Utterance: utterance, History: history})
	require.NoError(t, err)
	return resp, trace
}

func (h *harness) providerCalls() int {
	return h.emb.Calls() + h.classLLM.Calls() + h.handlerLLM.Calls() + h.gateLLM.Calls()
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// --- end-to-end scenarios ---

func TestScenarioA_ExactTopicNoProviderCalls(t *testing.T) {
	h := newHarness(t, Config{})
	resp, trace := h.resolve(t, "Check-in Time")

	require.Equal(t, knowledge.FormatMessage, resp.Format())
	require.Equal(t, "Check-in starts at 3pm.", resp.Text)
	require.Equal(t, 0, h.providerCalls())
	require.Equal(t, SourceTopic, trace.Source)
	require.Equal(t, []State{StateExact, StateDone}, trace.States)
}

func TestScenarioB_SemanticMatchSkipsClassifier(t *testing.T) {
	h := newHarness(t, Config{})
	resp, trace := h.resolve(t, "Is there somewhere to leave my car")

	require.Equal(t, "Valet parking is free for guests.", resp.Text)
	require.Equal(t, SourceSemantic, trace.Source)
	require.Equal(t, "f-parking", trace.FAQID)
	require.InDelta(t, 0.81, trace.Similarity, 0.001)
	require.Equal(t, 0, h.classLLM.Calls())
	require.Equal(t, []State{StateExact, StateSemantic, StateDone}, trace.States)
}

func TestScenarioC_ConfidentHandlerAnswerReturnedVerbatim(t *testing.T) {
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"rooms"}
	h.handlerLLM.responses = []string{"The Deluxe King sleeps two and costs 180 USD per night."}
	h.gateLLM.responses = []string{`{"score": 7}`}

	resp, trace := h.resolve(t, "Which room is good for a couple?")

	require.Equal(t, knowledge.FormatMessage, resp.Format())
	require.Equal(t, "The Deluxe King sleeps two and costs 180 USD per night.", resp.Text)
	require.Equal(t, intent.Rooms, trace.Intent)
	require.Equal(t, 7, trace.Confidence)
	require.Equal(t, SourceHandler, trace.Source)
	require.Equal(t, []State{StateExact, StateSemantic, StateClassifying, StateHandling, StateDone}, trace.States)
	require.Contains(t, h.handlerLLM.prompts[0], "[Available Room Types]")
}

func TestScenarioD_LowConfidenceReplacedByFallback(t *testing.T) {
	logs := captureLogs(t)
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"rooms"}
	h.handlerLLM.responses = []string{"I'm not able to help with that."}
	h.gateLLM.responses = []string{`{"score": 3}`}

	resp, trace := h.resolve(t, "Which room is good for a couple?")

	require.Equal(t, fallbackText, resp.Text)
	require.NotContains(t, resp.Text, "not able to help")
	require.Equal(t, SourceFallback, trace.Source)
	require.Equal(t, 3, trace.Confidence)
	require.Contains(t, logs.String(), "confidence floor")
}

func TestScenarioE_EmbeddingTimeoutFallsBackImmediately(t *testing.T) {
	logs := captureLogs(t)
	h := newHarness(t, Config{StageTimeout: 20 * time.Millisecond})
	h.emb.block = true

	start := time.Now()
	resp, trace := h.resolve(t, "Is there somewhere to leave my car")

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, fallbackText, resp.Text)
	require.Equal(t, 0, h.classLLM.Calls())
	require.Equal(t, string(StateSemantic), trace.Degraded)
	require.Equal(t, SourceFallback, trace.Source)
	require.Contains(t, logs.String(), "provider failure")
	require.Contains(t, logs.String(), "stage=semantic")
	require.Contains(t, logs.String(), "session_id=s-1")
}

// --- deterministic stages ---

func TestResolve_OptionLabelReturnsDetailAsMessage(t *testing.T) {
	h := newHarness(t, Config{})
	resp, trace := h.resolve(t, "TAXI")
	require.Equal(t, knowledge.FormatMessage, resp.Format())
	require.Equal(t, "Taxis wait at the main entrance.", resp.Text)
	require.Equal(t, SourceOption, trace.Source)
}

func TestResolve_OptionsTopicKeepsFormat(t *testing.T) {
	h := newHarness(t, Config{})
	resp, _ := h.resolve(t, "Airport Transfer")
	require.Equal(t, knowledge.FormatOptionDetails, resp.Format())
	require.Equal(t, "How would you like to travel?", resp.Text)
	require.Len(t, resp.Body.(knowledge.OptionsBody).Options, 2)
}

func TestResolve_Alias(t *testing.T) {
	h := newHarness(t, Config{})
	resp, trace := h.resolve(t, "where do i park ")
	require.Equal(t, "Valet parking is free for guests.", resp.Text)
	require.Equal(t, SourceAlias, trace.Source)
	require.Equal(t, 0, h.providerCalls())
}

func TestResolve_RoomTypeEnriched(t *testing.T) {
	h := newHarness(t, Config{})
	resp, _ := h.resolve(t, "Our Rooms")
	require.Equal(t, knowledge.FormatRoomType, resp.Format())
	body := resp.Body.(knowledge.RoomsBody)
	require.Equal(t, []string{"Deluxe King", "Retired Room"}, body.Rooms)
	require.Equal(t, "Book", body.ButtonName)
	require.Contains(t, body.Details, "Deluxe King")
	require.NotContains(t, body.Details, "Retired Room")
	require.Equal(t, "dk.jpg", body.Details["Deluxe King"].Image)
}

func TestResolve_SentinelTopicsNotMatchable(t *testing.T) {
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"faq"}
	h.handlerLLM.responses = []string{"answer"}
	h.gateLLM.responses = []string{"2"}
	_, trace := h.resolve(t, "::greeting::")
	require.NotEqual(t, SourceTopic, trace.Source)
}

// --- classification and handling ---

func TestResolve_InvalidLabelRoutesToFAQHandler(t *testing.T) {
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"I believe this is a spa question"}
	h.handlerLLM.responses = []string{"The spa opens at 9am."}
	h.gateLLM.responses = []string{"8"}

	resp, trace := h.resolve(t, "when does the spa open")
	require.Equal(t, intent.Other, trace.Intent)
	require.Equal(t, "The spa opens at 9am.", resp.Text)
	require.Contains(t, h.handlerLLM.prompts[0], "[Frequently Asked Questions]")
}

func TestResolve_PromoCodesRoutesToPromotionsHandler(t *testing.T) {
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"promo_codes"}
	h.handlerLLM.responses = []string{"Use SPRING15 for 15% off."}
	h.gateLLM.responses = []string{`{"score": 9}`}

	resp, _ := h.resolve(t, "any discount codes?")
	require.Equal(t, "Use SPRING15 for 15% off.", resp.Text)
	require.Contains(t, h.handlerLLM.prompts[0], "Code SPRING15")
}

func TestResolve_ClassifierSeesLastThreeTurns(t *testing.T) {
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"faq"}
	h.handlerLLM.responses = []string{"ok"}
	h.gateLLM.responses = []string{"6"}
	history := []knowledge.Turn{{Text: "1"}, {Text: "2", IsBot: true}, {Text: "3"}, {Text: "4", IsBot: true}}

	h.resolve(t, "and for kids?", history...)
	require.Len(t, h.classLLM.histories[0], 3)
	require.Equal(t, "2", h.classLLM.histories[0][0].Text)
	require.Len(t, h.handlerLLM.histories[0], 4)
}

func TestResolve_UnparsableScorePasses(t *testing.T) {
	h := newHarness(t, Config{})
	h.classLLM.responses = []string{"faq"}
	h.handlerLLM.responses = []string{"Pets under 10kg are welcome."}
	h.gateLLM.responses = []string{"quite relevant"}
	resp, trace := h.resolve(t, "can I bring my dog")
	require.Equal(t, "Pets under 10kg are welcome.", resp.Text)
	require.Equal(t, confidence.NeutralScore, trace.Confidence)
}

func TestResolve_ProviderFailuresFallBack(t *testing.T) {
	boom := errors.New("model overloaded")
	cases := map[string]func(h *harness){
		"embedding":  func(h *harness) { h.emb.err = boom },
		"classifier": func(h *harness) { h.classLLM.err = boom },
		"handler":    func(h *harness) { h.classLLM.responses = []string{"faq"}; h.handlerLLM.err = boom },
		"gate": func(h *harness) {
			h.classLLM.responses = []string{"faq"}
			h.handlerLLM.responses = []string{"An answer"}
			h.gateLLM.err = boom
		},
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Config{})
			breakIt(h)
			resp, trace := h.resolve(t, "something unusual")
			require.Equal(t, fallbackText, resp.Text)
			require.NotEmpty(t, trace.Degraded)
			require.NotContains(t, resp.Text, "overloaded")
		})
	}
}

// --- fatal conditions ---

func TestResolve_MissingFallbackIsFatalOnlyWhenNeeded(t *testing.T) {
	h := newHarness(t, Config{})
	h.kb.faqs = h.kb.faqs[2:]

	resp, _ := h.resolve(t, "check-in time")
	require.Equal(t, "Check-in starts at 3pm.", resp.Text)

	h.emb.err = errors.New("down")
	_, _, err := h.orch.Resolve(context.Background(), Request{Utterance: "anything else"})
	require.ErrorIs(t, err, ErrNoFallback)
}

func TestResolve_KnowledgeStoreError(t *testing.T) {
	h := newHarness(t, Config{})
	h.kb.err = errors.New("disk I/O error")
	_, _, err := h.orch.Resolve(context.Background(), Request{Utterance: "check-in time"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoFallback)
}

func TestResolve_KnowledgeStoreReadIsBounded(t *testing.T) {
	h := newHarness(t, Config{StageTimeout: 50 * time.Millisecond})
	h.kb.block = true

	done := make(chan error, 1)
	go func() {
		_, _, err := h.orch.Resolve(context.Background(), Request{Utterance: "check-in time"})
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve did not return after the stage timeout")
	}
}

func TestResolve_RoomLookupIsBounded(t *testing.T) {
	h := newHarness(t, Config{StageTimeout: 50 * time.Millisecond})
	h.rooms.block = true

	start := time.Now()
	resp, trace := h.resolve(t, "our rooms")

	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, SourceTopic, trace.Source)
	require.Equal(t, knowledge.FormatRoomType, resp.Format())
	body, ok := resp.Body.(knowledge.RoomsBody)
	require.True(t, ok)
	require.Empty(t, body.Details)
}

func TestGreeting_ReadIsBounded(t *testing.T) {
	h := newHarness(t, Config{StageTimeout: 50 * time.Millisecond})
	h.kb.block = true

	start := time.Now()
	_, _, err := h.orch.Greeting(context.Background())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestResolve_DuplicateSentinel(t *testing.T) {
	h := newHarness(t, Config{})
	h.kb.faqs = append(h.kb.faqs, knowledge.FAQ{ID: "dup", Topic: "::Fallback::"})
	_, _, err := h.orch.Resolve(context.Background(), Request{Utterance: "check-in time"})
	require.ErrorIs(t, err, knowledge.ErrDuplicateSentinel)
}

// --- speculative classification ---

func TestResolve_SpeculativeMissUsesEarlyLabel(t *testing.T) {
	h := newHarness(t, Config{Speculative: true})
	h.classLLM.responses = []string{"rooms"}
	h.handlerLLM.responses = []string{"We have a Deluxe King."}
	h.gateLLM.responses = []string{"9"}

	resp, trace := h.resolve(t, "what rooms do you have")
	require.Equal(t, "We have a Deluxe King.", resp.Text)
	require.Equal(t, intent.Rooms, trace.Intent)
	require.Equal(t, 1, h.classLLM.Calls())
}

func TestResolve_SpeculativeHitIgnoresLabel(t *testing.T) {
	h := newHarness(t, Config{Speculative: true})
	h.classLLM.responses = []string{"rooms"}
	resp, trace := h.resolve(t, "Is there somewhere to leave my car")
	require.Equal(t, "Valet parking is free for guests.", resp.Text)
	require.Equal(t, SourceSemantic, trace.Source)
	require.Empty(t, trace.Intent)
	require.Equal(t, 0, h.handlerLLM.Calls())
}

// --- greeting ---

func TestGreeting(t *testing.T) {
	h := newHarness(t, Config{})
	resp, ok, err := h.orch.Greeting(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Welcome to Hotel Azure! How can I help?", resp.Text)

	h.kb.faqs = h.kb.faqs[1:]
	_, ok, err = h.orch.Greeting(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTrace_LogAttrs(t *testing.T) {
	tr := Trace{Source: SourceHandler, Intent: intent.Rooms, Confidence: 7, States: []State{StateExact}}
	s := fmt.Sprint(tr.LogAttrs()...)
	require.Contains(t, s, "intent")
	require.Contains(t, s, "confidence")
	require.NotContains(t, s, "degraded")
	require.NotContains(t, s, "faq_id")
}
