// Package pipeline resolves one guest utterance to exactly one Response by
// running the matching, classification and handling stages in order and
// stopping at the first confident result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hotelbook/concierge/internal/assembler"
	"github.com/hotelbook/concierge/internal/confidence"
	"github.com/hotelbook/concierge/internal/handlers"
	"github.com/hotelbook/concierge/internal/intent"
	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/matching"
)

// ErrNoFallback is returned when a run needs the ::fallback:: entry and none
// is configured. It is the only failure a caller sees besides the knowledge
// store being unreadable.
var ErrNoFallback = errors.New("no fallback entry configured")

// State is one step of an orchestration run.
type State string

const (
	StateExact       State = "exact"
	StateSemantic    State = "semantic"
	StateClassifying State = "classifying"
	StateHandling    State = "handling"
	StateDone        State = "done"
)

// Where a response came from.
const (
	SourceTopic    = "topic"
	SourceOption   = "option"
	SourceAlias    = "alias"
	SourceSemantic = "semantic"
	SourceHandler  = "handler"
	SourceFallback = "fallback"
)

// Trace records how a response was reached.
type Trace struct {
	States     []State
	Source     string
	FAQID      string
	Similarity float32
	Intent     intent.Label
	Confidence int
	// Degraded names the stage whose provider failed, if any.
	Degraded   string
	Duration   time.Duration
}

func (t *Trace) enter(s State) {
	t.States = append(t.States, s)
	slog.Debug("pipeline: stage", "state", s)
}

// LogAttrs returns the trace as slog key/value pairs.
func (t Trace) LogAttrs() []any {
	attrs := []any{"source", t.Source, "states", t.States, "duration_ms", t.Duration.Milliseconds()}
	if t.FAQID != "" {
		attrs = append(attrs, "faq_id", t.FAQID)
	}
	if t.Similarity > 0 {
		attrs = append(attrs, "similarity", t.Similarity)
	}
	if t.Intent != "" {
		attrs = append(attrs, "intent", t.Intent, "confidence", t.Confidence)
	}
	if t.Degraded != "" {
		attrs = append(attrs, "degraded", t.Degraded)
	}
	return attrs
}

// Knowledge reads the FAQ corpus and aliases.
type Knowledge interface {
	ListFAQs(ctx context.Context) ([]knowledge.FAQ, error)
	ListAliases(ctx context.Context) ([]knowledge.Alias, error)
}

// SemanticMatcher finds the FAQ entry most similar to an utterance. A non-nil
// error means the embedding or vector search failed.
type SemanticMatcher interface {
	Match(ctx context.Context, utterance string, corpus knowledge.Corpus) (matching.Match, bool, error)
}

// Classifier labels an utterance.
type Classifier interface {
	Classify(ctx context.Context, utterance string, history []knowledge.Turn) (intent.Label, error)
}

// Gate scores a generated answer.
type Gate interface {
	Evaluate(ctx context.Context, question, answer string) (confidence.Verdict, error)
}

// Deps are the stages an Orchestrator runs. Semantic may be nil, which skips
// that stage.
type Deps struct {
	Knowledge  Knowledge
	Semantic   SemanticMatcher
	Classifier Classifier
	FAQ        handlers.Handler
	Rooms      handlers.Handler
	Promotions handlers.Handler
	Gate       Gate
	Assembler  *assembler.Assembler
}

// Config tunes an Orchestrator.
type Config struct {
	// StageTimeout bounds every provider-backed stage and every knowledge
	// store read. A provider timeout is handled like any other provider
	// failure; a corpus read timeout is returned as an error.
	StageTimeout time.Duration
	// Speculative starts classification alongside semantic matching and
	// discards it when the semantic stage resolves the utterance.
	Speculative bool
}

// Request is one utterance to resolve.
type Request struct {
	SessionID string
	Utterance string
	// History holds the most recent turns before Utterance, oldest first.
	History []knowledge.Turn
}

// Orchestrator is safe for concurrent use; runs share no mutable state.
type Orchestrator struct {
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Resolve answers req. Provider failures and low-confidence answers are
// replaced by the fallback entry; the returned error is non-nil only when
// the corpus cannot be loaded or the fallback is needed but missing.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (resp knowledge.Response, trace Trace, err error) {
	start := time.Now()
	defer func() { trace.Duration = time.Since(start) }()
	log := slog.With("session_id", req.SessionID)

	corpus, aliases, err := o.load(ctx)
	if err != nil {
		return knowledge.Response{}, trace, err
	}

	degrade := func(stage State, cause error) (knowledge.Response, Trace, error) {
		log.Warn("pipeline: provider failure, using fallback", "stage", stage, "error", cause)
		trace.Degraded = string(stage)
		return o.fallback(ctx, corpus, &trace)
	}

	trace.enter(StateExact)
	if m, ok := matching.Exact(req.Utterance, corpus, aliases); ok {
		resp = o.fromMatch(ctx, m, &trace)
		return resp, trace, nil
	}

	var spec *speculation
	if o.cfg.Speculative && o.deps.Semantic != nil {
		spec = o.speculate(ctx, req)
		defer spec.cancel()
	}

	if o.deps.Semantic != nil {
		trace.enter(StateSemantic)
		sctx, cancel := o.stageContext(ctx)
		m, ok, err := o.deps.Semantic.Match(sctx, req.Utterance, corpus)
		cancel()
		if err != nil {
			return degrade(StateSemantic, err)
		}
		if ok {
			resp = o.fromMatch(ctx, m, &trace)
			return resp, trace, nil
		}
	}

	trace.enter(StateClassifying)
	var label intent.Label
	if spec != nil {
		label, err = spec.wait()
	} else {
		label, err = o.classify(ctx, req)
	}
	if err != nil {
		return degrade(StateClassifying, err)
	}
	trace.Intent = label

	trace.enter(StateHandling)
	hctx, cancel := o.stageContext(ctx)
	answer, err := o.handlerFor(label).Handle(hctx, req.Utterance, req.History)
	cancel()
	if err != nil {
		return degrade(StateHandling, err)
	}

	gctx, cancel := o.stageContext(ctx)
	verdict, err := o.deps.Gate.Evaluate(gctx, req.Utterance, answer)
	cancel()
	if err != nil {
		return degrade(StateHandling, err)
	}
	trace.Confidence = verdict.Score
	if !verdict.Accepted {
		log.Warn("pipeline: answer below confidence floor, using fallback",
			"stage", StateHandling, "intent", label, "score", verdict.Score)
		return o.fallback(ctx, corpus, &trace)
	}

	trace.enter(StateDone)
	trace.Source = SourceHandler
	return assembler.Text(answer), trace, nil
}

// Greeting returns the ::greeting:: entry rendered as a Response. ok is false
// when none is configured.
func (o *Orchestrator) Greeting(ctx context.Context) (resp knowledge.Response, ok bool, err error) {
	lctx, cancel := o.stageContext(ctx)
	faqs, err := o.deps.Knowledge.ListFAQs(lctx)
	cancel()
	if err != nil {
		return knowledge.Response{}, false, fmt.Errorf("loading faq corpus: %w", err)
	}
	corpus, err := knowledge.SplitCorpus(faqs)
	if err != nil {
		return knowledge.Response{}, false, err
	}
	if corpus.Greeting == nil {
		return knowledge.Response{}, false, nil
	}
	return o.assemble(ctx, *corpus.Greeting), true, nil
}

// load reads the corpus and aliases. Store reads share one stage deadline.
func (o *Orchestrator) load(ctx context.Context) (knowledge.Corpus, []knowledge.Alias, error) {
	ctx, cancel := o.stageContext(ctx)
	defer cancel()
	faqs, err := o.deps.Knowledge.ListFAQs(ctx)
	if err != nil {
		return knowledge.Corpus{}, nil, fmt.Errorf("loading faq corpus: %w", err)
	}
	corpus, err := knowledge.SplitCorpus(faqs)
	if err != nil {
		return knowledge.Corpus{}, nil, err
	}
	aliases, err := o.deps.Knowledge.ListAliases(ctx)
	if err != nil {
		return knowledge.Corpus{}, nil, fmt.Errorf("loading aliases: %w", err)
	}
	knowledge.SortAliases(aliases)
	return corpus, aliases, nil
}

func (o *Orchestrator) fromMatch(ctx context.Context, m matching.Match, trace *Trace) knowledge.Response {
	trace.enter(StateDone)
	trace.Source = string(m.Source)
	trace.FAQID = m.FAQ.ID
	trace.Similarity = m.Score
	if m.Option != nil {
		return assembler.FromOption(*m.Option)
	}
	return o.assemble(ctx, m.FAQ)
}

func (o *Orchestrator) fallback(ctx context.Context, corpus knowledge.Corpus, trace *Trace) (knowledge.Response, Trace, error) {
	trace.enter(StateDone)
	trace.Source = SourceFallback
	if corpus.Fallback == nil {
		return knowledge.Response{}, *trace, ErrNoFallback
	}
	trace.FAQID = corpus.Fallback.ID
	return o.assemble(ctx, *corpus.Fallback), *trace, nil
}

// assemble renders f. The room lookup it may run is bounded like a stage.
func (o *Orchestrator) assemble(ctx context.Context, f knowledge.FAQ) knowledge.Response {
	actx, cancel := o.stageContext(ctx)
	defer cancel()
	return o.deps.Assembler.FromFAQ(actx, f)
}

func (o *Orchestrator) classify(ctx context.Context, req Request) (intent.Label, error) {
	cctx, cancel := o.stageContext(ctx)
	defer cancel()
	return o.deps.Classifier.Classify(cctx, req.Utterance, req.History)
}

// handlerFor is the dispatch table. Other shares the FAQ handler.
func (o *Orchestrator) handlerFor(label intent.Label) handlers.Handler {
	switch label {
	case intent.Rooms:
		return o.deps.Rooms
	case intent.PromoCodes:
		return o.deps.Promotions
	default:
		return o.deps.FAQ
	}
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.StageTimeout)
}

// speculation is a classification started before the semantic stage ends.
type speculation struct {
	g      errgroup.Group
	cancel context.CancelFunc
	label  intent.Label
	err    error
}

func (o *Orchestrator) speculate(ctx context.Context, req Request) *speculation {
	sctx, cancel := context.WithCancel(ctx)
	s := &speculation{cancel: cancel}
	s.g.Go(func() error {
		s.label, s.err = o.classify(sctx, req)
		return nil
	})
	return s
}

func (s *speculation) wait() (intent.Label, error) {
	s.g.Wait()
	return s.label, s.err
}
